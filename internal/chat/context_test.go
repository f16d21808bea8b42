package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/domain"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func scored(index int, text string, distance float64) vectorstore.Scored {
	return vectorstore.Scored{
		Chunk:    domain.Chunk{Index: index, Text: text},
		Distance: distance,
	}
}

func TestBuildExcerptBlockHeadersAndOrder(t *testing.T) {
	block := buildExcerptBlock([]vectorstore.Scored{
		scored(4, "closest chunk", 0.05),
		scored(1, "second chunk", 0.30),
	}, 12000)

	assert.True(t, strings.HasPrefix(block, "[chunk 4, similarity=0.9500]\nclosest chunk"))
	assert.Contains(t, block, "[chunk 1, similarity=0.7000]\nsecond chunk")
	assert.Less(t,
		strings.Index(block, "closest chunk"),
		strings.Index(block, "second chunk"),
		"similarity order must be preserved")
}

func TestBuildExcerptBlockKeepsChunksWhole(t *testing.T) {
	first := scored(0, strings.Repeat("a", 40), 0)
	second := scored(1, strings.Repeat("b", 200), 0.1)

	// The second entry would cross the budget: it is cut, nothing after
	// it is emitted.
	block := buildExcerptBlock([]vectorstore.Scored{first, second}, 100)
	require.LessOrEqual(t, len([]rune(block)), 100)
	assert.Contains(t, block, strings.Repeat("a", 40), "the fitting chunk stays whole")
	assert.Contains(t, block, "[chunk 1", "the crossing chunk is cut, not skipped")
	assert.NotContains(t, block, strings.Repeat("b", 200))
}

func TestBuildExcerptBlockCutsOnRuneBoundary(t *testing.T) {
	block := buildExcerptBlock([]vectorstore.Scored{
		scored(0, strings.Repeat("日本語", 50), 0),
	}, 40)

	assert.Equal(t, 40, len([]rune(block)))
	for _, r := range block {
		assert.NotEqual(t, '�', r)
	}
}

func TestAssembleSystemDelimiters(t *testing.T) {
	fid := int64(7)
	system := assembleSystem("ROLE PROMPT", &fid, "excerpt body", "web body")

	assert.True(t, strings.HasPrefix(system, "ROLE PROMPT"))
	assert.Contains(t, system, "--- EXCERPT (fid=7) ---\nexcerpt body\n--- END ---")
	assert.Contains(t, system, "--- WEB ---\nweb body\n--- END ---")
	assert.Less(t,
		strings.Index(system, "EXCERPT"),
		strings.Index(system, "WEB"),
		"document context precedes web context")
}

func TestAssembleSystemOmitsEmptyBlocks(t *testing.T) {
	assert.Equal(t, "ROLE PROMPT", assembleSystem("ROLE PROMPT", nil, "", ""))

	webOnly := assembleSystem("ROLE PROMPT", nil, "", "web body")
	assert.NotContains(t, webOnly, "EXCERPT")
	assert.Contains(t, webOnly, "--- WEB ---")
}

func TestBuildWebBlockNumbersResults(t *testing.T) {
	block := buildWebBlock([]domain.WebResult{
		{Title: "First", URL: "https://a.example.com", Snippet: "alpha"},
		{Title: "Second", URL: "https://b.example.com"},
	})

	assert.Contains(t, block, "[1] First\nhttps://a.example.com\nalpha")
	assert.Contains(t, block, "[2] Second\nhttps://b.example.com")
}

func TestSessionTitle(t *testing.T) {
	assert.Equal(t, "hello world", sessionTitle("  hello\n   world  "))
	assert.Equal(t, "New session", sessionTitle("   "))

	long := sessionTitle(strings.Repeat("word ", 40))
	assert.LessOrEqual(t, len([]rune(long)), titleMaxRunes)
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestToLLMMessages(t *testing.T) {
	msgs := toLLMMessages([]domain.Message{
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleAssistant, Content: "a"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}
