package chat

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/domain"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	excerptOpenFmt = "--- EXCERPT (fid=%d) ---"
	webOpen        = "--- WEB ---"
	blockClose     = "--- END ---"

	titleMaxRunes = 80
)

// buildExcerptBlock concatenates retrieved chunks in similarity order,
// each under a [chunk <idx>, similarity=<s>] header. Chunks are kept
// whole; only the entry that crosses the character budget is cut, and
// everything after it is dropped.
func buildExcerptBlock(hits []vectorstore.Scored, budget int) string {
	var b strings.Builder
	used := 0
	for i, h := range hits {
		entry := fmt.Sprintf("[chunk %d, similarity=%.4f]\n%s", h.Chunk.Index, 1-h.Distance, h.Chunk.Text)
		if i > 0 {
			entry = "\n\n" + entry
		}
		runes := []rune(entry)
		if used+len(runes) > budget {
			if remaining := budget - used; remaining > 0 {
				b.WriteString(string(runes[:remaining]))
			}
			break
		}
		b.WriteString(entry)
		used += len(runes)
	}
	return b.String()
}

// buildWebBlock renders web hits as title, url, snippet stanzas.
func buildWebBlock(results []domain.WebResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}

// assembleSystem appends delimited context blocks to the full role
// prompt. The delimiters let the model (and tests) tell grounded context
// apart from instructions.
func assembleSystem(fullPrompt string, fileID *int64, ragBlock, webBlock string) string {
	var b strings.Builder
	b.WriteString(fullPrompt)
	if ragBlock != "" && fileID != nil {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, excerptOpenFmt, *fileID)
		b.WriteString("\n")
		b.WriteString(ragBlock)
		b.WriteString("\n")
		b.WriteString(blockClose)
	}
	if webBlock != "" {
		b.WriteString("\n\n")
		b.WriteString(webOpen)
		b.WriteString("\n")
		b.WriteString(webBlock)
		b.WriteString("\n")
		b.WriteString(blockClose)
	}
	return b.String()
}

// sessionTitle derives a display title from the opening message.
func sessionTitle(userText string) string {
	title := strings.Join(strings.Fields(userText), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes-1]) + "…"
	}
	if title == "" {
		title = "New session"
	}
	return title
}

// toLLMMessages converts the stored transcript to the completion wire
// shape. System seeds pass through; adapters that cannot carry them in
// the message array drop them (the role prompt rides the system field).
func toLLMMessages(history []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
