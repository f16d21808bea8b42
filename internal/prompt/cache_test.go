package prompt

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFullThenReference(t *testing.T) {
	c := NewCache()
	role, ok := LookupRole("architect")
	require.True(t, ok)

	text, cached := c.Resolve("sess-1", role)
	assert.False(t, cached)
	assert.Equal(t, role.FullPrompt, text)

	text, cached = c.Resolve("sess-1", role)
	assert.True(t, cached)
	assert.Equal(t, role.ReferencePrompt, text)

	text, cached = c.Resolve("sess-1", role)
	assert.True(t, cached)
	assert.Equal(t, role.ReferencePrompt, text)
}

func TestResolveTracksRolesSeparately(t *testing.T) {
	c := NewCache()
	architect, _ := LookupRole("architect")
	dba, _ := LookupRole("dba")

	_, cached := c.Resolve("sess-1", architect)
	assert.False(t, cached)

	_, cached = c.Resolve("sess-1", dba)
	assert.False(t, cached, "a new role in the same session starts from the full prompt")

	_, cached = c.Resolve("sess-1", architect)
	assert.True(t, cached)
}

func TestResolveTracksSessionsSeparately(t *testing.T) {
	c := NewCache()
	role, _ := LookupRole("auditor")

	_, cached := c.Resolve("sess-1", role)
	assert.False(t, cached)

	_, cached = c.Resolve("sess-2", role)
	assert.False(t, cached)
}

func TestInvalidateForgetsOnlyThatSession(t *testing.T) {
	c := NewCache()
	role, _ := LookupRole("refactor")

	c.Resolve("sess-1", role)
	c.Resolve("sess-2", role)
	require.Equal(t, 2, c.Len())

	c.Invalidate("sess-1")
	assert.Equal(t, 1, c.Len())

	_, cached := c.Resolve("sess-1", role)
	assert.False(t, cached, "invalidated session starts over")

	_, cached = c.Resolve("sess-2", role)
	assert.True(t, cached, "other sessions keep their state")
}

func TestConcurrentResolveSendsFullExactlyOnce(t *testing.T) {
	c := NewCache()
	role, _ := LookupRole("code-generator")

	var fulls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, cached := c.Resolve("sess-race", role); !cached {
				fulls.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fulls.Load())
}
