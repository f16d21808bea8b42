package prompt

import (
	"hash/fnv"
	"strings"
	"sync"
)

const stripeCount = 32

// Cache tracks which (session, role) pairs have already received the
// full role prompt. Locking is striped by session id so concurrent
// sessions never contend; all roles of one session land on one stripe,
// which keeps Invalidate a single-lock operation.
type Cache struct {
	stripes [stripeCount]cacheStripe
}

type cacheStripe struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCache creates an empty prompt cache.
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.stripes {
		c.stripes[i].seen = make(map[string]struct{})
	}
	return c
}

func stripeFor(sessionID string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum64() % stripeCount)
}

// NUL cannot appear in a uuid or role name.
func pairKey(sessionID, role string) string {
	return sessionID + "\x00" + role
}

// Resolve returns the prompt text for a turn. The first call for a
// (session, role) pair returns the full prompt and wasCached=false;
// every later call returns the reference prompt and wasCached=true.
func (c *Cache) Resolve(sessionID string, role Role) (text string, wasCached bool) {
	stripe := &c.stripes[stripeFor(sessionID)]
	key := pairKey(sessionID, role.Name)

	stripe.mu.Lock()
	defer stripe.mu.Unlock()

	if _, ok := stripe.seen[key]; ok {
		return role.ReferencePrompt, true
	}
	stripe.seen[key] = struct{}{}
	return role.FullPrompt, false
}

// Invalidate forgets every role of a session. Called on session delete so
// a reused id starts from the full prompt again.
func (c *Cache) Invalidate(sessionID string) {
	stripe := &c.stripes[stripeFor(sessionID)]
	prefix := sessionID + "\x00"

	stripe.mu.Lock()
	defer stripe.mu.Unlock()

	for key := range stripe.seen {
		if strings.HasPrefix(key, prefix) {
			delete(stripe.seen, key)
		}
	}
}

// Len reports how many (session, role) pairs are tracked.
func (c *Cache) Len() int {
	total := 0
	for i := range c.stripes {
		c.stripes[i].mu.Lock()
		total += len(c.stripes[i].seen)
		c.stripes[i].mu.Unlock()
	}
	return total
}
