// Package websearch wraps an allow-listed external search endpoint.
//
// The tool is strictly best-effort: Search never returns an error, only a
// possibly-empty result list. Upstream outages, throttling, the disabled
// flag, and filtered-out hosts all degrade to "no results" so a chat turn
// can always proceed without web context. ShouldSearch holds the routing
// heuristic that decides whether a user message warrants a lookup at all.
package websearch
