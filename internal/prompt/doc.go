// Package prompt owns system-prompt selection for chat turns.
//
// A static registry describes the agent roles a session can run in. The
// first turn of a (session, role) pair sends the role's full prompt; the
// Cache remembers the pair and later turns send the much shorter
// reference prompt. The cache is advisory: it trades prompt tokens for a
// weaker role reinforcement, and the orchestrator bypasses it entirely
// whenever dynamic context rides along.
package prompt
