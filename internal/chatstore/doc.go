// Package chatstore persists the relational chat state: users, sessions,
// messages, uploaded files, and their extracted sections.
//
// The primary implementation runs on Postgres via pgx. Message indices are
// dense from 0 and assigned inside a transaction that locks the session
// row, so concurrent turns against one session serialize at the store and
// interleaved histories keep a total order. An in-memory implementation
// with identical semantics backs tests and single-process runs.
//
// Missing rows surface as domain errors of kind not_found; every other
// failure wraps into kind storage_error.
package chatstore
