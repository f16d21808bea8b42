// Package vectorstore persists chunk embeddings and runs similarity
// search over them.
//
// Two backends implement the Store interface behind a factory:
//   - pgvector (default): Postgres with the vector extension, cosine
//     distance via the <=> operator, approximate ivfflat index when the
//     table is large enough to support one.
//   - memory: exact cosine search in process memory, for tests and
//     embedded deployments.
//
// Both backends enforce the fixed embedding dimensionality before any
// row is written and keep per-file upserts atomic: a re-index either
// fully replaces a file's chunks or leaves the previous set intact.
// Search returns raw cosine distance, ascending; ties break on chunk
// index so results are deterministic.
package vectorstore
