// Package indexer turns uploaded documents into searchable chunk
// embeddings.
//
// A file enters the pipeline in status pending or ready. Uploads that
// arrive without pre-extracted sections pass through the extraction
// stage first; the pipeline then windows each section, embeds the
// windows in batches, and writes them to the vector store, moving the
// file through processing -> indexed (or error). A bounded queue feeds
// a small worker pool so concurrent uploads cannot exhaust embedding
// quotas, and lifecycle events go out over NATS when a broker is
// configured.
package indexer
