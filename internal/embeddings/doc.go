// Package embeddings turns text into fixed-width vectors for the retrieval
// pipeline.
//
// A Provider is selected by configuration: "tei" speaks the Hugging Face
// text-embeddings-inference HTTP API, "openai" wraps any OpenAI-compatible
// /v1/embeddings endpoint through langchaingo, and "local" runs fastembed
// in-process when built with cgo. NewProvider wraps whichever backend it
// builds with a batching decorator (bounded request width and in-flight
// concurrency) and a query-level LRU cache, and rejects at construction any
// provider whose vector width disagrees with the configured dimension.
package embeddings
