// Package chat orchestrates one conversational turn end to end: the
// guardian gate, session resolution, transcript persistence, optional
// document retrieval and web augmentation, prompt assembly, model
// routing between the primary and fallback adapters, and token
// accounting.
//
// The ordering is deliberate. Nothing is persisted or sent to a model
// before the guardian admits the message, and the user message is made
// durable before any model call so a failed turn still leaves the
// attempt in the transcript. Turns that carry dynamic context (document
// excerpts or web results) bypass the prompt cache and route to the
// fallback model, which tolerates large one-off prompts better than the
// cache-optimized primary.
package chat
