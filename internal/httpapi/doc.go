// Package httpapi is the public HTTP surface: auth, chat, session and
// file management, the indexing trigger, and vector search, plus the
// health and Prometheus endpoints.
//
// Handlers stay thin. They translate the wire (numeric session handles,
// multipart uploads, query params) into service calls and let classified
// errors flow to the central error handler, which owns the kind-to-status
// mapping and the JSON error envelope. Rate limiting keys on the
// authenticated subject where one exists and the client IP where not.
package httpapi
