// Package logging provides structured logging for ragd on top of zap.
//
// NewLogger builds a JSON or console logger with secret redaction and an
// optional OpenTelemetry bridge. The Logger adds trace, session, and
// request correlation fields from the context on every call.
package logging
