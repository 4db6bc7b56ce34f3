// Package transport defines the handler interfaces, the progress event
// writer, and the middleware chain for the probforge HTTP/SSE transport.
//
// # Handler Interfaces
//
// ProblemGenerator is the contract between the transport layer and the
// generation pipeline: it receives a validated request and writes progress
// events to an EventWriter until a terminal result or error event.
//
// ChannelEmitter is the EventWriter used by the HTTP adapter. It forwards
// events to a channel the SSE writer drains, and closes the channel exactly
// once after the terminal event.
//
// # Middleware
//
// The middleware chain wraps ProblemGenerator with cross-cutting concerns:
// panic recovery, request ID assignment (X-Request-ID), and structured
// logging via log/slog.
package transport
