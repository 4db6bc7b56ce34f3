// Package api defines the core domain types for the probforge problem
// generation service.
//
// This package provides the data types shared by every layer: the
// generation [Job] and its accumulated artifacts, designed and finalized test
// cases, judging [Constraints], progress events, typed partial updates
// ([JobPatch]), status transition validation, job ID generation, and the
// structured [APIError] returned over the wire.
//
// The package performs no I/O. All types produce JSON compatible with the
// HTTP and MCP surfaces.
//
// Core types:
//   - [Job]: one generation request and everything produced for it
//   - [TestSpec]: a designed test input with its rationale
//   - [FinalizedTestCase]: an input with its canonical expected output
//   - [ProgressEvent]: a status, error or result event on the progress stream
//   - [JobPatch]: a typed partial update applied to a stored job
//   - [APIError]: structured error with type, code, param, and message
package api
