// Package storage defines the job store contract shared by the storage
// adapters (memory, postgres), together with sentinel errors and owner
// context helpers.
//
// The pipeline orchestrator is the only writer for a given job id; readers
// (HTTP and MCP surfaces) only take snapshots.
package storage
