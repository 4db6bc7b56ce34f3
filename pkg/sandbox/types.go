// Package sandbox provides the client for the isolated code execution
// service. Every call returns a well-formed Outcome: infrastructure
// failures are reported inside the Outcome and never as a Go error.
package sandbox

// ExecuteRequest is the request body for POST /execute on the sandbox server.
type ExecuteRequest struct {
	Code      string `json:"code"`
	Input     string `json:"input"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// ExecuteResponse is the response body of POST /execute.
type ExecuteResponse struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	TimedOut        bool   `json:"timed_out"`
	IsSuccessful    bool   `json:"is_successful"`
	Error           string `json:"error,omitempty"`
}

// Outcome is the normalized result of one execution. IsSuccessful is the
// authoritative success flag; Error carries infrastructure failures.
type Outcome struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	TimedOut        bool   `json:"timed_out"`
	Error           string `json:"error,omitempty"`
	IsSuccessful    bool   `json:"is_successful"`
}

// failed builds the Outcome for an execution that never produced a result.
func failed(reason string, timedOut bool) Outcome {
	return Outcome{ExitCode: -1, TimedOut: timedOut, Error: reason}
}
