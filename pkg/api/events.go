package api

// EventType identifies the type of a progress event.
type EventType string

const (
	EventStatus EventType = "status"
	EventError  EventType = "error"
	EventResult EventType = "result"
)

// ProgressEvent is one entry on a job's progress stream.
type ProgressEvent struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"job_id,omitempty"`
	Step    Stage     `json:"step,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Job     *Job      `json:"job,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// StatusEvent builds a status event for a stage transition.
func StatusEvent(jobID string, step Stage, attempt int, message string) ProgressEvent {
	return ProgressEvent{Type: EventStatus, JobID: jobID, Step: step, Attempt: attempt, Message: message}
}

// ErrorEvent builds the terminal error event of a failed job.
func ErrorEvent(jobID string, err *APIError) ProgressEvent {
	return ProgressEvent{Type: EventError, JobID: jobID, Error: err}
}

// ResultEvent builds the terminal result event carrying the finished job.
func ResultEvent(job *Job) ProgressEvent {
	return ProgressEvent{Type: EventResult, JobID: job.ID, Job: job}
}
