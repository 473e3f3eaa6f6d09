package run

import "time"

// LogEntry is an opaque display record appended as events arrive. Entries
// are never mutated after insertion.
type LogEntry struct {
	ID      string    `json:"id"`
	RunID   string    `json:"run_id"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Artifact is a display record for a produced output, keyed by run and
// tagged with its output format.
type Artifact struct {
	ID      string                 `json:"id"`
	RunID   string                 `json:"run_id"`
	Format  string                 `json:"format"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Value   interface{}            `json:"-"`
	Time    time.Time              `json:"time"`
}
