package audit

import (
	"time"
)

// Outcome is the decision verdict.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Actor recorded on decisions the policy engine made without a human.
const ActorPolicy = "policy"

// Decision is one human-in-the-loop (or policy auto) decision on a backend
// proposal. The JSON tags are the stable audit wire format: a decision
// serialized and deserialized reproduces field-for-field.
type Decision struct {
	RequestID string    `json:"request_id"`
	RunID     string    `json:"run_id"`
	Agent     string    `json:"agent"`
	Human     string    `json:"human"`
	Decision  Outcome   `json:"decision"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Approved reports whether the decision resumes execution.
func (d *Decision) Approved() bool {
	return d != nil && d.Decision == OutcomeApproved
}

// Event topics emitted on the audit queue.
const (
	TopicDecisionRecorded = "decision.recorded"
)

// Event is the envelope published for every recorded decision.
type Event struct {
	Topic   string            `json:"topic"`
	Data    *Decision         `json:"data"`
	Headers map[string]string `json:"headers,omitempty"`
}
