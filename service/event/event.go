// Package event fans run notifications out to display surfaces. Each topic
// is backed by a messaging queue (memory or fs vendor); typed publishers and
// listeners are created per payload type.
package event

import "time"

// Topics published by the orchestration subsystem.
const (
	TopicRunLifecycle     = "run.lifecycle"
	TopicDecisionRecorded = "decision.recorded"
	TopicStoreUpdated     = "store.updated"
)

// Context identifies the run and topic an event belongs to.
type Context struct {
	RunID     string `json:"runID"`
	Topic     string `json:"topic"`
	EventType string `json:"eventType,omitempty"`
}

// Event is the generic notification envelope.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event for the supplied context and payload.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
