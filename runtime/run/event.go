package run

import (
	"encoding/json"
	"time"
)

// EventType discriminates the wire events pushed by the backend.
type EventType string

const (
	EventLog      EventType = "log"
	EventProposal EventType = "proposal"
	EventStatus   EventType = "status"
	EventResult   EventType = "result"

	// EventMalformed is a local tag for payloads that failed to decode. It
	// never appears on the wire; consumers drop it with a warning.
	EventMalformed EventType = "malformed"
)

// LogPayload is the data shape of a log event.
type LogPayload struct {
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time,omitempty"`
}

// StatusPayload is the data shape of a status event.
type StatusPayload struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ResultPayload is the data shape of a result event. Outputs is keyed by
// output-format tag; the payload stays opaque until the extension registry
// converts it.
type ResultPayload struct {
	Outputs map[string]map[string]interface{} `json:"outputs,omitempty"`
	Summary string                            `json:"summary,omitempty"`
}

// Event is the normalized form of one wire frame: a tagged union with the
// payload field fixed per tag. Exactly one payload field is populated for a
// well-formed event; a malformed frame carries the raw bytes and the decode
// error instead.
type Event struct {
	Type       EventType
	Log        *LogPayload
	Proposal   *Proposal
	Status     *StatusPayload
	Result     *ResultPayload
	Raw        json.RawMessage
	Err        error
	ReceivedAt time.Time
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a single wire frame. It never fails: any payload that
// does not decode into its tagged shape yields an EventMalformed event so
// that one corrupt frame cannot abort a subscription.
func ParseEvent(data []byte) *Event {
	ev := &Event{ReceivedAt: time.Now(), Raw: append(json.RawMessage(nil), data...)}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ev.Type = EventMalformed
		ev.Err = err
		return ev
	}
	switch EventType(env.Type) {
	case EventLog:
		payload := &LogPayload{}
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return malformed(ev, err)
		}
		ev.Type = EventLog
		ev.Log = payload
	case EventProposal:
		payload := &Proposal{}
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return malformed(ev, err)
		}
		ev.Type = EventProposal
		ev.Proposal = payload
	case EventStatus:
		payload := &StatusPayload{}
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return malformed(ev, err)
		}
		ev.Type = EventStatus
		ev.Status = payload
	case EventResult:
		payload := &ResultPayload{}
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return malformed(ev, err)
		}
		ev.Type = EventResult
		ev.Result = payload
	default:
		return malformed(ev, &UnknownEventError{Tag: env.Type})
	}
	return ev
}

func malformed(ev *Event, err error) *Event {
	ev.Type = EventMalformed
	ev.Err = err
	ev.Log, ev.Proposal, ev.Status, ev.Result = nil, nil, nil, nil
	return ev
}

// UnknownEventError reports a wire frame with an unrecognized type tag.
type UnknownEventError struct {
	Tag string
}

func (e *UnknownEventError) Error() string {
	return "unknown event type " + e.Tag
}
