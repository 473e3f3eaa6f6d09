// Package progress provides a lightweight tracker that keeps aggregated
// stream counters (events applied, proposals gated, reconnects, …) for a
// single run.  The orchestrator owns one tracker per run and applies Delta
// updates from its event loop; concurrent readers take snapshots.

package progress

import (
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the stream
// client or the orchestrator.  The fields are signed and therefore can be
// either positive (increment) or negative (decrement).
type Delta struct {
	EventsApplied    int
	ProposalsGated   int
	Reconnects       int
	Decisions        int
	MalformedDropped int
}

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	// Identification – informative only, filled when the run starts.
	RunID     string
	Agent     string
	StartedAt time.Time

	EventsApplied    int
	ProposalsGated   int
	Reconnects       int
	Decisions        int
	MalformedDropped int
}

// Progress keeps aggregated counters for one run.  It is safe for concurrent
// use.
type Progress struct {
	mux      sync.Mutex
	state    Snapshot
	onChange func(Snapshot)
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will be
// invoked with a copy of the updated state outside the critical section so
// that the callback can perform slow operations (e.g. JSON encoding, I/O)
// without blocking the event loop.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.mux.Lock()
	p.state.EventsApplied += d.EventsApplied
	p.state.ProposalsGated += d.ProposalsGated
	p.state.Reconnects += d.Reconnects
	p.state.Decisions += d.Decisions
	p.state.MalformedDropped += d.MalformedDropped

	snapshot := p.state
	cb := p.onChange
	p.mux.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker state suitable for read-only
// inspection.
func (p *Progress) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.state
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Snapshot)) {
	if p == nil {
		return
	}
	p.mux.Lock()
	p.onChange = cb
	p.mux.Unlock()
}

// New creates a tracker for one run with the start time stamped.
func New(runID, agent string) *Progress {
	return &Progress{
		state: Snapshot{
			RunID:     runID,
			Agent:     agent,
			StartedAt: time.Now(),
		},
	}
}
