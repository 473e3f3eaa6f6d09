// Package runstore keeps the in-memory index of runs, their logs and their
// artifacts for external display surfaces. The orchestrator is the only
// writer; viewers read copies and subscribe to the update queue. All
// operations are upsert/append-only and atomic per run key.
package runstore

import (
	"context"
	"sync"
	"time"

	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/messaging"
	qmem "github.com/luxera/rungate/service/messaging/memory"
)

// Update kinds published on the store queue.
const (
	UpdateRun      = "run"
	UpdateLog      = "log"
	UpdateArtifact = "artifact"
)

// Update notifies subscribers that a run's entry changed.
type Update struct {
	RunID string `json:"runID"`
	Kind  string `json:"kind"`
}

// Store is the shared run index.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*run.Run
	logs      map[string][]*run.LogEntry
	artifacts map[string][]*run.Artifact
	updates   messaging.Queue[Update]
}

// Option configures a Store.
type Option func(*Store)

// WithUpdateQueue replaces the default in-memory update queue.
func WithUpdateQueue(q messaging.Queue[Update]) Option {
	return func(s *Store) { s.updates = q }
}

// New creates an empty store.
func New(options ...Option) *Store {
	ret := &Store{
		runs:      make(map[string]*run.Run),
		logs:      make(map[string][]*run.LogEntry),
		artifacts: make(map[string][]*run.Artifact),
		updates:   qmem.NewQueue[Update](qmem.DefaultConfig()),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// UpsertRun stores or overwrites the run record.
func (s *Store) UpsertRun(ctx context.Context, r *run.Run) {
	if r == nil || r.ID == "" {
		return
	}
	s.mu.Lock()
	s.runs[r.ID] = r.Clone()
	s.mu.Unlock()
	s.notify(ctx, r.ID, UpdateRun)
}

// AppendLog appends a display log entry for its run.
func (s *Store) AppendLog(ctx context.Context, entry *run.LogEntry) {
	if entry == nil || entry.RunID == "" {
		return
	}
	s.mu.Lock()
	clone := *entry
	s.logs[entry.RunID] = append(s.logs[entry.RunID], &clone)
	s.mu.Unlock()
	s.notify(ctx, entry.RunID, UpdateLog)
}

// AppendArtifact appends an artifact record for its run.
func (s *Store) AppendArtifact(ctx context.Context, artifact *run.Artifact) {
	if artifact == nil || artifact.RunID == "" {
		return
	}
	s.mu.Lock()
	clone := *artifact
	s.artifacts[artifact.RunID] = append(s.artifacts[artifact.RunID], &clone)
	s.mu.Unlock()
	s.notify(ctx, artifact.RunID, UpdateArtifact)
}

// Run returns a copy of the run record or nil.
func (s *Store) Run(runID string) *run.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[runID].Clone()
}

// Runs returns copies of all run records.
func (s *Store) Runs() []*run.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*run.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	return out
}

// Logs returns copies of the run's log entries in append order.
func (s *Store) Logs(runID string) []*run.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[runID]
	out := make([]*run.LogEntry, len(entries))
	for i, entry := range entries {
		clone := *entry
		out[i] = &clone
	}
	return out
}

// Artifacts returns copies of the run's artifacts in append order.
func (s *Store) Artifacts(runID string) []*run.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifacts := s.artifacts[runID]
	out := make([]*run.Artifact, len(artifacts))
	for i, artifact := range artifacts {
		clone := *artifact
		out[i] = &clone
	}
	return out
}

// Updates exposes the change notification queue.
func (s *Store) Updates() messaging.Queue[Update] {
	return s.updates
}

// notifyTimeout bounds how long a writer waits on a saturated update queue
// before dropping the notification; the store itself is already consistent.
const notifyTimeout = 10 * time.Millisecond

func (s *Store) notify(ctx context.Context, runID, kind string) {
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	_ = s.updates.Publish(notifyCtx, &Update{RunID: runID, Kind: kind})
}
