// Package memory provides the in-memory audit.Service implementation backed
// by the generic DAO store plus a per-run insertion-order index.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxera/rungate/internal/clock"
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/dao"
	"github.com/luxera/rungate/service/dao/store"
	"github.com/luxera/rungate/service/messaging"
	qmem "github.com/luxera/rungate/service/messaging/memory"
)

type service struct {
	decisions dao.Service[string, audit.Decision]

	// insertion order per run; the DAO map alone cannot provide it
	mu    sync.Mutex
	byRun map[string][]*audit.Decision

	events messaging.Queue[audit.Event]
}

func decisionKey(d *audit.Decision) string { return d.RequestID }

// New creates an in-memory audit log.
func New(options ...Option) audit.Service {
	ret := &service{
		decisions: store.NewMemoryStore[string, audit.Decision](decisionKey),
		byRun:     make(map[string][]*audit.Decision),
		events:    qmem.NewQueue[audit.Event](qmem.DefaultConfig()),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (s *service) Append(ctx context.Context, d *audit.Decision) error {
	if d == nil || d.RequestID == "" || d.RunID == "" {
		return audit.ErrInvalidDecision
	}
	switch d.Decision {
	case audit.OutcomeApproved, audit.OutcomeRejected:
	default:
		return fmt.Errorf("%w: unknown outcome %q", audit.ErrInvalidDecision, d.Decision)
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = clock.Now()
	}

	// The mutex spans the lookup and the save so that two concurrent
	// decisions for one request cannot both pass the guard.
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.decisions.Load(ctx, d.RequestID)
	if err != nil && !errors.Is(err, dao.ErrNotFound) {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", audit.ErrAlreadyDecided, d.RequestID)
	}
	if err := s.decisions.Save(ctx, d); err != nil {
		return err
	}
	s.byRun[d.RunID] = append(s.byRun[d.RunID], d)

	_ = s.events.Publish(ctx, &audit.Event{Topic: audit.TopicDecisionRecorded, Data: d})
	return nil
}

func (s *service) Decision(ctx context.Context, requestID string) (*audit.Decision, error) {
	if requestID == "" {
		return nil, dao.ErrInvalidID
	}
	return s.decisions.Load(ctx, requestID)
}

func (s *service) List(_ context.Context, runID string) ([]*audit.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decisions := s.byRun[runID]
	out := make([]*audit.Decision, len(decisions))
	copy(out, decisions)
	return out, nil
}

func (s *service) Queue() messaging.Queue[audit.Event] { return s.events }

var _ audit.Service = (*service)(nil)
