package rungate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/runtime/orchestrator"
	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/dao"
	"github.com/luxera/rungate/service/event"
	"github.com/luxera/rungate/service/stream"
	"github.com/stretchr/testify/assert"
)

type fakeGateway struct {
	mux     sync.Mutex
	started int
	stops   []string
	calls   []bool
}

func (g *fakeGateway) StartRun(_ context.Context, agentID string) (*run.Run, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.started++
	return &run.Run{
		ID:          fmt.Sprintf("run-%d", g.started),
		WorkflowID:  agentID,
		Status:      run.StatusStarting,
		StreamToken: "tok",
	}, nil
}

func (g *fakeGateway) Stop(_ context.Context, runID string) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.stops = append(g.stops, runID)
	return nil
}

func (g *fakeGateway) Result(context.Context, string) (*run.ResultPayload, error) {
	return nil, nil
}

func (g *fakeGateway) Approve(_ context.Context, _ string, approved bool) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.calls = append(g.calls, approved)
	return nil
}

func (g *fakeGateway) RecordDecision(context.Context, *audit.Decision) error { return nil }

func (g *fakeGateway) StreamURL(runID string) string {
	return "http://backend/runs/" + runID + "/stream"
}

type fakeStream struct {
	handlers  stream.Handlers
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *fakeStream) Open(context.Context) error { return nil }

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.handlers.OnClose != nil {
			s.handlers.OnClose()
		}
	})
}

func (s *fakeStream) emit(t *testing.T, eventType string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"type": eventType, "data": data})
	assert.Nil(t, err)
	s.handlers.OnEvent(run.ParseEvent(payload))
}

// streamFactory hands one fake stream out per started run.
type streamFactory struct {
	mux     sync.Mutex
	streams []*fakeStream
}

func (f *streamFactory) new(streamURL, token string, handlers stream.Handlers) orchestrator.StreamClient {
	f.mux.Lock()
	defer f.mux.Unlock()
	s := &fakeStream{handlers: handlers, closed: make(chan struct{})}
	f.streams = append(f.streams, s)
	return s
}

func (f *streamFactory) last() *fakeStream {
	f.mux.Lock()
	defer f.mux.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

const digestPlanYAML = `
id: digest
goal: Summarize the day's commits
steps:
  - id: collect
    kind: tool
  - id: summarize
    kind: llm
`

const reviewPlanYAML = `
id: review
goal: Review the proposed changes
steps:
  - id: inspect
    kind: llm
`

func newService(t *testing.T, p *policy.Policy) (*Service, *fakeGateway, *streamFactory) {
	t.Helper()
	gw := &fakeGateway{}
	factory := &streamFactory{}
	srv := New(
		WithGateway(gw),
		WithPolicy(p),
		WithActor("alice"),
		WithStreamFactory(factory.new),
		WithLogger(logging.NewForTest()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	ctx := context.Background()
	assert.Nil(t, srv.Runtime().UpsertDefinition(ctx, "mem://localhost/plans/digest.yaml", []byte(digestPlanYAML)))
	assert.Nil(t, srv.Runtime().UpsertDefinition(ctx, "mem://localhost/plans/review.yaml", []byte(reviewPlanYAML)))
	return srv, gw, factory
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestService_SelectAndStart(t *testing.T) {
	srv, _, factory := newService(t, nil)
	ctx := context.Background()

	aPlan, err := srv.SelectAgent(ctx, "digest")
	assert.Nil(t, err)
	assert.Equal(t, "digest", aPlan.ID)
	assert.Equal(t, "digest", srv.SelectedAgent())

	started, err := srv.StartRun(ctx, "")
	assert.Nil(t, err)
	assert.Equal(t, "run-1", started.ID)
	assert.Equal(t, "digest", started.WorkflowID)
	assert.Equal(t, run.StatusRunning, srv.Status(started.ID))
	assert.NotNil(t, factory.last())

	factory.last().emit(t, "log", map[string]interface{}{"level": "info", "message": "collecting commits"})
	waitFor(t, "log entry", func() bool { return hasLogMessage(srv.Logs(started.ID), "collecting commits") })
}

func hasLogMessage(entries []*run.LogEntry, message string) bool {
	for _, entry := range entries {
		if entry.Message == message {
			return true
		}
	}
	return false
}

func TestService_StartUnknownAgent(t *testing.T) {
	srv, _, _ := newService(t, nil)
	_, err := srv.StartRun(context.Background(), "missing")
	assert.NotNil(t, err)
}

func TestService_NoAgentSelected(t *testing.T) {
	srv, _, _ := newService(t, nil)
	_, err := srv.StartRun(context.Background(), "")
	assert.NotNil(t, err)
}

func TestService_ApproveRecordsActor(t *testing.T) {
	srv, gw, factory := newService(t, &policy.Policy{})
	ctx := context.Background()

	started, err := srv.StartRun(ctx, "review")
	assert.Nil(t, err)

	factory.last().emit(t, "proposal", map[string]interface{}{
		"agent":      "review",
		"intent":     "apply changes",
		"request_id": "req-1",
		"risk_flags": []string{"destructive_edit"},
	})
	waitFor(t, "awaiting approval", func() bool {
		return srv.Status(started.ID) == run.StatusAwaitingApproval
	})
	assert.Equal(t, "req-1", srv.PendingProposal(started.ID).RequestID)

	assert.Nil(t, srv.Approve(ctx, started.ID, "req-1", "looks fine"))
	waitFor(t, "run resumed", func() bool {
		return srv.Status(started.ID) == run.StatusRunning
	})
	assert.Nil(t, srv.PendingProposal(started.ID))

	decisions, err := srv.Decisions(ctx, started.ID)
	assert.Nil(t, err)
	if assert.Equal(t, 1, len(decisions)) {
		assert.Equal(t, "alice", decisions[0].Human)
		assert.Equal(t, audit.OutcomeApproved, decisions[0].Decision)
		assert.Equal(t, "looks fine", decisions[0].Reason)
	}
	assert.Equal(t, []bool{true}, gw.calls)
	assert.Equal(t, 1, srv.Progress(started.ID).ProposalsGated)
}

func TestService_StartRunPolicyFromContext(t *testing.T) {
	srv, _, factory := newService(t, &policy.Policy{CostCeilingUSD: 10})
	ctx := policy.WithPolicy(context.Background(), &policy.Policy{CostCeilingUSD: 1})

	started, err := srv.StartRun(ctx, "review")
	assert.Nil(t, err)

	// under the configured ceiling but over the per-run override
	factory.last().emit(t, "proposal", map[string]interface{}{
		"agent":              "review",
		"intent":             "apply changes",
		"request_id":         "req-7",
		"estimated_cost_usd": 5.0,
	})
	waitFor(t, "awaiting approval", func() bool {
		return srv.Status(started.ID) == run.StatusAwaitingApproval
	})
	assert.Equal(t, "req-7", srv.PendingProposal(started.ID).RequestID)
}

func TestService_RejectStopsRun(t *testing.T) {
	srv, _, factory := newService(t, &policy.Policy{})
	ctx := context.Background()

	started, err := srv.StartRun(ctx, "review")
	assert.Nil(t, err)
	factory.last().emit(t, "proposal", map[string]interface{}{
		"agent":      "review",
		"intent":     "apply changes",
		"request_id": "req-9",
		"risk_flags": []string{"destructive_edit"},
	})
	waitFor(t, "awaiting approval", func() bool {
		return srv.Status(started.ID) == run.StatusAwaitingApproval
	})

	assert.Nil(t, srv.Reject(ctx, started.ID, "req-9", "too risky"))
	waitFor(t, "run rejected", func() bool {
		return srv.Status(started.ID) == run.StatusRejected
	})
	decisions, err := srv.Decisions(ctx, started.ID)
	assert.Nil(t, err)
	if assert.Equal(t, 1, len(decisions)) {
		assert.Equal(t, audit.OutcomeRejected, decisions[0].Decision)
	}
}

func TestService_StopRun(t *testing.T) {
	srv, gw, _ := newService(t, nil)
	ctx := context.Background()

	started, err := srv.StartRun(ctx, "digest")
	assert.Nil(t, err)
	assert.Nil(t, srv.StopRun(ctx, started.ID))
	waitFor(t, "run stopped", func() bool {
		return srv.Status(started.ID) == run.StatusStopped
	})
	assert.Equal(t, []string{started.ID}, gw.stops)

	assert.ErrorIs(t, srv.StopRun(ctx, "nope"), dao.ErrNotFound)
}

func TestService_SelectDifferentAgentTearsDown(t *testing.T) {
	srv, _, factory := newService(t, nil)
	ctx := context.Background()

	_, err := srv.SelectAgent(ctx, "digest")
	assert.Nil(t, err)
	started, err := srv.StartRun(ctx, "")
	assert.Nil(t, err)
	first := factory.last()

	_, err = srv.SelectAgent(ctx, "review")
	assert.Nil(t, err)
	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("previous agent stream was not torn down")
	}
	waitFor(t, "previous run interrupted", func() bool {
		return srv.Status(started.ID) == run.StatusInterrupted
	})

	// Reselecting the now current agent keeps its orchestrator.
	next, err := srv.StartRun(ctx, "")
	assert.Nil(t, err)
	_, err = srv.SelectAgent(ctx, "review")
	assert.Nil(t, err)
	assert.Equal(t, run.StatusRunning, srv.Status(next.ID))
}

func TestService_ConcurrentRuns(t *testing.T) {
	srv, _, factory := newService(t, nil)
	ctx := context.Background()

	first, err := srv.StartRun(ctx, "digest")
	assert.Nil(t, err)
	second, err := srv.StartRun(ctx, "review")
	assert.Nil(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	factory.last().emit(t, "status", map[string]interface{}{"status": "completed"})
	waitFor(t, "second run completed", func() bool {
		return srv.Status(second.ID) == run.StatusCompleted
	})
	assert.Equal(t, run.StatusRunning, srv.Status(first.ID))
	assert.Equal(t, 2, len(srv.Runs()))
}

func TestService_PublishesLifecycle(t *testing.T) {
	srv, _, _ := newService(t, nil)
	ctx := context.Background()

	publisher, err := event.PublisherOf[run.Run](srv.Events())
	assert.Nil(t, err)

	started, err := srv.StartRun(ctx, "digest")
	assert.Nil(t, err)

	evt, err := publisher.Consume(ctx)
	assert.Nil(t, err)
	assert.Equal(t, event.TopicRunLifecycle, evt.Context.Topic)
	assert.Equal(t, started.ID, evt.Context.RunID)
	assert.Equal(t, started.ID, evt.Data.ID)
}

func TestService_StatusUnknownRun(t *testing.T) {
	srv, _, _ := newService(t, nil)
	assert.Equal(t, run.StatusIdle, srv.Status("nope"))
	assert.Nil(t, srv.Run("nope"))
	assert.Nil(t, srv.PendingProposal("nope"))
	assert.Equal(t, "nope", srv.Progress("nope").RunID)
}
