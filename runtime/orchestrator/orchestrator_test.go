package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	auditmem "github.com/luxera/rungate/service/audit/memory"
	"github.com/luxera/rungate/service/runstore"
	"github.com/luxera/rungate/service/stream"
	"github.com/stretchr/testify/assert"
)

type fakeGateway struct {
	mux          sync.Mutex
	startErr     error
	approveErr   error
	stopErr      error
	resultErr    error
	result       *run.ResultPayload
	approveCalls []bool
	stopCalls    int
	recorded     []*audit.Decision
}

func (g *fakeGateway) StartRun(_ context.Context, agentID string) (*run.Run, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.startErr != nil {
		return nil, g.startErr
	}
	return &run.Run{ID: "run-1", WorkflowID: agentID, Status: run.StatusStarting, StreamToken: "tok"}, nil
}

func (g *fakeGateway) Stop(context.Context, string) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.stopCalls++
	return g.stopErr
}

func (g *fakeGateway) Result(context.Context, string) (*run.ResultPayload, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.resultErr != nil {
		return nil, g.resultErr
	}
	return g.result, nil
}

func (g *fakeGateway) Approve(_ context.Context, _ string, approved bool) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.approveErr != nil {
		return g.approveErr
	}
	g.approveCalls = append(g.approveCalls, approved)
	return nil
}

func (g *fakeGateway) RecordDecision(_ context.Context, decision *audit.Decision) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.recorded = append(g.recorded, decision)
	return nil
}

func (g *fakeGateway) StreamURL(runID string) string {
	return "http://backend/runs/" + runID + "/stream"
}

func (g *fakeGateway) approvals() []bool {
	g.mux.Lock()
	defer g.mux.Unlock()
	return append([]bool{}, g.approveCalls...)
}

func (g *fakeGateway) setApproveErr(err error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.approveErr = err
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

// emit pushes a wire-format event through the parse path.
func (s *fakeStream) emit(t *testing.T, eventType string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"type": eventType, "data": data})
	assert.Nil(t, err)
	s.handlers.OnEvent(run.ParseEvent(payload))
}

type fixture struct {
	orchestrator *Orchestrator
	gateway      *fakeGateway
	stream       *fakeStream
	store        *runstore.Store
	audit        audit.Service
}

func newFixture(t *testing.T, p *policy.Policy) *fixture {
	t.Helper()
	f := &fixture{
		gateway: &fakeGateway{},
		stream:  &fakeStream{closed: make(chan struct{})},
		store:   runstore.New(),
		audit:   auditmem.New(),
	}
	factory := func(streamURL, token string, handlers stream.Handlers) StreamClient {
		f.stream.handlers = handlers
		return f.stream
	}
	f.orchestrator = New(&model.Plan{ID: "review", Goal: "review"}, f.gateway,
		WithPolicy(p),
		WithAuditService(f.audit),
		WithRunStore(f.store),
		WithStreamFactory(factory),
		WithLogger(logging.NewForTest()))
	t.Cleanup(f.orchestrator.Shutdown)
	return f
}

func (f *fixture) start(t *testing.T) *run.Run {
	t.Helper()
	started, err := f.orchestrator.Start(context.Background())
	assert.Nil(t, err)
	return started
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

func proposalData(requestID string, riskFlags []string, cost float64) map[string]interface{} {
	return map[string]interface{}{
		"agent":              "review",
		"intent":             "apply changes",
		"request_id":         requestID,
		"risk_flags":         riskFlags,
		"estimated_cost_usd": cost,
	}
}

func TestOrchestrator_Start(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)
	assert.Equal(t, "run-1", started.ID)
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())
	assert.Equal(t, run.StatusRunning, f.store.Run("run-1").Status)

	_, err := f.orchestrator.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestOrchestrator_StartFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.startErr = errors.New("backend down")
	_, err := f.orchestrator.Start(context.Background())
	assert.NotNil(t, err)
	assert.Equal(t, run.StatusFailed, f.orchestrator.Status())
}

func TestOrchestrator_AutoApprove(t *testing.T) {
	f := newFixture(t, &policy.Policy{CostCeilingUSD: 1.00})
	f.start(t)

	f.stream.emit(t, "proposal", proposalData("req-1", nil, 0.18))

	waitFor(t, "auto decision", func() bool {
		decisions, _ := f.audit.List(context.Background(), "run-1")
		return len(decisions) == 1
	})
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())
	assert.Nil(t, f.orchestrator.PendingProposal())

	decisions, err := f.audit.List(context.Background(), "run-1")
	assert.Nil(t, err)
	assert.Equal(t, audit.OutcomeApproved, decisions[0].Decision)
	assert.Equal(t, policy.AutoApproveReason, decisions[0].Reason)
	assert.Equal(t, audit.ActorPolicy, decisions[0].Human)
	assert.Equal(t, []bool{true}, f.gateway.approvals())
}

func TestOrchestrator_GatedApprove(t *testing.T) {
	f := newFixture(t, &policy.Policy{CostCeilingUSD: 1.00})
	f.start(t)

	f.stream.emit(t, "proposal", proposalData("req-2", []string{"destructive_edit"}, 0.10))

	waitFor(t, "awaiting approval", func() bool {
		return f.orchestrator.Status() == run.StatusAwaitingApproval
	})
	pending := f.orchestrator.PendingProposal()
	if assert.NotNil(t, pending) {
		assert.Equal(t, "req-2", pending.RequestID)
	}
	decisions, _ := f.audit.List(context.Background(), "run-1")
	assert.Equal(t, 0, len(decisions))

	err := f.orchestrator.Approve(context.Background(), "req-2", "alice", "looks fine")
	assert.Nil(t, err)
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())
	assert.Nil(t, f.orchestrator.PendingProposal())

	decisions, _ = f.audit.List(context.Background(), "run-1")
	if assert.Equal(t, 1, len(decisions)) {
		assert.Equal(t, audit.OutcomeApproved, decisions[0].Decision)
		assert.Equal(t, "alice", decisions[0].Human)
		assert.Equal(t, "looks fine", decisions[0].Reason)
	}
	assert.Equal(t, []bool{true}, f.gateway.approvals())
}

func TestOrchestrator_Reject(t *testing.T) {
	f := newFixture(t, &policy.Policy{})
	f.start(t)

	f.stream.emit(t, "proposal", proposalData("req-3", []string{"external_write"}, 0))
	waitFor(t, "awaiting approval", func() bool {
		return f.orchestrator.Status() == run.StatusAwaitingApproval
	})

	err := f.orchestrator.Reject(context.Background(), "req-3", "alice", "too risky")
	assert.Nil(t, err)
	assert.Equal(t, run.StatusRejected, f.orchestrator.Status())
	assert.Equal(t, []bool{false}, f.gateway.approvals())

	select {
	case <-f.stream.closed:
	case <-time.After(time.Second):
		t.Fatal("stream not closed after terminal state")
	}

	decisions, _ := f.audit.List(context.Background(), "run-1")
	if assert.Equal(t, 1, len(decisions)) {
		assert.Equal(t, audit.OutcomeRejected, decisions[0].Decision)
	}
}

func TestOrchestrator_ApproveForwardFailureKeepsPending(t *testing.T) {
	f := newFixture(t, &policy.Policy{})
	f.start(t)

	f.stream.emit(t, "proposal", proposalData("req-4", []string{"destructive_edit"}, 0))
	waitFor(t, "awaiting approval", func() bool {
		return f.orchestrator.Status() == run.StatusAwaitingApproval
	})

	f.gateway.setApproveErr(errors.New("network down"))
	err := f.orchestrator.Approve(context.Background(), "req-4", "alice", "")
	assert.NotNil(t, err)
	assert.Equal(t, run.StatusAwaitingApproval, f.orchestrator.Status())
	assert.NotNil(t, f.orchestrator.PendingProposal())
	decisions, _ := f.audit.List(context.Background(), "run-1")
	assert.Equal(t, 0, len(decisions))

	// retry after the transport recovers
	f.gateway.setApproveErr(nil)
	assert.Nil(t, f.orchestrator.Approve(context.Background(), "req-4", "alice", "second try"))
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())
	decisions, _ = f.audit.List(context.Background(), "run-1")
	assert.Equal(t, 1, len(decisions))
}

func TestOrchestrator_ApproveWithoutPending(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	err := f.orchestrator.Approve(context.Background(), "req-9", "alice", "")
	assert.ErrorIs(t, err, ErrNoPendingProposal)
}

func TestOrchestrator_Stop(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	assert.Nil(t, f.orchestrator.Stop(context.Background()))
	assert.Equal(t, run.StatusStopped, f.orchestrator.Status())

	select {
	case <-f.stream.closed:
	case <-time.After(time.Second):
		t.Fatal("stream not closed after stop")
	}
	// stream closure after explicit stop must not flip the state
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, run.StatusStopped, f.orchestrator.Status())
}

func TestOrchestrator_StreamLossInterrupts(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.stream.Close()
	waitFor(t, "interrupted", func() bool {
		return f.orchestrator.Status() == run.StatusInterrupted
	})
}

func TestOrchestrator_CompletedFetchesResult(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.result = &run.ResultPayload{
		Summary: "all steps completed",
		Outputs: map[string]map[string]interface{}{
			"markdown": {"content": "# report"},
		},
	}
	f.start(t)

	f.stream.emit(t, "status", map[string]interface{}{"status": "completed"})

	waitFor(t, "completed", func() bool {
		return f.orchestrator.Status() == run.StatusCompleted
	})
	waitFor(t, "artifact", func() bool {
		return len(f.store.Artifacts("run-1")) == 1
	})
	artifact := f.store.Artifacts("run-1")[0]
	assert.Equal(t, "markdown", artifact.Format)
	assert.Equal(t, "# report", artifact.Payload["content"])
}

func TestOrchestrator_TerminalStatusIgnoredWhileAwaiting(t *testing.T) {
	f := newFixture(t, &policy.Policy{})
	f.start(t)

	f.stream.emit(t, "proposal", proposalData("req-5", []string{"destructive_edit"}, 0))
	waitFor(t, "awaiting approval", func() bool {
		return f.orchestrator.Status() == run.StatusAwaitingApproval
	})

	// a run gated on approval cannot complete without a decision
	f.stream.emit(t, "status", map[string]interface{}{"status": "completed"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, run.StatusAwaitingApproval, f.orchestrator.Status())
	decisions, _ := f.audit.List(context.Background(), "run-1")
	assert.Equal(t, 0, len(decisions))
}

func TestOrchestrator_LogAndMalformedEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.stream.emit(t, "log", map[string]interface{}{"level": "info", "message": "step scan started"})
	f.stream.handlers.OnEvent(run.ParseEvent([]byte("not json")))

	waitFor(t, "log entry", func() bool {
		for _, entry := range f.store.Logs("run-1") {
			if entry.Message == "step scan started" {
				return true
			}
		}
		return false
	})
	waitFor(t, "malformed counter", func() bool {
		return f.orchestrator.Progress().MalformedDropped == 1
	})
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())
}

func TestOrchestrator_StopFailureKeepsStateForRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.gateway.mux.Lock()
	f.gateway.stopErr = errors.New("timeout")
	f.gateway.mux.Unlock()

	err := f.orchestrator.Stop(context.Background())
	assert.NotNil(t, err)
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())

	f.gateway.mux.Lock()
	f.gateway.stopErr = nil
	f.gateway.mux.Unlock()
	assert.Nil(t, f.orchestrator.Stop(context.Background()))
	assert.Equal(t, run.StatusStopped, f.orchestrator.Status())
}

func TestOrchestrator_ShutdownInterruptsActiveRun(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())

	f.orchestrator.Shutdown()
	assert.Equal(t, run.StatusInterrupted, f.orchestrator.Status())
	assert.Equal(t, run.StatusInterrupted, f.orchestrator.Run().Status)
}

func TestOrchestrator_StreamLossAfterFailedStopInterrupts(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.gateway.mux.Lock()
	f.gateway.stopErr = errors.New("timeout")
	f.gateway.mux.Unlock()
	assert.NotNil(t, f.orchestrator.Stop(context.Background()))

	// the failed stop left the run running; losing the stream now is an
	// interruption, not a stop
	f.stream.Close()
	waitFor(t, "interrupted", func() bool {
		return f.orchestrator.Status() == run.StatusInterrupted
	})
}

func TestOrchestrator_ControlAfterTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	assert.Nil(t, f.orchestrator.Stop(context.Background()))

	assert.ErrorIs(t, f.orchestrator.Stop(context.Background()), ErrTerminal)
	assert.ErrorIs(t, f.orchestrator.Approve(context.Background(), "req", "alice", ""), ErrTerminal)
}

func TestOrchestrator_ControlBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.orchestrator.Stop(context.Background()), ErrNotStarted)
}

func TestOrchestrator_DuplicateDecisionIsNoop(t *testing.T) {
	f := newFixture(t, &policy.Policy{})
	f.start(t)

	f.stream.emit(t, "proposal", proposalData("req-6", []string{"destructive_edit"}, 0))
	waitFor(t, "awaiting approval", func() bool {
		return f.orchestrator.Status() == run.StatusAwaitingApproval
	})

	// a decision already recorded for this request wins; the orchestrator
	// surfaces the duplicate only as a log note and still resumes
	prior := &audit.Decision{RequestID: "req-6", RunID: "run-1", Agent: "review", Human: "bob", Decision: audit.OutcomeApproved}
	assert.Nil(t, f.audit.Append(context.Background(), prior))

	assert.Nil(t, f.orchestrator.Approve(context.Background(), "req-6", "alice", ""))
	assert.Equal(t, run.StatusRunning, f.orchestrator.Status())

	decisions, _ := f.audit.List(context.Background(), "run-1")
	if assert.Equal(t, 1, len(decisions)) {
		assert.Equal(t, "bob", decisions[0].Human)
	}
}

func TestOrchestrator_EventOrdering(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	for i := 0; i < 5; i++ {
		f.stream.emit(t, "log", map[string]interface{}{"message": fmt.Sprintf("line %d", i)})
	}
	waitFor(t, "all logs", func() bool {
		count := 0
		for _, entry := range f.store.Logs("run-1") {
			if len(entry.Message) >= 4 && entry.Message[:4] == "line" {
				count++
			}
		}
		return count == 5
	})
	var lines []string
	for _, entry := range f.store.Logs("run-1") {
		if len(entry.Message) >= 4 && entry.Message[:4] == "line" {
			lines = append(lines, entry.Message)
		}
	}
	assert.Equal(t, []string{"line 0", "line 1", "line 2", "line 3", "line 4"}, lines)
}
