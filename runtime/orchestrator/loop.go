package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxera/rungate/internal/clock"
	"github.com/luxera/rungate/internal/idgen"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/progress"
	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/stream"
	"github.com/luxera/rungate/tracing"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdApprove
	cmdReject
	cmdStop
)

type command struct {
	kind      commandKind
	ctx       context.Context
	requestID string
	human     string
	reason    string
	reply     chan commandResult
}

type commandResult struct {
	run *run.Run
	err error
}

// stateMirror exposes loop-owned state to concurrent readers.
type stateMirror struct {
	mux       sync.Mutex
	status    run.Status
	current   *run.Run
	pending   *run.Proposal
	tracker   *progress.Progress
	loop      bool
	closeOnce sync.Once
}

func (m *stateMirror) Status() run.Status {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.status
}

func (m *stateMirror) Run() *run.Run {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.current.Clone()
}

func (m *stateMirror) Pending() *run.Proposal {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.pending.Clone()
}

func (m *stateMirror) ProgressSnapshot() progress.Snapshot {
	m.mux.Lock()
	tracker := m.tracker
	m.mux.Unlock()
	return tracker.Snapshot()
}

func (m *stateMirror) StartLoop() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.loop {
		return false
	}
	m.loop = true
	return true
}

func (m *stateMirror) LoopStarted() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.loop
}

// machine is the loop-owned state of one run.
type machine struct {
	status     run.Status
	current    *run.Run
	pending    *run.Proposal
	stopIntent bool
	client     StreamClient
	tracker    *progress.Progress
}

// loop is the single goroutine owning all state transitions.
func (o *Orchestrator) loop() {
	defer close(o.loopDone)

	m := &machine{status: run.StatusIdle, tracker: &progress.Progress{}}
	o.publish(m)

	defer func() {
		if m.client != nil {
			m.client.Close()
		}
		if !m.status.IsTerminal() && m.status != run.StatusIdle {
			o.setStatus(m, run.StatusInterrupted, "orchestrator shut down")
		}
		o.publish(m)
	}()

	for {
		select {
		case cmd := <-o.commands:
			o.handleCommand(m, cmd)
		case event := <-o.events:
			o.handleEvent(m, event)
		case <-o.streamDone:
			o.handleStreamClosed(m)
		case <-o.closed:
			return
		}
		if m.status.IsTerminal() && m.client != nil {
			m.client.Close()
			m.client = nil
		}
	}
}

// publish mirrors loop state for readers.
func (o *Orchestrator) publish(m *machine) {
	o.mirror.mux.Lock()
	o.mirror.status = m.status
	o.mirror.current = m.current
	o.mirror.pending = m.pending
	o.mirror.tracker = m.tracker
	o.mirror.mux.Unlock()
}

func (o *Orchestrator) handleCommand(m *machine, cmd *command) {
	var result commandResult
	switch cmd.kind {
	case cmdStart:
		result.run, result.err = o.handleStart(m, cmd.ctx)
	case cmdApprove:
		result.err = o.handleDecision(m, cmd, audit.OutcomeApproved)
	case cmdReject:
		result.err = o.handleDecision(m, cmd, audit.OutcomeRejected)
	case cmdStop:
		result.err = o.handleStop(m, cmd.ctx)
	}
	o.publish(m)
	cmd.reply <- result
}

func (o *Orchestrator) handleStart(m *machine, ctx context.Context) (*run.Run, error) {
	if m.status != run.StatusIdle {
		return nil, ErrAlreadyStarted
	}
	ctx, span := tracing.StartSpan(ctx, "orchestrator.start", "INTERNAL")
	m.status = run.StatusStarting
	o.publish(m)

	created, err := o.gateway.StartRun(ctx, o.plan.ID)
	if err != nil {
		m.status = run.StatusFailed
		o.logger.Error("run creation failed", "plan", o.plan.ID, "error", err)
		tracing.EndSpan(span, err)
		return nil, fmt.Errorf("start run: %w", err)
	}
	m.current = created.Clone()
	m.current.Status = run.StatusRunning
	m.status = run.StatusRunning
	m.tracker = progress.New(created.ID, o.plan.ID)
	o.store.UpsertRun(ctx, m.current)
	o.appendLog(m, "info", fmt.Sprintf("run %s started for plan %s", m.current.ID, o.plan.ID))

	client := o.newStream(o.gateway.StreamURL(m.current.ID), m.current.StreamToken, stream.Handlers{
		OnEvent: func(event *run.Event) {
			select {
			case o.events <- event:
			case <-o.closed:
			}
		},
		OnError: func(err error) {
			o.logger.Warn("stream error", "run_id", created.ID, "error", err)
		},
		OnReconnect: func(attempt int) {
			m.tracker.Update(progress.Delta{Reconnects: 1})
			o.logger.Info("stream reconnecting", "run_id", created.ID, "attempt", attempt)
		},
		OnClose: func() {
			select {
			case o.streamDone <- struct{}{}:
			default:
			}
		},
	})
	if err := client.Open(context.Background()); err != nil {
		m.status = run.StatusFailed
		o.appendLog(m, "error", fmt.Sprintf("stream open failed: %v", err))
		tracing.EndSpan(span, err)
		return nil, fmt.Errorf("open stream for run %s: %w", m.current.ID, err)
	}
	m.client = client
	tracing.EndSpan(span, nil)
	return m.current.Clone(), nil
}

func (o *Orchestrator) handleDecision(m *machine, cmd *command, outcome audit.Outcome) error {
	if m.status.IsTerminal() {
		return ErrTerminal
	}
	if m.status != run.StatusAwaitingApproval || m.pending == nil {
		return ErrNoPendingProposal
	}
	if cmd.requestID != "" && cmd.requestID != m.pending.RequestID {
		return fmt.Errorf("%w: request %s is not pending", ErrNoPendingProposal, cmd.requestID)
	}

	ctx, span := tracing.StartSpan(cmd.ctx, "orchestrator.decide", "INTERNAL")
	approved := outcome == audit.OutcomeApproved

	// Forward first: a failed forward must leave no audit entry, otherwise
	// the duplicate guard would block the retry.
	if err := o.gateway.Approve(ctx, m.current.ID, approved); err != nil {
		o.appendLog(m, "error", fmt.Sprintf("decision forward failed for request %s: %v", m.pending.RequestID, err))
		tracing.EndSpan(span, err)
		return fmt.Errorf("forward decision: %w", err)
	}

	decision := &audit.Decision{
		RequestID: m.pending.RequestID,
		RunID:     m.current.ID,
		Agent:     m.pending.Agent,
		Human:     cmd.human,
		Decision:  outcome,
		Timestamp: clock.Now(),
		Reason:    cmd.reason,
	}
	o.recordDecision(m, ctx, decision)

	m.pending = nil
	if approved {
		o.setStatus(m, run.StatusRunning, fmt.Sprintf("request %s approved by %s", decision.RequestID, decision.Human))
	} else {
		o.setStatus(m, run.StatusRejected, fmt.Sprintf("request %s rejected by %s", decision.RequestID, decision.Human))
	}
	m.tracker.Update(progress.Delta{Decisions: 1})
	tracing.EndSpan(span, nil)
	return nil
}

// recordDecision appends to the local audit log and forwards the record to
// backend persistence best-effort.
func (o *Orchestrator) recordDecision(m *machine, ctx context.Context, decision *audit.Decision) {
	if o.audit != nil {
		if err := o.audit.Append(ctx, decision); err != nil {
			if errors.Is(err, audit.ErrAlreadyDecided) {
				o.appendLog(m, "info", fmt.Sprintf("request %s already decided, keeping original decision", decision.RequestID))
			} else {
				o.appendLog(m, "error", fmt.Sprintf("audit append failed for request %s: %v", decision.RequestID, err))
			}
		}
	}
	if err := o.gateway.RecordDecision(ctx, decision); err != nil {
		o.logger.Warn("backend decision record failed", "run_id", decision.RunID, "request_id", decision.RequestID, "error", err)
	}
}

func (o *Orchestrator) handleStop(m *machine, ctx context.Context) error {
	if m.status.IsTerminal() {
		return ErrTerminal
	}
	if m.status == run.StatusIdle {
		return ErrNotStarted
	}
	ctx, span := tracing.StartSpan(ctx, "orchestrator.stop", "INTERNAL")

	// Intent before the call: a stream closure racing the stop maps to
	// stopped, not interrupted.
	m.stopIntent = true
	if err := o.gateway.Stop(ctx, m.current.ID); err != nil {
		m.stopIntent = false
		o.appendLog(m, "error", fmt.Sprintf("stop request failed: %v", err))
		tracing.EndSpan(span, err)
		return fmt.Errorf("stop run %s: %w", m.current.ID, err)
	}
	o.setStatus(m, run.StatusStopped, "run stopped")
	tracing.EndSpan(span, nil)
	return nil
}

func (o *Orchestrator) handleStreamClosed(m *machine) {
	if m.status.IsTerminal() || m.status == run.StatusIdle {
		return
	}
	if m.stopIntent {
		o.setStatus(m, run.StatusStopped, "stream closed after stop")
	} else {
		o.setStatus(m, run.StatusInterrupted, "event stream lost")
	}
	o.publish(m)
}

func (o *Orchestrator) handleEvent(m *machine, event *run.Event) {
	if m.status.IsTerminal() || m.current == nil {
		return
	}
	m.tracker.Update(progress.Delta{EventsApplied: 1})

	switch event.Type {
	case run.EventLog:
		o.appendLog(m, event.Log.Level, event.Log.Message)
	case run.EventProposal:
		o.handleProposal(m, event.Proposal)
	case run.EventStatus:
		o.handleStatus(m, event.Status)
	case run.EventResult:
		o.applyResult(m, event.Result)
	case run.EventMalformed:
		m.tracker.Update(progress.Delta{MalformedDropped: 1})
		o.logger.Warn("malformed event dropped", "run_id", m.current.ID, "error", event.Err)
	}
	o.publish(m)
}

func (o *Orchestrator) handleProposal(m *machine, proposal *run.Proposal) {
	if m.status != run.StatusRunning {
		o.appendLog(m, "warn", fmt.Sprintf("proposal %s ignored in state %s", proposal.RequestID, m.status))
		return
	}
	verdict := o.policy.Evaluate(proposal)
	if !verdict.Required {
		decision := &audit.Decision{
			RequestID: proposal.RequestID,
			RunID:     m.current.ID,
			Agent:     proposal.Agent,
			Human:     audit.ActorPolicy,
			Decision:  audit.OutcomeApproved,
			Timestamp: clock.Now(),
			Reason:    policy.AutoApproveReason,
		}
		// Resume is best-effort here: the backend only pauses when it was
		// told to expect a decision.
		if err := o.gateway.Approve(context.Background(), m.current.ID, true); err != nil {
			o.logger.Warn("auto-approve forward failed", "run_id", m.current.ID, "request_id", proposal.RequestID, "error", err)
		}
		o.recordDecision(m, context.Background(), decision)
		m.tracker.Update(progress.Delta{Decisions: 1})
		o.appendLog(m, "info", fmt.Sprintf("proposal %s auto-approved", proposal.RequestID))
		return
	}

	m.pending = proposal.Clone()
	m.tracker.Update(progress.Delta{ProposalsGated: 1})
	o.setStatus(m, run.StatusAwaitingApproval, fmt.Sprintf("proposal %s awaiting approval: %s", proposal.RequestID, verdict.Reason()))
}

func (o *Orchestrator) handleStatus(m *machine, payload *run.StatusPayload) {
	next := payload.Status
	if m.status == run.StatusAwaitingApproval && next.IsTerminal() {
		// The gate holds until a decision resolves it; a backend terminal
		// status cannot bypass the pending proposal.
		o.appendLog(m, "warn", fmt.Sprintf("terminal status %s ignored while awaiting approval", next))
		return
	}
	switch next {
	case run.StatusCompleted:
		o.setStatus(m, run.StatusCompleted, payload.Detail)
		o.fetchResult(m)
	case run.StatusFailed:
		detail := payload.Detail
		if detail == "" {
			detail = "backend reported failure"
		}
		o.setStatus(m, run.StatusFailed, detail)
	case run.StatusStopped:
		o.setStatus(m, run.StatusStopped, payload.Detail)
	case run.StatusRunning, run.StatusStarting:
		if m.status == run.StatusRunning {
			return
		}
		o.setStatus(m, next, payload.Detail)
	default:
		o.appendLog(m, "warn", fmt.Sprintf("unknown status %q ignored", string(next)))
	}
}

// fetchResult pulls the final payload once, best-effort.
func (o *Orchestrator) fetchResult(m *machine) {
	result, err := o.gateway.Result(context.Background(), m.current.ID)
	if err != nil {
		o.appendLog(m, "error", fmt.Sprintf("result fetch failed: %v", err))
		return
	}
	o.applyResult(m, result)
}

func (o *Orchestrator) applyResult(m *machine, result *run.ResultPayload) {
	if result == nil {
		return
	}
	if result.Summary != "" {
		o.appendLog(m, "info", result.Summary)
	}
	for format, payload := range result.Outputs {
		artifact := &run.Artifact{
			ID:      idgen.New(),
			RunID:   m.current.ID,
			Format:  format,
			Payload: payload,
			Time:    clock.Now(),
		}
		if o.artifacts != nil {
			if err := o.artifacts.Decode(artifact); err != nil {
				o.appendLog(m, "warn", fmt.Sprintf("artifact %s decode failed: %v", format, err))
			}
		}
		o.store.AppendArtifact(context.Background(), artifact)
	}
}

// setStatus transitions the machine, records a log line and updates the
// display store.
func (o *Orchestrator) setStatus(m *machine, next run.Status, detail string) {
	m.status = next
	level := "info"
	if next == run.StatusFailed || next == run.StatusInterrupted {
		level = "error"
	}
	message := fmt.Sprintf("run status %s", next)
	if detail != "" {
		message = fmt.Sprintf("run status %s: %s", next, detail)
	}
	o.appendLog(m, level, message)
	if m.current != nil {
		m.current.Status = next
		o.store.UpsertRun(context.Background(), m.current)
	}
}

func (o *Orchestrator) appendLog(m *machine, level, message string) {
	if m.current == nil {
		o.logger.Info(message, "plan", o.plan.ID)
		return
	}
	o.store.AppendLog(context.Background(), &run.LogEntry{
		ID:      idgen.New(),
		RunID:   m.current.ID,
		Level:   level,
		Message: message,
		Time:    clock.Now(),
	})
}
