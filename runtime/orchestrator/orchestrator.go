// Package orchestrator owns the run state machine. One orchestrator instance
// drives one run: a single event-loop goroutine applies stream events in
// arrival order, consults the decision policy on proposals and executes the
// control operations (start, stop, approve, reject). All state writes happen
// on the loop goroutine; readers get copies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/progress"
	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/runstore"
	"github.com/luxera/rungate/service/stream"
)

// Sentinel errors surfaced by control operations.
var (
	// ErrAlreadyStarted marks a second Start on a live orchestrator.
	ErrAlreadyStarted = errors.New("orchestrator: run already started")

	// ErrNotStarted marks a control operation before Start.
	ErrNotStarted = errors.New("orchestrator: run not started")

	// ErrNoPendingProposal marks an approve/reject without a matching
	// pending proposal.
	ErrNoPendingProposal = errors.New("orchestrator: no pending proposal")

	// ErrTerminal marks a control operation on a finished run.
	ErrTerminal = errors.New("orchestrator: run already finished")
)

// Gateway is the subset of the backend client the orchestrator depends on.
type Gateway interface {
	StartRun(ctx context.Context, agentID string) (*run.Run, error)
	Stop(ctx context.Context, runID string) error
	Result(ctx context.Context, runID string) (*run.ResultPayload, error)
	Approve(ctx context.Context, runID string, approved bool) error
	RecordDecision(ctx context.Context, decision *audit.Decision) error
	StreamURL(runID string) string
}

// StreamClient is the subscription handle the orchestrator controls.
type StreamClient interface {
	Open(ctx context.Context) error
	Close()
}

// StreamFactory builds the subscription for a run's event channel.
type StreamFactory func(streamURL, token string, handlers stream.Handlers) StreamClient

// Orchestrator drives one run of one plan.
type Orchestrator struct {
	plan      *model.Plan
	policy    *policy.Policy
	gateway   Gateway
	audit     audit.Service
	store     *runstore.Store
	artifacts ArtifactDecoder
	logger    *slog.Logger

	streamConfig stream.Config
	newStream    StreamFactory

	commands   chan *command
	events     chan *run.Event
	streamDone chan struct{}
	closed     chan struct{}
	loopDone   chan struct{}

	// loop-owned state is mirrored here for readers
	mirror stateMirror
}

// ArtifactDecoder populates Artifact.Value from its payload; nil disables
// typed decoding.
type ArtifactDecoder interface {
	Decode(artifact *run.Artifact) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the decision policy; nil requires no approvals.
func WithPolicy(p *policy.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithAuditService sets the decision log.
func WithAuditService(service audit.Service) Option {
	return func(o *Orchestrator) { o.audit = service }
}

// WithRunStore sets the display store.
func WithRunStore(store *runstore.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithStreamConfig sets reconnect and heartbeat settings.
func WithStreamConfig(config stream.Config) Option {
	return func(o *Orchestrator) { o.streamConfig = config }
}

// WithStreamFactory replaces the SSE transport, used by tests.
func WithStreamFactory(factory StreamFactory) Option {
	return func(o *Orchestrator) { o.newStream = factory }
}

// WithArtifactDecoder sets the typed artifact decoder.
func WithArtifactDecoder(decoder ArtifactDecoder) Option {
	return func(o *Orchestrator) { o.artifacts = decoder }
}

// New creates an idle orchestrator for plan backed by gateway. The event
// loop starts with Start.
func New(plan *model.Plan, gateway Gateway, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		plan:         plan,
		gateway:      gateway,
		logger:       logging.NewDefault(),
		streamConfig: stream.DefaultConfig(),
		commands:     make(chan *command),
		events:       make(chan *run.Event, 256),
		streamDone:   make(chan struct{}, 1),
		closed:       make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.store == nil {
		ret.store = runstore.New()
	}
	if ret.newStream == nil {
		ret.newStream = func(streamURL, token string, handlers stream.Handlers) StreamClient {
			return stream.New(streamURL, token, ret.streamConfig, handlers, stream.WithLogger(ret.logger))
		}
	}
	ret.mirror.status = run.StatusIdle
	return ret
}

// Plan returns the plan this orchestrator runs.
func (o *Orchestrator) Plan() *model.Plan { return o.plan }

// Status returns the current run status.
func (o *Orchestrator) Status() run.Status {
	return o.mirror.Status()
}

// Run returns a copy of the run record, nil before Start.
func (o *Orchestrator) Run() *run.Run {
	return o.mirror.Run()
}

// PendingProposal returns a copy of the proposal awaiting decision, or nil.
func (o *Orchestrator) PendingProposal() *run.Proposal {
	return o.mirror.Pending()
}

// Progress returns the run's counters.
func (o *Orchestrator) Progress() progress.Snapshot {
	return o.mirror.ProgressSnapshot()
}

// Start requests run creation from the backend and opens the event stream.
func (o *Orchestrator) Start(ctx context.Context) (*run.Run, error) {
	return o.post(ctx, &command{kind: cmdStart})
}

// Approve resolves the pending proposal positively: the decision is
// forwarded to the backend first, then appended to the audit log. A
// forwarding failure leaves the proposal pending so the caller can retry.
func (o *Orchestrator) Approve(ctx context.Context, requestID, human, reason string) error {
	_, err := o.post(ctx, &command{kind: cmdApprove, requestID: requestID, human: human, reason: reason})
	return err
}

// Reject resolves the pending proposal negatively and terminates the run.
func (o *Orchestrator) Reject(ctx context.Context, requestID, human, reason string) error {
	_, err := o.post(ctx, &command{kind: cmdReject, requestID: requestID, human: human, reason: reason})
	return err
}

// Stop terminates the run. Stop intent is recorded before the backend call
// so a racing stream closure still maps to stopped rather than interrupted.
func (o *Orchestrator) Stop(ctx context.Context) error {
	_, err := o.post(ctx, &command{kind: cmdStop})
	return err
}

// Shutdown tears the orchestrator down: the subscription is closed and the
// loop exits. A run still in flight is marked interrupted.
func (o *Orchestrator) Shutdown() {
	o.mirror.closeOnce.Do(func() { close(o.closed) })
	if o.mirror.LoopStarted() {
		<-o.loopDone
	}
}

func (o *Orchestrator) post(ctx context.Context, cmd *command) (*run.Run, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan commandResult, 1)

	if cmd.kind == cmdStart {
		if !o.mirror.StartLoop() {
			return nil, ErrAlreadyStarted
		}
		go o.loop()
	} else if !o.mirror.LoopStarted() {
		return nil, ErrNotStarted
	}

	select {
	case o.commands <- cmd:
	case <-o.closed:
		return nil, fmt.Errorf("%w: orchestrator closed", ErrTerminal)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-cmd.reply:
		return result.run, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
