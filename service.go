package rungate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/luxera/rungate/extension"
	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/progress"
	"github.com/luxera/rungate/runtime/orchestrator"
	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	auditmem "github.com/luxera/rungate/service/audit/memory"
	"github.com/luxera/rungate/service/dao"
	"github.com/luxera/rungate/service/dao/plan"
	"github.com/luxera/rungate/service/event"
	"github.com/luxera/rungate/service/gateway"
	"github.com/luxera/rungate/service/messaging"
	fsqueue "github.com/luxera/rungate/service/messaging/fs"
	"github.com/luxera/rungate/service/runstore"
	"github.com/luxera/rungate/service/stream"
	"github.com/viant/afs/url"
	"github.com/viant/x"
)

// Service is the engine facade: it wires plans, the backend gateway, the
// review policy, the audit log, the run store and the notification fan-out,
// and orchestrates runs on demand. One orchestrator exists per started run;
// selecting a different agent tears the previous agent's subscription down
// first.
type Service struct {
	config  *Config
	logger  *slog.Logger
	runtime *Runtime

	planDAO      *plan.Service
	registry     *plan.Registry
	gateway      orchestrator.Gateway
	reviewPolicy *policy.Policy
	auditService audit.Service
	store        *runstore.Store
	artifacts    *extension.Artifacts
	events       *event.Service
	lifecycle    *event.Publisher[run.Run]

	streamConfig    stream.Config
	streamConfigSet bool
	streamFactory   orchestrator.StreamFactory
	extensionTypes  []*x.Type
	queueVendor     messaging.Vendor
	actor           string
	planBaseURL     string

	mux           sync.RWMutex
	selected      string
	active        *orchestrator.Orchestrator
	orchestrators map[string]*orchestrator.Orchestrator
}

// New creates the facade, applying options over config-driven defaults.
func New(options ...Option) *Service {
	ret := &Service{orchestrators: map[string]*orchestrator.Orchestrator{}}
	ret.init(options)
	return ret
}

func (s *Service) init(options []Option) {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()
	s.artifacts = extension.NewArtifacts(s.extensionTypes...)
	s.runtime = &Runtime{planDAO: s.planDAO, registry: s.registry, logger: s.logger}
}

func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.actor == "" {
		s.actor = s.config.Actor
	}
	if s.planBaseURL == "" {
		s.planBaseURL = s.config.Plans.BaseURL
	}
	if !s.streamConfigSet {
		s.streamConfig = s.config.Stream.StreamConfig()
	}
	if s.reviewPolicy == nil {
		s.reviewPolicy = policy.FromConfig(s.config.Policy)
	}
	if s.logger == nil {
		logger, _, err := logging.NewFromConfig(s.config.Logging)
		if err != nil {
			logger = logging.NewDefault()
		}
		s.logger = logger
	}
	if s.queueVendor == "" {
		s.queueVendor = messaging.Vendor(s.config.Events.Vendor)
	}
	if s.queueVendor == "" {
		s.queueVendor = "memory"
	}
	if s.events == nil {
		var opts []event.Option
		if s.queueVendor == "fs" {
			basePath := s.config.Events.BasePath
			if basePath == "" {
				basePath = fsqueue.DefaultConfig().BasePath
			}
			opts = append(opts, event.WithFsQueueConfig(func(name string) fsqueue.Config {
				cfg := fsqueue.DefaultConfig()
				cfg.BasePath = url.Join(basePath, name)
				return cfg
			}))
		}
		s.events, _ = event.New(s.queueVendor, opts...)
	}
	if s.auditService == nil {
		var opts []auditmem.Option
		if queue, err := event.QueueOf[audit.Event](s.events, event.TopicDecisionRecorded); err == nil {
			opts = append(opts, auditmem.WithQueue(queue))
		}
		s.auditService = auditmem.New(opts...)
	}
	if s.store == nil {
		var opts []runstore.Option
		if queue, err := event.QueueOf[runstore.Update](s.events, event.TopicStoreUpdated); err == nil {
			opts = append(opts, runstore.WithUpdateQueue(queue))
		}
		s.store = runstore.New(opts...)
	}
	if s.lifecycle == nil {
		s.lifecycle, _ = event.PublisherOf[run.Run](s.events)
	}
	if s.gateway == nil && s.config.Backend.BaseURL != "" {
		var opts []gateway.Option
		backend := s.config.Backend
		if backend.TokenURL != "" {
			opts = append(opts, gateway.WithTokenSource(gateway.NewSecretTokenSource(backend.TokenURL, backend.TokenKey)))
		} else if backend.Token != "" {
			opts = append(opts, gateway.WithToken(backend.Token))
		}
		s.gateway = gateway.New(backend.BaseURL, opts...)
	}
	if s.planDAO == nil {
		s.planDAO = plan.New(plan.WithBaseURL(s.planBaseURL))
	}
	if s.registry == nil {
		s.registry = plan.NewRegistry()
	}
}

// Runtime exposes plan loading and hot-swap helpers.
func (s *Service) Runtime() *Runtime { return s.runtime }

// Store exposes the shared run store read surface.
func (s *Service) Store() *runstore.Store { return s.store }

// Audit exposes the decision log.
func (s *Service) Audit() audit.Service { return s.auditService }

// Events exposes the notification service.
func (s *Service) Events() *event.Service { return s.events }

// Gateway exposes the backend gateway.
func (s *Service) Gateway() orchestrator.Gateway { return s.gateway }

// Policy returns the active review policy; nil means review everything.
func (s *Service) Policy() *policy.Policy { return s.reviewPolicy }

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// RegisterExtensionTypes registers Go types decodable from artifact
// payloads.
func (s *Service) RegisterExtensionTypes(types ...*x.Type) {
	for i := range types {
		s.artifacts.Types().Register(types[i])
	}
}

// BindArtifactType binds an artifact output format to a registered type
// name.
func (s *Service) BindArtifactType(format, dataType string) {
	s.artifacts.Bind(format, dataType)
}

// SelectAgent resolves the plan for the given agent id, loading it through
// the plan DAO when the registry misses, and makes it the current selection.
// Selecting a different agent shuts the previous agent's orchestrator down
// first; reselecting the current agent keeps it.
func (s *Service) SelectAgent(ctx context.Context, id string) (*model.Plan, error) {
	aPlan, err := s.plan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mux.Lock()
	previous := s.active
	changed := s.selected != aPlan.ID
	s.selected = aPlan.ID
	if changed {
		s.active = nil
	}
	s.mux.Unlock()
	if changed && previous != nil {
		previous.Shutdown()
	}
	return aPlan, nil
}

// SelectedAgent returns the id of the currently selected agent.
func (s *Service) SelectedAgent() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.selected
}

// StartRun starts a run for the given agent (or the selected one when
// agentID is empty) and begins consuming its event stream. A review policy
// carried on ctx via policy.WithPolicy overrides the configured one for
// that run.
func (s *Service) StartRun(ctx context.Context, agentID string) (*run.Run, error) {
	if agentID == "" {
		agentID = s.SelectedAgent()
	}
	if agentID == "" {
		return nil, fmt.Errorf("no agent selected")
	}
	aPlan, err := s.plan(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("backend gateway is not configured")
	}
	reviewPolicy := s.reviewPolicy
	if override := policy.FromContext(ctx); override != nil {
		reviewPolicy = override
	}
	orch := s.newOrchestrator(aPlan, reviewPolicy)
	aRun, err := orch.Start(ctx)
	if err != nil {
		orch.Shutdown()
		return nil, err
	}
	s.mux.Lock()
	s.orchestrators[aRun.ID] = orch
	if s.selected == "" || s.selected == aPlan.ID {
		s.selected = aPlan.ID
		s.active = orch
	}
	s.mux.Unlock()
	s.publishLifecycle(ctx, aRun)
	return aRun, nil
}

// StopRun stops a started run.
func (s *Service) StopRun(ctx context.Context, runID string) error {
	orch, err := s.orchestrator(runID)
	if err != nil {
		return err
	}
	if err = orch.Stop(ctx); err != nil {
		return err
	}
	s.publishLifecycle(ctx, orch.Run())
	return nil
}

// Approve approves the pending proposal of a run, recording the configured
// actor in the decision.
func (s *Service) Approve(ctx context.Context, runID, requestID, reason string) error {
	orch, err := s.orchestrator(runID)
	if err != nil {
		return err
	}
	return orch.Approve(ctx, requestID, s.actor, reason)
}

// Reject rejects the pending proposal of a run.
func (s *Service) Reject(ctx context.Context, runID, requestID, reason string) error {
	orch, err := s.orchestrator(runID)
	if err != nil {
		return err
	}
	return orch.Reject(ctx, requestID, s.actor, reason)
}

// Status returns the current status of a run; idle when the run is unknown
// to both the orchestrators and the store.
func (s *Service) Status(runID string) run.Status {
	if orch, err := s.orchestrator(runID); err == nil {
		return orch.Status()
	}
	if aRun := s.store.Run(runID); aRun != nil {
		return aRun.Status
	}
	return run.StatusIdle
}

// Run returns the stored run record, or nil when unknown.
func (s *Service) Run(runID string) *run.Run {
	return s.store.Run(runID)
}

// Runs lists all stored runs.
func (s *Service) Runs() []*run.Run {
	return s.store.Runs()
}

// Logs returns the log entries recorded for a run in append order.
func (s *Service) Logs(runID string) []*run.LogEntry {
	return s.store.Logs(runID)
}

// Artifacts returns the artifacts recorded for a run in append order.
func (s *Service) Artifacts(runID string) []*run.Artifact {
	return s.store.Artifacts(runID)
}

// PendingProposal returns the gated proposal of a run, or nil.
func (s *Service) PendingProposal(runID string) *run.Proposal {
	if orch, err := s.orchestrator(runID); err == nil {
		return orch.PendingProposal()
	}
	return nil
}

// Progress returns the run's progress counters.
func (s *Service) Progress(runID string) progress.Snapshot {
	if orch, err := s.orchestrator(runID); err == nil {
		return orch.Progress()
	}
	return progress.Snapshot{RunID: runID}
}

// Decisions lists the audited decisions for a run in insertion order.
func (s *Service) Decisions(ctx context.Context, runID string) ([]*audit.Decision, error) {
	return s.auditService.List(ctx, runID)
}

// Shutdown tears down every orchestrator and its stream subscription.
// Recorded runs, logs, artifacts and decisions remain readable.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mux.Lock()
	orchestrators := s.orchestrators
	s.orchestrators = map[string]*orchestrator.Orchestrator{}
	s.active = nil
	s.mux.Unlock()
	for _, orch := range orchestrators {
		orch.Shutdown()
	}
	return nil
}

func (s *Service) newOrchestrator(aPlan *model.Plan, reviewPolicy *policy.Policy) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithPolicy(reviewPolicy),
		orchestrator.WithAuditService(s.auditService),
		orchestrator.WithRunStore(s.store),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithStreamConfig(s.streamConfig),
		orchestrator.WithArtifactDecoder(s.artifacts),
	}
	if s.streamFactory != nil {
		opts = append(opts, orchestrator.WithStreamFactory(s.streamFactory))
	}
	return orchestrator.New(aPlan, s.gateway, opts...)
}

func (s *Service) orchestrator(runID string) (*orchestrator.Orchestrator, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if orch, ok := s.orchestrators[runID]; ok {
		return orch, nil
	}
	return nil, fmt.Errorf("run %s: %w", runID, dao.ErrNotFound)
}

func (s *Service) plan(ctx context.Context, id string) (*model.Plan, error) {
	aPlan, err := s.registry.Load(ctx, id)
	if err == nil {
		return aPlan, nil
	}
	if !errors.Is(err, dao.ErrNotFound) {
		return nil, err
	}
	if aPlan, err = s.planDAO.Load(ctx, id); err != nil {
		return nil, err
	}
	if err = s.registry.Save(ctx, aPlan); err != nil {
		return nil, err
	}
	return aPlan, nil
}

func (s *Service) publishLifecycle(ctx context.Context, aRun *run.Run) {
	if s.lifecycle == nil || aRun == nil {
		return
	}
	evt := event.NewEvent(&event.Context{
		RunID:     aRun.ID,
		Topic:     event.TopicRunLifecycle,
		EventType: string(aRun.Status),
	}, *aRun)
	if err := s.lifecycle.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish run lifecycle event", "runID", aRun.ID, "error", err)
	}
}
