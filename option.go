package rungate

import (
	"log/slog"

	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/runtime/orchestrator"
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/dao/plan"
	"github.com/luxera/rungate/service/event"
	"github.com/luxera/rungate/service/messaging"
	"github.com/luxera/rungate/service/runstore"
	"github.com/luxera/rungate/service/stream"
	"github.com/luxera/rungate/tracing"
	"github.com/viant/x"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the facade service.
type Option func(s *Service)

// WithConfig sets the configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithPolicy sets the review policy.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) { s.reviewPolicy = p }
}

// WithGateway sets the backend gateway.
func WithGateway(g orchestrator.Gateway) Option {
	return func(s *Service) { s.gateway = g }
}

// WithAuditService sets the decision log.
func WithAuditService(service audit.Service) Option {
	return func(s *Service) { s.auditService = service }
}

// WithRunStore sets the run store.
func WithRunStore(store *runstore.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEventService sets the notification service.
func WithEventService(service *event.Service) Option {
	return func(s *Service) { s.events = service }
}

// WithQueueVendor selects the messaging vendor backing the notification
// topics ("memory" or "fs").
func WithQueueVendor(vendor messaging.Vendor) Option {
	return func(s *Service) { s.queueVendor = vendor }
}

// WithStreamConfig sets the event stream reconnect/heartbeat settings.
func WithStreamConfig(config stream.Config) Option {
	return func(s *Service) {
		s.streamConfig = config
		s.streamConfigSet = true
	}
}

// WithStreamFactory overrides how stream subscriptions are created.
func WithStreamFactory(factory orchestrator.StreamFactory) Option {
	return func(s *Service) { s.streamFactory = factory }
}

// WithPlanDAO sets the plan loader.
func WithPlanDAO(service *plan.Service) Option {
	return func(s *Service) { s.planDAO = service }
}

// WithPlanRegistry sets the plan registry.
func WithPlanRegistry(registry *plan.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithPlanBaseURL sets the base URL plan locations resolve against.
func WithPlanBaseURL(url string) Option {
	return func(s *Service) { s.planBaseURL = url }
}

// WithActor sets the human recorded on manual decisions.
func WithActor(actor string) Option {
	return func(s *Service) { s.actor = actor }
}

// WithExtensionTypes sets the artifact extension types.
func WithExtensionTypes(types ...*x.Type) Option {
	return func(s *Service) { s.extensionTypes = types }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times - the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times - the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
