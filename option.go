package flow

import (
	"github.com/viant/afs"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/audit"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
	"github.com/docflow/flow/service/engine"
	"github.com/docflow/flow/service/notify"
	"github.com/docflow/flow/tracing"
)

// Option customises service assembly.
type Option func(s *Service)

// WithConfig replaces the default configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithDefinitionService sets the definition registry.
func WithDefinitionService(service *definition.Service) Option {
	return func(s *Service) { s.definitions = service }
}

// WithInstanceStore sets the instance store.
func WithInstanceStore(store dao.Store[string, instance.Instance]) Option {
	return func(s *Service) { s.instances = store }
}

// WithRecorder sets the audit recorder.
func WithRecorder(recorder audit.Recorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithNotifier sets the notification dispatcher.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithRoleResolver sets the role membership check used by role-based
// approval nodes.
func WithRoleResolver(resolver engine.RoleResolver) Option {
	return func(s *Service) { s.roles = resolver }
}

// WithDefinitionBaseURL sets the base location definition files are loaded
// from.
func WithDefinitionBaseURL(url string) Option {
	return func(s *Service) { s.definitionBaseURL = url }
}

// WithDefinitionFS supplies the file system used for definition loading.
func WithDefinitionFS(fs afs.Service) Option {
	return func(s *Service) { s.definitionFS = fs }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times: the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times: the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
