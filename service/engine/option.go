package engine

import (
	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/audit"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
	"github.com/docflow/flow/service/notify"
)

type Option func(s *Service)

// WithConfig overrides the engine configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithDefinitions sets the definition registry.
func WithDefinitions(definitions *definition.Service) Option {
	return func(s *Service) {
		s.definitions = definitions
	}
}

// WithInstances sets the instance store.
func WithInstances(instances dao.Store[string, instance.Instance]) Option {
	return func(s *Service) {
		s.instances = instances
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(recorder audit.Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithNotifier sets the notification collaborator.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithRoleResolver sets the role membership check used by Approval nodes
// configured with a role instead of a single approver id.
func WithRoleResolver(resolver RoleResolver) Option {
	return func(s *Service) {
		s.roles = resolver
	}
}
