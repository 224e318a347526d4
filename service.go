package flow

import (
	"github.com/viant/afs"

	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/audit"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
	imemory "github.com/docflow/flow/service/dao/instance/memory"
	"github.com/docflow/flow/service/engine"
	"github.com/docflow/flow/service/notify"
	"github.com/docflow/flow/service/scheduler"
)

// Service assembles the workflow engine, its stores and the escalation
// scheduler into one runnable unit.
type Service struct {
	runtime *Runtime

	config      Config
	definitions *definition.Service
	instances   dao.Store[string, instance.Instance]
	recorder    audit.Recorder
	notifier    notify.Notifier
	roles       engine.RoleResolver

	definitionBaseURL string
	definitionFS      afs.Service
}

// New builds a service. Collaborators not supplied via options fall back to
// in-memory implementations.
func New(options ...Option) (*Service, error) {
	s := &Service{runtime: &Runtime{}, config: DefaultConfig()}
	if err := s.init(options); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init(options []Option) error {
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	s.ensureBaseSetup()

	eng, err := engine.New(
		engine.WithConfig(s.config.Engine),
		engine.WithDefinitions(s.definitions),
		engine.WithInstances(s.instances),
		engine.WithRecorder(s.recorder),
		engine.WithNotifier(s.notifier),
		engine.WithRoleResolver(s.roles),
	)
	if err != nil {
		return err
	}
	s.runtime.engine = eng
	s.runtime.definitions = s.definitions
	s.runtime.instances = s.instances
	s.runtime.recorder = s.recorder
	s.runtime.scheduler = scheduler.New(s.config.Scheduler, eng, s.definitions, s.instances)
	return nil
}

func (s *Service) ensureBaseSetup() {
	if s.definitions == nil {
		var opts []definition.Option
		if s.definitionBaseURL != "" {
			opts = append(opts, definition.WithBaseURL(s.definitionBaseURL))
		}
		if s.definitionFS != nil {
			opts = append(opts, definition.WithFS(s.definitionFS))
		}
		s.definitions = definition.New(opts...)
	}
	if s.instances == nil {
		s.instances = imemory.New()
	}
	if s.recorder == nil {
		s.recorder = audit.NewMemoryRecorder()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier()
	}
}

// Runtime returns the assembled runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}
