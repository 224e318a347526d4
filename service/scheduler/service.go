// Package scheduler periodically sweeps in-flight instances and escalates
// approvals whose timeout has expired. Eligibility is rechecked by the
// engine under the instance lock, so the sweep itself only pre-filters.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/docflow/flow/internal/clock"
	"github.com/docflow/flow/model"
	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
	"github.com/docflow/flow/service/engine"
	"github.com/docflow/flow/tracing"
)

// Config represents scheduler configuration.
type Config struct {
	// PollingInterval controls how often the sweep runs.
	PollingInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{PollingInterval: 30 * time.Second}
}

// Service drives timeout escalations.
type Service struct {
	config      Config
	engine      *engine.Service
	definitions *definition.Service
	instances   dao.Store[string, instance.Instance]

	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

// New creates an escalation scheduler.
func New(config Config, eng *engine.Service, definitions *definition.Service, instances dao.Store[string, instance.Instance]) *Service {
	if config.PollingInterval <= 0 {
		config.PollingInterval = DefaultConfig().PollingInterval
	}
	return &Service{
		config:      config,
		engine:      eng,
		definitions: definitions,
		instances:   instances,
		shutdownCh:  make(chan struct{}),
	}
}

// Start launches the polling loop. It returns immediately; the loop stops
// when the context is cancelled or Shutdown is called.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.PollingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdownCh:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Shutdown stops the polling loop and waits for an in-flight sweep.
func (s *Service) Shutdown() {
	s.once.Do(func() { close(s.shutdownCh) })
	s.wg.Wait()
}

// Sweep runs one escalation pass. Failures on individual instances are
// logged and never abort the rest of the pass.
func (s *Service) Sweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.sweep")
	defer tracing.EndSpan(span, nil)

	candidates, err := s.instances.List(ctx, dao.NewParameter("Status", string(instance.StatusInProgress)))
	if err != nil {
		log.Printf("escalation sweep: listing instances failed: %v", err)
		return
	}
	now := clock.Now()
	for _, inst := range candidates {
		if !s.expired(ctx, inst, now) {
			continue
		}
		if err := s.engine.Escalate(ctx, inst.ID); err != nil {
			// A concurrent decision or sweep won the race; nothing to do.
			if errors.Is(err, engine.ErrInvalidTransition) {
				continue
			}
			log.Printf("escalation sweep: instance %s: %v", inst.ID, err)
		}
	}
}

func (s *Service) expired(ctx context.Context, inst *instance.Instance, now time.Time) bool {
	def, err := s.definitions.Load(ctx, inst.DefinitionID)
	if err != nil {
		return false
	}
	node := def.Lookup(inst.CurrentNode)
	if node == nil || node.Kind != model.KindApproval || node.Approval.Timeout <= 0 {
		return false
	}
	if inst.CurrentDecision(node.ID) != nil {
		return false
	}
	return !now.Before(inst.EnteredCurrentAt.Add(node.Approval.Timeout))
}
