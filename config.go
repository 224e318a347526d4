package flow

import (
	"fmt"

	"github.com/docflow/flow/service/engine"
	"github.com/docflow/flow/service/scheduler"
)

// Config aggregates the tunables of the engine and the escalation
// scheduler.
type Config struct {
	Engine    engine.Config    `yaml:"engine" json:"engine"`
	Scheduler scheduler.Config `yaml:"scheduler" json:"scheduler"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Engine:    engine.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
	}
}

// Validate reports configuration values the service cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxConflictRetries < 0 {
		return fmt.Errorf("engine.maxConflictRetries must not be negative, got %d", c.Engine.MaxConflictRetries)
	}
	if c.Engine.MaxAutoSteps <= 0 {
		return fmt.Errorf("engine.maxAutoSteps must be positive, got %d", c.Engine.MaxAutoSteps)
	}
	if c.Scheduler.PollingInterval <= 0 {
		return fmt.Errorf("scheduler.pollingInterval must be positive, got %v", c.Scheduler.PollingInterval)
	}
	return nil
}
