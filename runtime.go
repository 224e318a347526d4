package flow

import (
	"context"

	"github.com/docflow/flow/model"
	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/audit"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
	"github.com/docflow/flow/service/engine"
	"github.com/docflow/flow/service/scheduler"
)

// Runtime is the running workflow service: the engine plus the escalation
// scheduler, with direct access to definitions and instances.
type Runtime struct {
	engine      *engine.Service
	definitions *definition.Service
	instances   dao.Store[string, instance.Instance]
	recorder    audit.Recorder
	scheduler   *scheduler.Service
}

// Engine returns the workflow engine.
func (r *Runtime) Engine() *engine.Service {
	return r.engine
}

// Definitions returns the definition registry.
func (r *Runtime) Definitions() *definition.Service {
	return r.definitions
}

// Recorder returns the audit recorder the engine emits to.
func (r *Runtime) Recorder() audit.Recorder {
	return r.recorder
}

// RegisterDefinition validates and registers a definition.
func (r *Runtime) RegisterDefinition(def *model.Definition) error {
	return r.definitions.Register(def)
}

// LoadDefinition loads, validates and registers a definition from a file
// location.
func (r *Runtime) LoadDefinition(ctx context.Context, location string) (*model.Definition, error) {
	return r.definitions.LoadURL(ctx, location)
}

// StartWorkflow creates and advances a new instance of the named
// definition.
func (r *Runtime) StartWorkflow(ctx context.Context, definitionID string, documentContext map[string]interface{}, initiatedBy string) (string, error) {
	return r.engine.StartWorkflow(ctx, definitionID, documentContext, initiatedBy)
}

// Approve records an approval decision on the instance's current node.
func (r *Runtime) Approve(ctx context.Context, instanceID, approverID, comments string) error {
	return r.engine.Approve(ctx, instanceID, approverID, comments)
}

// Reject records a rejection on the instance's current node.
func (r *Runtime) Reject(ctx context.Context, instanceID, approverID, comments string) error {
	return r.engine.Reject(ctx, instanceID, approverID, comments)
}

// Advance resumes automatic progression of a parked instance.
func (r *Runtime) Advance(ctx context.Context, instanceID string) error {
	return r.engine.Advance(ctx, instanceID)
}

// InstanceState returns a snapshot of the instance.
func (r *Runtime) InstanceState(ctx context.Context, instanceID string) (*instance.Instance, error) {
	return r.engine.InstanceState(ctx, instanceID)
}

// PendingApprovals lists instances awaiting the given approver.
func (r *Runtime) PendingApprovals(ctx context.Context, approverID string) ([]*instance.Instance, error) {
	return r.engine.PendingApprovals(ctx, approverID)
}

// Instances lists instances matching the supplied criteria.
func (r *Runtime) Instances(ctx context.Context, parameters ...*dao.Parameter) ([]*instance.Instance, error) {
	return r.instances.List(ctx, parameters...)
}

// Start launches the escalation scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	r.scheduler.Start(ctx)
	return nil
}

// Shutdown stops the scheduler.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.scheduler.Shutdown()
	return nil
}
