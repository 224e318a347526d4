// Package engine implements the workflow state machine: it owns instance
// lifecycle, transition logic and routing decisions. Every transition is
// executed inside a per-instance critical section and committed together
// with exactly one audit event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/docflow/flow/internal/clock"
	"github.com/docflow/flow/internal/idgen"
	"github.com/docflow/flow/model"
	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/audit"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
	"github.com/docflow/flow/service/notify"
	"github.com/docflow/flow/tracing"
)

// ActorSystem is the actor recorded on transitions not caused by a person.
const ActorSystem = "system"

// RoleResolver reports whether an actor holds a role. Approval nodes
// configured with a role instead of an approver id are undecidable without
// one.
type RoleResolver func(role, actorID string) bool

// Config represents engine configuration.
type Config struct {
	// MaxConflictRetries bounds the reload-recompute-resave cycles run on
	// a version conflict before it is surfaced to the caller.
	MaxConflictRetries int

	// MaxAutoSteps bounds automatic progression per operation, guarding
	// against runaway retry loops.
	MaxAutoSteps int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: 3,
		MaxAutoSteps:       64,
	}
}

// Service is the workflow engine. All collaborators are injected; the
// engine holds no ambient state beyond the read-mostly definition registry.
type Service struct {
	config      Config
	definitions *definition.Service
	instances   dao.Store[string, instance.Instance]
	recorder    audit.Recorder
	notifier    notify.Notifier
	roles       RoleResolver
	locks       *keyedMutex
}

// New creates an engine. Definitions, instance store and audit recorder are
// required; the notifier and role resolver are optional.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		locks:  newKeyedMutex(),
	}
	for _, option := range options {
		option(s)
	}
	if s.definitions == nil {
		return nil, fmt.Errorf("definition service is required")
	}
	if s.instances == nil {
		return nil, fmt.Errorf("instance store is required")
	}
	if s.recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if s.config.MaxConflictRetries < 0 || s.config.MaxAutoSteps <= 0 {
		return nil, fmt.Errorf("invalid engine config: %+v", s.config)
	}
	return s, nil
}

// StartWorkflow creates an instance of the given definition bound to the
// supplied document context and immediately auto-advances past Start. The
// instance id is returned even when progression parks with an error.
func (s *Service) StartWorkflow(ctx context.Context, definitionID string, documentContext map[string]interface{}, initiatedBy string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.startWorkflow")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	def, loadErr := s.definitions.Load(ctx, definitionID)
	if loadErr != nil {
		err = fmt.Errorf("%w: unknown definition %s", ErrDefinitionInvalid, definitionID)
		return "", err
	}
	if !def.Validated() {
		err = fmt.Errorf("%w: definition %s was never validated", ErrDefinitionInvalid, definitionID)
		return "", err
	}

	id := idgen.New()
	span.WithAttributes(map[string]string{"instance.id": id, "definition.id": definitionID})
	inst := instance.New(id, def.ID, def.Start().ID, initiatedBy, documentContext)

	unlock := s.locks.lock(id)
	defer unlock()

	if err = s.instances.Save(ctx, inst, 0); err != nil {
		return "", err
	}
	err = s.withConflictRetry(func() error { return s.drive(ctx, id) })
	return id, err
}

// Advance resumes automatic progression of an instance, e.g. one parked at
// a Condition node. At an Approval node it is a no-op: the instance stays
// suspended until a decision or an escalation.
func (s *Service) Advance(ctx context.Context, instanceID string) error {
	ctx, span := tracing.StartSpan(ctx, "engine.advance")
	span.WithAttributes(map[string]string{"instance.id": instanceID})
	unlock := s.locks.lock(instanceID)
	defer unlock()

	err := s.withConflictRetry(func() error { return s.drive(ctx, instanceID) })
	tracing.EndSpan(span, err)
	return err
}

// Approve records the designated approver's decision at the current
// Approval node and advances the instance.
func (s *Service) Approve(ctx context.Context, instanceID, approverID, comments string) error {
	return s.decide(ctx, instanceID, approverID, comments, instance.DecisionApprove)
}

// Reject records the rejection and routes the instance directly to the
// rejected terminal, unless the node declares a resubmission edge, in which
// case that edge is followed instead.
func (s *Service) Reject(ctx context.Context, instanceID, approverID, comments string) error {
	return s.decide(ctx, instanceID, approverID, comments, instance.DecisionReject)
}

func (s *Service) decide(ctx context.Context, instanceID, approverID, comments string, decision instance.Decision) error {
	ctx, span := tracing.StartSpan(ctx, "engine."+string(decision))
	span.WithAttributes(map[string]string{"instance.id": instanceID, "approver.id": approverID})
	unlock := s.locks.lock(instanceID)
	defer unlock()

	err := s.withConflictRetry(func() error {
		return s.applyDecision(ctx, instanceID, approverID, comments, decision)
	})
	if err == nil {
		err = s.withConflictRetry(func() error { return s.drive(ctx, instanceID) })
	}
	tracing.EndSpan(span, err)
	return err
}

// Escalate forces the timeout transition of an instance suspended at an
// Approval node. It validates eligibility under the instance lock, which
// makes overlapping scheduler sweeps idempotent: the loser of the race
// observes the already-escalated state and fails with ErrInvalidTransition.
func (s *Service) Escalate(ctx context.Context, instanceID string) error {
	ctx, span := tracing.StartSpan(ctx, "engine.escalate")
	span.WithAttributes(map[string]string{"instance.id": instanceID})
	unlock := s.locks.lock(instanceID)
	defer unlock()

	err := s.withConflictRetry(func() error { return s.applyEscalation(ctx, instanceID) })
	if err == nil {
		err = s.withConflictRetry(func() error { return s.drive(ctx, instanceID) })
	}
	tracing.EndSpan(span, err)
	return err
}

// InstanceState returns a read-only snapshot of the instance.
func (s *Service) InstanceState(ctx context.Context, instanceID string) (*instance.Instance, error) {
	inst, err := s.instances.Load(ctx, instanceID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
		}
		return nil, err
	}
	return inst, nil
}

// PendingApprovals lists instances suspended at an Approval node the given
// approver is entitled to decide.
func (s *Service) PendingApprovals(ctx context.Context, approverID string) ([]*instance.Instance, error) {
	candidates, err := s.instances.List(ctx, dao.NewParameter("Status", string(instance.StatusInProgress)))
	if err != nil {
		return nil, err
	}
	var out []*instance.Instance
	for _, inst := range candidates {
		def, err := s.definitions.Load(ctx, inst.DefinitionID)
		if err != nil {
			continue
		}
		node := def.Lookup(inst.CurrentNode)
		if node == nil || node.Kind != model.KindApproval || inst.CurrentDecision(node.ID) != nil {
			continue
		}
		if s.matchApprover(node.Approval, approverID) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// transition internals
// ---------------------------------------------------------------------------

// move describes a single transition: the target node, what triggered it,
// who caused it, extra audit details and an optional extra mutation applied
// atomically with the move.
type move struct {
	to             string
	trigger        instance.Trigger
	actor          string
	details        map[string]interface{}
	apply          func(*instance.Instance)
	statusOverride *instance.Status
}

// drive advances automatic progression from the instance's current node
// until it suspends at an Approval node, reaches a terminal, or parks.
func (s *Service) drive(ctx context.Context, instanceID string) error {
	for steps := 0; steps < s.config.MaxAutoSteps; steps++ {
		inst, def, err := s.loadPair(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return nil
		}
		node := def.Lookup(inst.CurrentNode)
		if node == nil {
			return fmt.Errorf("instance %s is at node %s absent from definition %s", inst.ID, inst.CurrentNode, def.ID)
		}

		switch node.Kind {
		case model.KindEnd:
			return nil

		case model.KindApproval:
			if node.Approval.Approver == "" && node.Approval.Role == "" {
				return fmt.Errorf("%w: approval node %s", ErrUnassignedApprover, node.ID)
			}
			return nil

		case model.KindStart:
			err = s.step(ctx, def, inst, move{
				to:      def.Outgoing(node.ID)[0].To,
				trigger: instance.TriggerAuto,
				actor:   inst.InitiatedBy,
			})

		case model.KindAssignment:
			assignee := node.Assignment.Assignee
			err = s.step(ctx, def, inst, move{
				to:      def.Outgoing(node.ID)[0].To,
				trigger: instance.TriggerAuto,
				actor:   ActorSystem,
				details: map[string]interface{}{"assignee": assignee},
				apply: func(i *instance.Instance) {
					i.Assignments = append(i.Assignments, assignee)
				},
			})

		case model.KindNotification:
			s.dispatchNotification(node, inst)
			err = s.step(ctx, def, inst, move{
				to:      def.Outgoing(node.ID)[0].To,
				trigger: instance.TriggerAuto,
				actor:   ActorSystem,
			})

		case model.KindCondition:
			var edge *model.Edge
			edge, err = s.route(def, node, inst)
			if err != nil {
				return err
			}
			err = s.step(ctx, def, inst, move{
				to:      edge.To,
				trigger: instance.TriggerCondition,
				actor:   ActorSystem,
				details: map[string]interface{}{"guard": edge.Guard},
			})
		}
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("instance %s exceeded %d automatic steps", instanceID, s.config.MaxAutoSteps)
}

// route picks the outgoing edge of a Condition node: edges are evaluated in
// ascending priority, declaration order breaking ties; the first true guard
// wins, the default edge catches the rest.
func (s *Service) route(def *model.Definition, node *model.Node, inst *instance.Instance) (*model.Edge, error) {
	var fallback *model.Edge
	for _, edge := range def.Outgoing(node.ID) {
		if edge.Default {
			if fallback == nil {
				fallback = edge
			}
			continue
		}
		compiled := edge.Compiled()
		if compiled == nil {
			return edge, nil
		}
		matched, warnings := compiled.Eval(inst.Context)
		for _, warning := range warnings {
			log.Printf("instance %s guard %q: %s", inst.ID, edge.Guard, warning)
		}
		if matched {
			return edge, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: condition node %s", ErrNoMatchingRoute, node.ID)
}

// applyDecision validates and commits an approve/reject decision together
// with the departure transition from the Approval node.
func (s *Service) applyDecision(ctx context.Context, instanceID, approverID, comments string, decision instance.Decision) error {
	inst, def, err := s.loadPair(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: instance %s is already %s", ErrInvalidTransition, inst.ID, inst.Status)
	}
	node := def.Lookup(inst.CurrentNode)
	if node == nil || node.Kind != model.KindApproval {
		return fmt.Errorf("%w: instance %s is not at an approval node", ErrInvalidTransition, inst.ID)
	}
	if inst.CurrentDecision(node.ID) != nil {
		return fmt.Errorf("%w: node %s is already decided", ErrInvalidTransition, node.ID)
	}
	cfg := node.Approval
	if cfg.Approver == "" && cfg.Role == "" {
		return fmt.Errorf("%w: approval node %s", ErrUnassignedApprover, node.ID)
	}
	if !s.matchApprover(cfg, approverID) {
		return fmt.Errorf("%w: %s is not the designated approver for node %s", ErrInvalidTransition, approverID, node.ID)
	}

	record := &instance.ApprovalRecord{
		InstanceID: inst.ID,
		NodeID:     node.ID,
		ApproverID: approverID,
		Decision:   decision,
		Comments:   comments,
		DecidedAt:  clock.Now(),
	}
	details := map[string]interface{}{
		"decision": string(decision),
		"comments": comments,
	}

	var to string
	trigger := instance.TriggerManualApprove
	if decision == instance.DecisionApprove {
		to = def.Outgoing(node.ID)[0].To
	} else {
		trigger = instance.TriggerManualReject
		if cfg.ResubmitTo != "" {
			to = cfg.ResubmitTo
			details["resubmitted"] = true
		} else {
			to = def.Terminal(model.OutcomeRejected).ID
		}
	}

	return s.step(ctx, def, inst, move{
		to:      to,
		trigger: trigger,
		actor:   approverID,
		details: details,
		apply: func(i *instance.Instance) {
			i.Approvals = append(i.Approvals, record)
		},
	})
}

// applyEscalation validates timeout eligibility and commits the forced
// transition.
func (s *Service) applyEscalation(ctx context.Context, instanceID string) error {
	inst, def, err := s.loadPair(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: instance %s is already %s", ErrInvalidTransition, inst.ID, inst.Status)
	}
	node := def.Lookup(inst.CurrentNode)
	if node == nil || node.Kind != model.KindApproval {
		return fmt.Errorf("%w: instance %s is not at an approval node", ErrInvalidTransition, inst.ID)
	}
	cfg := node.Approval
	if inst.CurrentDecision(node.ID) != nil {
		return fmt.Errorf("%w: node %s is already decided", ErrInvalidTransition, node.ID)
	}
	if inst.Status == instance.StatusEscalated {
		return fmt.Errorf("%w: instance %s is already escalated", ErrInvalidTransition, inst.ID)
	}
	if cfg.Timeout <= 0 || clock.Now().Before(inst.EnteredCurrentAt.Add(cfg.Timeout)) {
		return fmt.Errorf("%w: approval node %s has not timed out", ErrInvalidTransition, node.ID)
	}

	escalated := instance.StatusEscalated
	m := move{
		to:      node.ID,
		trigger: instance.TriggerTimeoutEscalation,
		actor:   ActorSystem,
		details: map[string]interface{}{"timeout": cfg.Timeout.String()},
	}
	if cfg.EscalateTo != "" {
		m.to = cfg.EscalateTo
		if cfg.MarkEscalated {
			m.statusOverride = &escalated
		}
	} else {
		// No escalation target: the instance stays at the node, marked
		// Escalated, out of the scheduler's sweep set.
		m.statusOverride = &escalated
	}
	return s.step(ctx, def, inst, m)
}

// step applies one transition atomically: clone for rollback, mutate,
// persist with the version read at the start of the critical section, then
// emit exactly one audit event. An emit failure rolls the state back so a
// transition is never durably recorded without its event.
func (s *Service) step(ctx context.Context, def *model.Definition, inst *instance.Instance, m move) error {
	target := def.Lookup(m.to)
	if target == nil {
		return fmt.Errorf("definition %s has no node %s", def.ID, m.to)
	}
	before := inst.Clone()
	from := inst.CurrentNode

	if m.apply != nil {
		m.apply(inst)
	}
	inst.MoveTo(m.to)
	switch {
	case m.statusOverride != nil:
		inst.SetStatus(*m.statusOverride)
	case target.Kind == model.KindEnd:
		if target.End.Outcome == model.OutcomeApproved {
			inst.SetStatus(instance.StatusApproved)
		} else {
			inst.SetStatus(instance.StatusRejected)
		}
	case target.Kind == model.KindApproval:
		inst.SetStatus(instance.StatusInProgress)
	case target.Kind == model.KindCondition:
		inst.SetStatus(instance.StatusPending)
	}

	details := map[string]interface{}{instance.StatusDetail: string(inst.Status)}
	for k, v := range m.details {
		details[k] = v
	}
	event := &audit.Event{
		ID: idgen.New(),
		TransitionEvent: instance.TransitionEvent{
			InstanceID: inst.ID,
			FromNode:   from,
			ToNode:     m.to,
			Trigger:    m.trigger,
			Actor:      m.actor,
			Timestamp:  clock.Now(),
			Details:    details,
		},
	}

	if err := s.instances.Save(ctx, inst, before.Version); err != nil {
		return err
	}
	if err := s.recorder.Emit(ctx, event); err != nil {
		restore := before.Clone()
		if rbErr := s.instances.Save(ctx, restore, inst.Version); rbErr != nil {
			log.Printf("failed to roll back instance %s after audit failure: %v", inst.ID, rbErr)
		}
		return fmt.Errorf("audit emit failed for instance %s: %w", inst.ID, err)
	}
	return nil
}

func (s *Service) dispatchNotification(node *model.Node, inst *instance.Instance) {
	if s.notifier == nil {
		return
	}
	cfg := node.Notification
	message := &notify.Message{
		Channel:   cfg.Channel,
		Recipient: cfg.Recipient,
		Template:  cfg.Template,
		Context:   inst.Context,
	}
	// Fire and forget: dispatch outlives the request and its failure never
	// rolls back a committed transition.
	go func() {
		if err := s.notifier.Notify(context.Background(), message); err != nil {
			log.Printf("notification dispatch failed for instance %s: %v", inst.ID, err)
		}
	}()
}

func (s *Service) matchApprover(cfg *model.ApprovalConfig, actorID string) bool {
	if actorID == "" {
		return false
	}
	if cfg.Approver != "" && cfg.Approver == actorID {
		return true
	}
	if cfg.Role != "" && s.roles != nil && s.roles(cfg.Role, actorID) {
		return true
	}
	return false
}

func (s *Service) loadPair(ctx context.Context, instanceID string) (*instance.Instance, *model.Definition, error) {
	inst, err := s.instances.Load(ctx, instanceID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
		}
		return nil, nil, err
	}
	def, err := s.definitions.Load(ctx, inst.DefinitionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: definition %s for instance %s", ErrDefinitionInvalid, inst.DefinitionID, instanceID)
	}
	return inst, def, nil
}

// withConflictRetry reruns op while it loses optimistic-concurrency races,
// up to the configured bound. Each rerun reloads state, so progression
// resumes from whatever the winning writer committed.
func (s *Service) withConflictRetry(op func() error) error {
	var err error
	for attempt := 0; attempt <= s.config.MaxConflictRetries; attempt++ {
		if err = op(); !errors.Is(err, dao.ErrVersionConflict) {
			return err
		}
	}
	return err
}
