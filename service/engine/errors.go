package engine

import (
	"errors"

	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/definition"
)

var (
	// ErrDefinitionInvalid is returned when starting a workflow against a
	// definition that was never validated or does not exist.
	ErrDefinitionInvalid = definition.ErrDefinitionInvalid

	// ErrUnknownInstance is returned for operations on an absent instance.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrInvalidTransition is returned when the requested action does not
	// apply to the instance's current node: wrong node kind, wrong actor,
	// an already-decided approval, or a terminal instance.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNoMatchingRoute is returned when a Condition node has no matching
	// guard and no default edge; the instance stays parked at the node.
	ErrNoMatchingRoute = errors.New("no matching route")

	// ErrUnassignedApprover is returned when an Approval node has no
	// resolvable approver; the instance stays parked at the node.
	ErrUnassignedApprover = errors.New("unassigned approver")

	// ErrVersionConflict surfaces after the bounded reload-recompute-resave
	// cycle failed to outrun a concurrent writer.
	ErrVersionConflict = dao.ErrVersionConflict
)
