package model

import (
	"fmt"

	"github.com/docflow/flow/expr"
)

// Validate performs the one-time structural validation of the definition.
// The returned slice is empty when the graph is sound; otherwise it contains
// human-readable error descriptions. A definition becomes usable by the
// engine only after Validate returns no issues. No expression is executed
// here; guards are compiled but never evaluated.
func (d *Definition) Validate() []error {
	var issues []error

	if len(d.Nodes) == 0 {
		return append(issues, fmt.Errorf("definition %s has no nodes", d.ID))
	}
	d.index()

	issues = append(issues, d.checkNodes()...)
	issues = append(issues, d.checkEdges()...)
	if len(issues) == 0 {
		issues = append(issues, d.checkTopology()...)
	}

	d.validated = len(issues) == 0
	return issues
}

func (d *Definition) checkNodes() []error {
	var issues []error
	seen := map[string]bool{}
	starts, ends := 0, 0
	approvals := 0

	for _, n := range d.Nodes {
		if n.ID == "" {
			issues = append(issues, fmt.Errorf("node with empty id"))
			continue
		}
		if seen[n.ID] {
			issues = append(issues, fmt.Errorf("duplicate node id %s", n.ID))
		}
		seen[n.ID] = true

		if !n.Kind.Known() {
			issues = append(issues, fmt.Errorf("node %s has unknown kind %q", n.ID, n.Kind))
			continue
		}
		switch n.Kind {
		case KindStart:
			starts++
		case KindEnd:
			ends++
			if n.End == nil || (n.End.Outcome != OutcomeApproved && n.End.Outcome != OutcomeRejected) {
				issues = append(issues, fmt.Errorf("end node %s requires an approved or rejected outcome", n.ID))
			}
		case KindApproval:
			approvals++
			if n.Approval == nil {
				issues = append(issues, fmt.Errorf("approval node %s has no configuration", n.ID))
				continue
			}
			if target := n.Approval.EscalateTo; target != "" && d.nodeByID[target] == nil {
				issues = append(issues, fmt.Errorf("approval node %s escalates to unknown node %s", n.ID, target))
			}
			if target := n.Approval.ResubmitTo; target != "" && d.nodeByID[target] == nil {
				issues = append(issues, fmt.Errorf("approval node %s resubmits to unknown node %s", n.ID, target))
			}
			if n.Approval.Timeout < 0 {
				issues = append(issues, fmt.Errorf("approval node %s has negative timeout", n.ID))
			}
		case KindAssignment:
			if n.Assignment == nil || n.Assignment.Assignee == "" {
				issues = append(issues, fmt.Errorf("assignment node %s requires an assignee", n.ID))
			}
		case KindNotification:
			if n.Notification == nil || n.Notification.Recipient == "" {
				issues = append(issues, fmt.Errorf("notification node %s requires a recipient", n.ID))
			}
		}
	}

	if starts != 1 {
		issues = append(issues, fmt.Errorf("definition %s requires exactly one start node, found %d", d.ID, starts))
	}
	if ends == 0 {
		issues = append(issues, fmt.Errorf("definition %s requires at least one end node", d.ID))
	}
	if approvals > 0 && d.Terminal(OutcomeRejected) == nil {
		issues = append(issues, fmt.Errorf("definition %s has approval nodes but no rejected terminal", d.ID))
	}
	return issues
}

func (d *Definition) checkEdges() []error {
	var issues []error
	for _, e := range d.Edges {
		if d.nodeByID[e.From] == nil {
			issues = append(issues, fmt.Errorf("edge %s->%s references undeclared node %s", e.From, e.To, e.From))
		}
		if d.nodeByID[e.To] == nil {
			issues = append(issues, fmt.Errorf("edge %s->%s references undeclared node %s", e.From, e.To, e.To))
		}
		if e.Guard != "" {
			compiled, err := expr.Parse(e.Guard)
			if err != nil {
				issues = append(issues, fmt.Errorf("edge %s->%s has malformed guard: %v", e.From, e.To, err))
				continue
			}
			e.guard = compiled
		}
	}

	// Per-kind outgoing cardinality.
	for _, n := range d.Nodes {
		out := len(d.outgoing[n.ID])
		switch n.Kind {
		case KindStart, KindAssignment, KindNotification, KindApproval:
			if out != 1 {
				issues = append(issues, fmt.Errorf("%s node %s requires exactly one outgoing edge, found %d", n.Kind, n.ID, out))
			}
		case KindCondition:
			if out == 0 {
				issues = append(issues, fmt.Errorf("condition node %s has no outgoing edges", n.ID))
			}
		case KindEnd:
			if out != 0 {
				issues = append(issues, fmt.Errorf("end node %s must not have outgoing edges", n.ID))
			}
		}
	}
	return issues
}

// checkTopology detects cycles not flagged as retry loops and nodes
// unreachable from Start. Uses white/grey/black DFS colouring.
func (d *Definition) checkTopology() []error {
	var issues []error

	adjacent := map[string][]string{}
	for _, e := range d.Edges {
		if e.RetryLoop {
			continue
		}
		adjacent[e.From] = append(adjacent[e.From], e.To)
	}
	// Escalation and resubmission targets are transitions too; resubmission
	// is a retry loop by definition and stays out of the cycle check.
	for _, n := range d.Nodes {
		if n.Kind == KindApproval && n.Approval != nil && n.Approval.EscalateTo != "" {
			adjacent[n.ID] = append(adjacent[n.ID], n.Approval.EscalateTo)
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := map[string]int{}

	var dfs func(string) bool
	dfs = func(n string) bool {
		switch colour[n] {
		case grey:
			return true // back-edge
		case black:
			return false
		}
		colour[n] = grey
		for _, next := range adjacent[n] {
			if dfs(next) {
				return true
			}
		}
		colour[n] = black
		return false
	}

	start := d.Start()
	if dfs(start.ID) {
		issues = append(issues, fmt.Errorf("definition %s contains a cycle not flagged as retry loop", d.ID))
	}

	// Reachability includes retry loops and rejection routing.
	reach := map[string]bool{}
	var visit func(string)
	visit = func(n string) {
		if reach[n] {
			return
		}
		reach[n] = true
		for _, e := range d.outgoing[n] {
			visit(e.To)
		}
		if node := d.nodeByID[n]; node != nil && node.Kind == KindApproval && node.Approval != nil {
			if node.Approval.EscalateTo != "" {
				visit(node.Approval.EscalateTo)
			}
			if node.Approval.ResubmitTo != "" {
				visit(node.Approval.ResubmitTo)
			}
			if rejected := d.Terminal(OutcomeRejected); rejected != nil {
				visit(rejected.ID)
			}
		}
	}
	visit(start.ID)
	for _, n := range d.Nodes {
		if !reach[n.ID] {
			issues = append(issues, fmt.Errorf("node %s is unreachable from start", n.ID))
		}
	}
	return issues
}
