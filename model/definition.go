package model

import (
	"sort"

	"github.com/docflow/flow/expr"
)

// Edge is a directed, optionally guarded transition between two nodes.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Guard holds the raw condition expression; it is compiled once during
	// Validate. An edge without a guard always matches.
	Guard string `json:"guard,omitempty" yaml:"guard,omitempty"`

	// Priority orders outgoing edges of a Condition node; lower values are
	// evaluated first. Ties are broken by declaration order.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Default marks the edge taken when no guarded edge matches.
	Default bool `json:"default,omitempty" yaml:"default,omitempty"`

	// RetryLoop exempts the edge from the acyclicity check, allowing
	// resubmission loops back to earlier nodes.
	RetryLoop bool `json:"retryLoop,omitempty" yaml:"retryLoop,omitempty"`

	guard *expr.Expr
	order int
}

// Compiled returns the guard expression compiled during validation, or nil
// for an unguarded edge.
func (e *Edge) Compiled() *expr.Expr {
	return e.guard
}

// Definition is an immutable workflow template: a validated graph of nodes
// and edges a document instance travels through. Definitions are never
// mutated after Validate succeeds; a new version replaces the old entry in
// the store.
type Definition struct {
	ID      string  `json:"id" yaml:"id"`
	Name    string  `json:"name" yaml:"name"`
	Type    string  `json:"type,omitempty" yaml:"type,omitempty"`
	Version string  `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes   []*Node `json:"nodes" yaml:"nodes"`
	Edges   []*Edge `json:"edges" yaml:"edges"`

	validated bool
	nodeByID  map[string]*Node
	outgoing  map[string][]*Edge
}

// Validated reports whether the definition passed Validate.
func (d *Definition) Validated() bool {
	return d.validated
}

// Lookup returns the node with the given id, or nil.
func (d *Definition) Lookup(nodeID string) *Node {
	return d.nodeByID[nodeID]
}

// Outgoing returns the edges leaving nodeID ordered by priority, then by
// declaration order. The slice is shared; callers must not mutate it.
func (d *Definition) Outgoing(nodeID string) []*Edge {
	return d.outgoing[nodeID]
}

// Start returns the definition's single Start node.
func (d *Definition) Start() *Node {
	for _, n := range d.Nodes {
		if n.Kind == KindStart {
			return n
		}
	}
	return nil
}

// Terminal returns the first End node configured with the given outcome.
func (d *Definition) Terminal(outcome Outcome) *Node {
	for _, n := range d.Nodes {
		if n.Kind == KindEnd && n.End != nil && n.End.Outcome == outcome {
			return n
		}
	}
	return nil
}

// index builds the node and edge lookup structures. Called by Validate.
func (d *Definition) index() {
	d.nodeByID = make(map[string]*Node, len(d.Nodes))
	for _, n := range d.Nodes {
		d.nodeByID[n.ID] = n
	}
	d.outgoing = make(map[string][]*Edge)
	for i, e := range d.Edges {
		e.order = i
		d.outgoing[e.From] = append(d.outgoing[e.From], e)
	}
	for _, edges := range d.outgoing {
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].Priority != edges[j].Priority {
				return edges[i].Priority < edges[j].Priority
			}
			return edges[i].order < edges[j].order
		})
	}
}
