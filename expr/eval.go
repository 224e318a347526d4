package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/viant/toolbox"
)

// Expr is a compiled guard expression. It is immutable and safe for
// concurrent evaluation.
type Expr struct {
	source string
	root   node
}

// Source returns the original expression text.
func (e *Expr) Source() string {
	return e.source
}

// Eval evaluates the expression against a document context. A reference to
// a field absent from the context evaluates to false and is reported in the
// returned warnings, never as an error.
func (e *Expr) Eval(fields map[string]interface{}) (bool, []string) {
	state := &evalState{fields: fields}
	return e.root.eval(state), state.warnings
}

type evalState struct {
	fields   map[string]interface{}
	warnings []string
}

func (s *evalState) warnf(format string, args ...interface{}) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// lookup resolves a dotted field path against the context, descending into
// nested maps.
func (s *evalState) lookup(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	current, ok := s.fields[parts[0]]
	if !ok {
		s.warnf("field %s is not present in document context", path)
		return nil, false
	}
	for _, part := range parts[1:] {
		container, ok := current.(map[string]interface{})
		if !ok {
			s.warnf("field %s is not present in document context", path)
			return nil, false
		}
		if current, ok = container[part]; !ok {
			s.warnf("field %s is not present in document context", path)
			return nil, false
		}
	}
	return current, true
}

type node interface {
	eval(state *evalState) bool
}

type logicalOp int

const (
	opAnd logicalOp = iota
	opOr
)

type logical struct {
	op          logicalOp
	left, right node
}

func (n *logical) eval(state *evalState) bool {
	if n.op == opAnd {
		return n.left.eval(state) && n.right.eval(state)
	}
	return n.left.eval(state) || n.right.eval(state)
}

// operand is either a field reference or a literal value.
type operand struct {
	isField bool
	field   string
	value   interface{}
}

func (o operand) resolve(state *evalState) (interface{}, bool) {
	if o.isField {
		return state.lookup(o.field)
	}
	return o.value, true
}

type comparison struct {
	op          string
	left, right operand
}

func (n *comparison) eval(state *evalState) bool {
	left, ok := n.left.resolve(state)
	if !ok {
		return false
	}
	right, ok := n.right.resolve(state)
	if !ok {
		return false
	}
	switch n.op {
	case "==":
		return equalValues(left, right)
	case "!=":
		return !equalValues(left, right)
	}
	ordering, ok := compareValues(left, right)
	if !ok {
		state.warnf("cannot compare %v with %v", left, right)
		return false
	}
	switch n.op {
	case "<":
		return ordering < 0
	case "<=":
		return ordering <= 0
	case ">":
		return ordering > 0
	case ">=":
		return ordering >= 0
	}
	return false
}

type membership struct {
	field  string
	values []interface{}
}

func (n *membership) eval(state *evalState) bool {
	actual, ok := state.lookup(n.field)
	if !ok {
		return false
	}
	for _, candidate := range n.values {
		if equalValues(actual, candidate) {
			return true
		}
	}
	return false
}

func equalValues(left, right interface{}) bool {
	if lv, rv, ok := asFloats(left, right); ok {
		return lv == rv
	}
	if lt, rt, ok := asTimes(left, right); ok {
		return lt.Equal(rt)
	}
	return toolbox.AsString(left) == toolbox.AsString(right)
}

// compareValues returns -1, 0 or 1; the second result is false when the two
// values have no meaningful ordering.
func compareValues(left, right interface{}) (int, bool) {
	if lv, rv, ok := asFloats(left, right); ok {
		switch {
		case lv < rv:
			return -1, true
		case lv > rv:
			return 1, true
		}
		return 0, true
	}
	if lt, rt, ok := asTimes(left, right); ok {
		switch {
		case lt.Before(rt):
			return -1, true
		case lt.After(rt):
			return 1, true
		}
		return 0, true
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return strings.Compare(ls, rs), true
	}
	return 0, false
}

// asFloats coerces both values to float64 when at least one side is numeric
// and the other is convertible.
func asFloats(left, right interface{}) (float64, float64, bool) {
	if !isNumber(left) && !isNumber(right) {
		return 0, 0, false
	}
	lv, lok := toFloat(left)
	rv, rok := toFloat(right)
	return lv, rv, lok && rok
}

func isNumber(value interface{}) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toFloat(value interface{}) (float64, bool) {
	if isNumber(value) {
		return toolbox.AsFloat(value), true
	}
	if text, ok := value.(string); ok {
		if parsed, err := strconv.ParseFloat(text, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func asTimes(left, right interface{}) (time.Time, time.Time, bool) {
	lt, lok := toTime(left)
	rt, rok := toTime(right)
	return lt, rt, lok && rok
}

func toTime(value interface{}) (time.Time, bool) {
	switch actual := value.(type) {
	case time.Time:
		return actual, true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, actual); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
