// Package expr implements the guard-expression language used on workflow
// edges: numeric and string comparison, set membership via in(field, …),
// and nested and/or grouping. Expressions are parsed once at definition
// load time; evaluation is a pure function over the document context that
// fails closed on missing fields.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/parsly"
)

// Parse compiles a guard expression. A malformed expression is a load-time
// failure; Parse is never called during instance execution.
func Parse(text string) (*Expr, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	cursor := parsly.NewCursor("", []byte(text), 0)
	root, err := parseOr(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", text, err)
	}
	cursor.MatchOne(whitespaceToken)
	if cursor.Pos < cursor.InputSize {
		return nil, fmt.Errorf("invalid expression %q: unexpected input at offset %d", text, cursor.Pos)
	}
	return &Expr{source: text, root: root}, nil
}

func parseOr(cursor *parsly.Cursor) (node, error) {
	left, err := parseAnd(cursor)
	if err != nil {
		return nil, err
	}
	for matchOperator(cursor, "||") {
		right, err := parseAnd(cursor)
		if err != nil {
			return nil, err
		}
		left = &logical{op: opOr, left: left, right: right}
	}
	return left, nil
}

func parseAnd(cursor *parsly.Cursor) (node, error) {
	left, err := parseTerm(cursor)
	if err != nil {
		return nil, err
	}
	for matchOperator(cursor, "&&") {
		right, err := parseTerm(cursor)
		if err != nil {
			return nil, err
		}
		left = &logical{op: opAnd, left: left, right: right}
	}
	return left, nil
}

// parseTerm handles a parenthesised group, a membership test or a binary
// comparison.
func parseTerm(cursor *parsly.Cursor) (node, error) {
	pos := cursor.Pos
	matched := cursor.MatchAfterOptional(whitespaceToken, openParenToken)
	if matched.Code == openParenCode {
		inner, err := parseOr(cursor)
		if err != nil {
			return nil, err
		}
		matched = cursor.MatchAfterOptional(whitespaceToken, closeParenToken)
		if matched.Code != closeParenCode {
			return nil, cursor.NewError(closeParenToken)
		}
		return inner, nil
	}
	cursor.Pos = pos
	return parseComparison(cursor)
}

func parseComparison(cursor *parsly.Cursor) (node, error) {
	left, err := parseOperand(cursor)
	if err != nil {
		return nil, err
	}
	if left.isField && left.field == "in" {
		return parseMembership(cursor)
	}

	matched := cursor.MatchAfterOptional(whitespaceToken, operatorToken)
	if matched.Code != operatorCode {
		return nil, cursor.NewError(operatorToken)
	}
	op := matched.Text(cursor)
	switch op {
	case "&&", "||":
		return nil, fmt.Errorf("expected comparison operator, got %q", op)
	}
	right, err := parseOperand(cursor)
	if err != nil {
		return nil, err
	}
	return &comparison{op: op, left: left, right: right}, nil
}

// parseMembership parses the remainder of in(field, value, …); the leading
// "in" identifier has already been consumed.
func parseMembership(cursor *parsly.Cursor) (node, error) {
	matched := cursor.MatchAfterOptional(whitespaceToken, openParenToken)
	if matched.Code != openParenCode {
		return nil, cursor.NewError(openParenToken)
	}
	matched = cursor.MatchAfterOptional(whitespaceToken, identifierToken)
	if matched.Code != identifierCode {
		return nil, cursor.NewError(identifierToken)
	}
	ret := &membership{field: matched.Text(cursor)}

	for {
		matched = cursor.MatchAfterOptional(whitespaceToken, commaToken, closeParenToken)
		switch matched.Code {
		case closeParenCode:
			if len(ret.values) == 0 {
				return nil, fmt.Errorf("in(%s) requires at least one value", ret.field)
			}
			return ret, nil
		case commaCode:
			value, err := parseOperand(cursor)
			if err != nil {
				return nil, err
			}
			if value.isField {
				return nil, fmt.Errorf("in(%s, …) accepts literal values only", ret.field)
			}
			ret.values = append(ret.values, value.value)
		default:
			return nil, cursor.NewError(commaToken, closeParenToken)
		}
	}
}

func parseOperand(cursor *parsly.Cursor) (operand, error) {
	matched := cursor.MatchAfterOptional(whitespaceToken, identifierToken, numberToken, stringToken)
	switch matched.Code {
	case identifierCode:
		return operand{isField: true, field: matched.Text(cursor)}, nil
	case numberCode:
		value, err := strconv.ParseFloat(matched.Text(cursor), 64)
		if err != nil {
			return operand{}, err
		}
		return operand{value: value}, nil
	case stringCode:
		text := matched.Text(cursor)
		return operand{value: text[1 : len(text)-1]}, nil
	}
	return operand{}, cursor.NewError(identifierToken, numberToken, stringToken)
}

// matchOperator consumes the given logical operator when it is next in the
// input; on any other token the cursor is restored.
func matchOperator(cursor *parsly.Cursor, op string) bool {
	pos := cursor.Pos
	matched := cursor.MatchAfterOptional(whitespaceToken, operatorToken)
	if matched.Code == operatorCode && matched.Text(cursor) == op {
		return true
	}
	cursor.Pos = pos
	return false
}
