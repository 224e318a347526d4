package expr

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	whitespaceCode = iota
	identifierCode
	numberCode
	stringCode
	operatorCode
	openParenCode
	closeParenCode
	commaCode
)

// Token definitions
var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	identifierToken = parsly.NewToken(identifierCode, "Identifier", &identifierMatcher{})
	numberToken     = parsly.NewToken(numberCode, "Number", &numberMatcher{})
	stringToken     = parsly.NewToken(stringCode, "String", &stringMatcher{})
	operatorToken   = parsly.NewToken(operatorCode, "Operator", &operatorMatcher{})
	openParenToken  = parsly.NewToken(openParenCode, "(", matcher.NewByte('('))
	closeParenToken = parsly.NewToken(closeParenCode, ")", matcher.NewByte(')'))
	commaToken      = parsly.NewToken(commaCode, ",", matcher.NewByte(','))
)

// identifierMatcher matches field references: a letter or underscore followed
// by letters, digits, underscores and dots for nested paths.
type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}
	if !isLetter(input[pos]) && input[pos] != '_' {
		return 0
	}
	matched := 1
	for i := pos + 1; i < size; i++ {
		c := input[i]
		if isLetter(c) || isDigit(c) || c == '_' || c == '.' {
			matched++
			continue
		}
		break
	}
	return matched
}

// numberMatcher matches integer and decimal literals with an optional
// leading minus.
type numberMatcher struct{}

func (m *numberMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}
	matched := 0
	i := pos
	if input[i] == '-' {
		if i+1 >= size || !isDigit(input[i+1]) {
			return 0
		}
		matched++
		i++
	}
	if !isDigit(input[i]) {
		return 0
	}
	dot := false
	for ; i < size; i++ {
		c := input[i]
		if isDigit(c) {
			matched++
			continue
		}
		if c == '.' && !dot && i+1 < size && isDigit(input[i+1]) {
			dot = true
			matched++
			continue
		}
		break
	}
	return matched
}

// stringMatcher matches single or double quoted literals, quotes included.
type stringMatcher struct{}

func (m *stringMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}
	quote := input[pos]
	if quote != '\'' && quote != '"' {
		return 0
	}
	for i := pos + 1; i < size; i++ {
		if input[i] == quote {
			return i - pos + 1
		}
	}
	return 0
}

// operatorMatcher matches comparison and logical operators; two-character
// operators are tried first so that ">=" never matches as ">".
type operatorMatcher struct{}

func (m *operatorMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}
	if pos+1 < size {
		switch string(input[pos : pos+2]) {
		case "==", "!=", "<=", ">=", "&&", "||":
			return 2
		}
	}
	switch input[pos] {
	case '<', '>':
		return 1
	}
	return 0
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
