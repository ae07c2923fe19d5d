// Package sql validates SQL fragments taken from configuration before they are
// rendered into generated DDL.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyExpression indicates the fragment is blank.
	ErrEmptyExpression = errors.New("SQL expression is empty")
	// ErrMultipleStatements indicates the fragment contains a statement separator.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only a single expression is permitted")
	// ErrComment indicates the fragment contains a comment that could hide trailing SQL.
	ErrComment = errors.New("SQL comments are not allowed in an expression")
	// ErrUnbalanced indicates unterminated quotes or unbalanced parentheses.
	ErrUnbalanced = errors.New("SQL expression has unbalanced quotes or parentheses")
)

// ValidateExpression checks that expr is a single SQL expression, such as the
// identity uid function rendered into row-level security policies.
//
// It scans the fragment once, ignoring anything inside string literals and
// quoted identifiers, and rejects statement separators, comments and
// unbalanced parentheses or quotes.
func ValidateExpression(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ErrEmptyExpression
	}

	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	depth := 0
	prevChar := rune(0)

	for _, char := range expr {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return ErrMultipleStatements
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return ErrUnbalanced
				}
			case '-':
				if prevChar == '-' {
					return ErrComment
				}
			case '*':
				if prevChar == '/' {
					return ErrComment
				}
			}
		case stateSingleQuote:
			// SQL standard doubled quote ('') exits and immediately re-enters
			if char == '\'' {
				state = stateNormal
				char = 0
			}
		case stateDoubleQuote:
			if char == '"' {
				state = stateNormal
				char = 0
			}
		}
		prevChar = char
	}

	if state != stateNormal || depth != 0 {
		return ErrUnbalanced
	}
	return nil
}
