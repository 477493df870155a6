// Package sql provides SQL text utilities for operator-authored queries:
// placeholder scanning and rewriting, and parameter value screening.
package sql

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/apperrors"
)

// Placeholder is the positional marker used in query definitions.
const Placeholder = '?'

const (
	stateNormal = iota
	stateSingleQuote
	stateDoubleQuote
	stateLineComment
	stateBlockComment
)

// byteClass tells scanPlaceholders callers where a byte sits.
type byteClass int

const (
	classCode byteClass = iota
	classQuoted
	classComment
)

func classOf(state int) byteClass {
	switch state {
	case stateNormal:
		return classCode
	case stateLineComment, stateBlockComment:
		return classComment
	default:
		return classQuoted
	}
}

// scanPlaceholders walks the SQL text and calls emit with the index and
// class of every byte that is not a placeholder, and onPlaceholder for every
// '?' found outside string literals, quoted identifiers and comments.
// Opening quote and comment bytes are classed with what they open.
func scanPlaceholders(sqlQuery string, emit func(i int, class byteClass), onPlaceholder func()) {
	state := stateNormal

	for i := 0; i < len(sqlQuery); i++ {
		ch := sqlQuery[i]
		var next byte
		if i+1 < len(sqlQuery) {
			next = sqlQuery[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case ch == Placeholder:
				onPlaceholder()
				continue
			case ch == '\'':
				state = stateSingleQuote
			case ch == '"':
				state = stateDoubleQuote
			case ch == '-' && next == '-':
				state = stateLineComment
			case ch == '/' && next == '*':
				state = stateBlockComment
				emit(i, classComment)
				emit(i+1, classComment)
				i++
				continue
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters the literal.
			if ch == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if ch == '*' && next == '/' {
				state = stateNormal
				emit(i, classComment)
				emit(i+1, classComment)
				i++
				continue
			}
		}
		emit(i, classOf(state))
	}
}

// CountPlaceholders returns the number of positional '?' placeholders in the
// query, ignoring any inside literals, quoted identifiers or comments.
func CountPlaceholders(sqlQuery string) int {
	count := 0
	scanPlaceholders(sqlQuery, func(int, byteClass) {}, func() { count++ })
	return count
}

// RewritePlaceholders replaces each positional placeholder with the marker
// returned by native for its 1-based position.
//
// Example:
//
//	RewritePlaceholders("SELECT * FROM t WHERE a = ? AND b = ?", func(n int) string {
//	    return fmt.Sprintf("$%d", n)
//	})
//	// "SELECT * FROM t WHERE a = $1 AND b = $2"
func RewritePlaceholders(sqlQuery string, native func(n int) string) string {
	var b strings.Builder
	b.Grow(len(sqlQuery) + 8)
	n := 0
	scanPlaceholders(sqlQuery,
		func(i int, _ byteClass) { b.WriteByte(sqlQuery[i]) },
		func() {
			n++
			b.WriteString(native(n))
		},
	)
	return b.String()
}

// CheckPlaceholderCount verifies the query has exactly one placeholder per
// declared parameter.
func CheckPlaceholderCount(queryName, sqlQuery string, paramCount int) error {
	if got := CountPlaceholders(sqlQuery); got != paramCount {
		return fmt.Errorf("%w: query '%s': SQL has %d placeholders but %d parameters defined; each parameter needs exactly one placeholder (?)",
			apperrors.ErrPlaceholderMismatch, queryName, got, paramCount)
	}
	return nil
}
