package sql

import (
	"errors"
	"strings"
	"unicode"
)

// ErrMultipleStatements indicates a definition holds more than one statement.
var ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

// NormalizeStatement trims the query and drops a trailing statement
// terminator. A ';' followed by anything other than whitespace or comments
// is a second statement and is rejected. Semicolons inside literals,
// quoted identifiers and comments are ignored.
func NormalizeStatement(sqlQuery string) (string, error) {
	sqlQuery = strings.TrimSpace(sqlQuery)

	terminator := -1
	trailing := false
	scanPlaceholders(sqlQuery,
		func(i int, class byteClass) {
			if trailing || class == classComment {
				return
			}
			ch := sqlQuery[i]
			switch {
			case class == classQuoted:
				trailing = terminator >= 0
			case terminator < 0 && ch == ';':
				terminator = i
			case terminator >= 0 && ch != ';' && !unicode.IsSpace(rune(ch)):
				trailing = true
			}
		},
		func() {
			if terminator >= 0 {
				trailing = true
			}
		},
	)

	if trailing {
		return "", ErrMultipleStatements
	}
	if terminator >= 0 {
		sqlQuery = strings.TrimSpace(sqlQuery[:terminator])
	}
	return sqlQuery, nil
}
