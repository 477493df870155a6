package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatement_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no terminator", "SELECT 1", "SELECT 1"},
		{"trailing semicolon", "SELECT 1;", "SELECT 1"},
		{"semicolon and whitespace", "  SELECT 1 ;  \n", "SELECT 1"},
		{"repeated terminators", "SELECT 1;;", "SELECT 1"},
		{"semicolon in literal", "SELECT * FROM t WHERE name = 'a;b'", "SELECT * FROM t WHERE name = 'a;b'"},
		{"escaped quote", "SELECT * FROM t WHERE name = 'O''Brien;'", "SELECT * FROM t WHERE name = 'O''Brien;'"},
		{"semicolon in quoted identifier", `SELECT * FROM "t;x"`, `SELECT * FROM "t;x"`},
		{"array literal", "SELECT ARRAY[1, 2];", "SELECT ARRAY[1, 2]"},
		{"comment after terminator", "SELECT 1; -- done", "SELECT 1"},
		{"block comment after terminator", "SELECT 1; /* ; */", "SELECT 1"},
		{"semicolon in comment", "SELECT 1 -- a; b\nFROM t", "SELECT 1 -- a; b\nFROM t"},
		{"placeholders kept", "SELECT * FROM t WHERE a = ? AND b = ?;", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeStatement(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeStatement_MultipleStatements(t *testing.T) {
	for _, input := range []string{
		"SELECT 1; SELECT 2",
		"SELECT 1;DROP TABLE accounts",
		"SELECT * FROM t WHERE a = ?; DELETE FROM t WHERE b = ?",
		"SELECT 1; 'x'",
		"SELECT 1; ?",
	} {
		_, err := NormalizeStatement(input)
		assert.ErrorIs(t, err, ErrMultipleStatements, input)
	}
}
