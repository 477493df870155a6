package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Matches(t *testing.T) {
	d := Dialect{}
	for _, s := range []string{"sqlite:/data/", "file:/data/app.db?mode=ro", ":memory:", "/data/app.db", "reports.sqlite"} {
		assert.True(t, d.Matches(s), s)
	}
	for _, s := range []string{"Server=db", "postgres://db/app", "http://trino:8080"} {
		assert.False(t, d.Matches(s), s)
	}
}

func TestDialect_WithDatabase(t *testing.T) {
	d := Dialect{}
	tests := []struct {
		in, want string
	}{
		{"sqlite:/data/", "/data/Sales.db"},
		{"/data/", "/data/Sales.db"},
		{"sqlite:/data/app.db", "/data/app.db"},
		{"file:/data/app.db?mode=ro", "file:/data/app.db?mode=ro"},
	}
	for _, tt := range tests {
		got, err := d.WithDatabase(tt.in, "Sales")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
