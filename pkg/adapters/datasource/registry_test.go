package datasource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/sqlite"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/trino"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/apperrors"
)

func TestRegisteredDialects(t *testing.T) {
	infos := datasource.RegisteredDialects()
	types := make([]string, len(infos))
	for i, info := range infos {
		types[i] = info.Type
	}
	assert.Equal(t, []string{"mssql", "postgres", "sqlite", "trino"}, types)
	assert.True(t, datasource.IsRegistered("trino"))
	assert.False(t, datasource.IsRegistered("oracle"))
}

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		connString string
		want       string
	}{
		{"Server=db,1433;User Id=sa;Password=secret", "mssql"},
		{"sqlserver://sa:secret@db:1433", "mssql"},
		{"postgres://u:p@db:5432", "postgres"},
		{"host=db user=u", "postgres"},
		{"sqlite:/var/lib/sqlbot/", "sqlite"},
		{"/data/reports.db", "sqlite"},
		{"https://analyst@trino:443", "trino"},
		{"db01;uid=sa", "mssql"}, // no match falls back
	}
	for _, tt := range tests {
		t.Run(tt.connString, func(t *testing.T) {
			d, err := datasource.DetectDialect(tt.connString, "mssql")
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestDetectDialect_UnknownFallback(t *testing.T) {
	_, err := datasource.DetectDialect("db01;uid=sa", "oracle")
	assert.ErrorIs(t, err, apperrors.ErrUnknownDialect)

	_, err = datasource.GetDialect("oracle")
	assert.ErrorIs(t, err, apperrors.ErrUnknownDialect)
}
