package definitions

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

const accountLookupYAML = `
name: Account Lookup
description: |
  Look up an account by name.
  Usage: account lookup <name>
trigger: account lookup
database: Reporting
credentials_env_key: REPORTING_DB
sql: |
  SELECT id, name, status FROM accounts WHERE name = ?
parameters:
  - name: account_name
    type: string
    required: true
cache_ttl_seconds: 300
mcp:
  name: account_lookup
  group: account_tools
`

const accountLookupAllYAML = `
name: Account Lookup All
description: List every account.
trigger: account lookup all
database: Reporting
credentials_env_key: REPORTING_DB
sql: SELECT id, name FROM accounts
`

const beaconYAML = `
name: Beacon Impressions
description: Impressions for a beacon in a date range.
trigger: beacon impressions
database: Metrics
credentials_env_key: METRICS_DB
sql: SELECT day, impressions FROM beacon_daily WHERE beacon_id = ? AND day BETWEEN ? AND ?
parameters:
  - {name: beacon_id, type: int, required: true}
  - {name: start_date, type: date, required: true}
  - {name: end_date, type: date, required: false}
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLoader(t *testing.T, files map[string]string) *Loader {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, dir, name, content)
	}
	return NewLoader(dir, zaptest.NewLogger(t))
}

func TestLoader_Load(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"account_lookup.yaml":     accountLookupYAML,
		"account_lookup_all.yml":  accountLookupAllYAML,
		"beacon_impressions.yaml": beaconYAML,
		"notes.txt":               "ignored",
	})
	require.NoError(t, loader.Load())

	assert.Equal(t, 3, loader.Count())

	def, ok := loader.GetByID("account_lookup")
	require.True(t, ok)
	assert.Equal(t, "Account Lookup", def.Name)
	assert.Equal(t, "account_lookup", def.ID)
	assert.True(t, def.Enabled)
	assert.Equal(t, "SELECT id, name, status FROM accounts WHERE name = ?", def.SQL)
	assert.Equal(t, 300, def.CacheTTLSeconds)
	require.NotNil(t, def.MCP)
	assert.Equal(t, "account_tools", def.MCP.Group)

	beacon, ok := loader.GetByID("beacon_impressions")
	require.True(t, ok)
	assert.Equal(t, []string{"beacon_id", "start_date", "end_date"}, beacon.ParameterNames())
	assert.Nil(t, beacon.MCP)

	_, ok = loader.GetByID("missing")
	assert.False(t, ok)

	all := loader.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "account_lookup", all[0].ID)
	assert.Equal(t, "account_lookup_all", all[1].ID)
	assert.Equal(t, "beacon_impressions", all[2].ID)
}

func TestLoader_SkipsDisabledAndEmpty(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"account_lookup.yaml": accountLookupYAML,
		"disabled.yaml":       accountLookupAllYAML + "enabled: false\n",
		"empty.yaml":          "",
		"comments_only.yml":   "# nothing here yet\n",
	})
	require.NoError(t, loader.Load())

	assert.Equal(t, 1, loader.Count())
	_, ok := loader.GetByID("disabled")
	assert.False(t, ok)
}

func TestLoader_MissingDirectoryYieldsEmptyIndex(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"), zaptest.NewLogger(t))
	require.NoError(t, loader.Load())
	assert.Equal(t, 0, loader.Count())
	assert.Empty(t, loader.GetAll())
}

func TestParse_ParameterRequiredByDefault(t *testing.T) {
	def, err := Parse("lookup.yaml", []byte(`
name: Lookup
description: Look up by id.
trigger: lookup
database: Sales
credentials_env_key: SALES_DB
sql: SELECT * FROM t WHERE id = ? AND region = ?
parameters:
  - {name: id, type: string}
  - name: region
    type: string
    required: false
`))
	require.NoError(t, err)
	require.Len(t, def.Parameters, 2)
	assert.True(t, def.Parameters[0].Required, "omitted required defaults to true")
	assert.False(t, def.Parameters[1].Required)
	assert.Equal(t, []string{"id"}, def.RequiredParameters())
}

func TestParse_ArrayPlaceholders(t *testing.T) {
	def, err := Parse("ids.yaml", []byte(`
name: Accounts By Ids
description: Accounts matching either id.
trigger: accounts by ids
database: Sales
credentials_env_key: SALES_DB
sql: SELECT * FROM accounts WHERE id = ANY(ARRAY[?, ?])
parameters:
  - {name: first, type: int}
  - {name: second, type: int}
`))
	require.NoError(t, err)
	assert.Len(t, def.Parameters, 2)
}

func TestLoader_FailFast(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown top-level field",
			content: accountLookupAllYAML + "cache_ttl: 60\n",
			wantErr: "cache_ttl",
		},
		{
			name: "unknown parameter field",
			content: accountLookupAllYAML + `parameters:
  - name: x
    type: string
    required: true
    default: foo
`,
			wantErr: "default",
		},
		{
			name:    "missing required field",
			content: "name: x\ndescription: y\ntrigger: z\ndatabase: db\nsql: SELECT 1\n",
			wantErr: "credentials_env_key",
		},
		{
			name:    "bad database name",
			content: "name: x\ndescription: y\ntrigger: z\ndatabase: db;drop\ncredentials_env_key: K\nsql: SELECT 1\n",
			wantErr: "database",
		},
		{
			name:    "malformed yaml",
			content: "name: [unterminated\n",
			wantErr: "failed to parse",
		},
		{
			name: "placeholder mismatch",
			content: `name: x
description: y
trigger: z
database: db
credentials_env_key: K
sql: SELECT * FROM t WHERE a = ? AND b = ?
parameters:
  - {name: a, type: string, required: true}
`,
			wantErr: "2 placeholders but 1 parameters",
		},
		{
			name:    "multiple statements",
			content: "name: x\ndescription: y\ntrigger: z\ndatabase: db\ncredentials_env_key: K\nsql: SELECT 1; DELETE FROM t\n",
			wantErr: "multiple SQL statements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(t, map[string]string{
				"account_lookup.yaml": accountLookupYAML,
				"broken.yaml":         tt.content,
			})
			err := loader.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "broken.yaml")
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 0, loader.Count(), "a failed load must not publish a partial index")
		})
	}
}

func TestLoader_PlaceholderMismatchIsTyped(t *testing.T) {
	_, err := Parse("inline", []byte(`name: x
description: y
trigger: z
database: db
credentials_env_key: K
sql: SELECT ?
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPlaceholderMismatch))
}

func TestLoader_DuplicateIDAcrossExtensions(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"account_lookup.yaml": accountLookupYAML,
		"account_lookup.yml":  accountLookupYAML,
	})
	err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate query id")
}

func TestLoader_GetByTrigger(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"account_lookup.yaml":     accountLookupYAML,
		"account_lookup_all.yaml": accountLookupAllYAML,
		"beacon_impressions.yaml": beaconYAML,
		"kelvin_report.yaml": `
name: Kelvin Report
description: Temperature readings.
trigger: "  kelvin report  "
database: Metrics
credentials_env_key: METRICS_DB
sql: SELECT * FROM readings WHERE sensor = ?
parameters:
  - {name: sensor, type: string, required: true}
`,
	})
	require.NoError(t, loader.Load())

	tests := []struct {
		input    string
		wantID   string
		wantArgs string
		found    bool
	}{
		{"account lookup all users", "account_lookup_all", "users", true},
		{"account lookup lite n easy", "account_lookup", "lite n easy", true},
		{"  ACCOUNT LOOKUP Acme  ", "account_lookup", "Acme", true},
		{"Beacon Impressions 123 2025-01-01", "beacon_impressions", "123 2025-01-01", true},
		{"account lookup", "account_lookup", "", true},
		{"kelvin report North", "kelvin_report", "North", true},
		// U+212A KELVIN SIGN lower-cases to a one-byte 'k'.
		{"\u212Aelvin report Sud", "kelvin_report", "Sud", true},
		{"account", "", "", false},
		{"what is the weather", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			entry, ok := loader.GetByTrigger(tt.input)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.wantID, entry.ID)
				assert.Equal(t, tt.wantArgs, entry.Args)
				require.NotNil(t, entry.Definition)
			}
		})
	}
}

func TestLoader_ReloadIdempotent(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"account_lookup.yaml":     accountLookupYAML,
		"beacon_impressions.yaml": beaconYAML,
	})
	require.NoError(t, loader.Load())
	before := loader.GetAll()

	stats, err := loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, ReloadStats{Before: 2, After: 2}, stats)

	after := loader.GetAll()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, *before[i].Definition, *after[i].Definition)
	}
}

func TestLoader_ReloadPicksUpChangesAndKeepsIndexOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "account_lookup.yaml", accountLookupYAML)
	loader := NewLoader(dir, zaptest.NewLogger(t))
	require.NoError(t, loader.Load())

	writeFile(t, dir, "beacon_impressions.yaml", beaconYAML)
	stats, err := loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Before)
	assert.Equal(t, 2, stats.After)

	writeFile(t, dir, "broken.yaml", "name: [")
	_, err = loader.Reload()
	require.Error(t, err)
	assert.Equal(t, 2, loader.Count())

	require.NoError(t, os.Remove(filepath.Join(dir, "broken.yaml")))
	require.NoError(t, os.Remove(filepath.Join(dir, "beacon_impressions.yaml")))
	stats, err = loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, ReloadStats{Before: 2, After: 1}, stats)
}

func TestLoader_ConcurrentLookupsDuringReload(t *testing.T) {
	loader := newTestLoader(t, map[string]string{
		"account_lookup.yaml":     accountLookupYAML,
		"beacon_impressions.yaml": beaconYAML,
	})
	require.NoError(t, loader.Load())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				entry, ok := loader.GetByTrigger("account lookup acme")
				if assert.True(t, ok) {
					assert.Equal(t, "account_lookup", entry.ID)
				}
				assert.Len(t, loader.GetAll(), 2)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := loader.Reload()
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestSortByTrigger(t *testing.T) {
	entries := []Entry{
		{ID: "b", Definition: &models.QueryDefinition{Trigger: "zeta"}},
		{ID: "a", Definition: &models.QueryDefinition{Trigger: "alpha"}},
	}
	SortByTrigger(entries)
	assert.Equal(t, "a", entries[0].ID)
}
