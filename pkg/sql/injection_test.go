package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckParameterForInjection_CleanValues(t *testing.T) {
	cleanValues := []struct {
		name  string
		value string
	}{
		{"account name", "lite n easy"},
		{"numeric id", "12345"},
		{"iso date", "2025-01-31"},
		{"email with plus", "user+tag@example.com"},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000"},
		{"url", "https://example.com/path?query=value&other=123"},
		{"empty", ""},
	}

	for _, tt := range cleanValues {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckParameterForInjection("param", tt.value)
			assert.Nil(t, result, "legitimate value %q flagged as injection", tt.value)
		})
	}
}

func TestCheckParameterForInjection_KnownPatterns(t *testing.T) {
	injectionPatterns := []struct {
		name  string
		value string
	}{
		{"classic OR", "' OR '1'='1"},
		{"union select", "1 UNION SELECT * FROM users"},
		{"drop table", "'; DROP TABLE users--"},
		{"comment injection", "admin'--"},
	}

	for _, tt := range injectionPatterns {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckParameterForInjection("account_name", tt.value)
			require.NotNil(t, result, "expected injection detection for %q", tt.value)
			assert.Equal(t, "account_name", result.ParamName)
			assert.Equal(t, tt.value, result.ParamValue)
			assert.NotEmpty(t, result.Fingerprint)
		})
	}
}

func TestCheckAllParameters(t *testing.T) {
	params := map[string]string{
		"zeta":  "'; DROP TABLE users--",
		"alpha": "' OR '1'='1",
		"clean": "acme",
	}

	results := CheckAllParameters(params)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].ParamName)
	assert.Equal(t, "zeta", results[1].ParamName)

	assert.Empty(t, CheckAllParameters(map[string]string{"id": "42"}))
	assert.Empty(t, CheckAllParameters(nil))
}
