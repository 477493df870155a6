package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Parameter types accepted in query definitions.
const (
	ParamTypeString = "string"
	ParamTypeInt    = "int"
	ParamTypeDate   = "date"
)

// databaseNamePattern is the allow-list for database selectors.
var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ErrInvalidDefinition wraps every definition validation failure.
var ErrInvalidDefinition = errors.New("invalid query definition")

// QueryParameter declares one positional parameter of a query definition.
// Declaration order defines placeholder binding order.
type QueryParameter struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"` // string, int, date
	Required bool   `yaml:"required" json:"required"`
}

var queryParameterFields = map[string]bool{"name": true, "type": true, "required": true}

// UnmarshalYAML decodes a parameter entry. Parameters are required unless
// the entry says otherwise. Unknown keys are rejected here because a custom
// unmarshaler does not inherit the decoder's KnownFields setting.
func (p *QueryParameter) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i]
			if !queryParameterFields[key.Value] {
				return fmt.Errorf("line %d: field %s not found in type models.QueryParameter", key.Line, key.Value)
			}
		}
	}

	type plain QueryParameter
	decoded := plain{Required: true}
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*p = QueryParameter(decoded)
	return nil
}

// ToolExposure controls how a definition is published as a protocol tool.
type ToolExposure struct {
	Name        string `yaml:"name" json:"name"`
	Group       string `yaml:"group" json:"group"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// QueryDefinition is a named, validated parameterized SQL query together with
// its caching policy and exposure metadata.
//
// Definitions are read-only once validated. The loader hands out pointers
// to shared instances.
type QueryDefinition struct {
	// ID is the file stem the loader found the definition under.
	ID                string           `yaml:"-" json:"id"`
	Name              string           `yaml:"name" json:"name"`
	Description       string           `yaml:"description" json:"description"`
	Trigger           string           `yaml:"trigger" json:"trigger"`
	Enabled           bool             `yaml:"enabled" json:"enabled"`
	Database          string           `yaml:"database" json:"database"`
	CredentialsEnvKey string           `yaml:"credentials_env_key" json:"credentials_env_key"`
	SQL               string           `yaml:"sql" json:"sql"`
	Parameters        []QueryParameter `yaml:"parameters" json:"parameters"`
	CacheTTLSeconds   int              `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	MCP               *ToolExposure    `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// NewQueryDefinition returns a definition with defaults applied.
// Decoders should decode into the returned value so absent fields keep them.
func NewQueryDefinition() *QueryDefinition {
	return &QueryDefinition{Enabled: true}
}

// ValidDatabaseName reports whether name is usable as a database selector.
func ValidDatabaseName(name string) bool {
	return databaseNamePattern.MatchString(name)
}

// Validate normalizes the SQL text and checks the definition for structural
// errors. Placeholder counting is left to the caller since it depends on the
// SQL scanner.
func (d *QueryDefinition) Validate() error {
	d.SQL = strings.TrimSpace(d.SQL)

	required := []struct {
		field string
		value string
	}{
		{"name", d.Name},
		{"description", d.Description},
		{"trigger", d.Trigger},
		{"database", d.Database},
		{"credentials_env_key", d.CredentialsEnvKey},
		{"sql", d.SQL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: field %q is required", ErrInvalidDefinition, r.field)
		}
	}

	if !ValidDatabaseName(d.Database) {
		return fmt.Errorf("%w: database %q must match %s", ErrInvalidDefinition, d.Database, databaseNamePattern.String())
	}

	if d.CacheTTLSeconds < 0 {
		return fmt.Errorf("%w: cache_ttl_seconds must be >= 0, got %d", ErrInvalidDefinition, d.CacheTTLSeconds)
	}

	seen := make(map[string]bool, len(d.Parameters))
	for i, p := range d.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrInvalidDefinition, i+1)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidDefinition, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case ParamTypeString, ParamTypeInt, ParamTypeDate:
		default:
			return fmt.Errorf("%w: parameter %q has unsupported type %q (want string, int or date)", ErrInvalidDefinition, p.Name, p.Type)
		}
	}

	if d.MCP != nil {
		if d.MCP.Name == "" {
			return fmt.Errorf("%w: mcp.name is required", ErrInvalidDefinition)
		}
		if strings.IndexFunc(d.MCP.Name, unicode.IsSpace) >= 0 {
			return fmt.Errorf("%w: mcp.name %q must not contain whitespace", ErrInvalidDefinition, d.MCP.Name)
		}
		if d.MCP.Group == "" {
			return fmt.Errorf("%w: mcp.group is required", ErrInvalidDefinition)
		}
	}

	return nil
}

// RequiredParameters returns the names of required parameters in declaration order.
func (d *QueryDefinition) RequiredParameters() []string {
	var names []string
	for _, p := range d.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// ParameterNames returns all parameter names in declaration order.
func (d *QueryDefinition) ParameterNames() []string {
	names := make([]string, len(d.Parameters))
	for i, p := range d.Parameters {
		names[i] = p.Name
	}
	return names
}

// ShortDescription returns the first line of the description.
func (d *QueryDefinition) ShortDescription() string {
	first, _, _ := strings.Cut(d.Description, "\n")
	return strings.TrimSpace(first)
}
