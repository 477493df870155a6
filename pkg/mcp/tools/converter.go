package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/definitions"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// UngroupedToolGroup is used when a definition has no group anywhere.
const UngroupedToolGroup = "ungrouped"

// DefaultToolGroups maps query IDs to groups for definitions that predate the
// mcp block. TOOL_GROUPS replaces it entirely.
var DefaultToolGroups = map[string][]string{
	"account_tools":      {"account_lookup", "user_lookup", "inactive_users"},
	"metric_tools":       {"metric_beacon_impressions", "metric_raw_beacons"},
	"data_quality_tools": {"missing_aggregation", "report_beacon_mismatch", "dashboards_missing_data", "duplicate_accounts"},
	"system_tools":       {"data_source_check", "tableau_dashboards", "refresh_capacity"},
}

// ToolMetadata travels with a generated tool for listing and lookup.
type ToolMetadata struct {
	Group    string `json:"group"`
	QueryID  string `json:"query_id"`
	CacheTTL int    `json:"cache_ttl"`
}

// ToolSpec is the protocol tool generated from one definition.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Metadata    ToolMetadata    `json:"metadata"`
}

// Tool returns the mcp-go tool for registration.
func (s ToolSpec) Tool() mcp.Tool {
	return mcp.NewToolWithRawSchema(s.Name, s.Description, s.InputSchema)
}

type propertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Format      string `json:"format,omitempty"`
}

type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// Converter turns definitions into tool specs.
type Converter struct {
	queryToGroup map[string]string
}

// NewConverter builds a converter. overrides maps query ID to group and,
// when non-empty, replaces DefaultToolGroups.
func NewConverter(overrides map[string]string) *Converter {
	c := &Converter{queryToGroup: make(map[string]string)}
	if len(overrides) > 0 {
		for id, group := range overrides {
			c.queryToGroup[id] = group
		}
		return c
	}
	for group, ids := range DefaultToolGroups {
		for _, id := range ids {
			c.queryToGroup[id] = group
		}
	}
	return c
}

// Convert builds the tool spec for definition id.
func (c *Converter) Convert(id string, def *models.QueryDefinition) (ToolSpec, error) {
	toolName := strings.ToLower(strings.ReplaceAll(def.Trigger, " ", "_"))
	group := ""
	description := def.Description
	if def.MCP != nil {
		if def.MCP.Name != "" {
			toolName = def.MCP.Name
		}
		group = def.MCP.Group
		if def.MCP.Description != "" {
			description = def.MCP.Description
		}
	}
	if group == "" {
		group = c.queryToGroup[id]
	}
	if group == "" {
		group = UngroupedToolGroup
	}

	schema := inputSchema{
		Type:       "object",
		Properties: make(map[string]propertySchema, len(def.Parameters)),
		Required:   []string{},
	}
	for _, p := range def.Parameters {
		prop := propertySchema{
			Type:        "string",
			Description: fmt.Sprintf("%s (%s)", p.Name, p.Type),
		}
		switch p.Type {
		case models.ParamTypeInt:
			prop.Type = "integer"
		case models.ParamTypeDate:
			prop.Format = "date"
			prop.Description += " in YYYY-MM-DD format"
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return ToolSpec{}, fmt.Errorf("failed to build input schema for %s: %w", id, err)
	}

	return ToolSpec{
		Name:        group + "." + toolName,
		Description: description,
		InputSchema: raw,
		Metadata: ToolMetadata{
			Group:    group,
			QueryID:  id,
			CacheTTL: def.CacheTTLSeconds,
		},
	}, nil
}

// ConvertAll converts every entry, skipping ones that fail, and returns the
// specs sorted by name. Failures are returned alongside for logging.
func (c *Converter) ConvertAll(entries []definitions.Entry) ([]ToolSpec, []error) {
	specs := make([]ToolSpec, 0, len(entries))
	var errs []error
	for _, e := range entries {
		spec, err := c.Convert(e.ID, e.Definition)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, errs
}
