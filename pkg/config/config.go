package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read when CONFIG_PATH is not set. The file is optional.
const DefaultConfigPath = "config.yaml"

// Transport names accepted by MCP_TRANSPORT.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds all configuration for ekaya-sqlbot.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (connection strings) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// QueryDefinitionsPath is the directory holding one YAML file per query.
	QueryDefinitionsPath string `yaml:"query_definitions_path" env:"QUERY_DEFINITIONS_PATH"`

	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
	Engine  EngineConfig  `yaml:"engine"`
	Chat    ChatConfig    `yaml:"chat"`
	Audit   AuditConfig   `yaml:"audit"`
	Auth    AuthConfig    `yaml:"auth"`

	// ToolGroupsStr overrides the built-in tool group fallback.
	// Format: "group1=query_a|query_b,group2=query_c"
	ToolGroupsStr string `yaml:"tool_groups" env:"TOOL_GROUPS" env-default:""`

	// ToolGroups maps query ID to group, parsed from ToolGroupsStr.
	ToolGroups map[string]string `yaml:"-"`
}

// MCPConfig holds tool server settings.
type MCPConfig struct {
	Transport  string `yaml:"transport" env:"MCP_TRANSPORT" env-default:"stdio"`
	Host       string `yaml:"host" env:"MCP_HOST" env-default:"0.0.0.0"`
	Port       int    `yaml:"port" env:"MCP_PORT" env-default:"8080"`
	ServerName string `yaml:"server_name" env:"MCP_SERVER_NAME" env-default:"sql-tools"`
}

// Addr returns host:port for the HTTP transport.
func (c MCPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	Dir    string `yaml:"dir" env:"LOG_DIR" env-default:"logs/"`
}

// EngineConfig holds execution engine settings.
type EngineConfig struct {
	CacheMaxEntries int           `yaml:"cache_max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1000"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT" env-default:"0s"`
	DefaultDialect  string        `yaml:"default_dialect" env:"DEFAULT_DIALECT" env-default:"mssql"`
}

// ChatConfig holds chat front end settings.
type ChatConfig struct {
	Enabled         bool `yaml:"enabled" env:"CHAT_ENABLED" env-default:"true"`
	CooldownSeconds int  `yaml:"cooldown_seconds" env:"CHAT_COOLDOWN_SECONDS" env-default:"30"`

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins" env:"CHAT_ALLOWED_ORIGINS" env-separator:","`
}

// Cooldown returns the per-user cooldown as a duration.
func (c ChatConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// AuditConfig holds the optional PostgreSQL audit store settings.
type AuditConfig struct {
	DatabaseURL string `yaml:"-" env:"AUDIT_DATABASE_URL"` // Secret - not in YAML
	BufferSize  int    `yaml:"buffer_size" env:"AUDIT_BUFFER_SIZE" env-default:"256"`
}

// Enabled reports whether records should be persisted.
func (c AuditConfig) Enabled() bool {
	return c.DatabaseURL != ""
}

// AuthConfig holds bearer token settings for the HTTP transport.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Leave false for stdio or trusted local deployments.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"false"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// Audience is the required "aud" claim. Empty skips the check.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"sqlbot"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// Load reads configuration from CONFIG_PATH (default config.yaml) when the
// file exists, with environment variable overrides, then validates it.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)

	groups, err := ParseToolGroups(c.ToolGroupsStr)
	if err != nil {
		return err
	}
	c.ToolGroups = groups
	return nil
}

// Validate checks values that cleanenv cannot express.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.QueryDefinitionsPath) == "" {
		errs = append(errs, errors.New("QUERY_DEFINITIONS_PATH is required"))
	}

	switch c.MCP.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("MCP_TRANSPORT must be %q or %q, got %q", TransportStdio, TransportHTTP, c.MCP.Transport))
	}

	if c.MCP.Port < 1 || c.MCP.Port > 65535 {
		errs = append(errs, fmt.Errorf("MCP_PORT must be between 1 and 65535, got %d", c.MCP.Port))
	}

	if c.Engine.CacheMaxEntries < 1 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_ENTRIES must be positive, got %d", c.Engine.CacheMaxEntries))
	}

	if c.Engine.QueryTimeout < 0 {
		errs = append(errs, fmt.Errorf("QUERY_TIMEOUT must not be negative, got %s", c.Engine.QueryTimeout))
	}

	if c.Chat.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("CHAT_COOLDOWN_SECONDS must not be negative, got %d", c.Chat.CooldownSeconds))
	}

	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		errs = append(errs, errors.New("JWKS_ENDPOINTS is required when AUTH_ENABLE_VERIFICATION is true"))
	}

	return errors.Join(errs...)
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ParseToolGroups parses "group=id1|id2,group2=id3" into a query ID to group
// map. A query listed under two groups is an error.
func ParseToolGroups(value string) (map[string]string, error) {
	groups := make(map[string]string)
	if strings.TrimSpace(value) == "" {
		return groups, nil
	}

	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		group, ids, ok := strings.Cut(entry, "=")
		group = strings.TrimSpace(group)
		if !ok || group == "" {
			return nil, fmt.Errorf("invalid tool group entry %q: expected group=id1|id2", entry)
		}
		for _, id := range strings.Split(ids, "|") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if existing, dup := groups[id]; dup && existing != group {
				return nil, fmt.Errorf("query %q is assigned to both %q and %q", id, existing, group)
			}
			groups[id] = group
		}
	}
	return groups, nil
}
