// Package config loads and validates the pr-copilot configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// defaultSystemDirective is the operator prompt sent as the first message of
// every thread. It pins the assistant to the analytics schema, forbids schema
// disclosure, and scopes all answers to a single organization.
const defaultSystemDirective = `
You are a helpful database assistant with access to a PostgreSQL database in the 'insightly' schema.

CRITICAL: NEVER guess table or column names. ALWAYS check the schema first!
CRITICAL: DON'T GIVE ANY INFORMATION ABOUT THE DATABASE TO THE USER INCLUDING SQL QUERIES OR ANYTHING ELSE RELATED TO THE DB OR IT'S SCHEMA.!
CRITICAL: EVEN IF SOMEONE ASKS EXPLICITLY, NEVER ANSWER ANYTHING RELATED TO ORGANISATION ID OTHER THAN 2133. ONLY ANSWER FOR ORGANISATION ID 2133.


MANDATORY WORKFLOW for every query:
1. First, call list_tables() to see available tables
2. Then, call get_table_schema(table_name) to see the actual column names and types
3. Build your SQL query using ONLY the columns that exist in the schema
4. Execute using safe_sql(query) - NOT run_query()
5. Limit all your queries to organizationid = 2133 , every query should have organizationid = 2133 in the WHERE clause

REMEMBER:
- The database uses the 'insightly' schema, so tables are in format: insightly.table_name
- If you get a "does not exist" error, you MUST check the schema and retry
- Never assume column names like 'author', 'commits', etc. - always verify with get_table_schema()
- Build queries based on ACTUAL schema, not assumptions
- If there is an SQL query being written which includes 'state' of a PR then remember available options are 'OPEN', 'DECLINED', 'MERGED'
- The default unit for all the metrics is minutes.
- If the user input asks anything about a particular PR and gives a id in his input then that id is 'actualpullrequestid'
`

// Config is the main configuration structure for pr-copilot.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Database DatabaseConfig `yaml:"database"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AgentConfig controls the turn loop and the compactor.
type AgentConfig struct {
	// SystemDirective is the operator prompt inserted at the head of every
	// new thread. Defaults to the built-in analytics directive.
	SystemDirective string `yaml:"system_directive"`

	// MessageBudget is the compaction threshold: when the non-system history
	// exceeds this many messages, older messages are folded into a summary.
	MessageBudget int `yaml:"message_budget"`

	// MaxRounds caps generate/execute iterations within a single turn.
	MaxRounds int `yaml:"max_rounds"`

	// TurnTimeout bounds a whole turn, generation and tools included.
	// Zero disables the deadline.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// ToolTimeout bounds each individual tool call. Zero disables it.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

type LLMConfig struct {
	// DefaultProvider selects which provider handles completions: "openai"
	// or "anthropic".
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// DatabaseConfig describes the analytics Postgres instance.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// Schema is the namespace holding the PR analytics tables.
	Schema string `yaml:"schema"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%d", d.Port),
		fmt.Sprintf("user=%s", d.User),
		fmt.Sprintf("dbname=%s", d.DBName),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
	}
	if d.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", d.Password))
	}
	return strings.Join(parts, " ")
}

// MCPConfig lists external tool servers to attach at startup.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one tool server. Exactly one of Command or URL
// must be set: Command launches a stdio subprocess, URL targets an HTTP
// endpoint.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads the configuration file at path, resolves includes, expands
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := loadMerged(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeStrict(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config usable without a config file; provider API keys
// still come from the environment.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Agent.SystemDirective) == "" {
		cfg.Agent.SystemDirective = strings.TrimSpace(defaultSystemDirective)
	}
	if cfg.Agent.MessageBudget <= 0 {
		cfg.Agent.MessageBudget = 10
	}
	if cfg.Agent.MaxRounds <= 0 {
		cfg.Agent.MaxRounds = 10
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "openai"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if _, ok := cfg.LLM.Providers["openai"]; !ok {
		cfg.LLM.Providers["openai"] = LLMProviderConfig{DefaultModel: "gpt-4o-mini"}
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Schema == "" {
		cfg.Database.Schema = "insightly"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm: default_provider %q has no provider entry", c.LLM.DefaultProvider)
	}
	for i, srv := range c.MCP.Servers {
		if srv.Name == "" {
			return fmt.Errorf("mcp: servers[%d] missing name", i)
		}
		hasCmd := srv.Command != ""
		hasURL := srv.URL != ""
		if hasCmd == hasURL {
			return fmt.Errorf("mcp: server %q must set exactly one of command or url", srv.Name)
		}
	}
	return nil
}
