package agentpg

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool     PoolConfig  `json:"pool"`
	Query    QueryConfig `json:"query"`
	Hints    []HintRule  `json:"hints"`
	Masking  []MaskRule  `json:"masking"`
	Timezone string      `json:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Auth       AuthSettings     `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// AuthSettings configures the built-in authorization server. When Enabled
// is false the /mcp endpoint accepts unauthenticated requests; this is only
// sensible on localhost.
type AuthSettings struct {
	Enabled bool `json:"enabled"`

	// Password gates the interactive authorization flow. Empty means
	// authorization requests auto-approve. Prefer setting it through
	// AGENTPG_AUTH_PASSWORD rather than the config file.
	Password string `json:"password"`

	// BaseURL is the externally visible issuer, e.g. "http://localhost:8432".
	// Defaults to http://localhost:<server.port>.
	BaseURL string `json:"base_url"`

	MaxAttempts          int `json:"max_attempts"`
	LockoutWindowSeconds int `json:"lockout_window_seconds"`
	CodeTTLSeconds       int `json:"code_ttl_seconds"`
	TokenTTLSeconds      int `json:"token_ttl_seconds"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds       int           `json:"default_timeout_seconds"`
	ListTablesTimeoutSeconds    int           `json:"list_tables_timeout_seconds"`
	DescribeTableTimeoutSeconds int           `json:"describe_table_timeout_seconds"`
	MaxSQLLength                int           `json:"max_sql_length"`
	MaxResultLength             int           `json:"max_result_length"`
	TimeoutRules                []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// HintRule maps an error message pattern to a guidance message appended to
// tool errors.
type HintRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// MaskRule defines a regex-based field redaction rule. When Columns is
// empty the rule applies to every column.
type MaskRule struct {
	Pattern     string   `json:"pattern"`
	Replacement string   `json:"replacement"`
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}
