package agentpg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/agentpg/agentpg/internal/hint"
	"github.com/agentpg/agentpg/internal/mask"
	"github.com/agentpg/agentpg/internal/timeout"
)

// Engine is the core that provides the Query, ListTables, and DescribeTable
// tools. All exported methods are safe for concurrent use from multiple
// goroutines.
type Engine struct {
	config    Config
	pool      *pgxpool.Pool
	semaphore chan struct{}
	masker    *mask.Masker
	hints     *hint.Matcher
	timeouts  *timeout.Resolver
	logger    zerolog.Logger
}

// New creates a new Engine. connString is the PostgreSQL connection string
// and must include credentials; ServerConfig.Connection fields are ignored
// here, the CLI is responsible for building connString from them.
// Panics on invalid config. Returns error only for runtime failures
// (pool creation, bad regex rules).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*Engine, error) {
	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("agentpg: connString must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("agentpg: pool.max_conns must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("agentpg: query.default_timeout_seconds must be > 0")
	}
	if config.Query.ListTablesTimeoutSeconds <= 0 {
		panic("agentpg: query.list_tables_timeout_seconds must be > 0")
	}
	if config.Query.DescribeTableTimeoutSeconds <= 0 {
		panic("agentpg: query.describe_table_timeout_seconds must be > 0")
	}

	// Apply defaults for zero values
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("agentpg: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("agentpg: query.max_result_length must be > 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("agentpg: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Configure pgxpool ---

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.Pool.MaxConns)
	poolConfig.MinConns = int32(config.Pool.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	if config.Pool.MaxConnLifetime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnLifetime)
		if err != nil {
			panic(fmt.Sprintf("agentpg: invalid pool.max_conn_lifetime %q: %v", config.Pool.MaxConnLifetime, err))
		}
		poolConfig.MaxConnLifetime = d
	}
	if config.Pool.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnIdleTime)
		if err != nil {
			panic(fmt.Sprintf("agentpg: invalid pool.max_conn_idle_time %q: %v", config.Pool.MaxConnIdleTime, err))
		}
		poolConfig.MaxConnIdleTime = d
	}
	if config.Pool.HealthCheckPeriod != "" {
		d, err := time.ParseDuration(config.Pool.HealthCheckPeriod)
		if err != nil {
			panic(fmt.Sprintf("agentpg: invalid pool.health_check_period %q: %v", config.Pool.HealthCheckPeriod, err))
		}
		poolConfig.HealthCheckPeriod = d
	}

	// Every session is forced read-only at the connection level. The AST
	// gate in internal/readonly rejects writes before they reach the
	// server; this setting is the backstop if one slips through.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
			return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
		}
		if config.Timezone != "" {
			escaped := strings.ReplaceAll(config.Timezone, "'", "''")
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
				return fmt.Errorf("failed to SET timezone: %w", err)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// --- Initialize internal components ---

	masker, err := mask.NewMasker(mapMaskRules(config.Masking))
	if err != nil {
		pool.Close()
		return nil, err
	}
	matcher, err := hint.NewMatcher(mapHintRules(config.Hints))
	if err != nil {
		pool.Close()
		return nil, err
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	resolver, err := timeout.NewResolver(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Engine{
		config:    config,
		pool:      pool,
		semaphore: make(chan struct{}, config.Pool.MaxConns),
		masker:    masker,
		hints:     matcher,
		timeouts:  resolver,
		logger:    logger,
	}, nil
}

// Ping verifies database connectivity. Used by the doctor command and the
// health endpoint.
func (e *Engine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close closes the connection pool. Accepts context for API
// forward-compatibility, but does not currently use it; pgxpool.Pool.Close()
// does not support context-based shutdown.
func (e *Engine) Close(ctx context.Context) {
	e.pool.Close()
}

// mapMaskRules converts config MaskRules to internal mask.Rules.
func mapMaskRules(rules []MaskRule) []mask.Rule {
	result := make([]mask.Rule, len(rules))
	for i, r := range rules {
		result[i] = mask.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Columns:     r.Columns,
		}
	}
	return result
}

// mapHintRules converts config HintRules to internal hint.Rules.
func mapHintRules(rules []HintRule) []hint.Rule {
	result := make([]hint.Rule, len(rules))
	for i, r := range rules {
		result[i] = hint.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
