package agentpg_test

import (
	"context"
	"os"
	"testing"

	agentpg "github.com/agentpg/agentpg"
	"github.com/jackc/pgx/v5"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() agentpg.Config {
	return agentpg.Config{
		Pool: agentpg.PoolConfig{MaxConns: 5},
		Query: agentpg.QueryConfig{
			DefaultTimeoutSeconds:       30,
			ListTablesTimeoutSeconds:    10,
			DescribeTableTimeoutSeconds: 10,
			MaxSQLLength:                100000,
			MaxResultLength:             100000,
		},
	}
}

// newTestEngine acquires a test database and creates an Engine on it. The
// engine only runs read-only queries, so fixtures go through setupTable.
func newTestEngine(t *testing.T, config agentpg.Config) (*agentpg.Engine, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	ctx := context.Background()
	engine, err := agentpg.New(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create Engine: %v", err)
	}
	t.Cleanup(func() { engine.Close(ctx) })
	return engine, connStr
}

// setupTable runs DDL/DML over a direct pgx connection, outside the engine's
// read-only session.
func setupTable(t *testing.T, connStr, sql string) {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("setup connection failed: %v", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, sql); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}
