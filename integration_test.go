package agentpg_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	agentpg "github.com/agentpg/agentpg"
)

// --- Query Integration Tests ---

func TestQuery_SelectBasic(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE users (id serial PRIMARY KEY, name text, email text)")
	setupTable(t, connStr, "INSERT INTO users (name, email) VALUES ('Alice', 'alice@example.com'), ('Bob', 'bob@example.com')")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT id, name, email FROM users ORDER BY id"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(output.Columns))
	}
	if len(output.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(output.Rows))
	}
	if output.Rows[0]["name"] != "Alice" {
		t.Fatalf("expected Alice, got %v", output.Rows[0]["name"])
	}
	if output.Rows[1]["name"] != "Bob" {
		t.Fatalf("expected Bob, got %v", output.Rows[1]["name"])
	}
}

func TestQuery_EmptyResult(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE empty_table (id int)")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT * FROM empty_table"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 0 {
		t.Fatalf("expected 0 rows, got %d", len(output.Rows))
	}
	if len(output.Columns) != 1 {
		t.Fatalf("expected column metadata even for empty result, got %v", output.Columns)
	}
}

func TestQuery_NullValues(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE nullable (id int, val text)")
	setupTable(t, connStr, "INSERT INTO nullable VALUES (1, NULL)")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT * FROM nullable"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows[0]["val"] != nil {
		t.Fatalf("expected nil for NULL, got %v", output.Rows[0]["val"])
	}
}

func TestQuery_SelectCTE(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE nums (n int)")
	setupTable(t, connStr, "INSERT INTO nums SELECT generate_series(1, 10)")

	output := engine.Query(context.Background(), agentpg.QueryInput{
		SQL: "WITH evens AS (SELECT n FROM nums WHERE n % 2 = 0) SELECT count(*) AS c FROM evens",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if fmt.Sprint(output.Rows[0]["c"]) != "5" {
		t.Fatalf("expected count 5, got %v", output.Rows[0]["c"])
	}
}

func TestQuery_SelectJSONB(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE docs (id int, data jsonb)")
	setupTable(t, connStr, `INSERT INTO docs VALUES (1, '{"name": "widget", "tags": ["a", "b"]}')`)

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT data FROM docs"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	data, ok := output.Rows[0]["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected jsonb to decode to a map, got %T", output.Rows[0]["data"])
	}
	if data["name"] != "widget" {
		t.Fatalf("expected name 'widget', got %v", data["name"])
	}
}

func TestQuery_SelectArray(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE tagged (id int, tags text[])")
	setupTable(t, connStr, "INSERT INTO tagged VALUES (1, ARRAY['red', 'green'])")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT tags FROM tagged"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	tags, ok := output.Rows[0]["tags"].([]any)
	if !ok {
		t.Fatalf("expected array to decode to a slice, got %T", output.Rows[0]["tags"])
	}
	if len(tags) != 2 || tags[0] != "red" {
		t.Fatalf("unexpected array contents: %v", tags)
	}
}

func TestQuery_Show(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SHOW server_version"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(output.Rows))
	}
}

// Every connection runs SET default_transaction_read_only = on, so even a
// statement that slipped past the gate could not write.
func TestQuery_SessionIsReadOnly(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SHOW default_transaction_read_only"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows[0]["default_transaction_read_only"] != "on" {
		t.Fatalf("expected read-only session, got %v", output.Rows[0])
	}
}

// --- Read-only gate, end to end ---

func TestQuery_BlocksInsert(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE items (id int)")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "INSERT INTO items VALUES (1)"})
	if output.Error == "" {
		t.Fatal("expected gate error")
	}
	if !strings.Contains(output.Error, "INSERT") {
		t.Fatalf("expected INSERT rejection, got %q", output.Error)
	}

	check := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT count(*) AS c FROM items"})
	if fmt.Sprint(check.Rows[0]["c"]) != "0" {
		t.Fatalf("insert must not reach the database, got count %v", check.Rows[0]["c"])
	}
}

func TestQuery_BlocksUpdate(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "UPDATE items SET id = 2"})
	if output.Error == "" || !strings.Contains(output.Error, "UPDATE") {
		t.Fatalf("expected UPDATE rejection, got %q", output.Error)
	}
}

func TestQuery_BlocksDelete(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "DELETE FROM items"})
	if output.Error == "" || !strings.Contains(output.Error, "DELETE") {
		t.Fatalf("expected DELETE rejection, got %q", output.Error)
	}
}

func TestQuery_BlocksDDL(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	for _, sql := range []string{
		"CREATE TABLE t (id int)",
		"DROP TABLE items",
		"ALTER TABLE items ADD COLUMN x int",
		"TRUNCATE items",
	} {
		output := engine.Query(context.Background(), agentpg.QueryInput{SQL: sql})
		if output.Error == "" {
			t.Fatalf("expected gate error for %q", sql)
		}
	}
}

func TestQuery_BlocksCTEWrite(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE audit (id int)")

	output := engine.Query(context.Background(), agentpg.QueryInput{
		SQL: "WITH ins AS (INSERT INTO audit VALUES (1) RETURNING id) SELECT * FROM ins",
	})
	if output.Error == "" {
		t.Fatal("expected gate error for data-modifying CTE")
	}

	check := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT count(*) AS c FROM audit"})
	if fmt.Sprint(check.Rows[0]["c"]) != "0" {
		t.Fatalf("CTE insert must not reach the database, got count %v", check.Rows[0]["c"])
	}
}

func TestQuery_BlocksTransactionControl(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	for _, sql := range []string{"BEGIN", "COMMIT", "ROLLBACK"} {
		output := engine.Query(context.Background(), agentpg.QueryInput{SQL: sql})
		if output.Error == "" {
			t.Fatalf("expected gate error for %q", sql)
		}
	}
}

func TestQuery_BlocksSet(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	output := engine.Query(context.Background(), agentpg.QueryInput{
		SQL: "SET default_transaction_read_only = off",
	})
	if output.Error == "" || !strings.Contains(output.Error, "SET") {
		t.Fatalf("expected SET rejection, got %q", output.Error)
	}
}

func TestQuery_AllowsExplainInsert(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE plans (id int)")

	output := engine.Query(context.Background(), agentpg.QueryInput{
		SQL: "EXPLAIN INSERT INTO plans VALUES (1)",
	})
	if output.Error != "" {
		t.Fatalf("plain EXPLAIN does not execute, should be allowed: %s", output.Error)
	}
}

func TestQuery_BlocksExplainAnalyzeInsert(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE plans (id int)")

	output := engine.Query(context.Background(), agentpg.QueryInput{
		SQL: "EXPLAIN ANALYZE INSERT INTO plans VALUES (1)",
	})
	if output.Error == "" {
		t.Fatal("EXPLAIN ANALYZE executes the statement, expected gate error")
	}
}

func TestQuery_AllowsExplainAnalyzeSelect(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE plans (id int)")

	output := engine.Query(context.Background(), agentpg.QueryInput{
		SQL: "EXPLAIN ANALYZE SELECT * FROM plans",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) == 0 {
		t.Fatal("expected plan rows")
	}
}

func TestQuery_MultiStatementBlocked(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT 1; SELECT 2"})
	if output.Error == "" || !strings.Contains(output.Error, "2 statements") {
		t.Fatalf("expected multi-statement rejection, got %q", output.Error)
	}
}

// --- Masking, hints, limits ---

func TestQuery_MaskingEndToEnd(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Masking = []agentpg.MaskRule{
		{Pattern: `\d{3}-\d{3}-\d{4}`, Replacement: "***-***-****"},
	}
	engine, connStr := newTestEngine(t, config)

	setupTable(t, connStr, "CREATE TABLE contacts (phone text)")
	setupTable(t, connStr, "INSERT INTO contacts VALUES ('555-123-4567')")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT phone FROM contacts"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	phone := output.Rows[0]["phone"].(string)
	if phone != "***-***-****" {
		t.Fatalf("expected masked phone, got %q", phone)
	}
}

func TestQuery_MaskingColumnScoped(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Masking = []agentpg.MaskRule{
		{Pattern: `.+`, Replacement: "[redacted]", Columns: []string{"ssn"}},
	}
	engine, connStr := newTestEngine(t, config)

	setupTable(t, connStr, "CREATE TABLE people (name text, ssn text)")
	setupTable(t, connStr, "INSERT INTO people VALUES ('Alice', '123-45-6789')")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT name, ssn FROM people"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows[0]["ssn"] != "[redacted]" {
		t.Fatalf("expected masked ssn, got %v", output.Rows[0]["ssn"])
	}
	if output.Rows[0]["name"] != "Alice" {
		t.Fatalf("rule is scoped to ssn, name must pass through, got %v", output.Rows[0]["name"])
	}
}

func TestQuery_HintsEndToEnd(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Hints = []agentpg.HintRule{
		{Pattern: "does not exist", Message: "The table you referenced does not exist. Try list_tables to see available tables."},
	}
	engine, _ := newTestEngine(t, config)

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT * FROM nonexistent_table"})
	if output.Error == "" {
		t.Fatal("expected error")
	}
	if !strings.Contains(output.Error, "does not exist") {
		t.Fatalf("expected 'does not exist' error, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "Try list_tables") {
		t.Fatalf("expected hint appended, got %q", output.Error)
	}
}

func TestQuery_MultipleHintsConcat(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Hints = []agentpg.HintRule{
		{Pattern: "does not exist", Message: "Hint 1: Try list_tables."},
		{Pattern: "relation", Message: "Hint 2: Check the table name spelling."},
	}
	engine, _ := newTestEngine(t, config)

	// This error message contains both "does not exist" and "relation"
	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT * FROM nonexistent_table"})
	if output.Error == "" {
		t.Fatal("expected error")
	}
	if !strings.Contains(output.Error, "Hint 1: Try list_tables.") {
		t.Fatalf("expected first hint, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "Hint 2: Check the table name spelling.") {
		t.Fatalf("expected second hint, got %q", output.Error)
	}
}

func TestQuery_Timeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.DefaultTimeoutSeconds = 1
	engine, _ := newTestEngine(t, config)

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT pg_sleep(10)"})
	if output.Error == "" {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(output.Error, "context deadline exceeded") && !strings.Contains(output.Error, "canceling statement") {
		t.Fatalf("expected timeout error, got %q", output.Error)
	}
}

func TestQuery_TimeoutRuleMatch(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.DefaultTimeoutSeconds = 30
	config.Query.TimeoutRules = []agentpg.TimeoutRule{
		{Pattern: `pg_sleep`, TimeoutSeconds: 1},
	}
	engine, _ := newTestEngine(t, config)

	start := time.Now()
	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT pg_sleep(10)"})
	if output.Error == "" {
		t.Fatal("expected timeout error from matched rule")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("rule timeout of 1s should have fired, took %v", elapsed)
	}
}

func TestQuery_MaxSQLLength(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.MaxSQLLength = 50
	engine, _ := newTestEngine(t, config)

	longSQL := "SELECT '" + strings.Repeat("x", 100) + "'"
	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: longSQL})
	if output.Error == "" {
		t.Fatal("expected length error")
	}
	if !strings.Contains(output.Error, "exceeds maximum") {
		t.Fatalf("expected length error, got %q", output.Error)
	}
}

func TestQuery_MaxResultLength(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.MaxResultLength = 100 // very small limit
	engine, connStr := newTestEngine(t, config)

	setupTable(t, connStr, "CREATE TABLE big_table (data text)")
	setupTable(t, connStr, "INSERT INTO big_table SELECT 'row with some padding text here ' || n FROM generate_series(1, 20) n")

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT * FROM big_table"})
	if output.Error == "" {
		t.Fatal("expected truncation error")
	}
	if !strings.Contains(output.Error, "[truncated]") {
		t.Fatalf("expected truncation marker, got %q", output.Error)
	}
	if output.Rows != nil {
		t.Fatalf("expected Rows to be nil after truncation, got %v", output.Rows)
	}
	if !strings.HasPrefix(output.Error, "[") {
		t.Fatalf("expected Error to start with '[' (partial JSON array), got %q", output.Error)
	}
}

func TestQuery_SemaphoreContention(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Pool.MaxConns = 2
	engine, _ := newTestEngine(t, config)

	var wg sync.WaitGroup
	errs := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SELECT pg_sleep(0.05)"})
			errs[i] = output.Error
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		if e != "" {
			t.Fatalf("query %d failed under contention: %s", i, e)
		}
	}
}

func TestQuery_Timezone(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Timezone = "America/New_York"
	engine, _ := newTestEngine(t, config)

	output := engine.Query(context.Background(), agentpg.QueryInput{SQL: "SHOW timezone"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows[0]["TimeZone"] != "America/New_York" {
		t.Fatalf("expected America/New_York, got %v", output.Rows[0])
	}
}

func TestClose_SubsequentOperationsFail(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	ctx := context.Background()
	engine, err := agentpg.New(ctx, connStr, defaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	engine.Close(ctx)

	output := engine.Query(ctx, agentpg.QueryInput{SQL: "SELECT 1"})
	if output.Error == "" {
		t.Fatal("expected error after Close")
	}
}
