package agentpg_test

import (
	"context"
	"strings"
	"testing"

	agentpg "github.com/agentpg/agentpg"
)

func TestDescribeTable_Columns(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE users (id serial PRIMARY KEY, name varchar(100) NOT NULL, email text, age integer DEFAULT 0)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "users"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Type != "table" {
		t.Fatalf("expected type 'table', got %q", output.Type)
	}
	if len(output.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(output.Columns))
	}

	for _, col := range output.Columns {
		switch col.Name {
		case "id":
			if !col.IsPrimaryKey {
				t.Error("expected id to be primary key")
			}
			if col.Type != "integer" {
				t.Errorf("expected id type 'integer', got %q", col.Type)
			}
		case "name":
			if col.Nullable {
				t.Error("expected name to be NOT NULL")
			}
			if !strings.Contains(col.Type, "character varying") {
				t.Errorf("expected name type to contain 'character varying', got %q", col.Type)
			}
		case "email":
			if col.Type != "text" {
				t.Errorf("expected email type 'text', got %q", col.Type)
			}
		case "age":
			if col.Default == "" {
				t.Error("expected age to have a default")
			}
		}
	}
}

func TestDescribeTable_PrimaryKey(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE pk_table (id serial PRIMARY KEY, name text)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "pk_table"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, col := range output.Columns {
		if col.Name == "id" && !col.IsPrimaryKey {
			t.Error("expected id to be primary key")
		}
	}

	foundPK := false
	for _, con := range output.Constraints {
		if con.Type == "PRIMARY KEY" {
			foundPK = true
			if con.Name == "" {
				t.Error("expected PRIMARY KEY constraint name to be non-empty")
			}
			if con.Definition == "" {
				t.Error("expected PRIMARY KEY constraint definition to be non-empty")
			}
			break
		}
	}
	if !foundPK {
		t.Error("expected PRIMARY KEY constraint in list")
	}
}

func TestDescribeTable_Indexes(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE idx_table (id serial PRIMARY KEY, email text)")
	setupTable(t, connStr, "CREATE INDEX idx_email ON idx_table (email)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "idx_table"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	foundPKIndex := false
	for _, idx := range output.Indexes {
		if idx.Name == "idx_email" {
			found = true
			if idx.IsUnique {
				t.Error("expected non-unique index")
			}
			if idx.Definition == "" {
				t.Error("expected idx_email definition to be non-empty")
			}
			if idx.IsPrimary {
				t.Error("expected idx_email to not be primary")
			}
		}
		if idx.IsPrimary {
			foundPKIndex = true
		}
	}
	if !found {
		t.Error("expected idx_email in indexes")
	}
	if !foundPKIndex {
		t.Error("expected a primary key index in indexes")
	}
}

func TestDescribeTable_ForeignKeys(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE authors (id serial PRIMARY KEY, name text)")
	setupTable(t, connStr, "CREATE TABLE books (id serial PRIMARY KEY, author_id integer REFERENCES authors(id) ON DELETE CASCADE)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "books"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(output.ForeignKeys) != 1 {
		t.Fatalf("expected 1 foreign key, got %d", len(output.ForeignKeys))
	}
	fk := output.ForeignKeys[0]
	if fk.ReferencedTable != "authors" {
		t.Fatalf("expected referenced table 'authors', got %q", fk.ReferencedTable)
	}
	if fk.OnDelete != "CASCADE" {
		t.Fatalf("expected ON DELETE CASCADE, got %q", fk.OnDelete)
	}
	if fk.Columns != "author_id" {
		t.Fatalf("expected fk columns 'author_id', got %q", fk.Columns)
	}
	if fk.ReferencedColumns != "id" {
		t.Fatalf("expected fk referenced columns 'id', got %q", fk.ReferencedColumns)
	}
	if fk.OnUpdate != "NO ACTION" {
		t.Fatalf("expected ON UPDATE 'NO ACTION', got %q", fk.OnUpdate)
	}
}

func TestDescribeTable_UniqueConstraint(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE uniq_table (id serial PRIMARY KEY, email text UNIQUE)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "uniq_table"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foundUnique := false
	for _, con := range output.Constraints {
		if con.Type == "UNIQUE" {
			foundUnique = true
			break
		}
	}
	if !foundUnique {
		t.Error("expected UNIQUE constraint in list")
	}
}

func TestDescribeTable_CheckConstraint(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE check_table (id serial PRIMARY KEY, age integer CHECK (age >= 0))")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "check_table"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foundCheck := false
	for _, con := range output.Constraints {
		if con.Type == "CHECK" {
			foundCheck = true
			if con.Definition == "" {
				t.Error("expected CHECK constraint definition to be non-empty")
			}
			break
		}
	}
	if !foundCheck {
		t.Error("expected CHECK constraint in list")
	}
}

func TestDescribeTable_NotFound(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, defaultConfig())

	_, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "nonexistent_table"})
	if err == nil {
		t.Fatal("expected error for nonexistent table")
	}
	if !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected not found error, got %q", err.Error())
	}
}

func TestDescribeTable_View(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE users (id serial PRIMARY KEY, name text)")
	setupTable(t, connStr, "CREATE VIEW users_view AS SELECT id, name FROM users")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "users_view"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Type != "view" {
		t.Fatalf("expected type 'view', got %q", output.Type)
	}
	if output.Definition == "" {
		t.Error("expected view definition to be set")
	}
	if len(output.Columns) < 2 {
		t.Fatalf("expected at least 2 columns, got %d", len(output.Columns))
	}
	if len(output.Indexes) != 0 {
		t.Fatalf("expected no indexes for view, got %d", len(output.Indexes))
	}
}

func TestDescribeTable_MaterializedView(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE users (id serial PRIMARY KEY, name text)")
	setupTable(t, connStr, "CREATE MATERIALIZED VIEW users_matview AS SELECT id, name FROM users")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "users_matview"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Type != "materialized_view" {
		t.Fatalf("expected type 'materialized_view', got %q", output.Type)
	}
	if len(output.Columns) < 2 {
		t.Fatalf("expected at least 2 columns, got %d", len(output.Columns))
	}
}

func TestDescribeTable_SchemaQualified(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE SCHEMA app")
	setupTable(t, connStr, "CREATE TABLE app.settings (key text PRIMARY KEY, value text)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "settings", Schema: "app"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Schema != "app" {
		t.Fatalf("expected schema 'app', got %q", output.Schema)
	}
	if len(output.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(output.Columns))
	}
}

func TestDescribeTable_DefaultSchemaPublic(t *testing.T) {
	t.Parallel()
	engine, connStr := newTestEngine(t, defaultConfig())

	setupTable(t, connStr, "CREATE TABLE plain (id int)")

	output, err := engine.DescribeTable(context.Background(), agentpg.DescribeTableInput{Table: "plain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Schema != "public" {
		t.Fatalf("expected default schema 'public', got %q", output.Schema)
	}
}
