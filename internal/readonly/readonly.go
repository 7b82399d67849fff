// Package readonly validates that a SQL statement cannot write. It is an
// allow-list over the parsed AST: SELECT, VALUES, EXPLAIN of an allowed
// statement, and SHOW pass; everything else is rejected. The database
// session's read-only transaction setting is the backstop, this gate exists
// to fail fast with a useful message before the statement reaches the
// server.
package readonly

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Validate parses sql with pg_query_go and walks the AST.
// Returns nil if the statement is read-only, a descriptive error otherwise.
func Validate(sql string) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("SQL parse error: %w", err)
	}

	if len(result.Stmts) == 0 {
		return fmt.Errorf("SQL parse error: empty query")
	}

	if len(result.Stmts) > 1 {
		return fmt.Errorf("multi-statement queries are not allowed: found %d statements", len(result.Stmts))
	}

	return checkNode(result.Stmts[0].Stmt)
}

// checkNode checks a single AST node. Only node types on the allow list
// return nil; unknown or write-capable statements are rejected by the
// default case.
func checkNode(node *pg_query.Node) error {
	if node == nil {
		return fmt.Errorf("SQL parse error: empty statement")
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return checkSelect(n.SelectStmt)

	case *pg_query.Node_ExplainStmt:
		// EXPLAIN executes its inner query under ANALYZE, so the inner
		// statement must itself be read-only.
		if n.ExplainStmt.Query == nil {
			return fmt.Errorf("EXPLAIN without a statement is not allowed")
		}
		return checkNode(n.ExplainStmt.Query)

	case *pg_query.Node_VariableShowStmt:
		return nil

	default:
		return fmt.Errorf("only read-only queries are allowed: %s", stmtName(node))
	}
}

// checkSelect validates a SELECT (or VALUES, which parses as a SelectStmt
// with ValuesLists) including its CTEs and set-operation branches.
func checkSelect(stmt *pg_query.SelectStmt) error {
	if stmt == nil {
		return nil
	}

	if stmt.IntoClause != nil {
		return fmt.Errorf("SELECT INTO is not allowed: creates a new table")
	}

	if len(stmt.LockingClause) > 0 {
		return fmt.Errorf("SELECT with row locking (FOR UPDATE/FOR SHARE) is not allowed: acquires row locks")
	}

	if stmt.WithClause != nil {
		for _, cte := range stmt.WithClause.Ctes {
			cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
			if !ok {
				continue
			}
			// Data-modifying CTEs (WITH x AS (INSERT ...)) carry the DML
			// statement as the CTE query and fail the recursive check.
			if err := checkNode(cteNode.CommonTableExpr.Ctequery); err != nil {
				return err
			}
		}
	}

	// UNION/INTERSECT/EXCEPT branches.
	if stmt.Larg != nil {
		if err := checkSelect(stmt.Larg); err != nil {
			return err
		}
	}
	if stmt.Rarg != nil {
		if err := checkSelect(stmt.Rarg); err != nil {
			return err
		}
	}
	return nil
}

// stmtName maps common AST node types to the keyword a user typed, so
// rejections read like "INSERT is not a read-only query" rather than a
// protobuf type name.
func stmtName(node *pg_query.Node) string {
	switch node.Node.(type) {
	case *pg_query.Node_InsertStmt:
		return "INSERT is not a read-only query"
	case *pg_query.Node_UpdateStmt:
		return "UPDATE is not a read-only query"
	case *pg_query.Node_DeleteStmt:
		return "DELETE is not a read-only query"
	case *pg_query.Node_MergeStmt:
		return "MERGE is not a read-only query"
	case *pg_query.Node_TruncateStmt:
		return "TRUNCATE is not a read-only query"
	case *pg_query.Node_CopyStmt:
		return "COPY is not a read-only query"
	case *pg_query.Node_DoStmt:
		return "DO blocks are not read-only queries"
	case *pg_query.Node_TransactionStmt:
		return "transaction control statements are not allowed, each query runs in its own read-only transaction"
	case *pg_query.Node_VariableSetStmt:
		return "SET is not allowed, session settings are managed by the server"
	case *pg_query.Node_CreateStmt, *pg_query.Node_CreateTableAsStmt,
		*pg_query.Node_IndexStmt, *pg_query.Node_ViewStmt,
		*pg_query.Node_AlterTableStmt, *pg_query.Node_DropStmt:
		return "DDL statements are not allowed"
	default:
		return fmt.Sprintf("statement type %T is not allowed", node.Node)
	}
}
