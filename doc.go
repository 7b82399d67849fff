// Package agentpg provides read-only PostgreSQL access for AI agents
// through the Model Context Protocol (MCP).
//
// It exposes three tools, Query, ListTables, and DescribeTable. Every
// connection runs with default_transaction_read_only forced on, and each
// query is additionally validated against PostgreSQL's actual C parser via
// pg_query before it is sent: only SELECT, VALUES, EXPLAIN, and SHOW pass.
//
// The server side adds a minimal OAuth-style authorization flow (dynamic
// client registration, password-gated authorization codes with PKCE, and a
// client_credentials grant) plus a session registry that multiplexes
// long-lived streamable-HTTP MCP sessions.
//
// # Library Usage
//
//	engine, err := agentpg.New(ctx, connString, agentpg.Config{
//		Pool: agentpg.PoolConfig{MaxConns: 10},
//		Query: agentpg.QueryConfig{
//			DefaultTimeoutSeconds:       30,
//			ListTablesTimeoutSeconds:    10,
//			DescribeTableTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close(ctx)
//
//	// Use directly
//	output := engine.Query(ctx, agentpg.QueryInput{SQL: "SELECT * FROM users LIMIT 10"})
//
//	// Or register as MCP tools
//	agentpg.RegisterTools(mcpServer, engine)
package agentpg
