package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	agentpg "github.com/agentpg/agentpg"
	"github.com/agentpg/agentpg/internal/oauth"
	"github.com/agentpg/agentpg/internal/session"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const shutdownGrace = 10 * time.Second

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serverConfig.Server.Port <= 0 {
		panic("agentpg: server.port must be > 0")
	}

	// 2. Resolve connection string
	connString := os.Getenv("AGENTPG_PG_CONNSTRING")
	if connString == "" {
		username := promptInput("Username: ")
		password := promptPassword("Password: ")
		connString = buildConnString(serverConfig.Connection, username, password)
	}

	// 3. Setup logger
	logger := setupLogger(serverConfig.Logging)

	// 4. Create the engine
	engine, err := agentpg.New(ctx, connString, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close(context.Background())

	// 5. Test database connection
	logger.Info().Msg("testing database connection")
	if err := engine.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	// 6. Create MCP server with initialize lifecycle logging
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("agentpg", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	agentpg.RegisterTools(mcpServer, engine)

	// 7. Wire HTTP: health check, authorization endpoints, MCP sessions
	mux := http.NewServeMux()

	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("agentpg: health_check_path must be set when health_check_enabled is true")
		}
		// Process liveness only, not DB connectivity.
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	registry := session.NewRegistry(mcpServer, logger)

	if serverConfig.Auth.Enabled {
		authServer := oauth.NewServer(buildAuthConfig(serverConfig), logger)
		authServer.Routes(mux)
		mux.Handle("/mcp", authServer.RequireBearer(registry))
		if authServer.PasswordRequired() {
			logger.Info().Msg("authorization enabled (password gated)")
		} else {
			logger.Warn().Msg("authorization enabled without a password: authorization requests auto-approve")
		}
	} else {
		mux.Handle("/mcp", registry)
		logger.Warn().Msg("authorization disabled: /mcp accepts unauthenticated requests")
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", serverConfig.Server.Port),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()
	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting agentpg server")

	// 8. Wait for shutdown signal or listener failure, then drain
	select {
	case err := <-serveErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}
	registry.ShutdownAll()

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

func loadServerConfig() (*agentpg.ServerConfig, error) {
	configPath := os.Getenv("AGENTPG_CONFIG_PATH")
	if configPath == "" {
		configPath = ".agentpg/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config agentpg.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// The auth password should not live in the config file.
	if pw := os.Getenv("AGENTPG_AUTH_PASSWORD"); pw != "" {
		config.Auth.Password = pw
	}

	return &config, nil
}

// buildAuthConfig maps the config file's auth section onto the
// authorization server's config, applying the issuer default.
func buildAuthConfig(config *agentpg.ServerConfig) oauth.Config {
	issuer := config.Auth.BaseURL
	if issuer == "" {
		issuer = fmt.Sprintf("http://localhost:%d", config.Server.Port)
	}
	return oauth.Config{
		Issuer:        issuer,
		Password:      config.Auth.Password,
		MaxAttempts:   config.Auth.MaxAttempts,
		LockoutWindow: time.Duration(config.Auth.LockoutWindowSeconds) * time.Second,
		CodeTTL:       time.Duration(config.Auth.CodeTTLSeconds) * time.Second,
		TokenTTL:      time.Duration(config.Auth.TokenTTLSeconds) * time.Second,
	}
}

func buildConnString(conn agentpg.ConnectionConfig, username, password string) string {
	parts := []string{}
	if conn.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", conn.Host))
	}
	if conn.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", conn.Port))
	}
	if conn.DBName != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", conn.DBName))
	}
	if username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", username))
	}
	if password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", password))
	}
	if conn.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", conn.SSLMode))
	}
	return strings.Join(parts, " ")
}

func setupLogger(config agentpg.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
