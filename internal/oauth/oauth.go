// Package oauth implements a minimal, self-contained OAuth-style authorization
// server for a single-operator deployment: dynamic client registration,
// password-gated authorization codes with PKCE, client-credentials issuance,
// and code-for-token exchange. Brute-force attempts against the password are
// rate limited per caller, and all secret comparisons are constant-time.
//
// This is intentionally not a full OAuth 2.0 server. There are no refresh
// tokens, no persistent client store, and issued bearer tokens are opaque
// proofs of a completed exchange rather than introspectable credentials.
// All state is in memory and lost on restart.
package oauth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied by NewServer for zero-valued config fields.
const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
	DefaultCodeTTL       = 60 * time.Second
	DefaultTokenTTL      = 7 * 24 * time.Hour
)

// Config holds the authorization server configuration.
type Config struct {
	// Issuer is the public base URL used in discovery documents,
	// e.g. "http://localhost:8432". Required.
	Issuer string

	// Password gates the interactive authorize step. When empty, the
	// authorize endpoint auto-approves every request.
	Password string

	// MaxAttempts is the number of consecutive password failures from one
	// caller before a lockout. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// LockoutWindow is how long a locked-out caller must wait.
	// Defaults to DefaultLockoutWindow.
	LockoutWindow time.Duration

	// CodeTTL is the authorization code lifetime. Defaults to DefaultCodeTTL.
	CodeTTL time.Duration

	// TokenTTL is the bearer token lifetime reported to clients.
	// Defaults to DefaultTokenTTL.
	TokenTTL time.Duration
}

// Server is the composition root for the authorization flow. All state
// (registered clients, pending codes, rate-limit counters) is owned here;
// construct a fresh Server per test to get fresh state.
type Server struct {
	cfg     Config
	clients *clientRegistry
	codes   *codeStore
	limiter *attemptLimiter
	logger  zerolog.Logger
}

// NewServer creates an authorization server. Panics if Issuer is empty
// (programmer error: discovery documents and redirects cannot be built
// without a public base URL).
func NewServer(cfg Config, logger zerolog.Logger) *Server {
	if cfg.Issuer == "" {
		panic("oauth: Config.Issuer must be non-empty")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = DefaultLockoutWindow
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Server{
		cfg:     cfg,
		clients: newClientRegistry(),
		codes:   newCodeStore(cfg.CodeTTL),
		limiter: newAttemptLimiter(cfg.MaxAttempts, cfg.LockoutWindow),
		logger:  logger,
	}
}

// PasswordRequired reports whether the authorize step prompts for a password.
func (s *Server) PasswordRequired() bool {
	return s.cfg.Password != ""
}

// Error is an OAuth-style error carrying the wire-level error code and the
// HTTP status it maps to. None of these are fatal to the process; all are
// surfaced to the caller as structured responses.
type Error struct {
	Code        string // e.g. "invalid_grant"
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Code: "invalid_request", Description: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

func invalidGrant(format string, args ...any) *Error {
	return &Error{Code: "invalid_grant", Description: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

func unsupportedGrantType(grantType string) *Error {
	return &Error{Code: "unsupported_grant_type", Description: fmt.Sprintf("grant type %q is not supported", grantType), Status: http.StatusBadRequest}
}

func unauthorized(description string) *Error {
	return &Error{Code: "unauthorized", Description: description, Status: http.StatusUnauthorized}
}

func rateLimited(description string) *Error {
	return &Error{Code: "rate_limited", Description: description, Status: http.StatusTooManyRequests}
}
