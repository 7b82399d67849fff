// Package session multiplexes streamable-HTTP MCP traffic onto per-session
// transports. A session is created by a valid initialize request carrying no
// session identifier, resumed by presenting the identifier returned in the
// Mcp-Session-Id response header, and destroyed on explicit termination or
// process shutdown. Identifiers are never reused.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// HeaderSessionID is the HTTP header carrying the session identifier.
const HeaderSessionID = "Mcp-Session-Id"

// ErrSessionNotFound is returned by Close for unknown session identifiers.
var ErrSessionNotFound = errors.New("session not found")

// Registry maps session identifiers to live transports and routes inbound
// HTTP requests to them. It is the single owner of session lifecycle state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*transport
	srv      *server.MCPServer
	logger   zerolog.Logger
}

// NewRegistry creates a Registry dispatching to the given MCP server.
func NewRegistry(srv *server.MCPServer, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*transport),
		srv:      srv,
		logger:   logger,
	}
}

// ServeHTTP implements the /mcp endpoint: POST for JSON-RPC calls, GET for
// the long-lived notification stream, DELETE for explicit termination.
func (rg *Registry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rg.handlePost(w, r)
	case http.MethodGet:
		rg.handleGet(w, r)
	case http.MethodDelete:
		rg.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rg *Registry) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if sid := r.Header.Get(HeaderSessionID); sid != "" {
		tr := rg.lookup(sid)
		if tr == nil {
			writeRPCError(w, http.StatusBadRequest, "no valid session")
			return
		}
		rg.dispatch(w, r.Context(), tr, body)
		return
	}

	// No session identifier: only a valid initialize request may create one.
	if !isInitializeRequest(body) {
		writeRPCError(w, http.StatusBadRequest, "no valid session: expected an initialize request")
		return
	}
	rg.createSession(w, r.Context(), body)
}

// createSession builds a fresh transport, runs the initialize request
// through the MCP server, and registers the session only once initialization
// succeeds. Creation is a single check-then-insert under the registry lock
// so two concurrent initialize calls cannot race into one identifier.
func (rg *Registry) createSession(w http.ResponseWriter, ctx context.Context, body []byte) {
	tr := newTransport()
	if err := rg.srv.RegisterSession(ctx, tr); err != nil {
		rg.logger.Error().Err(err).Msg("failed to register MCP session")
		writeRPCError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	resp := rg.srv.HandleMessage(rg.srv.WithContext(ctx, tr), body)
	if isErrorMessage(resp) {
		rg.srv.UnregisterSession(ctx, tr.id)
		writeMessage(w, resp, "")
		return
	}
	tr.Initialize()

	rg.mu.Lock()
	rg.sessions[tr.id] = tr
	rg.mu.Unlock()
	go rg.watch(tr)

	rg.logger.Info().Str("session_id", tr.id).Msg("session created")
	writeMessage(w, resp, tr.id)
}

// dispatch routes one JSON-RPC message to an existing session. Calls for a
// given session are serialized by the transport.
func (rg *Registry) dispatch(w http.ResponseWriter, ctx context.Context, tr *transport, body []byte) {
	tr.calls.Lock()
	resp := rg.srv.HandleMessage(rg.srv.WithContext(ctx, tr), body)
	tr.calls.Unlock()

	if resp == nil {
		// Notification: nothing to send back.
		w.Header().Set(HeaderSessionID, tr.id)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeMessage(w, resp, tr.id)
}

// handleGet opens the long-lived SSE stream delivering server notifications
// for an existing session.
func (rg *Registry) handleGet(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		writeRPCError(w, http.StatusBadRequest, "no valid session")
		return
	}
	tr := rg.lookup(sid)
	if tr == nil {
		writeRPCError(w, http.StatusBadRequest, "no valid session")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(HeaderSessionID, tr.id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case notification := <-tr.notifications:
			data, err := json.Marshal(notification)
			if err != nil {
				rg.logger.Error().Err(err).Str("session_id", tr.id).Msg("failed to marshal notification")
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-tr.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (rg *Registry) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		writeRPCError(w, http.StatusBadRequest, "no valid session")
		return
	}
	if err := rg.Close(sid); err != nil {
		writeRPCError(w, http.StatusBadRequest, "no valid session")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Close terminates the session explicitly. The transport's completion signal
// triggers the same removal path as a client disconnect.
func (rg *Registry) Close(sid string) error {
	tr := rg.lookup(sid)
	if tr == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	tr.close()
	return nil
}

// ShutdownAll closes every registered session, best-effort, then clears the
// registry. Used only during process shutdown.
func (rg *Registry) ShutdownAll() {
	rg.mu.Lock()
	remaining := rg.sessions
	rg.sessions = make(map[string]*transport)
	rg.mu.Unlock()

	for id, tr := range remaining {
		tr.close()
		rg.srv.UnregisterSession(context.Background(), id)
		rg.logger.Info().Str("session_id", id).Msg("session closed (shutdown)")
	}
}

// Count returns the number of live sessions.
func (rg *Registry) Count() int {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return len(rg.sessions)
}

func (rg *Registry) lookup(sid string) *transport {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.sessions[sid]
}

// watch removes the session once its transport signals completion. The
// registry subscribes exactly once, at creation.
func (rg *Registry) watch(tr *transport) {
	<-tr.done

	rg.mu.Lock()
	_, present := rg.sessions[tr.id]
	delete(rg.sessions, tr.id)
	rg.mu.Unlock()

	if present {
		rg.srv.UnregisterSession(context.Background(), tr.id)
		rg.logger.Info().Str("session_id", tr.id).Msg("session closed")
	}
}

// isInitializeRequest reports whether body is a JSON-RPC initialize request.
func isInitializeRequest(body []byte) bool {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Method == string(mcp.MethodInitialize)
}

// isErrorMessage reports whether the MCP server's reply is a JSON-RPC error.
func isErrorMessage(msg mcp.JSONRPCMessage) bool {
	switch msg.(type) {
	case mcp.JSONRPCError, *mcp.JSONRPCError:
		return true
	}
	return false
}

func writeMessage(w http.ResponseWriter, msg mcp.JSONRPCMessage, sid string) {
	data, err := json.Marshal(msg)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if sid != "" {
		w.Header().Set(HeaderSessionID, sid)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeRPCError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":%q}}`, mcp.INVALID_REQUEST, "Bad Request: "+message)
}
