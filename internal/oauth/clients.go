package oauth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultClientName labels clients that register without a display name and
// machine clients synthesized by auto-registration.
const defaultClientName = "MCP Client"

// Client is a registered caller identity. Records are created once and never
// mutated afterwards; they live for the process lifetime.
type Client struct {
	ID           string
	Secret       string // empty for PKCE public clients
	RedirectURIs []string
	Name         string
	CreatedAt    time.Time
}

// clientRegistry is an append-only in-memory store of registered clients.
type clientRegistry struct {
	mu   sync.Mutex
	byID map[string]*Client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{byID: make(map[string]*Client)}
}

// register creates a client with a fresh identifier. At least one redirect
// URI is required for explicitly registered clients.
func (r *clientRegistry) register(redirectURIs []string, name string) (*Client, error) {
	if len(redirectURIs) == 0 {
		return nil, invalidRequest("redirect_uris is required")
	}
	if name == "" {
		name = defaultClientName
	}
	client := &Client{
		ID:           uuid.NewString(),
		RedirectURIs: redirectURIs,
		Name:         name,
		CreatedAt:    time.Now(),
	}
	r.mu.Lock()
	r.byID[client.ID] = client
	r.mu.Unlock()
	return client, nil
}

// getOrAutoRegister returns the client for id, synthesizing a record with no
// redirect URIs on first use. Supports zero-configuration machine clients on
// the client_credentials grant. An existing client is returned unchanged,
// in particular its secret is never overwritten by a later caller presenting
// the same id.
func (r *clientRegistry) getOrAutoRegister(id, secret string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.byID[id]; ok {
		return client
	}
	client := &Client{
		ID:        id,
		Secret:    secret,
		Name:      defaultClientName,
		CreatedAt: time.Now(),
	}
	r.byID[id] = client
	return client
}

// get returns the client for id, or nil.
func (r *clientRegistry) get(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}
