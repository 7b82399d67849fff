package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// notificationBuffer bounds the per-session queue of server-to-client
// notifications awaiting delivery on the GET stream.
const notificationBuffer = 32

// transport is one live bidirectional channel between a connected client and
// the MCP server. Each transport is exclusively owned by its registry entry
// and closed exactly once; the done channel is the completion signal the
// registry watches to remove the entry.
type transport struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool

	// calls serializes inbound JSON-RPC dispatch for this session.
	calls sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newTransport() *transport {
	return &transport{
		id:            uuid.NewString(),
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
		done:          make(chan struct{}),
	}
}

// close signals completion. Safe to call from any goroutine, any number of
// times.
func (t *transport) close() {
	t.closeOnce.Do(func() { close(t.done) })
}

// SessionID implements server.ClientSession.
func (t *transport) SessionID() string { return t.id }

// NotificationChannel implements server.ClientSession.
func (t *transport) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return t.notifications
}

// Initialize implements server.ClientSession.
func (t *transport) Initialize() { t.initialized.Store(true) }

// Initialized implements server.ClientSession.
func (t *transport) Initialized() bool { return t.initialized.Load() }
