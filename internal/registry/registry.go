package registry

import (
	"sync"

	"go.uber.org/zap"

	"proctorboard/pkg/interfaces"
)

// DisconnectHandler is notified after a connection leaves the registry.
// ARCHITECTURAL DISCOVERY: This hook is the single coupling point between
// the registry and the session manager - an unregistered identity must have
// its monitoring session told to end
type DisconnectHandler interface {
	ConnectionLost(userID, role, attemptID string)
}

// Registry tracks live connections keyed by user identity with a role index
// for monitor broadcast.
// TECHNICAL DISCOVERY: RWMutex optimizes for the read-heavy Send/Broadcast
// path; no lock is ever held across connection I/O
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]interfaces.Connection            // userID -> connection
	byRole map[string]map[string]interfaces.Connection // role -> userID -> connection

	onDisconnect DisconnectHandler
	logger       *zap.Logger
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil access during
// concurrent operations
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]interfaces.Connection),
		byRole: make(map[string]map[string]interfaces.Connection),
		logger: logger,
	}
}

// SetDisconnectHandler installs the session-manager coupling hook. Must be
// called during wiring, before any connection registers.
func (r *Registry) SetDisconnectHandler(h DisconnectHandler) {
	r.onDisconnect = h
}

// Register adds a connection to the identity and role maps atomically.
// FUNCTIONAL DISCOVERY: An existing connection for the same identity is
// closed asynchronously so registration never blocks on peer I/O
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	userID := conn.GetUserID()
	role := conn.GetRole()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[userID]; ok {
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Warn("failed to close replaced connection",
					zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}

	r.conns[userID] = conn

	if r.byRole[role] == nil {
		r.byRole[role] = make(map[string]interfaces.Connection)
	}
	r.byRole[role][userID] = conn

	return nil
}

// Unregister removes a specific connection from all maps and fires the
// disconnect hook.
// FUNCTIONAL DISCOVERY: Idempotent, and only removes the connection if it
// is the instance currently registered - a replaced connection cleaning
// itself up must not evict its successor
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	userID := conn.GetUserID()

	r.mu.Lock()
	registered, ok := r.conns[userID]
	if !ok || registered != conn {
		r.mu.Unlock()
		return
	}

	role := conn.GetRole()
	attemptID := conn.GetAttemptID()

	delete(r.conns, userID)
	if members, ok := r.byRole[role]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.byRole, role)
		}
	}
	handler := r.onDisconnect
	r.mu.Unlock()

	// Hook fires outside the lock: ending a session persists a summary,
	// which must not block registry operations for other identities.
	if handler != nil {
		handler.ConnectionLost(userID, role, attemptID)
	}
}

// Send delivers a message to one identity. A missing or unwritable
// connection is a no-op, not an error.
func (r *Registry) Send(userID string, v interface{}) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	if err := conn.WriteJSON(v); err != nil {
		r.logger.Debug("dropped message to disconnected peer",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// BroadcastToRole delivers a message to every connection with the given
// role, best-effort.
// FUNCTIONAL DISCOVERY: Connections are snapshotted under the read lock and
// written outside it so one slow monitor cannot stall the registry
func (r *Registry) BroadcastToRole(role string, v interface{}) {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.byRole[role]))
	for _, conn := range r.byRole[role] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(v); err != nil {
			r.logger.Debug("dropped broadcast to disconnected peer",
				zap.String("user_id", conn.GetUserID()), zap.Error(err))
		}
	}
}

// GetConnection returns the current connection for an identity.
func (r *Registry) GetConnection(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{"total_connections": len(r.conns)}
	for role, members := range r.byRole {
		stats["role_"+role] = len(members)
	}
	return stats
}
