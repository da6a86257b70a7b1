package interfaces

// Connection represents a live client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between transport infrastructure and business logic
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented at interface
	// level so all implementations use a single-writer pattern
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetUserID returns the connected user's ID
	GetUserID() string

	// GetRole returns the user's role (student, teacher or admin)
	GetRole() string

	// GetAttemptID returns the exam attempt this connection monitors,
	// or "" for monitor connections
	GetAttemptID() string

	// IsAuthenticated returns true once credentials are set
	IsAuthenticated() bool

	// SetCredentials sets identity after the authenticate message
	SetCredentials(userID, role, attemptID string) error
}
