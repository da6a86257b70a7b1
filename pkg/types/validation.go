package types

import "regexp"

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxPayloadBytes bounds opaque payloads accepted from clients.
const maxPayloadBytes = 65536

// IsValidUserID checks if a user or device ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and keeps identifiers usable in log output
func IsValidUserID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidRole checks if the role is one of the recognized roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// IsMonitorRole reports whether the role receives monitor fan-out.
func IsMonitorRole(role string) bool {
	return role == RoleTeacher || role == RoleAdmin
}

// IsValidEventType checks if the proctoring event type is recognized.
// ARCHITECTURAL DISCOVERY: Explicit validation prevents undefined event
// types from entering the classification system
func IsValidEventType(eventType string) bool {
	switch eventType {
	case EventMultipleFaces, EventCopyPaste, EventScreenCapture,
		EventTabSwitch, EventWindowBlur, EventNoFaceDetected,
		EventSuspiciousMovement, EventIdleTime, EventRightClick,
		EventHeartbeat:
		return true
	}
	return false
}

// IsValidActionType checks if the sync action type is recognized.
func IsValidActionType(actionType string) bool {
	switch actionType {
	case ActionQuizAttempt, ActionQuizResponse, ActionProgressUpdate,
		ActionProctoring, ActionSecurityEvent, ActionQuizCompletion,
		ActionFileUpload, ActionNoteCreation:
		return true
	}
	return false
}

// IsValidPriority checks if the priority is one of the four bands.
func IsValidPriority(priority string) bool {
	return PriorityRank(priority) >= 0
}

// IsValidConnEvent checks if the connectivity transition type is recognized.
func IsValidConnEvent(eventType string) bool {
	switch eventType {
	case ConnEventConnected, ConnEventDisconnected, ConnEventReconnected,
		ConnEventPoorConnection, ConnEventNetworkError:
		return true
	}
	return false
}

// Validate ensures a queue item meets all requirements before enqueue.
func (i *SyncQueueItem) Validate() error {
	if !IsValidUserID(i.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidUserID(i.DeviceID) {
		return ErrInvalidUserID
	}
	if !IsValidActionType(i.ActionType) {
		return ErrInvalidActionType
	}
	if !IsValidPriority(i.Priority) {
		return ErrInvalidPriority
	}
	if len(i.Payload) > maxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// Validate ensures a connection log entry meets all requirements.
func (e *ConnectionLogEntry) Validate() error {
	if !IsValidUserID(e.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidUserID(e.DeviceID) {
		return ErrInvalidUserID
	}
	if !IsValidConnEvent(e.EventType) {
		return ErrInvalidConnEvent
	}
	return nil
}
