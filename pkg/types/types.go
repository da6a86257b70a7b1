package types

import (
	"encoding/json"
	"time"
)

// User roles recognized by the registry and fan-out
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Inbound envelope types
// ARCHITECTURAL DISCOVERY: Message type constants defined exactly as specified
// to ensure compatibility with all dispatch logic across the system
const (
	MessageTypeAuthenticate    = "authenticate"
	MessageTypeJoinExam        = "join_exam"
	MessageTypeLeaveExam       = "leave_exam"
	MessageTypeProctoringEvent = "proctoring_event"
	MessageTypeExamProgress    = "exam_progress"
	MessageTypePing            = "ping"
)

// Outbound envelope types
const (
	MessageTypeAuthSuccess       = "authentication_success"
	MessageTypeStudentJoined     = "student_joined"
	MessageTypeStudentLeft       = "student_left"
	MessageTypeProctoringAlert   = "proctoring_alert"
	MessageTypeNotification      = "notification"
	MessageTypePong              = "pong"
	MessageTypeHeartbeatResponse = "heartbeat_response"
	MessageTypeExamPaused        = "exam_paused"
)

// Envelope is the bidirectional wire format for all transport messages
// TECHNICAL DISCOVERY: Data as json.RawMessage defers payload decoding until
// the envelope type is known, so one malformed payload never aborts dispatch
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope builds an outbound envelope, marshaling the payload immediately
// so encoding errors surface at the send site rather than inside the writer.
func NewEnvelope(msgType string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return &Envelope{Type: msgType, Data: raw}, nil
}

// Proctoring event types
const (
	EventMultipleFaces      = "multiple_faces"
	EventCopyPaste          = "copy_paste"
	EventScreenCapture      = "screen_capture"
	EventTabSwitch          = "tab_switch"
	EventWindowBlur         = "window_blur"
	EventNoFaceDetected     = "no_face_detected"
	EventSuspiciousMovement = "suspicious_movement"
	EventIdleTime           = "idle_time"
	EventRightClick         = "right_click"
	EventHeartbeat          = "heartbeat"
)

// Violation severity levels
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Violation is an immutable record of one detected integrity event.
// FUNCTIONAL DISCOVERY: Severity and AutoFlagged are derived deterministically
// by the classifier and never set by callers
type Violation struct {
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	AutoFlagged bool      `json:"auto_flagged"`
}

// ProctoringEvent is the decoded payload of a proctoring_event message.
type ProctoringEvent struct {
	UserID    string                 `json:"user_id"`
	AttemptID string                 `json:"attempt_id"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
}

// ProctoringLogEntry is the durable form of a Violation, linked to an attempt.
// Created whenever a violation occurs; mutated only by a human resolving it.
type ProctoringLogEntry struct {
	ID          string     `json:"id" db:"id"`
	AttemptID   string     `json:"attempt_id" db:"attempt_id"`
	Type        string     `json:"type" db:"type"`
	Severity    string     `json:"severity" db:"severity"`
	Description string     `json:"description" db:"description"`
	AutoFlagged bool       `json:"auto_flagged" db:"auto_flagged"`
	Timestamp   time.Time  `json:"timestamp" db:"timestamp"`
	Resolved    bool       `json:"resolved" db:"resolved"`
	ResolvedBy  *string    `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Notes       string     `json:"notes" db:"notes"`
}

// Exam attempt status values
const (
	AttemptInProgress = "in_progress"
	AttemptPaused     = "paused"
	AttemptCompleted  = "completed"
)

// ExamAttempt is the core exam-taking record whose status the session
// manager transitions. Progress counters are updated by exam_progress
// messages and offline progress_update replays.
type ExamAttempt struct {
	ID                string          `json:"id" db:"id"`
	StudentID         string          `json:"student_id" db:"student_id"`
	QuizID            string          `json:"quiz_id" db:"quiz_id"`
	Status            string          `json:"status" db:"status"`
	CurrentQuestion   int             `json:"current_question" db:"current_question"`
	QuestionsAnswered int             `json:"questions_answered" db:"questions_answered"`
	TimeSpent         int64           `json:"time_spent" db:"time_spent"`
	StartedAt         time.Time       `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	Summary           *SessionSummary `json:"summary,omitempty" db:"summary"`
}

// SessionSummary is persisted on the attempt when a monitoring session ends.
type SessionSummary struct {
	StartTime              time.Time `json:"start_time"`
	EndTime                time.Time `json:"end_time"`
	DurationSeconds        int64     `json:"duration_seconds"`
	TotalViolations        int       `json:"total_violations"`
	HighSeverityViolations int       `json:"high_severity_violations"`
	ViolationTypes         []string  `json:"violation_types"`
}

// QuizResponse is one saved answer, written live or replayed from the
// offline queue.
type QuizResponse struct {
	ID         string    `json:"id" db:"id"`
	AttemptID  string    `json:"attempt_id" db:"attempt_id"`
	QuestionID string    `json:"question_id" db:"question_id"`
	Answer     string    `json:"answer" db:"answer"`
	AnsweredAt time.Time `json:"answered_at" db:"answered_at"`
}

// Sync action types
const (
	ActionQuizAttempt    = "quiz_attempt"
	ActionQuizResponse   = "quiz_response"
	ActionProgressUpdate = "progress_update"
	ActionProctoring     = "proctoring_event"
	ActionSecurityEvent  = "security_event"
	ActionQuizCompletion = "quiz_completion"
	ActionFileUpload     = "file_upload"
	ActionNoteCreation   = "note_creation"
)

// Sync item priorities
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Sync item statuses
// FUNCTIONAL DISCOVERY: Transitions are pending→syncing→{completed|pending|failed};
// failed is terminal once retry_count reaches max_retries
const (
	SyncPending   = "pending"
	SyncSyncing   = "syncing"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

// DefaultMaxRetries bounds replay attempts for one queue item.
const DefaultMaxRetries = 3

// SyncQueueItem is one durable unit of deferred work recorded while a client
// was offline. Payload is opaque to the queue and interpreted only by the
// action handler matching ActionType.
type SyncQueueItem struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	DeviceID        string          `json:"device_id" db:"device_id"`
	ActionType      string          `json:"action_type" db:"action_type"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	ClientTimestamp time.Time       `json:"client_timestamp" db:"client_timestamp"`
	Priority        string          `json:"priority" db:"priority"`
	Status          string          `json:"status" db:"status"`
	RetryCount      int             `json:"retry_count" db:"retry_count"`
	MaxRetries      int             `json:"max_retries" db:"max_retries"`
	ErrorMessage    string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// PriorityRank maps a priority to its processing precedence (higher first).
// TECHNICAL DISCOVERY: Unknown priorities rank below low so a bad client
// value degrades ordering instead of failing the pass
func PriorityRank(priority string) int {
	switch priority {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Connectivity transition types
const (
	ConnEventConnected      = "connected"
	ConnEventDisconnected   = "disconnected"
	ConnEventReconnected    = "reconnected"
	ConnEventPoorConnection = "poor_connection"
	ConnEventNetworkError   = "network_error"
)

// ConnectionContext snapshots attempt state at the moment of a connectivity
// transition, for teacher-facing context on disconnect notifications.
type ConnectionContext struct {
	CurrentQuestion   int   `json:"current_question"`
	QuestionsAnswered int   `json:"questions_answered"`
	TimeRemaining     int64 `json:"time_remaining"`
	OfflineDuration   int64 `json:"offline_duration"`
}

// ConnectionLogEntry is an append-only record of one connectivity transition
// for a (user, device, session).
type ConnectionLogEntry struct {
	ID        string             `json:"id" db:"id"`
	UserID    string             `json:"user_id" db:"user_id"`
	DeviceID  string             `json:"device_id" db:"device_id"`
	SessionID string             `json:"session_id" db:"session_id"`
	EventType string             `json:"event_type" db:"event_type"`
	AttemptID *string            `json:"attempt_id,omitempty" db:"attempt_id"`
	Context   *ConnectionContext `json:"context,omitempty" db:"context"`
	Timestamp time.Time          `json:"timestamp" db:"timestamp"`
}

// DeviceSyncStatus is one row per (user, device), upserted on every
// telemetry event and after every sync pass.
type DeviceSyncStatus struct {
	UserID          string    `json:"user_id" db:"user_id"`
	DeviceID        string    `json:"device_id" db:"device_id"`
	SupportsOffline bool      `json:"supports_offline" db:"supports_offline"`
	StorageCapacity int64     `json:"storage_capacity" db:"storage_capacity"`
	StorageUsed     int64     `json:"storage_used" db:"storage_used"`
	PendingActions  int       `json:"pending_actions" db:"pending_actions"`
	SyncErrors      int       `json:"sync_errors" db:"sync_errors"`
	LastSeenAt      time.Time `json:"last_seen_at" db:"last_seen_at"`
	LastSyncAt      time.Time `json:"last_sync_at" db:"last_sync_at"`
}

// TeacherNotification is created automatically when a student disconnects
// during an active attempt, one per resolved teacher for the quiz.
type TeacherNotification struct {
	ID               string                 `json:"id" db:"id"`
	TeacherID        string                 `json:"teacher_id" db:"teacher_id"`
	StudentID        string                 `json:"student_id" db:"student_id"`
	QuizID           string                 `json:"quiz_id" db:"quiz_id"`
	NotificationType string                 `json:"notification_type" db:"notification_type"`
	Severity         string                 `json:"severity" db:"severity"`
	Read             bool                   `json:"read" db:"read"`
	ReadAt           *time.Time             `json:"read_at,omitempty" db:"read_at"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
}

// Notification is a student-facing notice (for example one per recorded
// violation).
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SecurityLogEntry records a replayed security_event action for audit.
type SecurityLogEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	DeviceID  string          `json:"device_id" db:"device_id"`
	Details   json.RawMessage `json:"details" db:"details"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Analysis is the structured result returned by the external content
// classifier for ambiguous events.
type Analysis struct {
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
	AutoFlag       bool   `json:"auto_flag"`
}

// ExamProgress is the decoded payload of an exam_progress message, relayed
// to monitors as-is.
type ExamProgress struct {
	UserID            string `json:"user_id"`
	AttemptID         string `json:"attempt_id"`
	QuizID            string `json:"quiz_id"`
	CurrentQuestion   int    `json:"current_question"`
	QuestionsAnswered int    `json:"questions_answered"`
	TotalQuestions    int    `json:"total_questions"`
	TimeSpent         int64  `json:"time_spent"`
}
