package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proctorboard/internal/classifier"
	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// Store is the persistence surface the session manager consumes.
type Store interface {
	GetAttempt(ctx context.Context, attemptID string) (*types.ExamAttempt, error)
	UpdateAttemptStatus(ctx context.Context, attemptID, status string) error
	SaveAttemptSummary(ctx context.Context, attemptID string, summary *types.SessionSummary) error
	CreateProctoringLog(ctx context.Context, entry *types.ProctoringLogEntry) error
	CreateNotification(ctx context.Context, n *types.Notification) error
}

// Notifier is the monitor fan-out capability.
type Notifier interface {
	NotifyMonitors(quizID, msgType string, event interface{})
}

// Sender delivers a message to one connected identity, best-effort.
type Sender interface {
	Send(userID string, v interface{})
}

// Alert is the fan-out payload for one recorded violation.
type Alert struct {
	AttemptID string          `json:"attempt_id"`
	StudentID string          `json:"student_id"`
	Violation types.Violation `json:"violation"`
}

// Manager owns the lifecycle of monitoring sessions, one per in-progress
// exam attempt.
// ARCHITECTURAL DISCOVERY: The attempt's mutable status field is written
// only here, serialized through per-session sequential processing - no
// other component transitions attempt status concurrently
type Manager struct {
	store      Store
	classifier *classifier.Classifier
	fanout     Notifier
	sender     Sender
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // attemptID -> session
}

// NewManager creates a proctoring session manager.
func NewManager(store Store, cls *classifier.Classifier, fanout Notifier, sender Sender, logger *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		classifier: cls,
		fanout:     fanout,
		sender:     sender,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// StartSession transitions an attempt from NoSession to Active on its first
// proctoring connection.
// FUNCTIONAL DISCOVERY: At most one active session per attempt - a second
// join for a live attempt returns the existing session, mirroring the
// registry's connection-replacement behavior
func (m *Manager) StartSession(ctx context.Context, attemptID, userID string) (*Session, error) {
	attempt, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}
	if attempt.StudentID != userID {
		return nil, interfaces.ErrUnauthorized
	}
	if attempt.Status == types.AttemptCompleted {
		return nil, ErrSessionEnded
	}

	m.mu.Lock()
	if existing, ok := m.sessions[attemptID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	session := newSession(attemptID, attempt.StudentID, attempt.QuizID)
	m.sessions[attemptID] = session
	m.mu.Unlock()

	go m.run(session)

	m.logger.Info("proctoring session started",
		zap.String("attempt_id", attemptID),
		zap.String("student_id", session.StudentID),
		zap.String("quiz_id", session.QuizID))

	m.fanout.NotifyMonitors(session.QuizID, types.MessageTypeStudentJoined, map[string]string{
		"attempt_id": attemptID,
		"student_id": session.StudentID,
	})

	return session, nil
}

// HandleEvent routes one inbound event to its session. Heartbeats are
// answered immediately and never enter the classification queue.
func (m *Manager) HandleEvent(event *types.ProctoringEvent) error {
	if event == nil || event.AttemptID == "" || event.EventType == "" {
		return ErrInvalidEvent
	}

	m.mu.RLock()
	session, ok := m.sessions[event.AttemptID]
	m.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}

	// FUNCTIONAL DISCOVERY: Heartbeat responses bypass the session queue so
	// liveness checks are never starved by slower violation processing
	if event.EventType == types.EventHeartbeat {
		if envelope, err := types.NewEnvelope(types.MessageTypeHeartbeatResponse, map[string]interface{}{
			"attempt_id": event.AttemptID,
			"timestamp":  time.Now(),
		}); err == nil {
			m.sender.Send(session.StudentID, envelope)
		}
		return nil
	}

	if err := session.enqueue(event); err != nil {
		m.logger.Warn("dropped proctoring event",
			zap.String("attempt_id", event.AttemptID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return err
	}
	return nil
}

// EndSession transitions Active to Ended: remaining queued events are
// processed, then the summary is computed and persisted on the attempt.
func (m *Manager) EndSession(ctx context.Context, attemptID string) error {
	m.mu.Lock()
	session, ok := m.sessions[attemptID]
	if ok {
		delete(m.sessions, attemptID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	done := make(chan struct{})
	if !session.finish(done) {
		return ErrSessionEnded
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.fanout.NotifyMonitors(session.QuizID, types.MessageTypeStudentLeft, map[string]string{
		"attempt_id": attemptID,
		"student_id": session.StudentID,
	})

	return nil
}

// ConnectionLost implements registry.DisconnectHandler: an unregistered
// student identity has its session ended.
func (m *Manager) ConnectionLost(userID, role, attemptID string) {
	if role != types.RoleStudent || attemptID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.EndSession(ctx, attemptID); err != nil && err != ErrSessionNotFound {
		m.logger.Warn("failed to end session on disconnect",
			zap.String("attempt_id", attemptID), zap.Error(err))
	}
}

// ActiveSession returns the live session for an attempt, if any.
func (m *Manager) ActiveSession(attemptID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[attemptID]
	return session, ok
}

// ActiveAttempts returns the attempt IDs with live sessions, for shutdown.
func (m *Manager) ActiveAttempts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempts := make([]string, 0, len(m.sessions))
	for attemptID := range m.sessions {
		attempts = append(attempts, attemptID)
	}
	return attempts
}

// Stats returns session counters for the health endpoint.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{"active_sessions": len(m.sessions)}
}

// IngestOffline feeds a replayed offline proctoring event through the same
// classify-and-persist path used for live events. Synchronous so the sync
// queue can retry on persistence failure.
func (m *Manager) IngestOffline(ctx context.Context, event *types.ProctoringEvent) error {
	if event == nil || event.AttemptID == "" || event.EventType == "" {
		return ErrInvalidEvent
	}

	attempt, err := m.store.GetAttempt(ctx, event.AttemptID)
	if err != nil {
		return fmt.Errorf("failed to load attempt %s: %w", event.AttemptID, err)
	}

	sctx := classifier.SessionContext{
		AttemptID: attempt.ID,
		StudentID: attempt.StudentID,
		QuizID:    attempt.QuizID,
	}

	v := m.classifier.Classify(ctx, event, sctx)
	if v == nil {
		return nil
	}

	if err := m.store.CreateProctoringLog(ctx, logEntry(event.AttemptID, v)); err != nil {
		return fmt.Errorf("failed to persist replayed violation: %w", err)
	}

	m.fanout.NotifyMonitors(attempt.QuizID, types.MessageTypeProctoringAlert, Alert{
		AttemptID: event.AttemptID,
		StudentID: attempt.StudentID,
		Violation: *v,
	})

	return nil
}

// run is the per-session processing loop.
func (m *Manager) run(session *Session) {
	for msg := range session.inbox {
		if msg.end {
			m.closeSession(session)
			close(msg.done)
			return
		}
		m.processEvent(session, msg.event)
	}
}

// processEvent classifies one event and applies its consequences in order:
// record, persist, fan out, notify the student, auto-pause on immediate
// alerts.
// FUNCTIONAL DISCOVERY: Persistence failures are logged and skipped - losing
// one violation record is less harmful than killing the monitoring session
func (m *Manager) processEvent(session *Session, event *types.ProctoringEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sctx := classifier.SessionContext{
		AttemptID: session.AttemptID,
		StudentID: session.StudentID,
		QuizID:    session.QuizID,
	}

	v := m.classifier.Classify(ctx, event, sctx)
	if v == nil {
		return
	}

	session.addViolation(*v)

	if err := m.store.CreateProctoringLog(ctx, logEntry(session.AttemptID, v)); err != nil {
		m.logger.Error("failed to persist violation log",
			zap.String("attempt_id", session.AttemptID),
			zap.String("type", v.Type),
			zap.Error(err))
	}

	m.fanout.NotifyMonitors(session.QuizID, types.MessageTypeProctoringAlert, Alert{
		AttemptID: session.AttemptID,
		StudentID: session.StudentID,
		Violation: *v,
	})

	if err := m.store.CreateNotification(ctx, &types.Notification{
		ID:        uuid.New().String(),
		UserID:    session.StudentID,
		Type:      "proctoring_violation",
		Title:     "Proctoring alert",
		Message:   v.Description,
		CreatedAt: time.Now(),
	}); err != nil {
		m.logger.Warn("failed to persist student notification",
			zap.String("attempt_id", session.AttemptID), zap.Error(err))
	}

	if v.Severity == types.SeverityHigh && isImmediateAlert(v.Type) {
		m.pauseAttempt(ctx, session, v)
	}
}

// isImmediateAlert selects the violation types that pause the attempt.
func isImmediateAlert(violationType string) bool {
	return violationType == types.EventMultipleFaces || violationType == types.EventScreenCapture
}

// pauseAttempt transitions the attempt to paused and pushes the pause
// message to the student's own connection.
func (m *Manager) pauseAttempt(ctx context.Context, session *Session, v *types.Violation) {
	if err := m.store.UpdateAttemptStatus(ctx, session.AttemptID, types.AttemptPaused); err != nil {
		m.logger.Error("failed to pause attempt",
			zap.String("attempt_id", session.AttemptID), zap.Error(err))
		return
	}

	m.logger.Info("attempt paused on high-severity violation",
		zap.String("attempt_id", session.AttemptID),
		zap.String("type", v.Type))

	if envelope, err := types.NewEnvelope(types.MessageTypeExamPaused, map[string]string{
		"attempt_id": session.AttemptID,
		"reason":     v.Description,
	}); err == nil {
		m.sender.Send(session.StudentID, envelope)
	}
}

// closeSession computes and persists the end-of-session summary.
func (m *Manager) closeSession(session *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary := session.summarize(time.Now())
	if err := m.store.SaveAttemptSummary(ctx, session.AttemptID, summary); err != nil {
		m.logger.Error("failed to persist session summary",
			zap.String("attempt_id", session.AttemptID), zap.Error(err))
	}

	m.logger.Info("proctoring session ended",
		zap.String("attempt_id", session.AttemptID),
		zap.Int("total_violations", summary.TotalViolations),
		zap.Int("high_severity", summary.HighSeverityViolations))
}

func logEntry(attemptID string, v *types.Violation) *types.ProctoringLogEntry {
	return &types.ProctoringLogEntry{
		ID:          uuid.New().String(),
		AttemptID:   attemptID,
		Type:        v.Type,
		Severity:    v.Severity,
		Description: v.Description,
		AutoFlagged: v.AutoFlagged,
		Timestamp:   v.Timestamp,
	}
}
