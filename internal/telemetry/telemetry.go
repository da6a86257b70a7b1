package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// Store is the persistence surface the telemetry service consumes.
type Store interface {
	CreateConnectionLog(ctx context.Context, entry *types.ConnectionLogEntry) error
	UpsertDeviceSyncStatus(ctx context.Context, status *types.DeviceSyncStatus) error
	GetAttempt(ctx context.Context, attemptID string) (*types.ExamAttempt, error)
	CreateTeacherNotification(ctx context.Context, n *types.TeacherNotification) error
}

// Service records connectivity transitions and per-device sync state, and
// notifies teachers when a student drops during an active attempt.
type Service struct {
	store     Store
	directory interfaces.TeacherDirectory
	logger    *zap.Logger
}

// NewService creates a telemetry service.
func NewService(store Store, directory interfaces.TeacherDirectory, logger *zap.Logger) *Service {
	return &Service{store: store, directory: directory, logger: logger}
}

// LogConnectionEvent persists one connectivity transition. A disconnect
// tied to an exam attempt synchronously creates one TeacherNotification per
// resolved teacher for that quiz.
func (s *Service) LogConnectionEvent(ctx context.Context, entry *types.ConnectionLogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := s.store.CreateConnectionLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist connection log: %w", err)
	}

	if entry.EventType == types.ConnEventDisconnected && entry.AttemptID != nil {
		if err := s.notifyTeachers(ctx, entry); err != nil {
			// FUNCTIONAL DISCOVERY: Notification failures never invalidate the
			// already-persisted connection log
			s.logger.Warn("failed to notify teachers of disconnect",
				zap.String("user_id", entry.UserID),
				zap.String("attempt_id", *entry.AttemptID),
				zap.Error(err))
		}
	}

	return nil
}

// notifyTeachers resolves the quiz's teacher set and creates one
// notification per teacher with attempt context captured at disconnect time.
func (s *Service) notifyTeachers(ctx context.Context, entry *types.ConnectionLogEntry) error {
	attempt, err := s.store.GetAttempt(ctx, *entry.AttemptID)
	if err != nil {
		return fmt.Errorf("failed to load attempt: %w", err)
	}

	teachers, err := s.directory.TeachersForQuiz(ctx, attempt.QuizID)
	if err != nil {
		return fmt.Errorf("failed to resolve teachers for quiz %s: %w", attempt.QuizID, err)
	}

	metadata := map[string]interface{}{
		"attempt_id": attempt.ID,
		"device_id":  entry.DeviceID,
	}
	if entry.Context != nil {
		metadata["current_question"] = entry.Context.CurrentQuestion
		metadata["questions_answered"] = entry.Context.QuestionsAnswered
		metadata["time_remaining"] = entry.Context.TimeRemaining
		metadata["offline_duration"] = entry.Context.OfflineDuration
	}

	for _, teacherID := range teachers {
		n := &types.TeacherNotification{
			ID:               uuid.New().String(),
			TeacherID:        teacherID,
			StudentID:        entry.UserID,
			QuizID:           attempt.QuizID,
			NotificationType: "student_disconnected",
			Severity:         types.SeverityHigh,
			Metadata:         metadata,
			CreatedAt:        time.Now(),
		}
		if err := s.store.CreateTeacherNotification(ctx, n); err != nil {
			return fmt.Errorf("failed to create teacher notification for %s: %w", teacherID, err)
		}
	}

	s.logger.Info("teachers notified of student disconnect",
		zap.String("student_id", entry.UserID),
		zap.String("quiz_id", attempt.QuizID),
		zap.Int("teachers", len(teachers)))

	return nil
}

// UpdateDeviceSyncStatus upserts the per-device row keyed by
// (user, device): insert if absent, else merge fields and bump last_seen_at.
func (s *Service) UpdateDeviceSyncStatus(ctx context.Context, status *types.DeviceSyncStatus) error {
	if !types.IsValidUserID(status.UserID) || !types.IsValidUserID(status.DeviceID) {
		return types.ErrInvalidUserID
	}
	if status.LastSeenAt.IsZero() {
		status.LastSeenAt = time.Now()
	}

	if err := s.store.UpsertDeviceSyncStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to upsert device sync status: %w", err)
	}
	return nil
}
