package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// DomainStore is the persistence surface the action handlers replay against.
type DomainStore interface {
	GetAttempt(ctx context.Context, attemptID string) (*types.ExamAttempt, error)
	CreateAttempt(ctx context.Context, attempt *types.ExamAttempt) error
	UpdateAttemptProgress(ctx context.Context, attemptID string, currentQuestion, questionsAnswered int, timeSpent int64) error
	FinalizeAttempt(ctx context.Context, attemptID string) error
	SaveQuizResponse(ctx context.Context, response *types.QuizResponse) error
	CreateSecurityLog(ctx context.Context, entry *types.SecurityLogEntry) error
}

// ProctoringIngestor feeds replayed proctoring events into the live
// classify-and-persist path.
type ProctoringIngestor interface {
	IngestOffline(ctx context.Context, event *types.ProctoringEvent) error
}

// Dispatcher routes queue items to their domain handler by action type.
// FUNCTIONAL DISCOVERY: An unknown action type is an error for that single
// item only - it never aborts the pass
type Dispatcher struct {
	store    DomainStore
	ingestor ProctoringIngestor
	logger   *zap.Logger
}

// NewDispatcher creates an action dispatcher.
func NewDispatcher(store DomainStore, ingestor ProctoringIngestor, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, ingestor: ingestor, logger: logger}
}

// Handle implements Handler.
func (d *Dispatcher) Handle(ctx context.Context, item *types.SyncQueueItem) error {
	switch item.ActionType {
	case types.ActionQuizAttempt:
		return d.handleQuizAttempt(ctx, item)
	case types.ActionQuizResponse:
		return d.handleQuizResponse(ctx, item)
	case types.ActionProgressUpdate:
		return d.handleProgressUpdate(ctx, item)
	case types.ActionProctoring:
		return d.handleProctoringEvent(ctx, item)
	case types.ActionSecurityEvent:
		return d.handleSecurityEvent(ctx, item)
	case types.ActionQuizCompletion:
		return d.handleQuizCompletion(ctx, item)
	case types.ActionFileUpload, types.ActionNoteCreation:
		// Best-effort passthrough: acknowledged, handled by other services.
		d.logger.Info("passthrough sync action acknowledged",
			zap.String("id", item.ID),
			zap.String("action_type", item.ActionType))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownActionType, item.ActionType)
	}
}

type attemptPayload struct {
	AttemptID string `json:"attempt_id"`
	StudentID string `json:"student_id"`
	QuizID    string `json:"quiz_id"`
}

// handleQuizAttempt creates the attempt if it does not exist yet. Replays
// of an already-created attempt are no-ops.
func (d *Dispatcher) handleQuizAttempt(ctx context.Context, item *types.SyncQueueItem) error {
	var p attemptPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.AttemptID == "" || p.StudentID == "" || p.QuizID == "" {
		return fmt.Errorf("%w: quiz_attempt requires attempt_id, student_id, quiz_id", ErrMalformedPayload)
	}

	if _, err := d.store.GetAttempt(ctx, p.AttemptID); err == nil {
		return nil
	} else if err != interfaces.ErrAttemptNotFound {
		return fmt.Errorf("failed to look up attempt: %w", err)
	}

	return d.store.CreateAttempt(ctx, &types.ExamAttempt{
		ID:        p.AttemptID,
		StudentID: p.StudentID,
		QuizID:    p.QuizID,
		Status:    types.AttemptInProgress,
		StartedAt: item.ClientTimestamp,
	})
}

type responsePayload struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func (d *Dispatcher) handleQuizResponse(ctx context.Context, item *types.SyncQueueItem) error {
	var p responsePayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.AttemptID == "" || p.QuestionID == "" {
		return fmt.Errorf("%w: quiz_response requires attempt_id and question_id", ErrMalformedPayload)
	}

	return d.store.SaveQuizResponse(ctx, &types.QuizResponse{
		ID:         uuid.New().String(),
		AttemptID:  p.AttemptID,
		QuestionID: p.QuestionID,
		Answer:     p.Answer,
		AnsweredAt: item.ClientTimestamp,
	})
}

type progressPayload struct {
	AttemptID         string `json:"attempt_id"`
	CurrentQuestion   int    `json:"current_question"`
	QuestionsAnswered int    `json:"questions_answered"`
	TimeSpent         int64  `json:"time_spent"`
}

func (d *Dispatcher) handleProgressUpdate(ctx context.Context, item *types.SyncQueueItem) error {
	var p progressPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.AttemptID == "" {
		return fmt.Errorf("%w: progress_update requires attempt_id", ErrMalformedPayload)
	}

	return d.store.UpdateAttemptProgress(ctx, p.AttemptID, p.CurrentQuestion, p.QuestionsAnswered, p.TimeSpent)
}

func (d *Dispatcher) handleProctoringEvent(ctx context.Context, item *types.SyncQueueItem) error {
	var event types.ProctoringEvent
	if err := json.Unmarshal(item.Payload, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.AttemptID == "" || event.EventType == "" {
		return fmt.Errorf("%w: proctoring_event requires attempt_id and event_type", ErrMalformedPayload)
	}

	return d.ingestor.IngestOffline(ctx, &event)
}

func (d *Dispatcher) handleSecurityEvent(ctx context.Context, item *types.SyncQueueItem) error {
	return d.store.CreateSecurityLog(ctx, &types.SecurityLogEntry{
		ID:        uuid.New().String(),
		UserID:    item.UserID,
		DeviceID:  item.DeviceID,
		Details:   item.Payload,
		Timestamp: item.ClientTimestamp,
	})
}

type completionPayload struct {
	AttemptID string `json:"attempt_id"`
}

// handleQuizCompletion finalizes the attempt. The store-level finalize is
// conditional on status, so a replayed completion finalizes exactly once.
func (d *Dispatcher) handleQuizCompletion(ctx context.Context, item *types.SyncQueueItem) error {
	var p completionPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.AttemptID == "" {
		return fmt.Errorf("%w: quiz_completion requires attempt_id", ErrMalformedPayload)
	}

	return d.store.FinalizeAttempt(ctx, p.AttemptID)
}

var _ Handler = (*Dispatcher)(nil)
