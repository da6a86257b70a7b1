package syncqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// Mock DomainStore for dispatcher tests
type mockDomainStore struct {
	mu        sync.Mutex
	attempts  map[string]*types.ExamAttempt
	responses []*types.QuizResponse
	security  []*types.SecurityLogEntry
	finalized map[string]int
}

func newMockDomainStore() *mockDomainStore {
	return &mockDomainStore{
		attempts:  make(map[string]*types.ExamAttempt),
		finalized: make(map[string]int),
	}
}

func (m *mockDomainStore) GetAttempt(ctx context.Context, attemptID string) (*types.ExamAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[attemptID]
	if !ok {
		return nil, interfaces.ErrAttemptNotFound
	}
	return attempt, nil
}

func (m *mockDomainStore) CreateAttempt(ctx context.Context, attempt *types.ExamAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[attempt.ID] = attempt
	return nil
}

func (m *mockDomainStore) UpdateAttemptProgress(ctx context.Context, attemptID string, currentQuestion, questionsAnswered int, timeSpent int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[attemptID]
	if !ok {
		return interfaces.ErrAttemptNotFound
	}
	attempt.CurrentQuestion = currentQuestion
	attempt.QuestionsAnswered = questionsAnswered
	attempt.TimeSpent = timeSpent
	return nil
}

func (m *mockDomainStore) FinalizeAttempt(ctx context.Context, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[attemptID]
	if !ok {
		return interfaces.ErrAttemptNotFound
	}
	// Conditional finalize: only the first call transitions status.
	if attempt.Status != types.AttemptCompleted {
		attempt.Status = types.AttemptCompleted
		m.finalized[attemptID]++
	}
	return nil
}

func (m *mockDomainStore) SaveQuizResponse(ctx context.Context, response *types.QuizResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
	return nil
}

func (m *mockDomainStore) CreateSecurityLog(ctx context.Context, entry *types.SecurityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.security = append(m.security, entry)
	return nil
}

// Mock ProctoringIngestor
type mockIngestor struct {
	events     []*types.ProctoringEvent
	shouldFail bool
}

func (m *mockIngestor) IngestOffline(ctx context.Context, event *types.ProctoringEvent) error {
	if m.shouldFail {
		return errors.New("persist failed")
	}
	m.events = append(m.events, event)
	return nil
}

func queueItem(actionType string, payload string) *types.SyncQueueItem {
	return &types.SyncQueueItem{
		ID:              "item1",
		UserID:          "user1",
		DeviceID:        "device1",
		ActionType:      actionType,
		Payload:         []byte(payload),
		ClientTimestamp: time.Now(),
	}
}

func TestDispatcher_QuizAttemptIdempotent(t *testing.T) {
	store := newMockDomainStore()
	d := NewDispatcher(store, &mockIngestor{}, zap.NewNop())
	ctx := context.Background()

	payload := `{"attempt_id":"a1","student_id":"student1","quiz_id":"quiz1"}`
	if err := d.Handle(ctx, queueItem(types.ActionQuizAttempt, payload)); err != nil {
		t.Fatalf("first replay should create the attempt: %v", err)
	}
	if err := d.Handle(ctx, queueItem(types.ActionQuizAttempt, payload)); err != nil {
		t.Fatalf("second replay should be a no-op: %v", err)
	}

	if len(store.attempts) != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", len(store.attempts))
	}
	if store.attempts["a1"].Status != types.AttemptInProgress {
		t.Errorf("replayed attempt should start in_progress, got %s", store.attempts["a1"].Status)
	}
}

func TestDispatcher_QuizResponseSaved(t *testing.T) {
	store := newMockDomainStore()
	d := NewDispatcher(store, &mockIngestor{}, zap.NewNop())

	item := queueItem(types.ActionQuizResponse, `{"attempt_id":"a1","question_id":"q3","answer":"42"}`)
	if err := d.Handle(context.Background(), item); err != nil {
		t.Fatalf("quiz_response replay should succeed: %v", err)
	}

	if len(store.responses) != 1 {
		t.Fatalf("expected 1 saved response, got %d", len(store.responses))
	}
	r := store.responses[0]
	if r.AttemptID != "a1" || r.QuestionID != "q3" || r.Answer != "42" {
		t.Errorf("response fields not preserved: %+v", r)
	}
	if !r.AnsweredAt.Equal(item.ClientTimestamp) {
		t.Error("answered_at should carry the client timestamp, not replay time")
	}
}

func TestDispatcher_ProgressUpdate(t *testing.T) {
	store := newMockDomainStore()
	store.attempts["a1"] = &types.ExamAttempt{ID: "a1", Status: types.AttemptInProgress}
	d := NewDispatcher(store, &mockIngestor{}, zap.NewNop())

	payload := `{"attempt_id":"a1","current_question":7,"questions_answered":6,"time_spent":540000}`
	if err := d.Handle(context.Background(), queueItem(types.ActionProgressUpdate, payload)); err != nil {
		t.Fatalf("progress_update replay should succeed: %v", err)
	}

	attempt := store.attempts["a1"]
	if attempt.CurrentQuestion != 7 || attempt.QuestionsAnswered != 6 || attempt.TimeSpent != 540000 {
		t.Errorf("progress not applied: %+v", attempt)
	}
}

func TestDispatcher_ProctoringEventRoutedToIngestor(t *testing.T) {
	ingestor := &mockIngestor{}
	d := NewDispatcher(newMockDomainStore(), ingestor, zap.NewNop())

	payload := `{"attempt_id":"a1","event_type":"copy_paste"}`
	if err := d.Handle(context.Background(), queueItem(types.ActionProctoring, payload)); err != nil {
		t.Fatalf("proctoring_event replay should succeed: %v", err)
	}
	if len(ingestor.events) != 1 || ingestor.events[0].EventType != types.EventCopyPaste {
		t.Errorf("event should reach the ingestor, got %+v", ingestor.events)
	}
}

func TestDispatcher_ProctoringIngestFailurePropagates(t *testing.T) {
	d := NewDispatcher(newMockDomainStore(), &mockIngestor{shouldFail: true}, zap.NewNop())

	payload := `{"attempt_id":"a1","event_type":"copy_paste"}`
	if err := d.Handle(context.Background(), queueItem(types.ActionProctoring, payload)); err == nil {
		t.Error("ingest failures must propagate so the queue retries the item")
	}
}

func TestDispatcher_SecurityEventLogged(t *testing.T) {
	store := newMockDomainStore()
	d := NewDispatcher(store, &mockIngestor{}, zap.NewNop())

	if err := d.Handle(context.Background(), queueItem(types.ActionSecurityEvent, `{"kind":"devtools_open"}`)); err != nil {
		t.Fatalf("security_event replay should succeed: %v", err)
	}
	if len(store.security) != 1 {
		t.Fatalf("expected 1 security log, got %d", len(store.security))
	}
	if store.security[0].UserID != "user1" || store.security[0].DeviceID != "device1" {
		t.Errorf("security log should carry queue item identity: %+v", store.security[0])
	}
}

func TestDispatcher_QuizCompletionExactlyOnce(t *testing.T) {
	store := newMockDomainStore()
	store.attempts["a1"] = &types.ExamAttempt{ID: "a1", Status: types.AttemptInProgress}
	d := NewDispatcher(store, &mockIngestor{}, zap.NewNop())
	ctx := context.Background()

	payload := `{"attempt_id":"a1"}`
	if err := d.Handle(ctx, queueItem(types.ActionQuizCompletion, payload)); err != nil {
		t.Fatalf("first completion should succeed: %v", err)
	}
	if err := d.Handle(ctx, queueItem(types.ActionQuizCompletion, payload)); err != nil {
		t.Fatalf("replayed completion should succeed as a no-op: %v", err)
	}

	if store.finalized["a1"] != 1 {
		t.Errorf("attempt should be finalized exactly once, got %d", store.finalized["a1"])
	}
}

func TestDispatcher_UnknownActionType(t *testing.T) {
	d := NewDispatcher(newMockDomainStore(), &mockIngestor{}, zap.NewNop())

	if err := d.Handle(context.Background(), queueItem("teleport", `{}`)); !errors.Is(err, ErrUnknownActionType) {
		t.Errorf("expected ErrUnknownActionType, got %v", err)
	}
}

func TestDispatcher_MalformedPayload(t *testing.T) {
	d := NewDispatcher(newMockDomainStore(), &mockIngestor{}, zap.NewNop())

	if err := d.Handle(context.Background(), queueItem(types.ActionQuizCompletion, `{not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
	if err := d.Handle(context.Background(), queueItem(types.ActionQuizAttempt, `{}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload for missing fields, got %v", err)
	}
}
