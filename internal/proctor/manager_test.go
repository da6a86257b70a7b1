package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"proctorboard/internal/classifier"
	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// Mock Store for testing
type mockStore struct {
	mu       sync.Mutex
	attempts map[string]*types.ExamAttempt
	logs     []*types.ProctoringLogEntry
	notices  []*types.Notification
	summary  map[string]*types.SessionSummary

	shouldFailLog bool
}

func newMockStore() *mockStore {
	return &mockStore{
		attempts: make(map[string]*types.ExamAttempt),
		summary:  make(map[string]*types.SessionSummary),
	}
}

func (m *mockStore) addAttempt(attemptID, studentID, quizID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[attemptID] = &types.ExamAttempt{
		ID: attemptID, StudentID: studentID, QuizID: quizID,
		Status: status, StartedAt: time.Now(),
	}
}

func (m *mockStore) GetAttempt(ctx context.Context, attemptID string) (*types.ExamAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[attemptID]
	if !ok {
		return nil, interfaces.ErrAttemptNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (m *mockStore) UpdateAttemptStatus(ctx context.Context, attemptID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[attemptID]
	if !ok {
		return interfaces.ErrAttemptNotFound
	}
	attempt.Status = status
	return nil
}

func (m *mockStore) SaveAttemptSummary(ctx context.Context, attemptID string, summary *types.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary[attemptID] = summary
	return nil
}

func (m *mockStore) CreateProctoringLog(ctx context.Context, entry *types.ProctoringLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailLog {
		return errors.New("database write failed")
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *mockStore) CreateNotification(ctx context.Context, n *types.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return nil
}

func (m *mockStore) logEntries() []*types.ProctoringLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.ProctoringLogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

func (m *mockStore) attemptStatus(attemptID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[attemptID].Status
}

// Mock Notifier capturing fan-out calls
type mockNotifier struct {
	mu     sync.Mutex
	events []struct {
		quizID  string
		msgType string
	}
}

func (m *mockNotifier) NotifyMonitors(quizID, msgType string, event interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, struct {
		quizID  string
		msgType string
	}{quizID, msgType})
}

func (m *mockNotifier) typesSent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.msgType
	}
	return out
}

// Mock Sender capturing direct messages
type mockSender struct {
	mu       sync.Mutex
	messages []interface{}
}

func (m *mockSender) Send(userID string, v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, v)
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func newTestManager(store *mockStore) (*Manager, *mockNotifier, *mockSender) {
	notifier := &mockNotifier{}
	sender := &mockSender{}
	cls := classifier.New(nil, 0, 0, zap.NewNop())
	return NewManager(store, cls, notifier, sender, zap.NewNop()), notifier, sender
}

func proctorEvent(attemptID, eventType string) *types.ProctoringEvent {
	return &types.ProctoringEvent{
		UserID:    "student1",
		AttemptID: attemptID,
		EventType: eventType,
	}
}

func TestManager_StartSessionRequiresAttempt(t *testing.T) {
	store := newMockStore()
	manager, _, _ := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "missing", "student1"); err == nil {
		t.Error("StartSession should fail for an unknown attempt")
	}
}

func TestManager_StartSessionRejectsCompletedAttempt(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptCompleted)
	manager, _, _ := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "student1"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded for completed attempt, got %v", err)
	}
}

func TestManager_StartSessionRejectsWrongStudent(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, _, _ := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "intruder"); !errors.Is(err, interfaces.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestManager_StartSessionSingleSessionPerAttempt(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, notifier, _ := newTestManager(store)

	first, err := manager.StartSession(context.Background(), "attempt1", "student1")
	if err != nil {
		t.Fatalf("StartSession should succeed: %v", err)
	}
	second, err := manager.StartSession(context.Background(), "attempt1", "student1")
	if err != nil {
		t.Fatalf("second StartSession should succeed: %v", err)
	}
	if first != second {
		t.Error("second join for a live attempt should return the existing session")
	}

	sent := notifier.typesSent()
	joined := 0
	for _, msgType := range sent {
		if msgType == types.MessageTypeStudentJoined {
			joined++
		}
	}
	if joined != 1 {
		t.Errorf("expected exactly 1 student_joined fan-out, got %d", joined)
	}
}

func TestManager_EventLifecycle(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, notifier, sender := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "student1"); err != nil {
		t.Fatalf("StartSession should succeed: %v", err)
	}

	if err := manager.HandleEvent(proctorEvent("attempt1", types.EventMultipleFaces)); err != nil {
		t.Fatalf("HandleEvent should succeed: %v", err)
	}
	if err := manager.HandleEvent(proctorEvent("attempt1", types.EventRightClick)); err != nil {
		t.Fatalf("HandleEvent should succeed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.EndSession(ctx, "attempt1"); err != nil {
		t.Fatalf("EndSession should succeed: %v", err)
	}

	// Events enqueued before the end marker are processed before summary.
	logs := store.logEntries()
	if len(logs) != 2 {
		t.Fatalf("expected 2 violation logs, got %d", len(logs))
	}
	if logs[0].Type != types.EventMultipleFaces || logs[0].Severity != types.SeverityHigh || !logs[0].AutoFlagged {
		t.Errorf("first log should be high/auto-flagged multiple_faces, got %+v", logs[0])
	}
	if logs[1].Type != types.EventRightClick || logs[1].Severity != types.SeverityLow || logs[1].AutoFlagged {
		t.Errorf("second log should be low right_click, got %+v", logs[1])
	}

	// multiple_faces is an immediate alert: attempt paused, student told.
	if status := store.attemptStatus("attempt1"); status != types.AttemptPaused {
		t.Errorf("expected attempt paused after multiple_faces, got %s", status)
	}
	if sender.count() == 0 {
		t.Error("student should receive the exam_paused message")
	}

	summary := store.summary["attempt1"]
	if summary == nil {
		t.Fatal("session summary should be persisted on end")
	}
	if summary.TotalViolations != 2 {
		t.Errorf("expected 2 total violations, got %d", summary.TotalViolations)
	}
	if summary.HighSeverityViolations != 1 {
		t.Errorf("expected 1 high-severity violation, got %d", summary.HighSeverityViolations)
	}
	if len(summary.ViolationTypes) != 2 {
		t.Errorf("expected 2 distinct violation types, got %v", summary.ViolationTypes)
	}

	sent := notifier.typesSent()
	if sent[len(sent)-1] != types.MessageTypeStudentLeft {
		t.Errorf("final fan-out should be student_left, got %s", sent[len(sent)-1])
	}
}

func TestManager_HeartbeatBypassesQueue(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, _, sender := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "student1"); err != nil {
		t.Fatalf("StartSession should succeed: %v", err)
	}

	if err := manager.HandleEvent(proctorEvent("attempt1", types.EventHeartbeat)); err != nil {
		t.Fatalf("heartbeat should succeed: %v", err)
	}
	if sender.count() != 1 {
		t.Errorf("heartbeat should be answered immediately, got %d messages", sender.count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.EndSession(ctx, "attempt1"); err != nil {
		t.Fatalf("EndSession should succeed: %v", err)
	}
	if len(store.logEntries()) != 0 {
		t.Error("heartbeats must never produce violation logs")
	}
}

func TestManager_HandleEventUnknownSession(t *testing.T) {
	store := newMockStore()
	manager, _, _ := newTestManager(store)

	if err := manager.HandleEvent(proctorEvent("ghost", types.EventWindowBlur)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_HandleEventRejectsInvalid(t *testing.T) {
	store := newMockStore()
	manager, _, _ := newTestManager(store)

	if err := manager.HandleEvent(nil); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("nil event: expected ErrInvalidEvent, got %v", err)
	}
	if err := manager.HandleEvent(proctorEvent("", types.EventWindowBlur)); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("missing attempt: expected ErrInvalidEvent, got %v", err)
	}
	if err := manager.HandleEvent(proctorEvent("attempt1", "")); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("missing type: expected ErrInvalidEvent, got %v", err)
	}

	if err := manager.IngestOffline(context.Background(), proctorEvent("", types.EventWindowBlur)); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("offline missing attempt: expected ErrInvalidEvent, got %v", err)
	}
}

func TestManager_ConcurrentEventsNoLoss(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, _, _ := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "student1"); err != nil {
		t.Fatalf("StartSession should succeed: %v", err)
	}

	const eventCount = 50
	var wg sync.WaitGroup
	for i := 0; i < eventCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := manager.HandleEvent(proctorEvent("attempt1", types.EventWindowBlur)); err != nil {
				t.Errorf("HandleEvent failed: %v", err)
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.EndSession(ctx, "attempt1"); err != nil {
		t.Fatalf("EndSession should succeed: %v", err)
	}

	if got := len(store.logEntries()); got != eventCount {
		t.Errorf("expected %d violation logs, got %d", eventCount, got)
	}
	if summary := store.summary["attempt1"]; summary.TotalViolations != eventCount {
		t.Errorf("summary should count %d violations, got %d", eventCount, summary.TotalViolations)
	}
}

func TestManager_EndSessionUnknownAttempt(t *testing.T) {
	store := newMockStore()
	manager, _, _ := newTestManager(store)

	if err := manager.EndSession(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ConnectionLostEndsStudentSession(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, _, _ := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "student1"); err != nil {
		t.Fatalf("StartSession should succeed: %v", err)
	}

	manager.ConnectionLost("student1", types.RoleStudent, "attempt1")

	if _, active := manager.ActiveSession("attempt1"); active {
		t.Error("session should end when the student connection drops")
	}
	if store.summary["attempt1"] == nil {
		t.Error("summary should be persisted after a disconnect-driven end")
	}
}

func TestManager_ConnectionLostIgnoresMonitors(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, _, _ := newTestManager(store)

	if _, err := manager.StartSession(context.Background(), "attempt1", "student1"); err != nil {
		t.Fatalf("StartSession should succeed: %v", err)
	}

	manager.ConnectionLost("teacher1", types.RoleTeacher, "attempt1")

	if _, active := manager.ActiveSession("attempt1"); !active {
		t.Error("a teacher disconnect must not end the student session")
	}
}

func TestManager_IngestOfflinePersistsViolation(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	manager, notifier, _ := newTestManager(store)

	if err := manager.IngestOffline(context.Background(), proctorEvent("attempt1", types.EventCopyPaste)); err != nil {
		t.Fatalf("IngestOffline should succeed: %v", err)
	}

	logs := store.logEntries()
	if len(logs) != 1 {
		t.Fatalf("expected 1 violation log, got %d", len(logs))
	}
	if logs[0].Severity != types.SeverityHigh {
		t.Errorf("copy_paste should be high severity, got %s", logs[0].Severity)
	}

	sent := notifier.typesSent()
	if len(sent) != 1 || sent[0] != types.MessageTypeProctoringAlert {
		t.Errorf("replayed violations should fan out a proctoring_alert, got %v", sent)
	}
}

func TestManager_IngestOfflineFailurePropagates(t *testing.T) {
	store := newMockStore()
	store.addAttempt("attempt1", "student1", "quiz1", types.AttemptInProgress)
	store.shouldFailLog = true
	manager, _, _ := newTestManager(store)

	if err := manager.IngestOffline(context.Background(), proctorEvent("attempt1", types.EventCopyPaste)); err == nil {
		t.Error("IngestOffline must surface persistence failures so the queue can retry")
	}
}
