package monitor

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"proctorboard/pkg/types"
)

// Mock Broadcaster recording per-role deliveries
type mockBroadcaster struct {
	byRole map[string][]interface{}
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{byRole: make(map[string][]interface{})}
}

func (m *mockBroadcaster) BroadcastToRole(role string, v interface{}) {
	m.byRole[role] = append(m.byRole[role], v)
}

func TestFanout_NotifiesTeachersAndAdmins(t *testing.T) {
	broadcaster := newMockBroadcaster()
	fanout := NewFanout(broadcaster, zap.NewNop())

	fanout.NotifyMonitors("quiz1", types.MessageTypeProctoringAlert, map[string]string{
		"attempt_id": "attempt1",
	})

	if len(broadcaster.byRole[types.RoleTeacher]) != 1 {
		t.Errorf("teachers should receive 1 event, got %d", len(broadcaster.byRole[types.RoleTeacher]))
	}
	if len(broadcaster.byRole[types.RoleAdmin]) != 1 {
		t.Errorf("admins should receive 1 event, got %d", len(broadcaster.byRole[types.RoleAdmin]))
	}
	if len(broadcaster.byRole[types.RoleStudent]) != 0 {
		t.Error("students must not receive monitor fan-out")
	}
}

func TestFanout_EnvelopeCarriesQuizTag(t *testing.T) {
	broadcaster := newMockBroadcaster()
	fanout := NewFanout(broadcaster, zap.NewNop())

	fanout.NotifyMonitors("quiz1", types.MessageTypeStudentJoined, map[string]string{
		"student_id": "student1",
	})

	envelope, ok := broadcaster.byRole[types.RoleTeacher][0].(*types.Envelope)
	if !ok {
		t.Fatalf("expected *types.Envelope, got %T", broadcaster.byRole[types.RoleTeacher][0])
	}
	if envelope.Type != types.MessageTypeStudentJoined {
		t.Errorf("expected type student_joined, got %s", envelope.Type)
	}

	var payload QuizEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("envelope data should decode: %v", err)
	}
	if payload.QuizID != "quiz1" {
		t.Errorf("expected quiz tag quiz1, got %s", payload.QuizID)
	}
}

func TestFanout_UnencodablePayloadDropped(t *testing.T) {
	broadcaster := newMockBroadcaster()
	fanout := NewFanout(broadcaster, zap.NewNop())

	fanout.NotifyMonitors("quiz1", types.MessageTypeProctoringAlert, func() {})

	if len(broadcaster.byRole[types.RoleTeacher]) != 0 {
		t.Error("unencodable events should be dropped, not broadcast")
	}
}
