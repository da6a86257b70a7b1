package classifier

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"proctorboard/pkg/types"
)

// Mock ContentAnalyzer for testing
type mockAnalyzer struct {
	analysis   *types.Analysis
	shouldFail bool
	calls      int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, description, behaviorContext, eventContext string) (*types.Analysis, error) {
	m.calls++
	if m.shouldFail {
		return nil, errors.New("analyzer unavailable")
	}
	return m.analysis, nil
}

func event(eventType string, data map[string]interface{}) *types.ProctoringEvent {
	return &types.ProctoringEvent{
		UserID:    "student1",
		AttemptID: "attempt1",
		EventType: eventType,
		EventData: data,
	}
}

func TestClassifier_StaticSeverityTable(t *testing.T) {
	c := New(nil, 0, 0, zap.NewNop())

	cases := []struct {
		eventType   string
		severity    string
		autoFlagged bool
	}{
		{types.EventMultipleFaces, types.SeverityHigh, true},
		{types.EventCopyPaste, types.SeverityHigh, true},
		{types.EventScreenCapture, types.SeverityHigh, true},
		{types.EventWindowBlur, types.SeverityMedium, false},
		{types.EventNoFaceDetected, types.SeverityMedium, false},
		{types.EventSuspiciousMovement, types.SeverityMedium, false},
		{types.EventRightClick, types.SeverityLow, false},
	}

	for _, tc := range cases {
		v := c.Classify(context.Background(), event(tc.eventType, nil), SessionContext{})
		if v == nil {
			t.Fatalf("%s should produce a violation", tc.eventType)
		}
		if v.Severity != tc.severity {
			t.Errorf("%s: expected severity %s, got %s", tc.eventType, tc.severity, v.Severity)
		}
		if v.AutoFlagged != tc.autoFlagged {
			t.Errorf("%s: expected autoFlagged %v, got %v", tc.eventType, tc.autoFlagged, v.AutoFlagged)
		}
		if v.Type != tc.eventType {
			t.Errorf("%s: violation type mismatch: %s", tc.eventType, v.Type)
		}
		if v.Timestamp.IsZero() {
			t.Errorf("%s: timestamp should be set", tc.eventType)
		}
	}
}

func TestClassifier_HeartbeatNeverViolates(t *testing.T) {
	c := New(nil, 0, 0, zap.NewNop())

	if v := c.Classify(context.Background(), event(types.EventHeartbeat, nil), SessionContext{}); v != nil {
		t.Errorf("heartbeat should never produce a violation, got %+v", v)
	}
}

func TestClassifier_UnknownEventTypeIgnored(t *testing.T) {
	c := New(nil, 0, 0, zap.NewNop())

	if v := c.Classify(context.Background(), event("coffee_break", nil), SessionContext{}); v != nil {
		t.Errorf("unknown event type should be ignored, got %+v", v)
	}
}

func TestClassifier_IdleTimeThresholdBoundary(t *testing.T) {
	c := New(nil, 300000, 0, zap.NewNop())

	below := event(types.EventIdleTime, map[string]interface{}{"idle_time": float64(299999)})
	if v := c.Classify(context.Background(), below, SessionContext{}); v != nil {
		t.Errorf("idle time below threshold should not violate, got %+v", v)
	}

	at := event(types.EventIdleTime, map[string]interface{}{"idle_time": float64(300000)})
	v := c.Classify(context.Background(), at, SessionContext{})
	if v == nil {
		t.Fatal("idle time at threshold should produce a violation")
	}
	if v.Severity != types.SeverityMedium {
		t.Errorf("expected medium severity, got %s", v.Severity)
	}
	if v.AutoFlagged {
		t.Error("idle time violations should not be auto-flagged")
	}
}

func TestClassifier_IdleTimeMissingDataIgnored(t *testing.T) {
	c := New(nil, 300000, 0, zap.NewNop())

	if v := c.Classify(context.Background(), event(types.EventIdleTime, nil), SessionContext{}); v != nil {
		t.Errorf("idle event without idle_time field should be ignored, got %+v", v)
	}
}

func TestClassifier_TabSwitchWithoutAnalyzer(t *testing.T) {
	c := New(nil, 0, 0, zap.NewNop())

	v := c.Classify(context.Background(), event(types.EventTabSwitch, nil), SessionContext{})
	if v == nil {
		t.Fatal("tab_switch should produce a violation")
	}
	if v.Severity != types.SeverityMedium {
		t.Errorf("expected fallback medium severity, got %s", v.Severity)
	}
	if v.AutoFlagged {
		t.Error("fallback tab_switch should not be auto-flagged")
	}
}

func TestClassifier_TabSwitchAnalyzerFailureFallsBack(t *testing.T) {
	analyzer := &mockAnalyzer{shouldFail: true}
	c := New(analyzer, 0, 0, zap.NewNop())

	v := c.Classify(context.Background(), event(types.EventTabSwitch, nil), SessionContext{})
	if v == nil {
		t.Fatal("tab_switch should produce a violation even when the analyzer fails")
	}
	if v.Severity != types.SeverityMedium || v.AutoFlagged {
		t.Errorf("expected medium/false fallback, got %s/%v", v.Severity, v.AutoFlagged)
	}
	if analyzer.calls != 1 {
		t.Errorf("expected 1 analyzer call, got %d", analyzer.calls)
	}
}

func TestClassifier_TabSwitchUsesAnalyzerVerdict(t *testing.T) {
	analyzer := &mockAnalyzer{analysis: &types.Analysis{
		Severity:       types.SeverityHigh,
		Recommendation: "repeated rapid switching",
		AutoFlag:       true,
	}}
	c := New(analyzer, 0, 0, zap.NewNop())

	v := c.Classify(context.Background(), event(types.EventTabSwitch, nil), SessionContext{
		AttemptID: "attempt1", StudentID: "student1", QuizID: "quiz1",
	})
	if v == nil {
		t.Fatal("tab_switch should produce a violation")
	}
	if v.Severity != types.SeverityHigh {
		t.Errorf("expected analyzer severity high, got %s", v.Severity)
	}
	if !v.AutoFlagged {
		t.Error("expected analyzer auto-flag to propagate")
	}
}

func TestClassifier_TabSwitchInvalidAnalyzerSeverity(t *testing.T) {
	analyzer := &mockAnalyzer{analysis: &types.Analysis{Severity: "catastrophic"}}
	c := New(analyzer, 0, 0, zap.NewNop())

	v := c.Classify(context.Background(), event(types.EventTabSwitch, nil), SessionContext{})
	if v == nil {
		t.Fatal("tab_switch should produce a violation")
	}
	if v.Severity != types.SeverityMedium {
		t.Errorf("invalid analyzer severity should fall back to medium, got %s", v.Severity)
	}
}
