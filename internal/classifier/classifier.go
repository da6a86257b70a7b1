package classifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// DefaultIdleThresholdMS is the idle duration at which idle_time becomes a
// violation. Preserved from the source system as a configuration default.
const DefaultIdleThresholdMS int64 = 300000

// DefaultAnalyzeTimeout bounds the external analyzer call for tab_switch.
const DefaultAnalyzeTimeout = 3 * time.Second

// rule is one row of the static severity table.
type rule struct {
	severity    string
	autoFlagged bool
	description string
}

// staticRules maps event types classified without external consultation.
// FUNCTIONAL DISCOVERY: Severity and autoFlagged pairs reproduced exactly -
// these drive auto-pause semantics downstream and must stay deterministic
var staticRules = map[string]rule{
	types.EventMultipleFaces:      {types.SeverityHigh, true, "Multiple faces detected in camera frame"},
	types.EventCopyPaste:          {types.SeverityHigh, true, "Copy-paste activity detected"},
	types.EventScreenCapture:      {types.SeverityHigh, true, "Screen capture attempt detected"},
	types.EventWindowBlur:         {types.SeverityMedium, false, "Exam window lost focus"},
	types.EventNoFaceDetected:     {types.SeverityMedium, false, "No face detected in camera frame"},
	types.EventSuspiciousMovement: {types.SeverityMedium, false, "Suspicious movement detected"},
	types.EventRightClick:         {types.SeverityLow, false, "Right-click attempted during exam"},
}

// tabSwitchFallback applies when the external analyzer is unavailable.
var tabSwitchFallback = rule{types.SeverityMedium, false, "Switched away from exam tab"}

// SessionContext carries the attempt context handed to the analyzer for
// ambiguous events.
type SessionContext struct {
	AttemptID string
	StudentID string
	QuizID    string
}

// Classifier maps raw proctoring events to severity-tagged violations.
// ARCHITECTURAL DISCOVERY: Classification never returns an error - an
// analyzer failure degrades to the static table, never to a dropped event
type Classifier struct {
	analyzer       interfaces.ContentAnalyzer
	idleThreshold  int64
	analyzeTimeout time.Duration
	logger         *zap.Logger
}

// New creates a classifier. analyzer may be nil, in which case tab_switch
// always takes the static fallback.
func New(analyzer interfaces.ContentAnalyzer, idleThresholdMS int64, analyzeTimeout time.Duration, logger *zap.Logger) *Classifier {
	if idleThresholdMS <= 0 {
		idleThresholdMS = DefaultIdleThresholdMS
	}
	if analyzeTimeout <= 0 {
		analyzeTimeout = DefaultAnalyzeTimeout
	}
	return &Classifier{
		analyzer:       analyzer,
		idleThreshold:  idleThresholdMS,
		analyzeTimeout: analyzeTimeout,
		logger:         logger,
	}
}

// Classify maps one event to a violation, or nil when the event does not
// warrant one (heartbeats, idle time under threshold, unknown types).
func (c *Classifier) Classify(ctx context.Context, event *types.ProctoringEvent, sctx SessionContext) *types.Violation {
	switch event.EventType {
	case types.EventHeartbeat:
		// Heartbeats are liveness signals, never violations.
		return nil

	case types.EventIdleTime:
		return c.classifyIdle(event)

	case types.EventTabSwitch:
		return c.classifyTabSwitch(ctx, event, sctx)

	default:
		r, ok := staticRules[event.EventType]
		if !ok {
			c.logger.Warn("unknown proctoring event type",
				zap.String("event_type", event.EventType),
				zap.String("attempt_id", event.AttemptID))
			return nil
		}
		return violation(event.EventType, r)
	}
}

// classifyIdle emits a medium violation only at or above the threshold.
func (c *Classifier) classifyIdle(event *types.ProctoringEvent) *types.Violation {
	idleMS := numericField(event.EventData, "idle_time")
	if idleMS < c.idleThreshold {
		return nil
	}
	return &types.Violation{
		Type:        types.EventIdleTime,
		Severity:    types.SeverityMedium,
		Timestamp:   time.Now(),
		Description: fmt.Sprintf("Student idle for %d seconds", idleMS/1000),
		AutoFlagged: false,
	}
}

// classifyTabSwitch consults the external analyzer with a bounded timeout.
// FUNCTIONAL DISCOVERY: The analyzer call is the only suspension point in
// classification and must never block session processing indefinitely
func (c *Classifier) classifyTabSwitch(ctx context.Context, event *types.ProctoringEvent, sctx SessionContext) *types.Violation {
	if c.analyzer == nil {
		return violation(types.EventTabSwitch, tabSwitchFallback)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.analyzeTimeout)
	defer cancel()

	behavior := fmt.Sprintf("student=%s quiz=%s attempt=%s", sctx.StudentID, sctx.QuizID, sctx.AttemptID)
	analysis, err := c.analyzer.Analyze(callCtx, tabSwitchFallback.description, behavior, fmt.Sprint(event.EventData))
	if err != nil {
		c.logger.Warn("content analyzer unavailable, using static fallback",
			zap.String("attempt_id", event.AttemptID), zap.Error(err))
		return violation(types.EventTabSwitch, tabSwitchFallback)
	}

	severity := analysis.Severity
	switch severity {
	case types.SeverityLow, types.SeverityMedium, types.SeverityHigh:
	default:
		severity = tabSwitchFallback.severity
	}

	description := tabSwitchFallback.description
	if analysis.Recommendation != "" {
		description = fmt.Sprintf("%s: %s", description, analysis.Recommendation)
	}

	return &types.Violation{
		Type:        types.EventTabSwitch,
		Severity:    severity,
		Timestamp:   time.Now(),
		Description: description,
		AutoFlagged: analysis.AutoFlag,
	}
}

func violation(eventType string, r rule) *types.Violation {
	return &types.Violation{
		Type:        eventType,
		Severity:    r.severity,
		Timestamp:   time.Now(),
		Description: r.description,
		AutoFlagged: r.autoFlagged,
	}
}

// numericField extracts a numeric value from the opaque event data.
// TECHNICAL DISCOVERY: JSON decoding produces float64 for all numbers, but
// replayed queue payloads may carry ints - accept both
func numericField(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
