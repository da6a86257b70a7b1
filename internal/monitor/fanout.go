package monitor

import (
	"go.uber.org/zap"

	"proctorboard/pkg/types"
)

// Broadcaster is the registry capability the fan-out consumes.
type Broadcaster interface {
	BroadcastToRole(role string, v interface{})
}

// QuizEvent tags a fan-out payload with the quiz it belongs to so monitor
// clients can filter.
type QuizEvent struct {
	QuizID string      `json:"quiz_id"`
	Event  interface{} `json:"event"`
}

// Fanout delivers violation and progress events to connected monitors.
//
// Delivery is role-based broadcast, not per-quiz subscription: every
// connected teacher and admin receives every quiz's events, as in the
// source system. This broad fan-out is a known, intentional simplification;
// clients filter by the quiz_id tag.
type Fanout struct {
	registry Broadcaster
	logger   *zap.Logger
}

// NewFanout creates a monitor fan-out.
func NewFanout(registry Broadcaster, logger *zap.Logger) *Fanout {
	return &Fanout{registry: registry, logger: logger}
}

// NotifyMonitors delivers an event tagged with quizID to every connected
// teacher and admin. Best-effort: a slow or dead monitor connection never
// blocks the caller, and failures are dropped by the registry.
func (f *Fanout) NotifyMonitors(quizID, msgType string, event interface{}) {
	envelope, err := types.NewEnvelope(msgType, QuizEvent{QuizID: quizID, Event: event})
	if err != nil {
		f.logger.Warn("failed to encode monitor event",
			zap.String("quiz_id", quizID), zap.String("type", msgType), zap.Error(err))
		return
	}

	f.registry.BroadcastToRole(types.RoleTeacher, envelope)
	f.registry.BroadcastToRole(types.RoleAdmin, envelope)
}
