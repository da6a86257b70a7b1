package proctor

import (
	"sync"
	"time"

	"proctorboard/pkg/types"
)

// eventBuffer bounds queued events per session before back-pressure drops.
const eventBuffer = 256

// sessionMsg is one unit of work for a session's processing loop. End
// markers travel through the same channel as events so everything enqueued
// before the end is processed first.
type sessionMsg struct {
	event *types.ProctoringEvent
	end   bool
	done  chan struct{}
}

// Session is the ephemeral monitoring state for one in-progress exam
// attempt while a proctoring connection is open.
// ARCHITECTURAL DISCOVERY: One goroutine per session consumes the inbox
// sequentially, so two events for the same attempt can never mutate the
// violations list concurrently; distinct attempts process fully in parallel
type Session struct {
	AttemptID string
	StudentID string
	QuizID    string
	StartTime time.Time

	inbox chan sessionMsg

	mu         sync.Mutex
	violations []types.Violation
	active     bool
}

func newSession(attemptID, studentID, quizID string) *Session {
	return &Session{
		AttemptID: attemptID,
		StudentID: studentID,
		QuizID:    quizID,
		StartTime: time.Now(),
		inbox:     make(chan sessionMsg, eventBuffer),
		active:    true,
	}
}

// enqueue offers an event to the session loop without blocking the caller.
// FUNCTIONAL DISCOVERY: A full inbox drops the event rather than stalling
// the connection handler - losing one event is less harmful than starving
// heartbeat handling for every other session
func (s *Session) enqueue(event *types.ProctoringEvent) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.mu.Unlock()

	select {
	case s.inbox <- sessionMsg{event: event}:
		return nil
	default:
		return ErrSessionBusy
	}
}

// finish marks the session ended and queues the end marker. Returns false
// if the session was already ended.
func (s *Session) finish(done chan struct{}) bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	s.mu.Unlock()

	s.inbox <- sessionMsg{end: true, done: done}
	return true
}

// addViolation appends to the ordered violation list. Only the session
// loop calls this.
func (s *Session) addViolation(v types.Violation) {
	s.mu.Lock()
	s.violations = append(s.violations, v)
	s.mu.Unlock()
}

// Violations returns a copy of the recorded violations in arrival order.
func (s *Session) Violations() []types.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// summarize computes the end-of-session summary persisted on the attempt.
func (s *Session) summarize(endTime time.Time) *types.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	high := 0
	seen := make(map[string]bool)
	distinct := make([]string, 0, 4)
	for _, v := range s.violations {
		if v.Severity == types.SeverityHigh {
			high++
		}
		if !seen[v.Type] {
			seen[v.Type] = true
			distinct = append(distinct, v.Type)
		}
	}

	return &types.SessionSummary{
		StartTime:              s.StartTime,
		EndTime:                endTime,
		DurationSeconds:        int64(endTime.Sub(s.StartTime).Seconds()),
		TotalViolations:        len(s.violations),
		HighSeverityViolations: high,
		ViolationTypes:         distinct,
	}
}
