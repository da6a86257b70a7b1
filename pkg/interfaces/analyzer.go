package interfaces

import (
	"context"

	"proctorboard/pkg/types"
)

// ContentAnalyzer is the external classification collaborator consulted for
// ambiguous proctoring events.
// FUNCTIONAL DISCOVERY: Callers must tolerate unavailability - the violation
// classifier falls back to its static table on any error or timeout
type ContentAnalyzer interface {
	Analyze(ctx context.Context, description, behaviorContext, eventContext string) (*types.Analysis, error)
}

// TeacherDirectory resolves the teacher and admin identities eligible for
// disconnect notifications on a quiz (creator plus account admins).
type TeacherDirectory interface {
	TeachersForQuiz(ctx context.Context, quizID string) ([]string, error)
}
