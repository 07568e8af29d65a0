package app

import (
	"context"

	"coop-quiz-service/internal/domain"
)

// SessionStore owns sessions, participants and team answers. Every invariant
// listed here is part of the contract and must hold atomically in the engine,
// not by convention in callers.
type SessionStore interface {
	// CreateSession persists a lobby with its frozen questions and admits the
	// creator as first participant. Returns domain.ErrJoinCodeTaken when the
	// code collides with a LOBBY or ACTIVE session.
	CreateSession(ctx context.Context, s domain.NewSession) (domain.GameSession, error)
	GetSession(ctx context.Context, sessionID string) (domain.GameSession, error)
	// FindByJoinCode only matches LOBBY and ACTIVE sessions.
	FindByJoinCode(ctx context.Context, code string) (domain.GameSession, error)
	ListSessions(ctx context.Context, userID string, status domain.SessionStatus) ([]domain.GameSession, error)

	// AddParticipant is idempotent: an existing participant is returned with
	// created=false in any status. New users are only admitted while LOBBY.
	AddParticipant(ctx context.Context, sessionID string, user domain.User) (domain.Participant, bool, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (domain.Participant, error)
	// Participants returns the session's participants in join order.
	Participants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// Question returns the frozen snapshot of a question selected for the session.
	Question(ctx context.Context, sessionID, questionID string) (domain.Question, error)

	// Activate moves LOBBY to ACTIVE and points at the first frozen question.
	Activate(ctx context.Context, sessionID string) (domain.GameSession, error)

	// RecordAnswerIfAbsent stores rec unless a record for (session, question)
	// exists. The session must be ACTIVE with rec.QuestionID current, checked
	// atomically with the insert. Exactly one concurrent caller gets created=true;
	// the others get the stored winner. When the new record is correct, bonus
	// is added to every participant in the same atomic step.
	RecordAnswerIfAbsent(ctx context.Context, rec domain.TeamAnswer, bonus int) (domain.TeamAnswer, bool, error)
	AnswerFor(ctx context.Context, sessionID, questionID string) (domain.TeamAnswer, bool, error)

	ScoreStore

	// AdvanceCurrentQuestion swaps the current question from expected to the
	// next frozen one, or finishes the session when none remain. Fails with
	// domain.ErrStaleQuestion when expected is not current and
	// domain.ErrQuestionNotYetAnswered when it has no team answer.
	AdvanceCurrentQuestion(ctx context.Context, sessionID, expected string) (domain.GameSession, error)
}

// ScoreStore applies storage-side atomic score increments.
type ScoreStore interface {
	// AwardAll adds points to every participant of the session, serialized
	// against AddParticipant so no update is lost or double counted.
	AwardAll(ctx context.Context, sessionID string, points int) error
}

// CourseLoader fetches a course and its questions from a backing store.
type CourseLoader interface {
	LoadCourse(ctx context.Context, courseID string) (domain.Course, error)
}

// QuestionBank is the read-only source of approved questions.
type QuestionBank interface {
	ListApproved(ctx context.Context, courseID string) ([]domain.Question, error)
	// Sample picks k distinct approved questions uniformly at random.
	Sample(ctx context.Context, courseID string, k int) ([]domain.Question, error)
}
