package app

import (
	"strings"

	"coop-quiz-service/internal/domain"
)

// CreateSessionInput is the validated request to open a lobby.
type CreateSessionInput struct {
	CourseID string
}

func (in CreateSessionInput) Validate() error {
	if strings.TrimSpace(in.CourseID) == "" {
		return domain.InvalidInput("courseId", "is required")
	}
	return nil
}

// JoinSessionInput is the validated request to join a lobby by code.
type JoinSessionInput struct {
	Code string
}

// Normalize returns the input with the code upper-cased.
func (in JoinSessionInput) Normalize() JoinSessionInput {
	return JoinSessionInput{Code: domain.NormalizeJoinCode(in.Code)}
}

func (in JoinSessionInput) Validate() error {
	return domain.ValidateJoinCode(in.Code)
}

// SubmitAnswerInput is the validated request to answer the current question.
type SubmitAnswerInput struct {
	SessionID  string
	QuestionID string
	AnswerID   string
}

func (in SubmitAnswerInput) Validate() error {
	switch {
	case strings.TrimSpace(in.SessionID) == "":
		return domain.InvalidInput("sessionId", "is required")
	case strings.TrimSpace(in.QuestionID) == "":
		return domain.InvalidInput("questionId", "is required")
	case strings.TrimSpace(in.AnswerID) == "":
		return domain.InvalidInput("answerId", "is required")
	}
	return nil
}

// AdvanceInput moves a session past QuestionID. An empty QuestionID means
// "whatever is current when the request is read".
type AdvanceInput struct {
	SessionID  string
	QuestionID string
}

func (in AdvanceInput) Validate() error {
	if strings.TrimSpace(in.SessionID) == "" {
		return domain.InvalidInput("sessionId", "is required")
	}
	return nil
}
