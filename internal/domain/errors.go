package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures so transports can map them to caller-visible outcomes.
type ErrorCode string

const (
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInsufficientQuestions ErrorCode = "INSUFFICIENT_QUESTIONS"
	CodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	CodeNotAuthorized         ErrorCode = "NOT_AUTHORIZED"
	CodeStaleQuestion         ErrorCode = "STALE_QUESTION"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeInvariantViolation    ErrorCode = "INVARIANT_VIOLATION"
	CodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// Error is a domain failure carrying a code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return NewError(CodeInvalidInput, field+": "+message, nil)
}

// InvariantViolation signals storage state that should be impossible.
func InvariantViolation(message string, err error) *Error {
	return NewError(CodeInvariantViolation, message, err)
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

var (
	// ErrSessionNotFound is returned for unknown session ids or join codes.
	ErrSessionNotFound = NewError(CodeNotFound, "game session not found", nil)
	// ErrCourseNotFound indicates the course could not be loaded from the bank.
	ErrCourseNotFound = NewError(CodeNotFound, "course not found", nil)
	// ErrQuestionNotFound indicates a question id outside the session's question set.
	ErrQuestionNotFound = NewError(CodeNotFound, "question not found", nil)
	// ErrAnswerNotFound indicates an answer id that does not belong to the question.
	ErrAnswerNotFound = NewError(CodeNotFound, "answer not found", nil)
	// ErrInsufficientQuestions is returned when a course lacks enough approved questions.
	ErrInsufficientQuestions = NewError(CodeInsufficientQuestions, "not enough approved questions", nil)
	// ErrParticipantNotFound is returned when a user acts on a session before joining.
	ErrParticipantNotFound = NewError(CodeNotAuthorized, "user is not a participant of this game session", nil)
	// ErrUnauthenticated is returned when no user identity accompanies a request.
	ErrUnauthenticated = NewError(CodeNotAuthorized, "user identity is required", nil)
	// ErrNotHost is returned when someone other than the host starts the game.
	ErrNotHost = NewError(CodeNotAuthorized, "only the host can start the game", nil)
	// ErrInvalidTransition is returned for operations not valid in the current status.
	ErrInvalidTransition = NewError(CodeInvalidTransition, "operation not allowed in the current session status", nil)
	// ErrQuestionNotYetAnswered is returned when advancing past an unanswered question.
	ErrQuestionNotYetAnswered = NewError(CodeInvalidTransition, "current question has not been answered yet", nil)
	// ErrStaleQuestion is returned when the targeted question is no longer current.
	ErrStaleQuestion = NewError(CodeStaleQuestion, "question is no longer current", nil)
	// ErrJoinCodeTaken is returned by stores when a generated code collides with an open session.
	ErrJoinCodeTaken = NewError(CodeInternal, "join code already in use", nil)
)
