package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	JoinCodeLength        = 6
	MaxQuestionText       = 500
	MaxExplanationText    = 1000
	MinAnswersPerQuestion = 1
	MaxAnswersPerQuestion = 4
)

// NormalizeJoinCode trims and upper-cases a user supplied join code.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateJoinCode checks a normalized code: six characters from [A-Z0-9].
func ValidateJoinCode(code string) error {
	if code == "" {
		return InvalidInput("code", "is required")
	}
	if len(code) != JoinCodeLength {
		return InvalidInput("code", fmt.Sprintf("must be %d characters", JoinCodeLength))
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return InvalidInput("code", "must be alphanumeric")
		}
	}
	return nil
}

// ValidateQuestion enforces the rules a question must meet before a session may reference it.
func ValidateQuestion(q Question) error {
	if strings.TrimSpace(q.ID) == "" {
		return InvalidInput("question.id", "is required")
	}
	if strings.TrimSpace(q.Text) == "" {
		return InvalidInput("question.text", "is required")
	}
	if n := utf8.RuneCountInString(q.Text); n > MaxQuestionText {
		return InvalidInput("question.text", fmt.Sprintf("must be at most %d characters, got %d", MaxQuestionText, n))
	}
	if n := utf8.RuneCountInString(q.Explanation); n > MaxExplanationText {
		return InvalidInput("question.explanation", fmt.Sprintf("must be at most %d characters, got %d", MaxExplanationText, n))
	}
	if n := len(q.Answers); n < MinAnswersPerQuestion || n > MaxAnswersPerQuestion {
		return InvalidInput("question.answers", fmt.Sprintf("must have %d to %d answers, got %d", MinAnswersPerQuestion, MaxAnswersPerQuestion, n))
	}

	correct := 0
	seen := make(map[string]struct{}, len(q.Answers))
	for _, a := range q.Answers {
		if a.ID == "" {
			return InvalidInput("question.answers", "answer id is required")
		}
		if _, dup := seen[a.ID]; dup {
			return InvalidInput("question.answers", "duplicate answer id "+a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Correct {
			correct++
		}
	}
	if correct != 1 {
		return InvalidInput("question.answers", fmt.Sprintf("must have exactly one correct answer, got %d", correct))
	}
	return nil
}
