package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validQuestion() Question {
	return Question{
		ID:     "q1",
		Text:   "What is 2 + 2?",
		Status: QuestionApproved,
		Answers: []Answer{
			{ID: "a1", Text: "3"},
			{ID: "a2", Text: "4", Correct: true},
		},
	}
}

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *Question)
		ok     bool
	}{
		{"valid", func(q *Question) {}, true},
		{"single answer", func(q *Question) { q.Answers = q.Answers[1:] }, true},
		{"missing text", func(q *Question) { q.Text = "  " }, false},
		{"text too long", func(q *Question) { q.Text = strings.Repeat("x", MaxQuestionText+1) }, false},
		{"text at limit", func(q *Question) { q.Text = strings.Repeat("é", MaxQuestionText) }, true},
		{"explanation too long", func(q *Question) { q.Explanation = strings.Repeat("x", MaxExplanationText+1) }, false},
		{"no answers", func(q *Question) { q.Answers = nil }, false},
		{"five answers", func(q *Question) {
			for i := 3; i <= 5; i++ {
				q.Answers = append(q.Answers, Answer{ID: fmt.Sprintf("a%d", i)})
			}
		}, false},
		{"no correct answer", func(q *Question) { q.Answers[1].Correct = false }, false},
		{"two correct answers", func(q *Question) { q.Answers[0].Correct = true }, false},
		{"duplicate answer id", func(q *Question) { q.Answers[1].ID = "a1" }, false},
		{"empty answer id", func(q *Question) { q.Answers[0].ID = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuestion()
			tt.mutate(&q)
			err := ValidateQuestion(q)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, CodeInvalidInput, CodeOf(err))
		})
	}
}

func TestJoinCodes(t *testing.T) {
	assert.Equal(t, "AB12CD", NormalizeJoinCode(" ab12cd "))
	assert.NoError(t, ValidateJoinCode("AB12CD"))
	assert.Error(t, ValidateJoinCode(""))
	assert.Error(t, ValidateJoinCode("AB12C"))
	assert.Error(t, ValidateJoinCode("AB-2CD"))
	assert.Error(t, ValidateJoinCode("ab12cd"), "validation expects a normalized code")
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusLobby.CanTransitionTo(StatusActive))
	assert.True(t, StatusActive.CanTransitionTo(StatusFinished))
	assert.False(t, StatusLobby.CanTransitionTo(StatusFinished))
	assert.False(t, StatusActive.CanTransitionTo(StatusLobby))
	assert.False(t, StatusFinished.CanTransitionTo(StatusActive))
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("question q9 is not current: %w", ErrStaleQuestion)
	assert.True(t, errors.Is(wrapped, ErrStaleQuestion))
	assert.Equal(t, CodeStaleQuestion, CodeOf(wrapped))
	assert.Equal(t, CodeInvalidTransition, CodeOf(ErrQuestionNotYetAnswered))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))

	inv := InvariantViolation("broken", errors.New("cause"))
	assert.Equal(t, "broken: cause", inv.Error())
	assert.Equal(t, CodeInvariantViolation, CodeOf(inv))
}

func TestSessionPosition(t *testing.T) {
	s := GameSession{QuestionIDs: []string{"q1", "q2", "q3"}}
	pos, ok := s.Position("q2")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.False(t, s.HasQuestion("q4"))
}
