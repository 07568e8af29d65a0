package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-quiz-service/internal/domain"
)

type fakeLoader map[string]domain.Course

func (f fakeLoader) LoadCourse(_ context.Context, id string) (domain.Course, error) {
	c, ok := f[id]
	if !ok {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	return c, nil
}

func bankCourse() domain.Course {
	c := domain.Course{ID: "C1"}
	for i := 1; i <= 5; i++ {
		c.Questions = append(c.Questions, domain.Question{
			ID:     fmt.Sprintf("q%d", i),
			Text:   "text",
			Status: domain.QuestionApproved,
			Answers: []domain.Answer{
				{ID: "a", Text: "yes", Correct: true},
				{ID: "b", Text: "no"},
			},
		})
	}
	c.Questions[1].Status = domain.QuestionPending
	c.Questions[3].Answers[1].Correct = true // two correct answers
	return c
}

func TestListApproved(t *testing.T) {
	bank := NewQuestionBank(fakeLoader{"C1": bankCourse()}, nil)

	approved, err := bank.ListApproved(context.Background(), "C1")
	require.NoError(t, err)
	var ids []string
	for _, q := range approved {
		ids = append(ids, q.ID)
		assert.Equal(t, "C1", q.CourseID)
	}
	assert.Equal(t, []string{"q1", "q3", "q5"}, ids)

	_, err = bank.ListApproved(context.Background(), "C2")
	assert.True(t, errors.Is(err, domain.ErrCourseNotFound))
}

func TestSample(t *testing.T) {
	bank := NewQuestionBank(fakeLoader{"C1": bankCourse()}, nil)
	bank.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}

	picked, err := bank.Sample(context.Background(), "C1", 2)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "q5", picked[0].ID)
	assert.Equal(t, "q3", picked[1].ID)

	picked, err = bank.Sample(context.Background(), "C1", 3)
	require.NoError(t, err)
	assert.Len(t, picked, 3, "k equal to the pool is allowed")

	_, err = bank.Sample(context.Background(), "C1", 4)
	assert.True(t, errors.Is(err, domain.ErrInsufficientQuestions))

	_, err = bank.Sample(context.Background(), "C1", 0)
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}

func TestDuplicateQuestionIDs(t *testing.T) {
	c := bankCourse()
	for _, i := range []int{0, 2, 4} {
		dup := c.Questions[i]
		dup.Text = "copy of " + dup.ID
		c.Questions = append(c.Questions, dup)
	}
	bank := NewQuestionBank(fakeLoader{"C1": c}, nil)

	approved, err := bank.ListApproved(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, approved, 3)
	for _, q := range approved {
		assert.Equal(t, "text", q.Text, "first occurrence wins for %s", q.ID)
	}

	for i := 0; i < 50; i++ {
		picked, err := bank.Sample(context.Background(), "C1", 3)
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, q := range picked {
			ids[q.ID] = true
		}
		assert.Len(t, ids, 3)
	}

	_, err = bank.Sample(context.Background(), "C1", 4)
	assert.True(t, errors.Is(err, domain.ErrInsufficientQuestions), "duplicates do not count towards K")
}

func TestSampleIsRandom(t *testing.T) {
	bank := NewQuestionBank(fakeLoader{"C1": bankCourse()}, nil)
	firsts := map[string]bool{}
	for i := 0; i < 200; i++ {
		picked, err := bank.Sample(context.Background(), "C1", 1)
		require.NoError(t, err)
		firsts[picked[0].ID] = true
	}
	assert.Len(t, firsts, 3, "every approved question can be drawn")
}

func TestValidateInputs(t *testing.T) {
	assert.NoError(t, AdvanceInput{SessionID: "s"}.Validate())
	assert.Error(t, AdvanceInput{}.Validate())
	assert.Equal(t, "ABC123", JoinSessionInput{Code: " abc123"}.Normalize().Code)
	assert.NoError(t, SubmitAnswerInput{SessionID: "s", QuestionID: "q", AnswerID: "a"}.Validate())
	assert.Error(t, CreateSessionInput{CourseID: " "}.Validate())
}

func TestNewJoinCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := NewJoinCode()
		assert.NoError(t, domain.ValidateJoinCode(code))
	}
}
