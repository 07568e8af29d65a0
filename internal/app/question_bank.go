package app

import (
	"context"
	"fmt"
	"math/rand"

	"coop-quiz-service/internal/domain"
	"go.uber.org/zap"
)

// LoaderBank serves approved questions from a CourseLoader, usually a cached one.
type LoaderBank struct {
	loader  CourseLoader
	log     *zap.Logger
	shuffle func(n int, swap func(i, j int))
}

func NewQuestionBank(loader CourseLoader, log *zap.Logger) *LoaderBank {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoaderBank{loader: loader, log: log, shuffle: rand.Shuffle}
}

// ListApproved returns the course's APPROVED questions in bank order. Questions
// that break the answer rules are skipped so they can never be miscounted, and
// a repeated question id keeps only its first occurrence.
func (b *LoaderBank) ListApproved(ctx context.Context, courseID string) ([]domain.Question, error) {
	course, err := b.loader.LoadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	approved := make([]domain.Question, 0, len(course.Questions))
	seen := make(map[string]struct{}, len(course.Questions))
	for _, q := range course.Questions {
		if q.Status != domain.QuestionApproved {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			b.log.Warn("skipping duplicate question id",
				zap.String("course_id", courseID),
				zap.String("question_id", q.ID),
			)
			continue
		}
		if err := domain.ValidateQuestion(q); err != nil {
			b.log.Warn("skipping invalid approved question",
				zap.String("course_id", courseID),
				zap.String("question_id", q.ID),
				zap.Error(err),
			)
			continue
		}
		if q.CourseID == "" {
			q.CourseID = course.ID
		}
		seen[q.ID] = struct{}{}
		approved = append(approved, q)
	}
	return approved, nil
}

func (b *LoaderBank) Sample(ctx context.Context, courseID string, k int) ([]domain.Question, error) {
	approved, err := b.ListApproved(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, domain.InvalidInput("k", "must be positive")
	}
	if len(approved) < k {
		return nil, fmt.Errorf("course %q has %d approved questions, need %d: %w",
			courseID, len(approved), k, domain.ErrInsufficientQuestions)
	}

	pool := make([]domain.Question, len(approved))
	copy(pool, approved)
	b.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:k], nil
}
