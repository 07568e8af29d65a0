package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"coop-quiz-service/internal/domain"
)

type courseModel struct {
	bun.BaseModel `bun:"table:courses"`

	ID   string `bun:"id,pk"`
	Name string `bun:"name,notnull"`
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions"`

	ID          string `bun:"id,pk"`
	CourseID    string `bun:"course_id,nullzero"`
	Text        string `bun:"text,notnull"`
	Explanation string `bun:"explanation,notnull"`
	Status      string `bun:"status,notnull"`
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers"`

	ID         string `bun:"id,pk"`
	QuestionID string `bun:"question_id,notnull"`
	Position   int    `bun:"position,notnull"`
	Text       string `bun:"text,notnull"`
	IsCorrect  bool   `bun:"is_correct,notnull"`
}

// SeedCourses upserts courses, their questions and answers in one transaction.
// Answers of a re-seeded question are replaced so positions stay dense.
func SeedCourses(ctx context.Context, db *bun.DB, courses []domain.Course) (int, error) {
	seeded := 0
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, c := range courses {
			course := courseModel{ID: c.ID, Name: c.Name}
			if _, err := tx.NewInsert().Model(&course).
				On("CONFLICT (id) DO UPDATE").
				Set("name = EXCLUDED.name").
				Exec(ctx); err != nil {
				return fmt.Errorf("seed course %s: %w", c.ID, err)
			}

			for _, q := range c.Questions {
				status := q.Status
				if status == "" {
					status = domain.QuestionPending
				}
				question := questionModel{
					ID:          q.ID,
					CourseID:    c.ID,
					Text:        q.Text,
					Explanation: q.Explanation,
					Status:      string(status),
				}
				if _, err := tx.NewInsert().Model(&question).
					On("CONFLICT (id) DO UPDATE").
					Set("course_id = EXCLUDED.course_id").
					Set("text = EXCLUDED.text").
					Set("explanation = EXCLUDED.explanation").
					Set("status = EXCLUDED.status").
					Exec(ctx); err != nil {
					return fmt.Errorf("seed question %s: %w", q.ID, err)
				}

				if _, err := tx.NewDelete().Model((*answerModel)(nil)).
					Where("question_id = ?", q.ID).
					Exec(ctx); err != nil {
					return fmt.Errorf("clear answers of %s: %w", q.ID, err)
				}
				if len(q.Answers) == 0 {
					seeded++
					continue
				}
				answers := make([]answerModel, len(q.Answers))
				for i, a := range q.Answers {
					answers[i] = answerModel{
						ID:         a.ID,
						QuestionID: q.ID,
						Position:   i + 1,
						Text:       a.Text,
						IsCorrect:  a.Correct,
					}
				}
				if _, err := tx.NewInsert().Model(&answers).Exec(ctx); err != nil {
					return fmt.Errorf("seed answers of %s: %w", q.ID, err)
				}
				seeded++
			}
		}
		return nil
	})
	return seeded, err
}
