package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"coop-quiz-service/internal/domain"
)

// CourseLoader reads a course with all of its questions and answers.
// Moderation status is returned as stored; filtering is the bank's job.
type CourseLoader struct {
	pool *pgxpool.Pool
}

func NewCourseLoader(pool *pgxpool.Pool) *CourseLoader {
	return &CourseLoader{pool: pool}
}

func (l *CourseLoader) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	course := domain.Course{ID: courseID}
	err := l.pool.QueryRow(ctx, `SELECT name FROM courses WHERE id = $1`, courseID).Scan(&course.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Course{}, fmt.Errorf("course %q: %w", courseID, domain.ErrCourseNotFound)
	}
	if err != nil {
		return domain.Course{}, fmt.Errorf("load course: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT q.id, q.text, q.explanation, q.status,
			COALESCE(a.id, ''), COALESCE(a.text, ''), COALESCE(a.is_correct, FALSE)
		FROM questions q
		LEFT JOIN answers a ON a.question_id = q.id
		WHERE q.course_id = $1
		ORDER BY q.created_at, q.id, a.position`, courseID)
	if err != nil {
		return domain.Course{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var (
			q                domain.Question
			status           string
			answerID, answer string
			correct          bool
		)
		if err := rows.Scan(&q.ID, &q.Text, &q.Explanation, &status, &answerID, &answer, &correct); err != nil {
			return domain.Course{}, fmt.Errorf("scan question: %w", err)
		}
		i, seen := index[q.ID]
		if !seen {
			q.CourseID = courseID
			q.Status = domain.QuestionStatus(status)
			q.Answers = []domain.Answer{}
			course.Questions = append(course.Questions, q)
			i = len(course.Questions) - 1
			index[q.ID] = i
		}
		if answerID != "" {
			course.Questions[i].Answers = append(course.Questions[i].Answers, domain.Answer{
				ID:         answerID,
				QuestionID: q.ID,
				Text:       answer,
				Correct:    correct,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Course{}, fmt.Errorf("load questions: %w", err)
	}
	return course, nil
}
