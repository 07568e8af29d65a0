package app

import (
	"go.uber.org/zap"

	"coop-quiz-service/internal/domain"
)

// DefaultCorrectBonus is added to every participant for each correctly answered question.
const DefaultCorrectBonus = 10

// Scorer decides the team bonus owed by a first answer. The store applies it
// in the same atomic step that creates the team answer record, so a record
// never exists without its bonus and the bonus is never granted twice.
type Scorer struct {
	points int
	log    *zap.Logger
}

func NewScorer(points int, log *zap.Logger) *Scorer {
	if points <= 0 {
		points = DefaultCorrectBonus
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{points: points, log: log}
}

// Points is the bonus applied per correct question.
func (s *Scorer) Points() int {
	return s.points
}

// BonusFor returns what every participant earns if answer becomes the team answer.
func (s *Scorer) BonusFor(answer domain.Answer) int {
	if !answer.Correct {
		return 0
	}
	return s.points
}

// Applied logs a bonus the store granted along with a new team answer.
func (s *Scorer) Applied(rec domain.TeamAnswer, created bool) {
	if !created || !rec.Correct {
		return
	}
	s.log.Debug("team bonus applied",
		zap.String("session_id", rec.SessionID),
		zap.String("question_id", rec.QuestionID),
		zap.Int("points", s.points),
	)
}
