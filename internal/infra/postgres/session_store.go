package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"coop-quiz-service/internal/domain"
)

const openJoinCodeIndex = "uq_game_sessions_open_join_code"

const sessionColumns = `
	s.id, s.join_code, COALESCE(s.course_id, ''), s.mode, s.status,
	COALESCE(s.current_question_id, ''), s.created_at,
	ARRAY(SELECT q.question_id FROM session_questions q WHERE q.session_id = s.id ORDER BY q.position)`

// Seq is derived from insertion order so it never needs a counter.
const participantQuery = `
SELECT session_id, user_id, display_name, seq, score, joined_at FROM (
	SELECT session_id, user_id, display_name,
		ROW_NUMBER() OVER (ORDER BY id) AS seq, score, joined_at
	FROM game_participants WHERE session_id = $1
) p
WHERE ($2::text = '' OR user_id = $2)
ORDER BY seq`

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// SessionStore persists sessions in Postgres. Uniqueness is enforced by
// constraints; transitions lock the session row (FOR SHARE for answers and
// joins, FOR UPDATE for advancing) so they serialize per session.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) CreateSession(ctx context.Context, in domain.NewSession) (domain.GameSession, error) {
	code := domain.NormalizeJoinCode(in.JoinCode)
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO game_sessions (id, join_code, course_id, mode, status, created_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, 'LOBBY', $5)`,
			in.ID, code, in.CourseID, string(in.Mode), in.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openJoinCodeIndex {
				return domain.ErrJoinCodeTaken
			}
			return fmt.Errorf("insert session: %w", err)
		}

		for i, q := range in.Questions {
			data, err := json.Marshal(q)
			if err != nil {
				return fmt.Errorf("encode question %s: %w", q.ID, err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO session_questions (session_id, position, question_id, data)
				VALUES ($1, $2, $3, $4)`, in.ID, i+1, q.ID, data); err != nil {
				return fmt.Errorf("freeze question %s: %w", q.ID, err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO game_participants (session_id, user_id, display_name, joined_at)
			VALUES ($1, $2, $3, $4)`,
			in.ID, in.Creator.ID, in.Creator.DisplayName, in.CreatedAt)
		if err != nil {
			return fmt.Errorf("admit creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.GameSession{}, err
	}
	return s.GetSession(ctx, in.ID)
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return getSession(ctx, s.pool, `WHERE s.id = $1`, sessionID)
}

func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (domain.GameSession, error) {
	return getSession(ctx, s.pool, `WHERE s.join_code = $1 AND s.status <> 'FINISHED'`, domain.NormalizeJoinCode(code))
}

func (s *SessionStore) ListSessions(ctx context.Context, userID string, status domain.SessionStatus) ([]domain.GameSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions s
		JOIN game_participants p ON p.session_id = s.id
		WHERE p.user_id = $1 AND ($2::text = '' OR s.status = $2)
		ORDER BY s.created_at DESC, s.id`, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.GameSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SessionStore) AddParticipant(ctx context.Context, sessionID string, user domain.User) (domain.Participant, bool, error) {
	var (
		participant domain.Participant
		created     bool
	)
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		status, _, err := lockSession(ctx, tx, sessionID, "FOR SHARE")
		if err != nil {
			return err
		}
		if p, err := getParticipant(ctx, tx, sessionID, user.ID); err == nil {
			participant = p
			return nil
		} else if !errors.Is(err, domain.ErrParticipantNotFound) {
			return err
		}
		if status != domain.StatusLobby {
			return fmt.Errorf("join session in status %s: %w", status, domain.ErrInvalidTransition)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO game_participants (session_id, user_id, display_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id, user_id) DO NOTHING`,
			sessionID, user.ID, user.DisplayName)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		created = tag.RowsAffected() == 1
		participant, err = getParticipant(ctx, tx, sessionID, user.ID)
		return err
	})
	if err != nil {
		return domain.Participant{}, false, err
	}
	return participant, created, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, userID string) (domain.Participant, error) {
	p, err := getParticipant(ctx, s.pool, sessionID, userID)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		if _, serr := s.GetSession(ctx, sessionID); serr != nil {
			return domain.Participant{}, serr
		}
	}
	return p, err
}

func (s *SessionStore) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	participants, err := listParticipants(ctx, s.pool, sessionID, "")
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return participants, nil
}

func (s *SessionStore) Question(ctx context.Context, sessionID, questionID string) (domain.Question, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM session_questions WHERE session_id = $1 AND question_id = $2`,
		sessionID, questionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, serr := s.GetSession(ctx, sessionID); serr != nil {
			return domain.Question{}, serr
		}
		return domain.Question{}, fmt.Errorf("question %s in session %s: %w", questionID, sessionID, domain.ErrQuestionNotFound)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question %s: %w", questionID, err)
	}
	var q domain.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Question{}, domain.InvariantViolation("corrupt question snapshot "+questionID, err)
	}
	return q, nil
}

func (s *SessionStore) Activate(ctx context.Context, sessionID string) (domain.GameSession, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE game_sessions s
		SET status = 'ACTIVE', current_question_id = q.question_id
		FROM session_questions q
		WHERE s.id = $1 AND s.status = 'LOBBY' AND q.session_id = s.id AND q.position = 1`, sessionID)
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("activate session %s: %w", sessionID, err)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if tag.RowsAffected() == 1 {
		return session, nil
	}
	if session.Status != domain.StatusLobby {
		return domain.GameSession{}, fmt.Errorf("activate session in status %s: %w", session.Status, domain.ErrInvalidTransition)
	}
	return domain.GameSession{}, domain.ErrInsufficientQuestions
}

func (s *SessionStore) RecordAnswerIfAbsent(ctx context.Context, rec domain.TeamAnswer, bonus int) (domain.TeamAnswer, bool, error) {
	if bonus < 0 {
		return domain.TeamAnswer{}, false, domain.InvalidInput("bonus", "must not be negative")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var (
		stored  domain.TeamAnswer
		created bool
	)
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		status, current, err := lockSession(ctx, tx, rec.SessionID, "FOR SHARE")
		if err != nil {
			return err
		}
		if status != domain.StatusActive {
			return fmt.Errorf("answer in status %s: %w", status, domain.ErrInvalidTransition)
		}
		if current != rec.QuestionID {
			return fmt.Errorf("question %s is not current: %w", rec.QuestionID, domain.ErrStaleQuestion)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO team_answers
				(id, session_id, question_id, answer_id, answered_by, answered_by_name, is_correct, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, question_id) DO NOTHING`,
			rec.ID, rec.SessionID, rec.QuestionID, rec.AnswerID,
			rec.AnsweredBy, rec.AnsweredByName, rec.Correct, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert team answer: %w", err)
		}
		created = tag.RowsAffected() == 1
		if created && rec.Correct && bonus > 0 {
			if err := awardParticipants(ctx, tx, rec.SessionID, bonus); err != nil {
				return err
			}
		}

		var ok bool
		stored, ok, err = answerFor(ctx, tx, rec.SessionID, rec.QuestionID)
		if err == nil && !ok {
			err = domain.InvariantViolation("team answer vanished for "+rec.QuestionID, nil)
		}
		return err
	})
	if err != nil {
		return domain.TeamAnswer{}, false, err
	}
	return stored, created, nil
}

func (s *SessionStore) AnswerFor(ctx context.Context, sessionID, questionID string) (domain.TeamAnswer, bool, error) {
	return answerFor(ctx, s.pool, sessionID, questionID)
}

func (s *SessionStore) AwardAll(ctx context.Context, sessionID string, points int) error {
	if points < 0 {
		return domain.InvalidInput("points", "must not be negative")
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, _, err := lockSession(ctx, tx, sessionID, "FOR UPDATE"); err != nil {
			return err
		}
		return awardParticipants(ctx, tx, sessionID, points)
	})
}

func awardParticipants(ctx context.Context, q querier, sessionID string, points int) error {
	_, err := q.Exec(ctx, `UPDATE game_participants SET score = score + $2 WHERE session_id = $1`, sessionID, points)
	if err != nil {
		return fmt.Errorf("award session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SessionStore) AdvanceCurrentQuestion(ctx context.Context, sessionID, expected string) (domain.GameSession, error) {
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		status, current, err := lockSession(ctx, tx, sessionID, "FOR UPDATE")
		if err != nil {
			return err
		}
		if status != domain.StatusActive {
			return fmt.Errorf("advance in status %s: %w", status, domain.ErrInvalidTransition)
		}
		if current != expected {
			return fmt.Errorf("question %s is not current: %w", expected, domain.ErrStaleQuestion)
		}
		if _, answered, err := answerFor(ctx, tx, sessionID, expected); err != nil {
			return err
		} else if !answered {
			return domain.ErrQuestionNotYetAnswered
		}

		var position int
		err = tx.QueryRow(ctx, `
			SELECT position FROM session_questions WHERE session_id = $1 AND question_id = $2`,
			sessionID, expected).Scan(&position)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InvariantViolation(
				fmt.Sprintf("current question %s missing from session %s", expected, sessionID), nil)
		}
		if err != nil {
			return fmt.Errorf("locate current question: %w", err)
		}

		var next string
		err = tx.QueryRow(ctx, `
			SELECT question_id FROM session_questions WHERE session_id = $1 AND position = $2`,
			sessionID, position+1).Scan(&next)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// leaving the partial unique index frees the join code
			_, err = tx.Exec(ctx, `
				UPDATE game_sessions SET status = 'FINISHED', current_question_id = NULL WHERE id = $1`, sessionID)
		case err == nil:
			_, err = tx.Exec(ctx, `UPDATE game_sessions SET current_question_id = $2 WHERE id = $1`, sessionID, next)
		}
		if err != nil {
			return fmt.Errorf("advance session %s: %w", sessionID, err)
		}
		return nil
	})
	if err != nil {
		return domain.GameSession{}, err
	}
	return s.GetSession(ctx, sessionID)
}

func lockSession(ctx context.Context, q querier, sessionID, mode string) (domain.SessionStatus, string, error) {
	var status, current string
	err := q.QueryRow(ctx, `
		SELECT status, COALESCE(current_question_id, '') FROM game_sessions WHERE id = $1 `+mode,
		sessionID).Scan(&status, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	return domain.SessionStatus(status), current, nil
}

func getSession(ctx context.Context, q querier, where string, arg string) (domain.GameSession, error) {
	row := q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions s `+where, arg)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return session, err
}

func scanSession(row pgx.Row) (domain.GameSession, error) {
	var (
		session     domain.GameSession
		mode        string
		status      string
		questionIDs []string
	)
	err := row.Scan(&session.ID, &session.JoinCode, &session.CourseID, &mode, &status,
		&session.CurrentQuestionID, &session.CreatedAt, &questionIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GameSession{}, err
		}
		return domain.GameSession{}, fmt.Errorf("scan session: %w", err)
	}
	if questionIDs == nil {
		questionIDs = []string{}
	}
	session.Mode = domain.GameMode(mode)
	session.Status = domain.SessionStatus(status)
	session.QuestionIDs = questionIDs
	session.CreatedAt = session.CreatedAt.UTC()
	return session, nil
}

func getParticipant(ctx context.Context, q querier, sessionID, userID string) (domain.Participant, error) {
	participants, err := listParticipants(ctx, q, sessionID, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	if len(participants) == 0 {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return participants[0], nil
}

func listParticipants(ctx context.Context, q querier, sessionID, userID string) ([]domain.Participant, error) {
	rows, err := q.Query(ctx, participantQuery, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var (
			p   domain.Participant
			seq int64
		)
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.DisplayName, &seq, &p.Score, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Seq = int(seq)
		p.JoinedAt = p.JoinedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func answerFor(ctx context.Context, q querier, sessionID, questionID string) (domain.TeamAnswer, bool, error) {
	var rec domain.TeamAnswer
	err := q.QueryRow(ctx, `
		SELECT id, session_id, question_id, answer_id, answered_by, answered_by_name, is_correct, created_at
		FROM team_answers WHERE session_id = $1 AND question_id = $2`, sessionID, questionID).
		Scan(&rec.ID, &rec.SessionID, &rec.QuestionID, &rec.AnswerID,
			&rec.AnsweredBy, &rec.AnsweredByName, &rec.Correct, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TeamAnswer{}, false, nil
	}
	if err != nil {
		return domain.TeamAnswer{}, false, fmt.Errorf("load team answer: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, true, nil
}
