package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"coop-quiz-service/internal/domain"
)

// SessionStore keeps game sessions in Redis so any number of service
// instances can serve the same games. Layout per session S:
//
//	game:session:{S}                hash  id, join_code, course_id, mode, status, current, created_at
//	game:session:{S}:questions      list  frozen question ids in order
//	game:session:{S}:snapshots      hash  question id -> question json
//	game:session:{S}:participants   zset  user id scored by join sequence
//	game:session:{S}:names          hash  user id -> display name
//	game:session:{S}:joined         hash  user id -> join time
//	game:session:{S}:scores         hash  user id -> score
//	game:session:{S}:answers        hash  question id -> team answer json
//	game:joincode:{CODE}            string session id, removed once finished
//	game:user:{U}:sessions          set   session ids the user joined
type SessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	clock  func() time.Time
}

// NewSessionStore returns a store whose session keys expire after ttl.
// A zero ttl keeps them forever.
func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, clock: time.Now}
}

func (s *SessionStore) CreateSession(ctx context.Context, in domain.NewSession) (domain.GameSession, error) {
	code := domain.NormalizeJoinCode(in.JoinCode)
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.clock().UTC()
	}
	createdAt := in.CreatedAt.UTC().Format(time.RFC3339Nano)

	args := []interface{}{
		in.ID, code, in.CourseID, string(in.Mode), createdAt,
		in.Creator.ID, in.Creator.DisplayName, s.ttl.Milliseconds(), len(in.Questions),
	}
	for _, q := range in.Questions {
		payload, err := json.Marshal(q)
		if err != nil {
			return domain.GameSession{}, fmt.Errorf("encode question %s: %w", q.ID, err)
		}
		args = append(args, q.ID, string(payload))
	}

	keys := []string{
		joinCodeKey(code),
		sessionKey(in.ID),
		questionsKey(in.ID),
		snapshotsKey(in.ID),
		participantsKey(in.ID),
		namesKey(in.ID),
		joinedKey(in.ID),
		scoresKey(in.ID),
		userSessionsKey(in.Creator.ID),
	}
	status, err := createScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("create session %s: %w", in.ID, err)
	}
	switch status {
	case scriptCodeTaken:
		return domain.GameSession{}, domain.ErrJoinCodeTaken
	case scriptIDTaken:
		return domain.GameSession{}, fmt.Errorf("session %s already exists", in.ID)
	}

	return domain.GameSession{
		ID:          in.ID,
		JoinCode:    code,
		CourseID:    in.CourseID,
		Mode:        in.Mode,
		Status:      domain.StatusLobby,
		QuestionIDs: in.QuestionIDs(),
		CreatedAt:   in.CreatedAt.UTC(),
	}, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	pipe := s.client.Pipeline()
	fields := pipe.HGetAll(ctx, sessionKey(sessionID))
	ids := pipe.LRange(ctx, questionsKey(sessionID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.GameSession{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return decodeSession(fields.Val(), ids.Val())
}

func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (domain.GameSession, error) {
	id, err := s.client.Get(ctx, joinCodeKey(domain.NormalizeJoinCode(code))).Result()
	if errors.Is(err, redis.Nil) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("resolve join code: %w", err)
	}
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Status == domain.StatusFinished {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, userID string, status domain.SessionStatus) ([]domain.GameSession, error) {
	ids, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	out := make([]domain.GameSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// expired; the index entry is harmless
			continue
		}
		if err != nil {
			return nil, err
		}
		if status == "" || session.Status == status {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, sessionID string, user domain.User) (domain.Participant, bool, error) {
	joinedAt := s.clock().UTC()
	keys := []string{
		sessionKey(sessionID),
		participantsKey(sessionID),
		namesKey(sessionID),
		joinedKey(sessionID),
		scoresKey(sessionID),
		userSessionsKey(user.ID),
	}
	res, err := joinScript.Run(ctx, s.client, keys,
		user.ID, user.DisplayName, joinedAt.Format(time.RFC3339Nano), sessionID).Int64Slice()
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("join session %s: %w", sessionID, err)
	}
	switch res[0] {
	case scriptNotFound:
		return domain.Participant{}, false, domain.ErrSessionNotFound
	case scriptBadStatus:
		return domain.Participant{}, false, fmt.Errorf("join session %s: %w", sessionID, domain.ErrInvalidTransition)
	case 0:
		p, err := s.GetParticipant(ctx, sessionID, user.ID)
		return p, false, err
	}
	return domain.Participant{
		SessionID:   sessionID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Seq:         int(res[1]),
		JoinedAt:    joinedAt,
	}, true, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, userID string) (domain.Participant, error) {
	pipe := s.client.Pipeline()
	exists := pipe.Exists(ctx, sessionKey(sessionID))
	seq := pipe.ZScore(ctx, participantsKey(sessionID), userID)
	name := pipe.HGet(ctx, namesKey(sessionID), userID)
	joined := pipe.HGet(ctx, joinedKey(sessionID), userID)
	score := pipe.HGet(ctx, scoresKey(sessionID), userID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Participant{}, fmt.Errorf("load participant %s: %w", userID, err)
	}
	if exists.Val() == 0 {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	if errors.Is(seq.Err(), redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return buildParticipant(sessionID, userID, seq.Val(), name.Val(), joined.Val(), score.Val()), nil
}

func (s *SessionStore) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	pipe := s.client.Pipeline()
	exists := pipe.Exists(ctx, sessionKey(sessionID))
	members := pipe.ZRangeWithScores(ctx, participantsKey(sessionID), 0, -1)
	names := pipe.HGetAll(ctx, namesKey(sessionID))
	joined := pipe.HGetAll(ctx, joinedKey(sessionID))
	scores := pipe.HGetAll(ctx, scoresKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load participants of %s: %w", sessionID, err)
	}
	if exists.Val() == 0 {
		return nil, domain.ErrSessionNotFound
	}

	out := make([]domain.Participant, 0, len(members.Val()))
	for _, m := range members.Val() {
		uid, _ := m.Member.(string)
		out = append(out, buildParticipant(sessionID, uid, m.Score,
			names.Val()[uid], joined.Val()[uid], scores.Val()[uid]))
	}
	return out, nil
}

func (s *SessionStore) Question(ctx context.Context, sessionID, questionID string) (domain.Question, error) {
	raw, err := s.client.HGet(ctx, snapshotsKey(sessionID), questionID).Bytes()
	if errors.Is(err, redis.Nil) {
		if n, err := s.client.Exists(ctx, sessionKey(sessionID)).Result(); err == nil && n == 0 {
			return domain.Question{}, domain.ErrSessionNotFound
		}
		return domain.Question{}, fmt.Errorf("question %s in session %s: %w", questionID, sessionID, domain.ErrQuestionNotFound)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question %s: %w", questionID, err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, domain.InvariantViolation("corrupt question snapshot "+questionID, err)
	}
	return q, nil
}

func (s *SessionStore) Activate(ctx context.Context, sessionID string) (domain.GameSession, error) {
	status, err := activateScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID), questionsKey(sessionID)}).Int()
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("activate session %s: %w", sessionID, err)
	}
	switch status {
	case scriptNotFound:
		return domain.GameSession{}, domain.ErrSessionNotFound
	case scriptBadStatus:
		return domain.GameSession{}, fmt.Errorf("activate session %s: %w", sessionID, domain.ErrInvalidTransition)
	case scriptNoQuestions:
		return domain.GameSession{}, domain.ErrInsufficientQuestions
	}
	return s.GetSession(ctx, sessionID)
}

func (s *SessionStore) RecordAnswerIfAbsent(ctx context.Context, rec domain.TeamAnswer, bonus int) (domain.TeamAnswer, bool, error) {
	if bonus < 0 {
		return domain.TeamAnswer{}, false, domain.InvalidInput("bonus", "must not be negative")
	}
	if !rec.Correct {
		bonus = 0
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.TeamAnswer{}, false, fmt.Errorf("encode team answer: %w", err)
	}

	res, err := recordScript.Run(ctx, s.client,
		[]string{
			sessionKey(rec.SessionID),
			answersKey(rec.SessionID),
			participantsKey(rec.SessionID),
			scoresKey(rec.SessionID),
		},
		rec.QuestionID, string(payload), bonus).Slice()
	if err != nil {
		return domain.TeamAnswer{}, false, fmt.Errorf("record answer: %w", err)
	}
	code, _ := res[0].(int64)
	body, _ := res[1].(string)
	switch code {
	case scriptNotFound:
		return domain.TeamAnswer{}, false, domain.ErrSessionNotFound
	case scriptBadStatus:
		return domain.TeamAnswer{}, false, fmt.Errorf("answer in status %s: %w", body, domain.ErrInvalidTransition)
	case scriptStale:
		return domain.TeamAnswer{}, false, fmt.Errorf("question %s is not current: %w", rec.QuestionID, domain.ErrStaleQuestion)
	}

	var stored domain.TeamAnswer
	if err := json.Unmarshal([]byte(body), &stored); err != nil {
		return domain.TeamAnswer{}, false, domain.InvariantViolation("corrupt team answer for "+rec.QuestionID, err)
	}
	return stored, code == 1, nil
}

func (s *SessionStore) AnswerFor(ctx context.Context, sessionID, questionID string) (domain.TeamAnswer, bool, error) {
	raw, err := s.client.HGet(ctx, answersKey(sessionID), questionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TeamAnswer{}, false, nil
	}
	if err != nil {
		return domain.TeamAnswer{}, false, fmt.Errorf("load team answer: %w", err)
	}
	var rec domain.TeamAnswer
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.TeamAnswer{}, false, domain.InvariantViolation("corrupt team answer for "+questionID, err)
	}
	return rec, true, nil
}

func (s *SessionStore) AwardAll(ctx context.Context, sessionID string, points int) error {
	if points < 0 {
		return domain.InvalidInput("points", "must not be negative")
	}
	n, err := awardScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID), participantsKey(sessionID), scoresKey(sessionID)}, points).Int()
	if err != nil {
		return fmt.Errorf("award session %s: %w", sessionID, err)
	}
	if n == scriptNotFound {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) AdvanceCurrentQuestion(ctx context.Context, sessionID, expected string) (domain.GameSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}

	keys := []string{
		sessionKey(sessionID),
		questionsKey(sessionID),
		answersKey(sessionID),
		joinCodeKey(session.JoinCode),
	}
	res, err := advanceScript.Run(ctx, s.client, keys, expected, sessionID).Slice()
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("advance session %s: %w", sessionID, err)
	}
	code, _ := res[0].(int64)
	detail, _ := res[1].(string)
	switch code {
	case scriptNotFound:
		return domain.GameSession{}, domain.ErrSessionNotFound
	case scriptBadStatus:
		return domain.GameSession{}, fmt.Errorf("advance in status %s: %w", detail, domain.ErrInvalidTransition)
	case scriptStale:
		return domain.GameSession{}, fmt.Errorf("question %s is not current: %w", expected, domain.ErrStaleQuestion)
	case scriptNoAnswer:
		return domain.GameSession{}, domain.ErrQuestionNotYetAnswered
	case scriptCorrupt:
		return domain.GameSession{}, domain.InvariantViolation(
			fmt.Sprintf("current question %s missing from session %s", expected, sessionID), nil)
	}
	return s.GetSession(ctx, sessionID)
}

func decodeSession(fields map[string]string, questionIDs []string) (domain.GameSession, error) {
	if len(fields) == 0 {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return domain.GameSession{}, domain.InvariantViolation("corrupt created_at for session "+fields["id"], err)
	}
	if questionIDs == nil {
		questionIDs = []string{}
	}
	return domain.GameSession{
		ID:                fields["id"],
		JoinCode:          fields["join_code"],
		CourseID:          fields["course_id"],
		Mode:              domain.GameMode(fields["mode"]),
		Status:            domain.SessionStatus(fields["status"]),
		QuestionIDs:       questionIDs,
		CurrentQuestionID: fields["current"],
		CreatedAt:         createdAt,
	}, nil
}

func buildParticipant(sessionID, userID string, seq float64, name, joined, score string) domain.Participant {
	p := domain.Participant{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: name,
		Seq:         int(seq),
	}
	if t, err := time.Parse(time.RFC3339Nano, joined); err == nil {
		p.JoinedAt = t
	}
	if n, err := strconv.Atoi(score); err == nil {
		p.Score = n
	}
	return p
}

func sessionKey(id string) string      { return "game:session:" + id }
func questionsKey(id string) string    { return sessionKey(id) + ":questions" }
func snapshotsKey(id string) string    { return sessionKey(id) + ":snapshots" }
func participantsKey(id string) string { return sessionKey(id) + ":participants" }
func namesKey(id string) string        { return sessionKey(id) + ":names" }
func joinedKey(id string) string       { return sessionKey(id) + ":joined" }
func scoresKey(id string) string       { return sessionKey(id) + ":scores" }
func answersKey(id string) string      { return sessionKey(id) + ":answers" }
func joinCodeKey(code string) string   { return "game:joincode:" + code }
func userSessionsKey(uid string) string {
	return "game:user:" + uid + ":sessions"
}
