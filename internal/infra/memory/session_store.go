package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coop-quiz-service/internal/domain"
)

// SessionStore is an in-process implementation of app.SessionStore.
//
// Lock order is store.mu then entry.mu. Code paths holding an entry lock never
// take the store lock; they release the entry first.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	codes    map[string]string
	byUser   map[string]map[string]struct{}
	clock    func() time.Time
}

type sessionEntry struct {
	mu           sync.Mutex
	session      domain.GameSession
	questions    map[string]domain.Question
	participants []*domain.Participant
	byUser       map[string]*domain.Participant
	answers      map[string]domain.TeamAnswer
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		codes:    make(map[string]string),
		byUser:   make(map[string]map[string]struct{}),
		clock:    time.Now,
	}
}

func (s *SessionStore) CreateSession(_ context.Context, in domain.NewSession) (domain.GameSession, error) {
	code := domain.NormalizeJoinCode(in.JoinCode)
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.clock().UTC()
	}

	entry := &sessionEntry{
		session: domain.GameSession{
			ID:          in.ID,
			JoinCode:    code,
			CourseID:    in.CourseID,
			Mode:        in.Mode,
			Status:      domain.StatusLobby,
			QuestionIDs: in.QuestionIDs(),
			CreatedAt:   in.CreatedAt,
		},
		questions: make(map[string]domain.Question, len(in.Questions)),
		byUser:    make(map[string]*domain.Participant),
		answers:   make(map[string]domain.TeamAnswer),
	}
	for _, q := range in.Questions {
		entry.questions[q.ID] = cloneQuestion(q)
	}
	creator := &domain.Participant{
		SessionID:   in.ID,
		UserID:      in.Creator.ID,
		DisplayName: in.Creator.DisplayName,
		Seq:         1,
		JoinedAt:    in.CreatedAt,
	}
	entry.participants = append(entry.participants, creator)
	entry.byUser[creator.UserID] = creator

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[in.ID]; exists {
		return domain.GameSession{}, fmt.Errorf("session %s already exists", in.ID)
	}
	if holder, ok := s.codes[code]; ok {
		if held := s.sessions[holder]; held != nil && held.status() != domain.StatusFinished {
			return domain.GameSession{}, domain.ErrJoinCodeTaken
		}
	}
	s.sessions[in.ID] = entry
	s.codes[code] = in.ID
	s.indexUserLocked(creator.UserID, in.ID)
	return cloneSession(entry.session), nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.GameSession, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneSession(entry.session), nil
}

func (s *SessionStore) FindByJoinCode(_ context.Context, code string) (domain.GameSession, error) {
	s.mu.RLock()
	id, ok := s.codes[domain.NormalizeJoinCode(code)]
	entry := s.sessions[id]
	s.mu.RUnlock()
	if !ok || entry == nil {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session.Status == domain.StatusFinished {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return cloneSession(entry.session), nil
}

func (s *SessionStore) ListSessions(_ context.Context, userID string, status domain.SessionStatus) ([]domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.GameSession, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		entry := s.sessions[id]
		if entry == nil {
			continue
		}
		entry.mu.Lock()
		if status == "" || entry.session.Status == status {
			out = append(out, cloneSession(entry.session))
		}
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *SessionStore) AddParticipant(_ context.Context, sessionID string, user domain.User) (domain.Participant, bool, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.Participant{}, false, err
	}

	entry.mu.Lock()
	if existing, ok := entry.byUser[user.ID]; ok {
		p := *existing
		entry.mu.Unlock()
		return p, false, nil
	}
	if entry.session.Status != domain.StatusLobby {
		status := entry.session.Status
		entry.mu.Unlock()
		return domain.Participant{}, false, fmt.Errorf("join session in status %s: %w", status, domain.ErrInvalidTransition)
	}
	p := &domain.Participant{
		SessionID:   sessionID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Seq:         len(entry.participants) + 1,
		JoinedAt:    s.clock().UTC(),
	}
	entry.participants = append(entry.participants, p)
	entry.byUser[user.ID] = p
	joined := *p
	entry.mu.Unlock()

	s.mu.Lock()
	s.indexUserLocked(user.ID, sessionID)
	s.mu.Unlock()
	return joined, true, nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, userID string) (domain.Participant, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	p, ok := entry.byUser[userID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return *p, nil
}

func (s *SessionStore) Participants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]domain.Participant, len(entry.participants))
	for i, p := range entry.participants {
		out[i] = *p
	}
	return out, nil
}

func (s *SessionStore) Question(_ context.Context, sessionID, questionID string) (domain.Question, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.Question{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	q, ok := entry.questions[questionID]
	if !ok {
		return domain.Question{}, fmt.Errorf("question %s in session %s: %w", questionID, sessionID, domain.ErrQuestionNotFound)
	}
	return cloneQuestion(q), nil
}

func (s *SessionStore) Activate(_ context.Context, sessionID string) (domain.GameSession, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.session.Status.CanTransitionTo(domain.StatusActive) {
		return domain.GameSession{}, fmt.Errorf("activate session in status %s: %w", entry.session.Status, domain.ErrInvalidTransition)
	}
	if len(entry.session.QuestionIDs) == 0 {
		return domain.GameSession{}, domain.ErrInsufficientQuestions
	}
	entry.session.Status = domain.StatusActive
	entry.session.CurrentQuestionID = entry.session.QuestionIDs[0]
	return cloneSession(entry.session), nil
}

func (s *SessionStore) RecordAnswerIfAbsent(_ context.Context, rec domain.TeamAnswer, bonus int) (domain.TeamAnswer, bool, error) {
	if bonus < 0 {
		return domain.TeamAnswer{}, false, domain.InvalidInput("bonus", "must not be negative")
	}
	entry, err := s.entry(rec.SessionID)
	if err != nil {
		return domain.TeamAnswer{}, false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session.Status != domain.StatusActive {
		return domain.TeamAnswer{}, false, fmt.Errorf("answer in status %s: %w", entry.session.Status, domain.ErrInvalidTransition)
	}
	if entry.session.CurrentQuestionID != rec.QuestionID {
		return domain.TeamAnswer{}, false, fmt.Errorf("question %s is not current: %w", rec.QuestionID, domain.ErrStaleQuestion)
	}
	if existing, ok := entry.answers[rec.QuestionID]; ok {
		return existing, false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	entry.answers[rec.QuestionID] = rec
	if rec.Correct {
		entry.award(bonus)
	}
	return rec, true, nil
}

func (s *SessionStore) AnswerFor(_ context.Context, sessionID, questionID string) (domain.TeamAnswer, bool, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.TeamAnswer{}, false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	rec, ok := entry.answers[questionID]
	return rec, ok, nil
}

func (s *SessionStore) AwardAll(_ context.Context, sessionID string, points int) error {
	if points < 0 {
		return domain.InvalidInput("points", "must not be negative")
	}
	entry, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.award(points)
	return nil
}

func (s *SessionStore) AdvanceCurrentQuestion(_ context.Context, sessionID, expected string) (domain.GameSession, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}

	entry.mu.Lock()
	if entry.session.Status != domain.StatusActive {
		status := entry.session.Status
		entry.mu.Unlock()
		return domain.GameSession{}, fmt.Errorf("advance in status %s: %w", status, domain.ErrInvalidTransition)
	}
	if entry.session.CurrentQuestionID != expected {
		entry.mu.Unlock()
		return domain.GameSession{}, fmt.Errorf("question %s is not current: %w", expected, domain.ErrStaleQuestion)
	}
	if _, answered := entry.answers[expected]; !answered {
		entry.mu.Unlock()
		return domain.GameSession{}, domain.ErrQuestionNotYetAnswered
	}
	pos, ok := entry.session.Position(expected)
	if !ok {
		entry.mu.Unlock()
		return domain.GameSession{}, domain.InvariantViolation(
			fmt.Sprintf("current question %s missing from session %s", expected, sessionID), nil)
	}
	switch {
	case pos < len(entry.session.QuestionIDs):
		entry.session.CurrentQuestionID = entry.session.QuestionIDs[pos]
	case entry.session.Status.CanTransitionTo(domain.StatusFinished):
		entry.session.CurrentQuestionID = ""
		entry.session.Status = domain.StatusFinished
	}
	updated := cloneSession(entry.session)
	entry.mu.Unlock()

	if updated.Status == domain.StatusFinished {
		s.mu.Lock()
		if s.codes[updated.JoinCode] == sessionID {
			delete(s.codes, updated.JoinCode)
		}
		s.mu.Unlock()
	}
	return updated, nil
}

// award must be called with e.mu held.
func (e *sessionEntry) award(points int) {
	for _, p := range e.participants {
		p.Score += points
	}
}

func (s *SessionStore) entry(sessionID string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return entry, nil
}

func (s *SessionStore) indexUserLocked(userID, sessionID string) {
	set, ok := s.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[userID] = set
	}
	set[sessionID] = struct{}{}
}

func (e *sessionEntry) status() domain.SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status
}

func cloneSession(s domain.GameSession) domain.GameSession {
	s.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	return s
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Answers = append([]domain.Answer(nil), q.Answers...)
	return q
}
