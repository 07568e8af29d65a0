package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coop-quiz-service/internal/domain"
)

// DefaultQuestionsPerGame is K, the number of questions frozen into each session.
const DefaultQuestionsPerGame = 10

// Options tunes a GameService. Zero values fall back to defaults.
type Options struct {
	QuestionsPerGame int
	CorrectBonus     int
	Logger           *zap.Logger
	Clock            func() time.Time
	JoinCodes        func() string
	IDs              func() string
}

// GameService drives the session lifecycle: lobby, activation, answering,
// advancing and results. It holds no game state of its own; everything goes
// through the SessionStore so several instances can share one store.
type GameService struct {
	store     SessionStore
	bank      QuestionBank
	scorer    *Scorer
	log       *zap.Logger
	k         int
	now       func() time.Time
	joinCodes func() string
	ids       func() string
}

func NewGameService(store SessionStore, bank QuestionBank, opts Options) *GameService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QuestionsPerGame <= 0 {
		opts.QuestionsPerGame = DefaultQuestionsPerGame
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.JoinCodes == nil {
		opts.JoinCodes = NewJoinCode
	}
	if opts.IDs == nil {
		opts.IDs = uuid.NewString
	}
	return &GameService{
		store:     store,
		bank:      bank,
		scorer:    NewScorer(opts.CorrectBonus, opts.Logger),
		log:       opts.Logger,
		k:         opts.QuestionsPerGame,
		now:       opts.Clock,
		joinCodes: opts.JoinCodes,
		ids:       opts.IDs,
	}
}

// QuestionsPerGame returns K.
func (s *GameService) QuestionsPerGame() int {
	return s.k
}

// CreateSession samples K approved questions, opens a lobby and admits the
// creator as host.
func (s *GameService) CreateSession(ctx context.Context, user domain.User, in CreateSessionInput) (domain.View, error) {
	if err := requireUser(user); err != nil {
		return domain.View{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.View{}, err
	}

	questions, err := s.bank.Sample(ctx, in.CourseID, s.k)
	if err != nil {
		return domain.View{}, err
	}

	var session domain.GameSession
	for attempt := 1; ; attempt++ {
		session, err = s.store.CreateSession(ctx, domain.NewSession{
			ID:        s.ids(),
			JoinCode:  s.joinCodes(),
			CourseID:  in.CourseID,
			Mode:      domain.ModeCoop,
			Questions: questions,
			Creator:   user,
			CreatedAt: s.now().UTC(),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrJoinCodeTaken) || attempt >= maxJoinCodeAttempts {
			return domain.View{}, fmt.Errorf("create session: %w", err)
		}
		s.log.Debug("join code collision, retrying", zap.Int("attempt", attempt))
	}

	s.log.Info("game session created",
		zap.String("session_id", session.ID),
		zap.String("join_code", session.JoinCode),
		zap.String("course_id", session.CourseID),
		zap.String("host_id", user.ID),
		zap.Int("questions", len(session.QuestionIDs)),
	)
	return s.view(ctx, session, user.ID)
}

// JoinSession admits the caller into the lobby matching the code. A known
// participant rejoining is a no-op in any status.
func (s *GameService) JoinSession(ctx context.Context, user domain.User, in JoinSessionInput) (domain.View, error) {
	if err := requireUser(user); err != nil {
		return domain.View{}, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.View{}, err
	}

	session, err := s.store.FindByJoinCode(ctx, in.Code)
	if err != nil {
		return domain.View{}, err
	}
	participant, created, err := s.store.AddParticipant(ctx, session.ID, user)
	if err != nil {
		return domain.View{}, err
	}
	if created {
		s.log.Info("participant joined",
			zap.String("session_id", session.ID),
			zap.String("user_id", user.ID),
			zap.Int("seq", participant.Seq),
		)
	}

	// Re-read so a rejoin into a running game sees its current state.
	if session, err = s.store.GetSession(ctx, session.ID); err != nil {
		return domain.View{}, err
	}
	return s.view(ctx, session, user.ID)
}

// StartSession activates a lobby. Only the host may start it.
func (s *GameService) StartSession(ctx context.Context, user domain.User, sessionID string) (domain.View, error) {
	session, err := s.participantSession(ctx, user, sessionID)
	if err != nil {
		return domain.View{}, err
	}
	if !session.Status.CanTransitionTo(domain.StatusActive) {
		return domain.View{}, fmt.Errorf("start session in status %s: %w", session.Status, domain.ErrInvalidTransition)
	}
	participants, err := s.store.Participants(ctx, sessionID)
	if err != nil {
		return domain.View{}, err
	}
	if host := hostOf(participants); host == nil || host.UserID != user.ID {
		return domain.View{}, domain.ErrNotHost
	}
	if len(session.QuestionIDs) == 0 {
		return domain.View{}, domain.ErrInsufficientQuestions
	}

	session, err = s.store.Activate(ctx, sessionID)
	if err != nil {
		return domain.View{}, err
	}
	s.log.Info("game session started",
		zap.String("session_id", sessionID),
		zap.String("current_question_id", session.CurrentQuestionID),
	)
	return s.view(ctx, session, user.ID)
}

// SubmitAnswer records the team answer for the current question unless one
// exists already. The team bonus is written together with the first correct
// record, so it lands exactly once or not at all.
func (s *GameService) SubmitAnswer(ctx context.Context, user domain.User, in SubmitAnswerInput) (domain.View, error) {
	if err := in.Validate(); err != nil {
		return domain.View{}, err
	}
	session, err := s.participantSession(ctx, user, in.SessionID)
	if err != nil {
		return domain.View{}, err
	}
	if session.Status != domain.StatusActive {
		return domain.View{}, fmt.Errorf("answer in status %s: %w", session.Status, domain.ErrInvalidTransition)
	}
	if !session.HasQuestion(in.QuestionID) {
		return domain.View{}, fmt.Errorf("question %s in session %s: %w", in.QuestionID, session.ID, domain.ErrQuestionNotFound)
	}
	if in.QuestionID != session.CurrentQuestionID {
		return domain.View{}, fmt.Errorf("question %s is not current: %w", in.QuestionID, domain.ErrStaleQuestion)
	}

	question, err := s.store.Question(ctx, session.ID, in.QuestionID)
	if err != nil {
		return domain.View{}, err
	}
	answer, ok := question.Answer(in.AnswerID)
	if !ok {
		return domain.View{}, fmt.Errorf("answer %s for question %s: %w", in.AnswerID, question.ID, domain.ErrAnswerNotFound)
	}

	record, created, err := s.store.RecordAnswerIfAbsent(ctx, domain.TeamAnswer{
		ID:             s.ids(),
		SessionID:      session.ID,
		QuestionID:     question.ID,
		AnswerID:       answer.ID,
		AnsweredBy:     user.ID,
		AnsweredByName: user.DisplayName,
		Correct:        answer.Correct,
		CreatedAt:      s.now().UTC(),
	}, s.scorer.BonusFor(answer))
	if err != nil {
		return domain.View{}, err
	}

	if created {
		s.log.Info("team answer recorded",
			zap.String("session_id", session.ID),
			zap.String("question_id", question.ID),
			zap.String("user_id", user.ID),
			zap.Bool("correct", record.Correct),
		)
	}
	s.scorer.Applied(record, created)

	pos, _ := session.Position(question.ID)
	return domain.View{
		Kind:      domain.ViewResult,
		SessionID: session.ID,
		JoinCode:  session.JoinCode,
		Status:    session.Status,
		Result:    projectResult(question, record, domain.Progress{Position: pos, Total: len(session.QuestionIDs)}),
	}, nil
}

// AdvanceQuestion moves past the answered current question, finishing the
// game after the last one. A stale QuestionID means someone advanced first.
func (s *GameService) AdvanceQuestion(ctx context.Context, user domain.User, in AdvanceInput) (domain.View, error) {
	if err := in.Validate(); err != nil {
		return domain.View{}, err
	}
	session, err := s.participantSession(ctx, user, in.SessionID)
	if err != nil {
		return domain.View{}, err
	}
	if session.Status != domain.StatusActive {
		return domain.View{}, fmt.Errorf("advance in status %s: %w", session.Status, domain.ErrInvalidTransition)
	}

	expected := in.QuestionID
	if expected == "" {
		expected = session.CurrentQuestionID
	}
	if expected != session.CurrentQuestionID {
		return domain.View{}, fmt.Errorf("question %s is not current: %w", expected, domain.ErrStaleQuestion)
	}

	session, err = s.store.AdvanceCurrentQuestion(ctx, session.ID, expected)
	if err != nil {
		return domain.View{}, err
	}
	if session.Status == domain.StatusFinished {
		s.log.Info("game session finished", zap.String("session_id", session.ID))
	} else {
		s.log.Debug("advanced to next question",
			zap.String("session_id", session.ID),
			zap.String("current_question_id", session.CurrentQuestionID),
		)
	}
	return s.view(ctx, session, user.ID)
}

// SessionView answers a poll. It never mutates state.
func (s *GameService) SessionView(ctx context.Context, user domain.User, sessionID string) (domain.View, error) {
	session, err := s.participantSession(ctx, user, sessionID)
	if err != nil {
		return domain.View{}, err
	}
	return s.view(ctx, session, user.ID)
}

// Results returns the final scoreboard of a finished session.
func (s *GameService) Results(ctx context.Context, user domain.User, sessionID string) (domain.View, error) {
	session, err := s.participantSession(ctx, user, sessionID)
	if err != nil {
		return domain.View{}, err
	}
	if session.Status != domain.StatusFinished {
		return domain.View{}, fmt.Errorf("results in status %s: %w", session.Status, domain.ErrInvalidTransition)
	}
	return s.view(ctx, session, user.ID)
}

// MySessions lists the open lobbies the caller is part of.
func (s *GameService) MySessions(ctx context.Context, user domain.User) ([]domain.SessionSummary, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, user.ID, domain.StatusLobby)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		participants, err := s.store.Participants(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, domain.SessionSummary{
			ID:           session.ID,
			JoinCode:     session.JoinCode,
			CourseID:     session.CourseID,
			Status:       session.Status,
			Participants: len(participants),
		})
	}
	return summaries, nil
}

func (s *GameService) participantSession(ctx context.Context, user domain.User, sessionID string) (domain.GameSession, error) {
	if err := requireUser(user); err != nil {
		return domain.GameSession{}, err
	}
	if sessionID == "" {
		return domain.GameSession{}, domain.InvalidInput("sessionId", "is required")
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if _, err := s.store.GetParticipant(ctx, sessionID, user.ID); err != nil {
		return domain.GameSession{}, err
	}
	return session, nil
}

// view loads everything the projector needs for session as seen by viewerID.
func (s *GameService) view(ctx context.Context, session domain.GameSession, viewerID string) (domain.View, error) {
	participants, err := s.store.Participants(ctx, session.ID)
	if err != nil {
		return domain.View{}, err
	}
	snap := Snapshot{Session: session, Participants: participants, ViewerID: viewerID}

	if session.Status == domain.StatusActive && session.CurrentQuestionID != "" {
		question, err := s.store.Question(ctx, session.ID, session.CurrentQuestionID)
		if err != nil && !errors.Is(err, domain.ErrQuestionNotFound) {
			return domain.View{}, err
		}
		if err == nil {
			snap.Current = &question
		}
		record, ok, err := s.store.AnswerFor(ctx, session.ID, session.CurrentQuestionID)
		if err != nil {
			return domain.View{}, err
		}
		if ok {
			snap.Answer = &record
		}
	}

	view, err := Project(snap)
	if err != nil {
		s.log.Error("cannot project session state", zap.String("session_id", session.ID), zap.Error(err))
		return domain.View{}, err
	}
	return view, nil
}

func requireUser(user domain.User) error {
	if user.ID == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}
