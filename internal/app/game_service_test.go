package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/domain"
	"coop-quiz-service/internal/infra/memory"
)

var (
	alice = domain.User{ID: "alice", DisplayName: "Alice"}
	bob   = domain.User{ID: "bob", DisplayName: "Bob"}
	carol = domain.User{ID: "carol", DisplayName: "Carol"}
)

// countingStore records how often a team answer is created together with a
// bonus. When failing, writes are rejected as a rolled back transaction would be.
type countingStore struct {
	app.SessionStore
	awards  atomic.Int32
	failing atomic.Bool
}

func (s *countingStore) RecordAnswerIfAbsent(ctx context.Context, rec domain.TeamAnswer, bonus int) (domain.TeamAnswer, bool, error) {
	if s.failing.Load() {
		return domain.TeamAnswer{}, false, errors.New("store unavailable")
	}
	stored, created, err := s.SessionStore.RecordAnswerIfAbsent(ctx, rec, bonus)
	if err == nil && created && stored.Correct && bonus > 0 {
		s.awards.Add(1)
	}
	return stored, created, err
}

func course(id string, approved, pending int) domain.Course {
	c := domain.Course{ID: id, Name: id}
	add := func(qid string, status domain.QuestionStatus) {
		c.Questions = append(c.Questions, domain.Question{
			ID:          qid,
			Text:        "Question " + qid,
			Explanation: "Because " + qid,
			Status:      status,
			Answers: []domain.Answer{
				{ID: qid + "-a", Text: "right", Correct: true},
				{ID: qid + "-b", Text: "wrong"},
				{ID: qid + "-c", Text: "also wrong"},
			},
		})
	}
	for i := 1; i <= approved; i++ {
		add(fmt.Sprintf("%s-%d", id, i), domain.QuestionApproved)
	}
	for i := 1; i <= pending; i++ {
		add(fmt.Sprintf("%s-p%d", id, i), domain.QuestionPending)
	}
	return c
}

type fixture struct {
	store   *countingStore
	service *app.GameService
}

func newFixture(t *testing.T, opts app.Options) *fixture {
	t.Helper()
	store := &countingStore{SessionStore: memory.NewSessionStore()}
	loader := memory.NewStaticCourseLoader(course("DEMO", 12, 1), course("SMALL", 9, 3))
	return &fixture{
		store:   store,
		service: app.NewGameService(store, app.NewQuestionBank(loader, nil), opts),
	}
}

// lobby creates a session hosted by alice and joined by the other users.
func (f *fixture) lobby(t *testing.T, users ...domain.User) domain.View {
	t.Helper()
	ctx := context.Background()
	view, err := f.service.CreateSession(ctx, alice, app.CreateSessionInput{CourseID: "DEMO"})
	require.NoError(t, err)
	for _, u := range users {
		_, err := f.service.JoinSession(ctx, u, app.JoinSessionInput{Code: view.JoinCode})
		require.NoError(t, err)
	}
	return view
}

// started returns a running session and the first question view.
func (f *fixture) started(t *testing.T, users ...domain.User) domain.View {
	t.Helper()
	lobby := f.lobby(t, users...)
	view, err := f.service.StartSession(context.Background(), alice, lobby.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.ViewQuestion, view.Kind)
	return view
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()

	view, err := f.service.CreateSession(ctx, alice, app.CreateSessionInput{CourseID: "DEMO"})
	require.NoError(t, err)
	assert.Equal(t, domain.ViewLobby, view.Kind)
	assert.Equal(t, domain.StatusLobby, view.Status)
	assert.NoError(t, domain.ValidateJoinCode(view.JoinCode))
	require.Len(t, view.Lobby.Participants, 1)
	assert.True(t, view.Lobby.ViewerIsHost)
	assert.True(t, view.Lobby.Participants[0].IsHost)

	session, err := f.store.GetSession(ctx, view.SessionID)
	require.NoError(t, err)
	assert.Len(t, session.QuestionIDs, app.DefaultQuestionsPerGame)
	seen := map[string]bool{}
	for _, id := range session.QuestionIDs {
		assert.False(t, seen[id], "question %s sampled twice", id)
		seen[id] = true
		assert.NotContains(t, id, "-p", "pending questions are never sampled")
	}
}

func TestCreateSessionInsufficientQuestions(t *testing.T) {
	f := newFixture(t, app.Options{})

	_, err := f.service.CreateSession(context.Background(), alice, app.CreateSessionInput{CourseID: "SMALL"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientQuestions))

	sessions, err := f.service.MySessions(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, sessions, "no session is persisted")
}

func TestCreateSessionErrors(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domain.User{}, app.CreateSessionInput{CourseID: "DEMO"})
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = f.service.CreateSession(ctx, alice, app.CreateSessionInput{})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))

	_, err = f.service.CreateSession(ctx, alice, app.CreateSessionInput{CourseID: "NOPE"})
	assert.True(t, errors.Is(err, domain.ErrCourseNotFound))
}

func TestCreateSessionRetriesJoinCodeCollisions(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c
	}
	f := newFixture(t, app.Options{JoinCodes: next})
	ctx := context.Background()

	first, err := f.service.CreateSession(ctx, alice, app.CreateSessionInput{CourseID: "DEMO"})
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.JoinCode)

	second, err := f.service.CreateSession(ctx, bob, app.CreateSessionInput{CourseID: "DEMO"})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second.JoinCode)
}

func TestCreateSessionGivesUpOnPersistentCollisions(t *testing.T) {
	f := newFixture(t, app.Options{JoinCodes: func() string { return "AAAAAA" }})
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, alice, app.CreateSessionInput{CourseID: "DEMO"})
	require.NoError(t, err)
	_, err = f.service.CreateSession(ctx, bob, app.CreateSessionInput{CourseID: "DEMO"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJoinCodeTaken))
}

func TestJoinSession(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	lobby := f.lobby(t)

	view, err := f.service.JoinSession(ctx, bob, app.JoinSessionInput{Code: " " + lobby.JoinCode + " "})
	require.NoError(t, err)
	require.Len(t, view.Lobby.Participants, 2)
	assert.False(t, view.Lobby.ViewerIsHost)
	assert.Equal(t, alice.ID, view.Lobby.HostID)

	// joining twice is a no-op
	view, err = f.service.JoinSession(ctx, bob, app.JoinSessionInput{Code: lobby.JoinCode})
	require.NoError(t, err)
	assert.Len(t, view.Lobby.Participants, 2)

	_, err = f.service.JoinSession(ctx, carol, app.JoinSessionInput{Code: "ZZZZZZ"})
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))

	_, err = f.service.JoinSession(ctx, carol, app.JoinSessionInput{Code: "bad"})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}

func TestJoinAfterStart(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	started := f.started(t, bob)

	_, err := f.service.JoinSession(ctx, carol, app.JoinSessionInput{Code: started.JoinCode})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "late joiners are refused")

	view, err := f.service.JoinSession(ctx, bob, app.JoinSessionInput{Code: started.JoinCode})
	require.NoError(t, err, "existing participants may rejoin")
	assert.Equal(t, domain.ViewQuestion, view.Kind)
}

func TestStartSession(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	lobby := f.lobby(t, bob)

	_, err := f.service.StartSession(ctx, bob, lobby.SessionID)
	assert.True(t, errors.Is(err, domain.ErrNotHost))

	_, err = f.service.StartSession(ctx, carol, lobby.SessionID)
	assert.True(t, errors.Is(err, domain.ErrParticipantNotFound))

	view, err := f.service.StartSession(ctx, alice, lobby.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, view.Status)
	assert.Equal(t, domain.Progress{Position: 1, Total: app.DefaultQuestionsPerGame}, view.Question.Progress)
	for _, opt := range view.Question.Options {
		assert.NotEmpty(t, opt.Text)
	}

	_, err = f.service.StartSession(ctx, alice, lobby.SessionID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = f.service.StartSession(ctx, alice, "missing")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestSubmitCorrectAnswer(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	q := f.started(t, bob)
	qid := q.Question.QuestionID

	view, err := f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-a"})
	require.NoError(t, err)
	require.Equal(t, domain.ViewResult, view.Kind)
	assert.True(t, view.Result.Correct)
	assert.Equal(t, qid+"-a", view.Result.CorrectAnswerID)
	assert.Equal(t, "Bob", view.Result.AnsweredByName)
	assert.Equal(t, "Because "+qid, view.Result.Explanation)

	poll, err := f.service.SessionView(ctx, alice, q.SessionID)
	require.NoError(t, err)
	assert.Equal(t, view.Result, poll.Result, "every participant sees the same result")

	participants, err := f.store.Participants(ctx, q.SessionID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.Equal(t, app.DefaultCorrectBonus, p.Score)
	}
}

func TestSubmitWrongAnswer(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	q := f.started(t, bob)
	qid := q.Question.QuestionID

	view, err := f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-b"})
	require.NoError(t, err)
	assert.False(t, view.Result.Correct)
	assert.Equal(t, "wrong", view.Result.SelectedAnswerText)

	// a later correct answer cannot overwrite the team answer
	view, err = f.service.SubmitAnswer(ctx, alice, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-a"})
	require.NoError(t, err)
	assert.Equal(t, qid+"-b", view.Result.SelectedAnswerID)
	assert.Equal(t, bob.ID, view.Result.AnsweredBy)

	assert.Zero(t, f.store.awards.Load())
	participants, err := f.store.Participants(ctx, q.SessionID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.Zero(t, p.Score)
	}
}

func TestConcurrentSubmissionsAwardOnce(t *testing.T) {
	f := newFixture(t, app.Options{CorrectBonus: 7})
	ctx := context.Background()
	players := []domain.User{bob, carol}
	for i := 0; i < 6; i++ {
		players = append(players, domain.User{ID: fmt.Sprintf("p%d", i), DisplayName: fmt.Sprintf("P%d", i)})
	}
	q := f.started(t, players...)
	qid := q.Question.QuestionID

	var g errgroup.Group
	views := make([]domain.View, len(players))
	for i, u := range players {
		i, u := i, u
		g.Go(func() error {
			v, err := f.service.SubmitAnswer(ctx, u, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-a"})
			views[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())

	winner := views[0].Result.AnsweredBy
	for _, v := range views {
		assert.Equal(t, winner, v.Result.AnsweredBy, "all callers observe the same winner")
	}
	assert.Equal(t, int32(1), f.store.awards.Load())

	participants, err := f.store.Participants(ctx, q.SessionID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.Equal(t, 7, p.Score)
	}
}

func TestSubmitAnswerErrors(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	lobby := f.lobby(t, bob)
	sid := lobby.SessionID

	_, err := f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: sid, QuestionID: "q", AnswerID: "a"})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "no answers in the lobby")

	q, err := f.service.StartSession(ctx, alice, sid)
	require.NoError(t, err)
	qid := q.Question.QuestionID

	_, err = f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: sid, QuestionID: qid, AnswerID: "nope"})
	assert.True(t, errors.Is(err, domain.ErrAnswerNotFound))

	_, err = f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: sid, QuestionID: "other", AnswerID: "x"})
	assert.True(t, errors.Is(err, domain.ErrQuestionNotFound), "question outside the session")

	session, err := f.store.GetSession(ctx, sid)
	require.NoError(t, err)
	next := session.QuestionIDs[1]
	_, err = f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: sid, QuestionID: next, AnswerID: next + "-a"})
	assert.True(t, errors.Is(err, domain.ErrStaleQuestion), "question of the session that is not current")

	_, err = f.service.SubmitAnswer(ctx, carol, app.SubmitAnswerInput{SessionID: sid, QuestionID: qid, AnswerID: qid + "-a"})
	assert.True(t, errors.Is(err, domain.ErrParticipantNotFound))

	_, err = f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: sid, QuestionID: qid})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))

	_, ok, err := f.store.AnswerFor(ctx, sid, qid)
	require.NoError(t, err)
	assert.False(t, ok, "rejected submissions leave no record")
}

func TestSubmitAnswerRetriesAfterStoreFailure(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	q := f.started(t, bob)
	qid := q.Question.QuestionID
	in := app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-a"}

	f.store.failing.Store(true)
	_, err := f.service.SubmitAnswer(ctx, bob, in)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInternal, domain.CodeOf(err))

	_, ok, err := f.store.AnswerFor(ctx, q.SessionID, qid)
	require.NoError(t, err)
	assert.False(t, ok, "a failed write leaves neither record nor bonus")

	// the retry creates the record and the bonus together
	f.store.failing.Store(false)
	view, err := f.service.SubmitAnswer(ctx, bob, in)
	require.NoError(t, err)
	assert.True(t, view.Result.Correct)
	assert.EqualValues(t, 1, f.store.awards.Load())

	participants, err := f.store.Participants(ctx, q.SessionID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.Equal(t, app.DefaultCorrectBonus, p.Score, p.UserID)
	}
}

func TestRacingCorrectAndWrongAnswers(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, app.Options{})
		ctx := context.Background()
		q := f.started(t, bob, carol)
		qid := q.Question.QuestionID

		var g errgroup.Group
		g.Go(func() error {
			_, err := f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-a"})
			return err
		})
		g.Go(func() error {
			_, err := f.service.SubmitAnswer(ctx, carol, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-b"})
			return err
		})
		require.NoError(t, g.Wait())

		stored, ok, err := f.store.AnswerFor(ctx, q.SessionID, qid)
		require.NoError(t, err)
		require.True(t, ok)

		want, score := int32(0), 0
		if stored.Correct {
			assert.Equal(t, bob.ID, stored.AnsweredBy)
			want, score = 1, app.DefaultCorrectBonus
		} else {
			assert.Equal(t, carol.ID, stored.AnsweredBy)
		}
		assert.Equal(t, want, f.store.awards.Load(), "round %d", round)

		participants, err := f.store.Participants(ctx, q.SessionID)
		require.NoError(t, err)
		for _, p := range participants {
			assert.Equal(t, score, p.Score, "round %d %s", round, p.UserID)
		}
	}
}

func TestAdvanceRequiresAnswer(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	q := f.started(t, bob)
	qid := q.Question.QuestionID

	_, err := f.service.AdvanceQuestion(ctx, bob, app.AdvanceInput{SessionID: q.SessionID, QuestionID: qid})
	assert.True(t, errors.Is(err, domain.ErrQuestionNotYetAnswered))

	poll, err := f.service.SessionView(ctx, bob, q.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ViewQuestion, poll.Kind)
	assert.Equal(t, qid, poll.Question.QuestionID, "state is unchanged")
}

func TestAdvanceIsCompareAndSwap(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	q := f.started(t, bob, carol)
	sid, qid := q.SessionID, q.Question.QuestionID

	_, err := f.service.SubmitAnswer(ctx, carol, app.SubmitAnswerInput{SessionID: sid, QuestionID: qid, AnswerID: qid + "-a"})
	require.NoError(t, err)

	var moved, stale atomic.Int32
	var g errgroup.Group
	for _, u := range []domain.User{alice, bob, carol} {
		u := u
		g.Go(func() error {
			_, err := f.service.AdvanceQuestion(ctx, u, app.AdvanceInput{SessionID: sid, QuestionID: qid})
			switch {
			case err == nil:
				moved.Add(1)
			case errors.Is(err, domain.ErrStaleQuestion):
				stale.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), moved.Load())
	assert.Equal(t, int32(2), stale.Load())

	poll, err := f.service.SessionView(ctx, alice, sid)
	require.NoError(t, err)
	assert.Equal(t, 2, poll.Question.Progress.Position, "exactly one step forward")
}

func TestAdvanceWithoutQuestionID(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	q := f.started(t)
	qid := q.Question.QuestionID

	_, err := f.service.SubmitAnswer(ctx, alice, app.SubmitAnswerInput{SessionID: q.SessionID, QuestionID: qid, AnswerID: qid + "-a"})
	require.NoError(t, err)
	view, err := f.service.AdvanceQuestion(ctx, alice, app.AdvanceInput{SessionID: q.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Question.Progress.Position)
}

func TestFullGame(t *testing.T) {
	f := newFixture(t, app.Options{QuestionsPerGame: 4})
	ctx := context.Background()
	q := f.started(t, bob)
	sid := q.SessionID

	_, err := f.service.Results(ctx, bob, sid)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "no results before the end")

	seen := map[string]bool{}
	view := q
	for i := 1; i <= 4; i++ {
		require.Equal(t, domain.ViewQuestion, view.Kind)
		require.Equal(t, i, view.Question.Progress.Position)
		qid := view.Question.QuestionID
		assert.False(t, seen[qid])
		seen[qid] = true

		answer := qid + "-a"
		if i%2 == 0 {
			answer = qid + "-c"
		}
		_, err := f.service.SubmitAnswer(ctx, bob, app.SubmitAnswerInput{SessionID: sid, QuestionID: qid, AnswerID: answer})
		require.NoError(t, err)
		view, err = f.service.AdvanceQuestion(ctx, alice, app.AdvanceInput{SessionID: sid, QuestionID: qid})
		require.NoError(t, err)
	}

	require.Equal(t, domain.ViewResults, view.Kind)
	assert.Equal(t, domain.StatusFinished, view.Status)
	assert.Equal(t, 4, view.Results.TotalQuestions)
	require.Len(t, view.Results.Ranking, 2)
	assert.Equal(t, alice.ID, view.Results.Ranking[0].UserID)
	assert.Equal(t, 1, view.Results.Ranking[0].Rank)
	assert.Equal(t, 2, view.Results.Ranking[1].Rank)
	for _, r := range view.Results.Ranking {
		assert.Equal(t, 2*app.DefaultCorrectBonus, r.Score)
	}

	results, err := f.service.Results(ctx, bob, sid)
	require.NoError(t, err)
	assert.Equal(t, view.Results, results.Results)

	_, err = f.service.AdvanceQuestion(ctx, alice, app.AdvanceInput{SessionID: sid})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = f.service.JoinSession(ctx, carol, app.JoinSessionInput{Code: q.JoinCode})
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound), "finished sessions release their code")
}

func TestMySessions(t *testing.T) {
	f := newFixture(t, app.Options{})
	ctx := context.Background()
	open := f.lobby(t, bob)
	f.started(t, bob)

	sessions, err := f.service.MySessions(ctx, bob)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "only lobbies are listed")
	assert.Equal(t, open.SessionID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].Participants)

	sessions, err = f.service.MySessions(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
