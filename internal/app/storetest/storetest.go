// Package storetest holds the behavioural contract every app.SessionStore
// implementation must satisfy. Engine packages call Run from their tests.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/domain"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) app.SessionStore

var seq atomic.Int64

// Run executes the full contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAdmitsCreatorAsHost", func(t *testing.T) { testCreate(t, newStore(t)) })
	t.Run("JoinCodeUniqueWhileOpen", func(t *testing.T) { testJoinCodeUnique(t, newStore(t)) })
	t.Run("AddParticipantIdempotent", func(t *testing.T) { testAddParticipant(t, newStore(t)) })
	t.Run("JoinOnlyInLobby", func(t *testing.T) { testJoinOnlyInLobby(t, newStore(t)) })
	t.Run("ActivateOnce", func(t *testing.T) { testActivate(t, newStore(t)) })
	t.Run("RecordAnswerSingleWinner", func(t *testing.T) { testRecordSingleWinner(t, newStore(t)) })
	t.Run("RecordAnswerRejectsStale", func(t *testing.T) { testRecordStale(t, newStore(t)) })
	t.Run("RecordAnswerAppliesBonusOnce", func(t *testing.T) { testRecordAppliesBonus(t, newStore(t)) })
	t.Run("AwardAll", func(t *testing.T) { testAwardAll(t, newStore(t)) })
	t.Run("AwardAllConcurrentWithJoins", func(t *testing.T) { testAwardAllConcurrentWithJoins(t, newStore(t)) })
	t.Run("AdvanceRequiresAnswer", func(t *testing.T) { testAdvanceRequiresAnswer(t, newStore(t)) })
	t.Run("AdvanceCompareAndSwap", func(t *testing.T) { testAdvanceCAS(t, newStore(t)) })
	t.Run("AdvanceFinishesAndReleasesCode", func(t *testing.T) { testAdvanceFinishes(t, newStore(t)) })
	t.Run("ListSessionsByUser", func(t *testing.T) { testListSessions(t, newStore(t)) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, newStore(t)) })
}

// Questions builds n valid approved questions whose correct answer is "<id>-a".
func Questions(n int) []domain.Question {
	prefix := fmt.Sprintf("q%d", seq.Add(1))
	qs := make([]domain.Question, n)
	for i := range qs {
		id := fmt.Sprintf("%s-%d", prefix, i+1)
		qs[i] = domain.Question{
			ID:          id,
			CourseID:    "course-1",
			Text:        "Question " + id,
			Explanation: "Because " + id,
			Status:      domain.QuestionApproved,
			Answers: []domain.Answer{
				{ID: id + "-a", QuestionID: id, Text: "right", Correct: true},
				{ID: id + "-b", QuestionID: id, Text: "wrong"},
				{ID: id + "-c", QuestionID: id, Text: "also wrong"},
			},
		}
	}
	return qs
}

// NewSession returns a creatable session with k questions and a unique code.
func NewSession(creator domain.User, k int) domain.NewSession {
	n := seq.Add(1)
	return domain.NewSession{
		ID:        fmt.Sprintf("session-%d-%d", n, time.Now().UnixNano()),
		JoinCode:  fmt.Sprintf("C%05d", n%100000),
		CourseID:  "course-1",
		Mode:      domain.ModeCoop,
		Questions: Questions(k),
		Creator:   creator,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

var (
	alice = domain.User{ID: "alice", DisplayName: "Alice"}
	bob   = domain.User{ID: "bob", DisplayName: "Bob"}
	carol = domain.User{ID: "carol", DisplayName: "Carol"}
)

func create(t *testing.T, store app.SessionStore, k int) domain.GameSession {
	t.Helper()
	session, err := store.CreateSession(context.Background(), NewSession(alice, k))
	require.NoError(t, err)
	return session
}

func answer(session domain.GameSession, user domain.User, questionID, answerID string) domain.TeamAnswer {
	return domain.TeamAnswer{
		ID:             fmt.Sprintf("rec-%d", seq.Add(1)),
		SessionID:      session.ID,
		QuestionID:     questionID,
		AnswerID:       answerID,
		AnsweredBy:     user.ID,
		AnsweredByName: user.DisplayName,
		Correct:        answerID == questionID+"-a",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testCreate(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	in := NewSession(alice, 3)
	session, err := store.CreateSession(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusLobby, session.Status)
	assert.Equal(t, in.QuestionIDs(), session.QuestionIDs)
	assert.Empty(t, session.CurrentQuestionID)
	assert.Equal(t, domain.ModeCoop, session.Mode)

	participants, err := store.Participants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, alice.ID, participants[0].UserID)
	assert.Equal(t, 1, participants[0].Seq)
	assert.Zero(t, participants[0].Score)

	q, err := store.Question(ctx, session.ID, in.Questions[1].ID)
	require.NoError(t, err)
	assert.Equal(t, in.Questions[1].Text, q.Text)
	assert.Len(t, q.Answers, 3)

	_, err = store.Question(ctx, session.ID, "not-in-session")
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)

	found, err := store.FindByJoinCode(ctx, session.JoinCode)
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)
}

func testJoinCodeUnique(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	first := NewSession(alice, 1)
	_, err := store.CreateSession(ctx, first)
	require.NoError(t, err)

	second := NewSession(bob, 1)
	second.JoinCode = first.JoinCode
	_, err = store.CreateSession(ctx, second)
	assert.ErrorIs(t, err, domain.ErrJoinCodeTaken)

	_, err = store.FindByJoinCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testAddParticipant(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)

	p, created, err := store.AddParticipant(ctx, session.ID, bob)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, p.Seq)

	again, created, err := store.AddParticipant(ctx, session.ID, bob)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.Seq, again.Seq)

	// creator rejoining is also a no-op
	_, created, err = store.AddParticipant(ctx, session.ID, alice)
	require.NoError(t, err)
	assert.False(t, created)

	participants, err := store.Participants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, []string{alice.ID, bob.ID}, []string{participants[0].UserID, participants[1].UserID})

	got, err := store.GetParticipant(ctx, session.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.DisplayName)

	_, err = store.GetParticipant(ctx, session.ID, carol.ID)
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func testJoinOnlyInLobby(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)
	_, _, err := store.AddParticipant(ctx, session.ID, bob)
	require.NoError(t, err)
	_, err = store.Activate(ctx, session.ID)
	require.NoError(t, err)

	_, _, err = store.AddParticipant(ctx, session.ID, carol)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, created, err := store.AddParticipant(ctx, session.ID, bob)
	require.NoError(t, err)
	assert.False(t, created)
}

func testActivate(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 3)

	active, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, active.Status)
	assert.Equal(t, session.QuestionIDs[0], active.CurrentQuestionID)

	_, err = store.Activate(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	reloaded, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, active.CurrentQuestionID, reloaded.CurrentQuestionID)
}

func testRecordSingleWinner(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)
	for i := 0; i < 7; i++ {
		_, _, err := store.AddParticipant(ctx, session.ID, domain.User{ID: fmt.Sprintf("u%d", i), DisplayName: "U"})
		require.NoError(t, err)
	}
	active, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)
	qid := active.CurrentQuestionID

	const (
		racers = 8
		bonus  = 10
	)
	var created atomic.Int32
	winners := make([]domain.TeamAnswer, racers)
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		i := i
		g.Go(func() error {
			answerID := qid + "-b"
			if i%2 == 0 {
				answerID = qid + "-a"
			}
			rec, ok, err := store.RecordAnswerIfAbsent(ctx, answer(active, domain.User{ID: fmt.Sprintf("u%d", i%7)}, qid, answerID), bonus)
			if err != nil {
				return err
			}
			if ok {
				created.Add(1)
			}
			winners[i] = rec
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, created.Load())

	stored, ok, err := store.AnswerFor(ctx, session.ID, qid)
	require.NoError(t, err)
	require.True(t, ok)
	for _, w := range winners {
		assert.Equal(t, stored.ID, w.ID)
		assert.Equal(t, stored.AnswerID, w.AnswerID)
	}

	// only the creating call may add the bonus, and only for a correct winner
	want := 0
	if stored.Correct {
		want = bonus
	}
	participants, err := store.Participants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 8)
	for _, p := range participants {
		assert.Equal(t, want, p.Score, p.UserID)
	}
}

func testRecordAppliesBonus(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)
	_, _, err := store.AddParticipant(ctx, session.ID, bob)
	require.NoError(t, err)
	active, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)
	first := active.CurrentQuestionID

	_, _, err = store.RecordAnswerIfAbsent(ctx, answer(active, bob, first, first+"-a"), -1)
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	_, ok, err := store.AnswerFor(ctx, session.ID, first)
	require.NoError(t, err)
	assert.False(t, ok, "a rejected bonus must not leave a record behind")

	rec, created, err := store.RecordAnswerIfAbsent(ctx, answer(active, bob, first, first+"-a"), 10)
	require.NoError(t, err)
	require.True(t, created)
	assert.True(t, rec.Correct)

	// a repeat never re-applies the bonus
	_, created, err = store.RecordAnswerIfAbsent(ctx, answer(active, alice, first, first+"-a"), 10)
	require.NoError(t, err)
	assert.False(t, created)
	assertScores(t, store, session.ID, 10)

	current, err := store.AdvanceCurrentQuestion(ctx, session.ID, first)
	require.NoError(t, err)
	second := current.CurrentQuestionID

	// a wrong first answer records without a bonus whatever is passed
	rec, created, err = store.RecordAnswerIfAbsent(ctx, answer(current, alice, second, second+"-b"), 10)
	require.NoError(t, err)
	require.True(t, created)
	assert.False(t, rec.Correct)
	assertScores(t, store, session.ID, 10)
}

func assertScores(t *testing.T, store app.SessionStore, sessionID string, want int) {
	t.Helper()
	participants, err := store.Participants(context.Background(), sessionID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.Equal(t, want, p.Score, p.UserID)
	}
}

func testRecordStale(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)

	_, _, err := store.RecordAnswerIfAbsent(ctx, answer(session, alice, session.QuestionIDs[0], session.QuestionIDs[0]+"-a"), 10)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	active, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)

	_, _, err = store.RecordAnswerIfAbsent(ctx, answer(active, alice, active.QuestionIDs[1], active.QuestionIDs[1]+"-a"), 10)
	assert.ErrorIs(t, err, domain.ErrStaleQuestion)

	_, ok, err := store.AnswerFor(ctx, session.ID, active.QuestionIDs[1])
	require.NoError(t, err)
	assert.False(t, ok)
	assertScores(t, store, session.ID, 0)
}

func testAwardAll(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 1)
	_, _, err := store.AddParticipant(ctx, session.ID, bob)
	require.NoError(t, err)

	require.NoError(t, store.AwardAll(ctx, session.ID, 10))
	require.NoError(t, store.AwardAll(ctx, session.ID, 10))
	assertScores(t, store, session.ID, 20)

	err = store.AwardAll(ctx, session.ID, -5)
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	assertScores(t, store, session.ID, 20)
}

func testAwardAllConcurrentWithJoins(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 1)

	const (
		awards = 25
		joins  = 25
		points = 10
	)
	var g errgroup.Group
	for i := 0; i < awards+joins; i++ {
		i := i
		g.Go(func() error {
			if i%2 == 0 {
				return store.AwardAll(ctx, session.ID, points)
			}
			_, _, err := store.AddParticipant(ctx, session.ID, domain.User{ID: fmt.Sprintf("joiner-%d", i), DisplayName: "J"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	participants, err := store.Participants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1+joins)
	for _, p := range participants {
		if p.UserID == alice.ID {
			assert.Equal(t, awards*points, p.Score, "creator sees every award exactly once")
			continue
		}
		// a joiner gets every award after its join and none before
		assert.Zero(t, p.Score%points, p.UserID)
		assert.LessOrEqual(t, p.Score, awards*points, p.UserID)
	}
}

func testAdvanceRequiresAnswer(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)

	_, err := store.AdvanceCurrentQuestion(ctx, session.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	active, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)

	_, err = store.AdvanceCurrentQuestion(ctx, session.ID, active.CurrentQuestionID)
	assert.ErrorIs(t, err, domain.ErrQuestionNotYetAnswered)

	unchanged, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, active.CurrentQuestionID, unchanged.CurrentQuestionID)
	assert.Equal(t, domain.StatusActive, unchanged.Status)
}

func testAdvanceCAS(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 3)
	active, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)
	first := active.CurrentQuestionID
	_, _, err = store.RecordAnswerIfAbsent(ctx, answer(active, alice, first, first+"-b"), 10)
	require.NoError(t, err)

	const racers = 6
	var moved atomic.Int32
	var stale atomic.Int32
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			_, err := store.AdvanceCurrentQuestion(ctx, session.ID, first)
			switch {
			case err == nil:
				moved.Add(1)
			case domain.CodeOf(err) == domain.CodeStaleQuestion:
				stale.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, moved.Load())
	assert.EqualValues(t, racers-1, stale.Load())

	current, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.QuestionIDs[1], current.CurrentQuestionID)
}

func testAdvanceFinishes(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	session := create(t, store, 2)
	current, err := store.Activate(ctx, session.ID)
	require.NoError(t, err)

	for i := 0; i < len(session.QuestionIDs); i++ {
		qid := current.CurrentQuestionID
		require.Equal(t, session.QuestionIDs[i], qid)
		_, _, err = store.RecordAnswerIfAbsent(ctx, answer(current, alice, qid, qid+"-a"), 10)
		require.NoError(t, err)
		current, err = store.AdvanceCurrentQuestion(ctx, session.ID, qid)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StatusFinished, current.Status)
	assert.Empty(t, current.CurrentQuestionID)
	assertScores(t, store, session.ID, 20)

	_, err = store.FindByJoinCode(ctx, session.JoinCode)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// a finished session no longer holds its code
	reuse := NewSession(bob, 1)
	reuse.JoinCode = session.JoinCode
	_, err = store.CreateSession(ctx, reuse)
	require.NoError(t, err)

	_, err = store.AdvanceCurrentQuestion(ctx, session.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func testListSessions(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	lobby := create(t, store, 1)
	started := create(t, store, 1)
	_, err := store.Activate(ctx, started.ID)
	require.NoError(t, err)
	_, _, err = store.AddParticipant(ctx, lobby.ID, bob)
	require.NoError(t, err)

	mine, err := store.ListSessions(ctx, alice.ID, domain.StatusLobby)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, lobby.ID, mine[0].ID)

	all, err := store.ListSessions(ctx, alice.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bobs, err := store.ListSessions(ctx, bob.ID, domain.StatusLobby)
	require.NoError(t, err)
	require.Len(t, bobs, 1)

	none, err := store.ListSessions(ctx, carol.ID, domain.StatusLobby)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUnknownSession(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	_, err := store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = store.AddParticipant(ctx, "missing", bob)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = store.Activate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = store.AdvanceCurrentQuestion(ctx, "missing", "q")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
