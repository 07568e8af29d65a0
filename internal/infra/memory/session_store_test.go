package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/app/storetest"
	"coop-quiz-service/internal/domain"
)

func TestSessionStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) app.SessionStore {
		return NewSessionStore()
	})
}

func TestSessionStoreSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	in := storetest.NewSession(domain.User{ID: "u1", DisplayName: "One"}, 2)

	session, err := store.CreateSession(ctx, in)
	require.NoError(t, err)

	// mutating caller-owned data must not reach the stored copy
	in.Questions[0].Answers[0].Text = "tampered"
	session.QuestionIDs[0] = "tampered"

	q, err := store.Question(ctx, session.ID, in.Questions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "right", q.Answers[0].Text)

	reloaded, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Questions[0].ID, reloaded.QuestionIDs[0])
}

func TestSessionStoreJoinCodeCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	in := storetest.NewSession(domain.User{ID: "u1"}, 1)
	in.JoinCode = "ab12cd"

	session, err := store.CreateSession(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", session.JoinCode)

	found, err := store.FindByJoinCode(ctx, "Ab12Cd")
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)
}
