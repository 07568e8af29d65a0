package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-quiz-service/internal/domain"
)

func TestIdentityHeaders(t *testing.T) {
	id := NewIdentity("")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u1")
	user, err := id.resolve(req)
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: "u1", DisplayName: "u1"}, user)

	_, err = id.resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestIdentityBearerToken(t *testing.T) {
	id := NewIdentity("s3cret")
	token, err := id.IssueToken(domain.User{ID: "u1", DisplayName: "Ursula"},
		jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	user, err := id.resolve(req)
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: "u1", DisplayName: "Ursula"}, user)

	// headers are ignored once tokens are required
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u1")
	_, err = id.resolve(req)
	assert.Error(t, err)
}

func TestIdentityRejectsBadTokens(t *testing.T) {
	id := NewIdentity("s3cret")

	expired, err := id.IssueToken(domain.User{ID: "u1"}, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)
	_, err = id.ParseToken(expired)
	assert.Error(t, err)

	forged, err := NewIdentity("other").IssueToken(domain.User{ID: "u1"}, nil)
	require.NoError(t, err)
	_, err = id.ParseToken(forged)
	assert.Error(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "x"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = id.ParseToken(noSubject)
	assert.Error(t, err)
}

func TestRouterWithTokens(t *testing.T) {
	id := NewIdentity("s3cret")
	r := newTestRouter(t, id)
	token, err := id.IssueToken(alice, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, r, &alice, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
