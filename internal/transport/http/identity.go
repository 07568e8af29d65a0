package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"coop-quiz-service/internal/domain"
)

const userContextKey = "user"

// Identity resolves the caller of each request. With a secret configured it
// requires an HS256 bearer token (sub = user id, name = display name);
// otherwise it trusts the X-User-ID and X-User-Name headers set by a fronting
// gateway.
type Identity struct {
	secret []byte
}

func NewIdentity(secret string) *Identity {
	return &Identity{secret: []byte(secret)}
}

// Middleware aborts with 401 when no user can be resolved.
func (i *Identity) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := i.resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code:    string(domain.CodeNotAuthorized),
				Message: err.Error(),
			})
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func (i *Identity) resolve(r *http.Request) (domain.User, error) {
	if len(i.secret) == 0 {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			return domain.User{}, errors.New("X-User-ID header required")
		}
		name := strings.TrimSpace(r.Header.Get("X-User-Name"))
		if name == "" {
			name = id
		}
		return domain.User{ID: id, DisplayName: name}, nil
	}

	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return domain.User{}, errors.New("bearer token required")
	}
	return i.ParseToken(parts[1])
}

// ParseToken validates a signed token and extracts the user it names.
func (i *Identity) ParseToken(raw string) (domain.User, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return domain.User{}, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, errors.New("invalid claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.User{}, errors.New("token has no subject")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return domain.User{ID: sub, DisplayName: name}, nil
}

// IssueToken signs a token for user. Used by tests and local tooling.
func (i *Identity) IssueToken(user domain.User, claims jwt.MapClaims) (string, error) {
	all := jwt.MapClaims{"sub": user.ID, "name": user.DisplayName}
	for k, v := range claims {
		all[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, all).SignedString(i.secret)
}

func currentUser(c *gin.Context) domain.User {
	v, _ := c.Get(userContextKey)
	user, _ := v.(domain.User)
	return user
}
