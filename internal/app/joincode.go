package app

import (
	"strings"

	"github.com/google/uuid"

	"coop-quiz-service/internal/domain"
)

// maxJoinCodeAttempts bounds retries when a generated code is held by an open session.
const maxJoinCodeAttempts = 8

// NewJoinCode returns six upper-case hex characters taken from a random UUID.
func NewJoinCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:domain.JoinCodeLength])
}
