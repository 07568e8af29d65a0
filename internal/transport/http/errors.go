package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coop-quiz-service/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientQuestions:
		return http.StatusUnprocessableEntity
	case domain.CodeInvalidTransition, domain.CodeStaleQuestion:
		return http.StatusConflict
	case domain.CodeNotAuthorized:
		return http.StatusForbidden
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, log *zap.Logger, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		if code == domain.CodeInternal {
			message = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: string(code), Message: message})
}
