package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/domain"
)

// GameHandler exposes the session lifecycle as a JSON polling API.
type GameHandler struct {
	service *app.GameService
	log     *zap.Logger
}

func NewGameHandler(service *app.GameService, log *zap.Logger) *GameHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GameHandler{service: service, log: log}
}

type createSessionRequest struct {
	CourseID string `json:"courseId"`
}

type joinSessionRequest struct {
	Code string `json:"code"`
}

type submitAnswerRequest struct {
	QuestionID string `json:"questionId"`
	AnswerID   string `json:"answerId"`
}

type advanceRequest struct {
	QuestionID string `json:"questionId"`
}

type sessionsResponse struct {
	Sessions []domain.SessionSummary `json:"sessions"`
}

func (h *GameHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if !h.bind(c, &req) {
		return
	}
	view, err := h.service.CreateSession(c.Request.Context(), currentUser(c), app.CreateSessionInput{CourseID: req.CourseID})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *GameHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.MySessions(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (h *GameHandler) JoinSession(c *gin.Context) {
	var req joinSessionRequest
	if !h.bind(c, &req) {
		return
	}
	view, err := h.service.JoinSession(c.Request.Context(), currentUser(c), app.JoinSessionInput{Code: req.Code})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) StartSession(c *gin.Context) {
	view, err := h.service.StartSession(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) View(c *gin.Context) {
	view, err := h.service.SessionView(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if !h.bind(c, &req) {
		return
	}
	view, err := h.service.SubmitAnswer(c.Request.Context(), currentUser(c), app.SubmitAnswerInput{
		SessionID:  c.Param("id"),
		QuestionID: req.QuestionID,
		AnswerID:   req.AnswerID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) Advance(c *gin.Context) {
	var req advanceRequest
	// the body is optional: an empty one advances whatever is current
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, h.log, domain.InvalidInput("body", err.Error()))
		return
	}
	view, err := h.service.AdvanceQuestion(c.Request.Context(), currentUser(c), app.AdvanceInput{
		SessionID:  c.Param("id"),
		QuestionID: req.QuestionID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) Results(c *gin.Context) {
	view, err := h.service.Results(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *GameHandler) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, h.log, domain.InvalidInput("body", err.Error()))
		return false
	}
	return true
}
