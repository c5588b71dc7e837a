package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	service     service.Service
	rateLimiter *RateLimiter
	logger      *zap.Logger
}

// NewHandler wires the poll routes. rateLimiter may be nil, in which case
// requests are not throttled.
func NewHandler(service service.Service, rateLimiter *RateLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	if h.rateLimiter != nil {
		api.Use(h.rateLimiter.GlobalLimit(), h.rateLimiter.RateLimit(), h.rateLimiter.BurstLimit())
	}
	{
		api.POST("/polls", h.createPoll)
		api.GET("/polls/recent", h.listRecentPolls)
		api.GET("/polls/link/:link", h.getPollByLink)
		api.POST("/polls/:id/vote", h.voteOnPoll)
		api.POST("/polls/:id/react", h.reactToPoll)
		api.POST("/polls/:id/comment", h.commentOnPoll)
	}
}

func (h *Handler) createPoll(c *gin.Context) {
	var req domain.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	result, err := h.service.CreatePoll(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Failed to create poll")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"data":   result,
	})
}

func (h *Handler) listRecentPolls(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			badRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}

	polls, err := h.service.ListRecentPublic(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err, "Failed to list polls")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   polls,
	})
}

func (h *Handler) getPollByLink(c *gin.Context) {
	hasVoted := false
	if raw := c.Query("hasVoted"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid hasVoted")
			return
		}
		hasVoted = parsed
	}

	view, err := h.service.GetPoll(c.Request.Context(), c.Param("link"), hasVoted)
	if err != nil {
		h.writeError(c, err, "Failed to get poll")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   view,
	})
}

func (h *Handler) voteOnPoll(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}

	var req struct {
		OptionIndex *int `json:"optionIndex" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	view, err := h.service.Vote(c.Request.Context(), id, *req.OptionIndex)
	if err != nil {
		h.writeError(c, err, "Failed to record vote")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   view,
	})
}

func (h *Handler) reactToPoll(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}

	var req struct {
		ReactionType domain.ReactionType `json:"reactionType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	reactions, err := h.service.React(c.Request.Context(), id, req.ReactionType)
	if err != nil {
		h.writeError(c, err, "Failed to record reaction")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   reactions,
	})
}

func (h *Handler) commentOnPoll(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	comments, err := h.service.Comment(c.Request.Context(), id, req.Text)
	if err != nil {
		h.writeError(c, err, "Failed to add comment")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   comments,
	})
}

func pollID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid poll id")
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"message": message,
	})
}

// writeError maps domain outcomes to status codes. Anything unrecognised is
// reported with the opaque fallback message.
func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	message := fallback

	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, domain.ErrInvalidReactionType),
		errors.Is(err, domain.ErrEmptyComment):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		message = "poll not found"
	case errors.Is(err, domain.ErrExpired):
		status = http.StatusGone
		message = "poll has expired"
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", c.FullPath()),
		)
	}

	c.JSON(status, gin.H{
		"status":  "error",
		"message": message,
	})
}
