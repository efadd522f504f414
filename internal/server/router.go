package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lanternworks/reflections/backend/internal/submissions"
	"go.uber.org/zap"
)

var errMissingSubmissionService = errors.New("submission service dependency required")

// Dependencies bundles the collaborators required by the HTTP surface.
type Dependencies struct {
	SubmissionService *submissions.Service
	Logger            *zap.Logger
}

// NewHTTPHandler wires the Gin router for the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SubmissionService == nil {
		return nil, errMissingSubmissionService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		submissionService: deps.SubmissionService,
		logger:            logger,
	}

	router.POST("/api/submit", handler.handleSubmit)
	router.GET("/api/feed", handler.handleFeed)
	router.GET("/api/random", handler.handleRandom)
	router.GET("/health", handler.handleHealth)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	submissionService *submissions.Service
	logger            *zap.Logger
}

type submitRequestPayload struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

type submitResponsePayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.submissionService.Submit(c.Request.Context(), submissions.SubmitRequest{
		Text:     request.Text,
		Name:     request.Name,
		Identity: clientIdentity(c),
	})
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitResponsePayload{
		ID:     result.ID,
		Status: string(result.Status),
	})
}

func (h *httpHandler) writeSubmitError(c *gin.Context, err error) {
	if errors.Is(err, submissions.ErrInvalidText) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_text"})
		return
	}

	var throttled *submissions.ThrottledError
	if errors.As(err, &throttled) {
		retryAfter := int64(throttled.RetryAfter/time.Second) + 1
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":         "rate_limited",
			"retry_after_s": retryAfter,
		})
		return
	}

	h.logger.Error("submission failed", zap.Error(err))
	var serviceErr *submissions.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed", "code": serviceErr.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed"})
}

type feedItemPayload struct {
	Text             string `json:"text"`
	Name             string `json:"name,omitempty"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

type feedResponsePayload struct {
	Items []feedItemPayload `json:"items"`
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 0)
	offset := parseQueryInt(c, "offset", 0)

	records, err := h.submissionService.Feed(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("feed query failed", zap.Error(err))
		var serviceErr *submissions.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed", "code": serviceErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed"})
		return
	}

	response := feedResponsePayload{Items: make([]feedItemPayload, 0, len(records))}
	for _, record := range records {
		response.Items = append(response.Items, feedItemPayload{
			Text:             record.Text,
			Name:             record.DisplayName,
			CreatedAtSeconds: record.CreatedAtSeconds,
		})
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRandom(c *gin.Context) {
	record, err := h.submissionService.Random(c.Request.Context())
	if errors.Is(err, submissions.ErrNoApprovedSubmissions) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_submissions"})
		return
	}
	if err != nil {
		h.logger.Error("random query failed", zap.Error(err))
		var serviceErr *submissions.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "random_failed", "code": serviceErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "random_failed"})
		return
	}

	c.JSON(http.StatusOK, feedItemPayload{
		Text:             record.Text,
		Name:             record.DisplayName,
		CreatedAtSeconds: record.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// clientIdentity derives the rate-limit key for the request: the first hop of
// X-Forwarded-For when the service sits behind a proxy, the peer address
// otherwise.
func clientIdentity(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func parseQueryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
