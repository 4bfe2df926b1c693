package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"foliochat/internal/auth"
	"foliochat/internal/models"
	"foliochat/internal/ratelimit"
	"foliochat/internal/service/assistant"
)

const maxBodyBytes = 64 << 10

// Handler wires HTTP routes to the assistant service.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	limiter   ratelimit.Limiter
	logger    logrus.FieldLogger
	models    []string
}

// NewHandler constructs a Handler instance. A nil limiter disables rate limiting.
func NewHandler(service *assistant.Service, authService *auth.Service, limiter ratelimit.Limiter, logger logrus.FieldLogger, modelList []string) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(modelList) == 0 {
		modelList = models.SampleModels
	}
	return &Handler{
		assistant: service,
		auth:      authService,
		limiter:   limiter,
		logger:    logger,
		models:    modelList,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.GET("/models", h.listModels)
	api.POST("/sessions", h.rateLimit("sessions"), h.createSession)

	sessionRoutes := api.Group("/sessions/:id")
	sessionRoutes.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	sessionRoutes.GET("", h.getSession)
	sessionRoutes.DELETE("", h.deleteSession)
	sessionRoutes.POST("/messages", h.rateLimit("messages"), h.sendMessage)
	sessionRoutes.PUT("/config", h.updateConfig)
	sessionRoutes.POST("/probe", h.probe)
	sessionRoutes.GET("/events", h.streamEvents)
}

func (h *Handler) rateLimit(scope string) gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return ratelimit.Middleware(h.limiter, scope, h.logger)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.assistant.SessionCount()})
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  h.models,
		"custom":  models.CustomModelSentinel,
		"default": h.assistant.DefaultConfig(),
	})
}

type createSessionRequest struct {
	Locale string `json:"locale"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	locale := assistant.NegotiateLocale(req.Locale, c.GetHeader("Accept-Language"), h.assistant.DefaultLocale())
	session, err := h.assistant.CreateSession(locale)
	if err != nil {
		h.writeError(c, err)
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), session.ID())
	if err != nil {
		_ = h.assistant.DeleteSession(session.ID())
		h.logger.WithError(err).Error("issue session token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue session token"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		_ = h.assistant.DeleteSession(session.ID())
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue csrf token"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusCreated, gin.H{
		"session":    session.Snapshot(),
		"token":      authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	snap, err := h.assistant.Snapshot(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.assistant.DeleteSession(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			h.logger.WithError(err).Warn("revoke session token")
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID := c.Param("id")
	reply, err := h.assistant.Submit(c.Request.Context(), sessionID, req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	snap, err := h.assistant.Snapshot(sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_turn":  reply.UserTurn,
		"reply":      reply.Reply,
		"failed":     reply.Failed,
		"diagnostic": reply.Diagnostic,
		"session":    snap,
	})
}

func (h *Handler) updateConfig(c *gin.Context) {
	var update assistant.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	snap, err := h.assistant.UpdateConfig(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

// probe re-probes the stored configuration, or tests the candidate configuration in the body.
func (h *Handler) probe(c *gin.Context) {
	var update assistant.ConfigUpdate
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID := c.Param("id")
	if len(strings.TrimSpace(string(raw))) == 0 {
		snap, err := h.assistant.Reprobe(c.Request.Context(), sessionID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": snap})
		return
	}
	if err := json.Unmarshal(raw, &update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := h.assistant.TestConnection(c.Request.Context(), sessionID, update)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps service errors to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assistant.ErrEmptyInput), errors.Is(err, assistant.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, assistant.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assistant.ErrSubmissionInFlight):
		status = http.StatusConflict
	case errors.Is(err, assistant.ErrTooManySessions):
		status = http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the response
		status = 499
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func bindOptionalJSON(c *gin.Context, v interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
