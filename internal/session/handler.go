package session

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edupresence/backend/internal/authz"
	"github.com/edupresence/backend/internal/middleware"
	"github.com/edupresence/backend/internal/realtime"
	"github.com/edupresence/backend/pkg/metrics"
	"github.com/edupresence/backend/pkg/response"
)

// OpenRequest is the body for POST /api/ble/session. teacher_id is
// optional; when present it must match the authenticated user.
type OpenRequest struct {
	ClassID   uuid.UUID  `json:"class_id" binding:"required"`
	TeacherID *uuid.UUID `json:"teacher_id"`
}

// ValidateRequest is the body for POST /api/ble/validate.
type ValidateRequest struct {
	SessionToken string `json:"session_token" binding:"required"`
}

// Handler handles attendance-window HTTP endpoints.
type Handler struct {
	tokens *Service
	gate   *authz.Gate
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(tokens *Service, gate *authz.Gate, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{tokens: tokens, gate: gate, hub: hub, logger: logger}
}

// Open handles POST /api/ble/session: mint a window token for a class the
// caller teaches and announce the open window on the class channel.
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	teacherID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if req.TeacherID != nil && *req.TeacherID != teacherID {
		response.Forbidden(c, "teacher mismatch")
		return
	}

	owner, err := h.gate.IsClassOwner(c.Request.Context(), teacherID, req.ClassID)
	if err != nil {
		response.ServiceUnavailable(c, "upstream_unavailable")
		return
	}
	if !owner {
		response.Forbidden(c, "unauthorized")
		return
	}

	token, win, err := h.tokens.Open(teacherID, req.ClassID, time.Now())
	if err != nil {
		h.logger.Error("open window failed", zap.String("class_id", req.ClassID.String()), zap.Error(err))
		response.Internal(c, "failed to open attendance window")
		return
	}

	metrics.WindowsOpened.Inc()
	h.hub.Publish(win.ClassID, realtime.EventWindowOpened, realtime.WindowOpenedEvent{
		ClassID:   win.ClassID,
		TeacherID: win.TeacherID,
		ExpiresAt: win.ExpiresAt,
	})
	h.logger.Info("attendance window opened",
		zap.String("class_id", win.ClassID.String()),
		zap.String("teacher_id", win.TeacherID.String()),
		zap.Time("expires_at", win.ExpiresAt))

	response.OK(c, gin.H{
		"session_token": token,
		"class_id":      win.ClassID,
		"expires_at":    win.ExpiresAt,
	})
}

// Validate handles POST /api/ble/validate: verify a window token and
// return the window it proves. Public; the token itself is the capability.
func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	win, err := h.tokens.Verify(req.SessionToken, time.Now())
	switch {
	case errors.Is(err, ErrExpiredToken):
		metrics.TokenValidations.WithLabelValues("expired").Inc()
		response.Unauthorized(c, "expired_token")
		return
	case err != nil:
		metrics.TokenValidations.WithLabelValues("invalid").Inc()
		response.Unauthorized(c, "invalid_token")
		return
	}

	metrics.TokenValidations.WithLabelValues("valid").Inc()
	response.OK(c, gin.H{
		"valid":      true,
		"class_id":   win.ClassID,
		"teacher_id": win.TeacherID,
		"expires_at": win.ExpiresAt,
	})
}
