package attendance

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edupresence/backend/internal/authz"
	"github.com/edupresence/backend/internal/middleware"
	"github.com/edupresence/backend/internal/models"
	"github.com/edupresence/backend/internal/realtime"
	"github.com/edupresence/backend/internal/session"
	"github.com/edupresence/backend/pkg/metrics"
	"github.com/edupresence/backend/pkg/queue"
	"github.com/edupresence/backend/pkg/response"
	"github.com/edupresence/backend/pkg/storage"
)

// MarkRequest is the body for POST /api/attendance/mark. student_id is
// optional; when present it must match the authenticated user. rssi and
// face_scan_data are advisory evidence stored as-is.
type MarkRequest struct {
	SessionToken string     `json:"session_token" binding:"required"`
	StudentID    *uuid.UUID `json:"student_id"`
	RSSI         *int       `json:"rssi"`
	FaceScanData []byte     `json:"face_scan_data"` // base64 in JSON
}

// Handler handles attendance HTTP endpoints.
type Handler struct {
	ledger  *Ledger
	repo    *Repository
	gate    *authz.Gate
	hub     *realtime.Hub
	jobs    *queue.Queue
	archive *storage.S3
	logger  *zap.Logger
}

// NewHandler creates an attendance handler. jobs and archive may be nil
// when no evidence archive is configured.
func NewHandler(ledger *Ledger, repo *Repository, gate *authz.Gate, hub *realtime.Hub, jobs *queue.Queue, archive *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, repo: repo, gate: gate, hub: hub, jobs: jobs, archive: archive, logger: logger}
}

// Mark handles POST /api/attendance/mark: the student presents the window
// token and claims attendance for today. Every failure kind maps to its
// own stable error string; an already-recorded day is a success outcome,
// not an error.
func (h *Handler) Mark(c *gin.Context) {
	var req MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	studentID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if req.StudentID != nil && *req.StudentID != studentID {
		response.Forbidden(c, "student mismatch")
		return
	}

	ev := Evidence{RSSI: req.RSSI, FaceScanData: req.FaceScanData}
	outcome, err := h.ledger.Record(c.Request.Context(), req.SessionToken, studentID, time.Now(), ev)
	switch {
	case errors.Is(err, session.ErrInvalidToken):
		metrics.RecordOutcomes.WithLabelValues("invalid_token").Inc()
		response.Unauthorized(c, "invalid_token")
		return
	case errors.Is(err, session.ErrExpiredToken):
		metrics.RecordOutcomes.WithLabelValues("expired_token").Inc()
		response.Unauthorized(c, "expired_token")
		return
	case errors.Is(err, ErrUnauthorized):
		metrics.RecordOutcomes.WithLabelValues("unauthorized").Inc()
		response.Forbidden(c, "unauthorized")
		return
	case errors.Is(err, authz.ErrUpstream):
		metrics.RecordOutcomes.WithLabelValues("upstream_unavailable").Inc()
		response.ServiceUnavailable(c, "upstream_unavailable")
		return
	case err != nil:
		h.logger.Error("record attendance failed", zap.Error(err))
		response.Internal(c, "failed to record attendance")
		return
	}

	metrics.RecordOutcomes.WithLabelValues(string(outcome.Status)).Inc()
	if outcome.Status == StatusRecorded {
		rec := outcome.Record
		h.hub.Publish(rec.ClassID, realtime.EventAttendanceRecorded, realtime.AttendanceRecordedEvent{
			ClassID:    rec.ClassID,
			StudentID:  rec.StudentID,
			RecordedAt: rec.RecordedAt,
		})
		if h.jobs != nil && len(req.FaceScanData) > 0 {
			if err := h.jobs.EnqueueEvidenceArchive(c.Request.Context(), queue.EvidenceArchivePayload{
				AttendanceID: rec.ID,
				ClassID:      rec.ClassID,
				StudentID:    rec.StudentID,
			}); err != nil {
				// Archive is best-effort; the record stands either way.
				h.logger.Warn("evidence archive enqueue failed", zap.String("attendance_id", rec.ID.String()), zap.Error(err))
			}
		}
		h.logger.Info("attendance recorded",
			zap.String("class_id", rec.ClassID.String()),
			zap.String("student_id", rec.StudentID.String()))
	}

	response.OK(c, gin.H{
		"outcome":    outcome.Status,
		"attendance": outcome.Record,
	})
}

// ListByClass handles GET /api/classes/:id/attendance?date=YYYY-MM-DD
// (class owner or admin).
func (h *Handler) ListByClass(c *gin.Context) {
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return
	}

	date := models.DateOf(time.Now())
	if v := c.Query("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			response.BadRequest(c, "invalid date, want YYYY-MM-DD")
			return
		}
		date = parsed
	}

	if !h.callerOwnsClass(c, classID) {
		return
	}

	list, err := h.repo.ListByClassAndDate(c.Request.Context(), classID, date)
	if err != nil {
		h.logger.Error("list attendance failed", zap.String("class_id", classID.String()), zap.Error(err))
		response.ServiceUnavailable(c, "upstream_unavailable")
		return
	}
	response.OK(c, gin.H{"class_id": classID, "date": date.Format("2006-01-02"), "attendance": list})
}

// Evidence handles GET /api/attendance/:id/evidence (class owner or
// admin): a short-lived pre-signed URL for the archived face scan blob.
func (h *Handler) Evidence(c *gin.Context) {
	recID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid attendance id")
		return
	}

	rec, err := h.repo.GetByID(c.Request.Context(), recID)
	if err != nil {
		response.NotFound(c, "attendance record not found")
		return
	}
	if !h.callerOwnsClass(c, rec.ClassID) {
		return
	}
	if h.archive == nil || rec.EvidenceURL == nil {
		response.NotFound(c, "no archived evidence")
		return
	}

	key := storage.EvidenceKey(rec.ClassID.String(), rec.Date.Format("2006-01-02"), rec.ID.String())
	url, err := h.archive.PresignEvidenceURL(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("presign evidence failed", zap.String("attendance_id", rec.ID.String()), zap.Error(err))
		response.ServiceUnavailable(c, "upstream_unavailable")
		return
	}
	response.OK(c, gin.H{
		"url":        url,
		"expires_in": int(h.archive.PresignExpire().Seconds()),
	})
}

// callerOwnsClass authorizes list access: admins always, teachers only for
// classes they own. Writes the response on failure.
func (h *Handler) callerOwnsClass(c *gin.Context, classID uuid.UUID) bool {
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if role == string(models.RoleAdmin) {
		return true
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	owner, err := h.gate.IsClassOwner(c.Request.Context(), userID, classID)
	if err != nil {
		response.ServiceUnavailable(c, "upstream_unavailable")
		return false
	}
	if !owner {
		response.Forbidden(c, "unauthorized")
		return false
	}
	return true
}
