package classes

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edupresence/backend/internal/middleware"
	"github.com/edupresence/backend/internal/models"
	"github.com/edupresence/backend/pkg/response"
)

// CreateRequest is the body for POST /api/classes (admin only).
type CreateRequest struct {
	Name      string    `json:"name" binding:"required"`
	TeacherID uuid.UUID `json:"teacher_id" binding:"required"`
}

// EnrollRequest is the body for POST /api/classes/:id/students (admin only).
type EnrollRequest struct {
	StudentID uuid.UUID `json:"student_id" binding:"required"`
}

// Handler handles class directory HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a classes handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /api/classes: admins see all classes, teachers their
// own, students the ones they are enrolled in.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)

	var (
		list []models.Class
		err  error
	)
	switch models.Role(role) {
	case models.RoleAdmin:
		list, err = h.repo.ListAll(c.Request.Context())
	case models.RoleTeacher:
		list, err = h.repo.ListByTeacher(c.Request.Context(), userID)
	default:
		list, err = h.repo.ListByStudent(c.Request.Context(), userID)
	}
	if err != nil {
		h.logger.Error("list classes failed", zap.Error(err))
		response.ServiceUnavailable(c, "upstream_unavailable")
		return
	}
	response.OK(c, list)
}

// Create handles POST /api/classes (admin only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cl, err := h.repo.Create(c.Request.Context(), req.Name, req.TeacherID)
	if err != nil {
		h.logger.Error("create class failed", zap.Error(err))
		response.Internal(c, "failed to create class")
		return
	}
	response.Created(c, cl)
}

// Roster handles GET /api/classes/:id/students (owner or admin).
func (h *Handler) Roster(c *gin.Context) {
	classID, ok := h.authorizeClassAccess(c)
	if !ok {
		return
	}
	students, err := h.repo.Roster(c.Request.Context(), classID)
	if err != nil {
		h.logger.Error("roster failed", zap.String("class_id", classID.String()), zap.Error(err))
		response.ServiceUnavailable(c, "upstream_unavailable")
		return
	}
	response.OK(c, gin.H{"class_id": classID, "students": students})
}

// Enroll handles POST /api/classes/:id/students (admin only).
func (h *Handler) Enroll(c *gin.Context) {
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return
	}
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.Enroll(c.Request.Context(), classID, req.StudentID); err != nil {
		h.logger.Error("enroll failed", zap.String("class_id", classID.String()), zap.Error(err))
		response.Internal(c, "failed to enroll student")
		return
	}
	response.NoContent(c)
}

// authorizeClassAccess parses :id and checks the caller is the class owner
// or an admin. Writes the response on failure.
func (h *Handler) authorizeClassAccess(c *gin.Context) (uuid.UUID, bool) {
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return uuid.Nil, false
	}
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if role == string(models.RoleAdmin) {
		return classID, true
	}
	cl, err := h.repo.GetByID(c.Request.Context(), classID)
	if err != nil {
		response.NotFound(c, "class not found")
		return uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if cl.TeacherID != userID {
		response.Forbidden(c, "unauthorized")
		return uuid.Nil, false
	}
	return classID, true
}
