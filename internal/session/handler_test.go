package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edupresence/backend/internal/authz"
	"github.com/edupresence/backend/internal/middleware"
	"github.com/edupresence/backend/internal/realtime"
)

type classStore struct {
	owners map[uuid.UUID]uuid.UUID
	err    error
}

func (s *classStore) ClassOwner(ctx context.Context, classID uuid.UUID) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return s.owners[classID], nil
}

func (s *classStore) Enrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error) {
	return false, nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newSessionRouter(h *Handler, teacherID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/ble/session", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, teacherID)
		c.Set(middleware.ContextUserRole, "teacher")
	}, h.Open)
	r.POST("/api/ble/validate", h.Validate)
	return r
}

func post(t *testing.T, r *gin.Engine, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestOpenWindow(t *testing.T) {
	teacherID := uuid.New()
	classID := uuid.New()
	store := &classStore{owners: map[uuid.UUID]uuid.UUID{classID: teacherID}}
	tokens := NewService("test-secret", 300*time.Second)
	h := NewHandler(tokens, authz.NewGate(store, time.Second, nil), realtime.NewHub(nil, nil, nil), zap.NewNop())
	router := newSessionRouter(h, teacherID)

	w, resp := post(t, router, "/api/ble/session", fmt.Sprintf(`{"class_id":%q}`, classID))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}

	var data struct {
		SessionToken string    `json:"session_token"`
		ClassID      uuid.UUID `json:"class_id"`
		ExpiresAt    time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.ClassID != classID {
		t.Errorf("class_id = %v, want %v", data.ClassID, classID)
	}

	win, err := tokens.Verify(data.SessionToken, time.Now())
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if win.ClassID != classID || win.TeacherID != teacherID {
		t.Errorf("token window (%v, %v), want (%v, %v)", win.ClassID, win.TeacherID, classID, teacherID)
	}
}

func TestOpenWindowNotOwner(t *testing.T) {
	classID := uuid.New()
	store := &classStore{owners: map[uuid.UUID]uuid.UUID{classID: uuid.New()}}
	tokens := NewService("test-secret", 300*time.Second)
	h := NewHandler(tokens, authz.NewGate(store, time.Second, nil), realtime.NewHub(nil, nil, nil), zap.NewNop())
	router := newSessionRouter(h, uuid.New())

	w, resp := post(t, router, "/api/ble/session", fmt.Sprintf(`{"class_id":%q}`, classID))
	if w.Code != http.StatusForbidden || resp.Error != "unauthorized" {
		t.Errorf("code=%d error=%q, want 403 unauthorized", w.Code, resp.Error)
	}
}

func TestOpenWindowUpstreamDown(t *testing.T) {
	store := &classStore{err: errors.New("connection refused")}
	tokens := NewService("test-secret", 300*time.Second)
	h := NewHandler(tokens, authz.NewGate(store, time.Second, nil), realtime.NewHub(nil, nil, nil), zap.NewNop())
	router := newSessionRouter(h, uuid.New())

	w, resp := post(t, router, "/api/ble/session", fmt.Sprintf(`{"class_id":%q}`, uuid.New()))
	if w.Code != http.StatusServiceUnavailable || resp.Error != "upstream_unavailable" {
		t.Errorf("code=%d error=%q, want 503 upstream_unavailable", w.Code, resp.Error)
	}
}

func TestOpenWindowTeacherMismatch(t *testing.T) {
	teacherID := uuid.New()
	classID := uuid.New()
	store := &classStore{owners: map[uuid.UUID]uuid.UUID{classID: teacherID}}
	tokens := NewService("test-secret", 300*time.Second)
	h := NewHandler(tokens, authz.NewGate(store, time.Second, nil), realtime.NewHub(nil, nil, nil), zap.NewNop())
	router := newSessionRouter(h, teacherID)

	body := fmt.Sprintf(`{"class_id":%q,"teacher_id":%q}`, classID, uuid.New())
	w, _ := post(t, router, "/api/ble/session", body)
	if w.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", w.Code)
	}
}

func TestValidate(t *testing.T) {
	tokens := NewService("test-secret", 300*time.Second)
	h := NewHandler(tokens, authz.NewGate(&classStore{}, time.Second, nil), realtime.NewHub(nil, nil, nil), zap.NewNop())
	router := newSessionRouter(h, uuid.New())

	teacherID, classID := uuid.New(), uuid.New()
	valid, _, err := tokens.Open(teacherID, classID, time.Now())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w, resp := post(t, router, "/api/ble/validate", fmt.Sprintf(`{"session_token":%q}`, valid))
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: code = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Valid   bool      `json:"valid"`
		ClassID uuid.UUID `json:"class_id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !data.Valid || data.ClassID != classID {
		t.Errorf("data = %+v, want valid window for %v", data, classID)
	}

	expired, _, err := tokens.Open(teacherID, classID, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w, resp = post(t, router, "/api/ble/validate", fmt.Sprintf(`{"session_token":%q}`, expired))
	if w.Code != http.StatusUnauthorized || resp.Error != "expired_token" {
		t.Errorf("expired: code=%d error=%q, want 401 expired_token", w.Code, resp.Error)
	}

	w, resp = post(t, router, `/api/ble/validate`, `{"session_token":"garbage"}`)
	if w.Code != http.StatusUnauthorized || resp.Error != "invalid_token" {
		t.Errorf("invalid: code=%d error=%q, want 401 invalid_token", w.Code, resp.Error)
	}
}
