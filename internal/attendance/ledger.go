// Package attendance records a student's attendance for a class exactly
// once per calendar day. The only synchronization point is the store's
// unique constraint on (class_id, student_id, date); everything before the
// insert is stateless checking.
package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edupresence/backend/internal/authz"
	"github.com/edupresence/backend/internal/models"
	"github.com/edupresence/backend/internal/session"
)

// ErrUnauthorized means the enrollment predicate was false. It carries no
// detail about why, so enrollment lists cannot be probed.
var ErrUnauthorized = errors.New("not authorized for this class")

// Status is the result kind of a record attempt that reached the store.
type Status string

const (
	// StatusRecorded means this call created the day's record.
	StatusRecorded Status = "recorded"
	// StatusAlreadyRecorded means a record already existed; nothing was
	// written. From the student's perspective the claim still succeeded.
	StatusAlreadyRecorded Status = "already_recorded"
)

// Evidence is advisory telemetry attached to the first successful record.
// Neither field is verified and neither gates the decision.
type Evidence struct {
	RSSI         *int
	FaceScanData []byte
}

// Outcome is the successful result of a record attempt.
type Outcome struct {
	Status Status
	Record models.AttendanceRecord
}

// Store is the ledger's write interface. InsertIfAbsent must be atomic at
// the store: of any number of concurrent calls for the same key, exactly
// one inserts (inserted=true) and the rest observe the stored row.
type Store interface {
	InsertIfAbsent(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error)
}

// Ledger coordinates token verification, enrollment checks and the atomic
// insert.
type Ledger struct {
	tokens  *session.Service
	gate    *authz.Gate
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewLedger creates an attendance ledger. The timeout bounds the store
// insert; non-positive falls back to 3 seconds.
func NewLedger(tokens *session.Service, gate *authz.Gate, store Store, timeout time.Duration, logger *zap.Logger) *Ledger {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{tokens: tokens, gate: gate, store: store, timeout: timeout, logger: logger}
}

// Record verifies the window token, checks enrollment, and atomically
// records studentID's attendance for the token's class on now's calendar
// date. Failures before the insert leave the store untouched. On error the
// returned Outcome is zero; exactly one of outcome or error is meaningful.
//
// Error kinds: session.ErrInvalidToken, session.ErrExpiredToken,
// ErrUnauthorized, authz.ErrUpstream.
func (l *Ledger) Record(ctx context.Context, token string, studentID uuid.UUID, now time.Time, ev Evidence) (Outcome, error) {
	win, err := l.tokens.Verify(token, now)
	if err != nil {
		return Outcome{}, err
	}

	enrolled, err := l.gate.IsEnrolled(ctx, studentID, win.ClassID)
	if err != nil {
		return Outcome{}, err
	}
	if !enrolled {
		return Outcome{}, ErrUnauthorized
	}

	rec := models.AttendanceRecord{
		ID:           uuid.New(),
		ClassID:      win.ClassID,
		StudentID:    studentID,
		Date:         models.DateOf(now),
		RecordedAt:   now.UTC(),
		RSSI:         ev.RSSI,
		FaceScanData: ev.FaceScanData,
	}

	// The insert runs detached from the caller's cancellation: a client
	// that disconnects mid-request must not leave the day's record in
	// doubt. The bounded timeout still applies.
	insCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	stored, inserted, err := l.store.InsertIfAbsent(insCtx, rec)
	if err != nil {
		l.logger.Warn("attendance insert failed",
			zap.String("class_id", win.ClassID.String()),
			zap.String("student_id", studentID.String()),
			zap.Error(err))
		return Outcome{}, authz.ErrUpstream
	}
	if !inserted {
		return Outcome{Status: StatusAlreadyRecorded, Record: stored}, nil
	}
	return Outcome{Status: StatusRecorded, Record: stored}, nil
}
