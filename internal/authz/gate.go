// Package authz answers "may this actor act on this class?" with pure,
// fail-closed predicates over the external store. It holds no state and
// caches nothing: ownership and enrollment are re-read on every check.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUpstream reports a store or transport failure, distinguished from a
// plain "not authorized" so callers can retry instead of reject.
var ErrUpstream = errors.New("upstream store unavailable")

// Store is the narrow read interface the gate consumes. ClassOwner returns
// uuid.Nil with a nil error when the class does not exist; Enrolled returns
// false with a nil error when no enrollment association exists.
type Store interface {
	ClassOwner(ctx context.Context, classID uuid.UUID) (uuid.UUID, error)
	Enrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error)
}

// Gate wraps a Store with bounded timeouts and fail-closed semantics.
type Gate struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewGate creates an authorization gate. A non-positive timeout falls back
// to 3 seconds.
func NewGate(store Store, timeout time.Duration, logger *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, timeout: timeout, logger: logger}
}

// IsClassOwner reports whether teacherID owns classID. Lookup errors never
// surface as authorized: the result is false plus ErrUpstream.
func (g *Gate) IsClassOwner(ctx context.Context, teacherID, classID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	owner, err := g.store.ClassOwner(ctx, classID)
	if err != nil {
		g.logger.Warn("class owner lookup failed", zap.String("class_id", classID.String()), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return owner != uuid.Nil && owner == teacherID, nil
}

// IsEnrolled reports whether studentID is enrolled in classID, with the
// same fail-closed error contract as IsClassOwner.
func (g *Gate) IsEnrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.store.Enrolled(ctx, studentID, classID)
	if err != nil {
		g.logger.Warn("enrollment lookup failed",
			zap.String("class_id", classID.String()),
			zap.String("student_id", studentID.String()),
			zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return ok, nil
}
