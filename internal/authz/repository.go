package authz

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements Store against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an authorization repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ClassOwner returns the teacher who owns classID, or uuid.Nil when the
// class does not exist.
func (r *Repository) ClassOwner(ctx context.Context, classID uuid.UUID) (uuid.UUID, error) {
	const q = `SELECT teacher_id FROM classes WHERE id = $1`
	var owner uuid.UUID
	err := r.pool.QueryRow(ctx, q, classID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return owner, nil
}

// Enrolled reports whether an enrollment row exists for student and class.
func (r *Repository) Enrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM class_students WHERE class_id = $1 AND student_id = $2)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, classID, studentID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
