package classes

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edupresence/backend/internal/models"
)

// Repository handles class and enrollment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a classes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const classColumns = `id, name, teacher_id, created_at, updated_at`

// Create inserts a class.
func (r *Repository) Create(ctx context.Context, name string, teacherID uuid.UUID) (*models.Class, error) {
	const q = `INSERT INTO classes (name, teacher_id) VALUES ($1, $2) RETURNING ` + classColumns
	var cl models.Class
	err := r.pool.QueryRow(ctx, q, name, teacherID).
		Scan(&cl.ID, &cl.Name, &cl.TeacherID, &cl.CreatedAt, &cl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

// GetByID returns a class by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Class, error) {
	const q = `SELECT ` + classColumns + ` FROM classes WHERE id = $1`
	var cl models.Class
	err := r.pool.QueryRow(ctx, q, id).Scan(&cl.ID, &cl.Name, &cl.TeacherID, &cl.CreatedAt, &cl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

// ListByTeacher returns the classes a teacher owns.
func (r *Repository) ListByTeacher(ctx context.Context, teacherID uuid.UUID) ([]models.Class, error) {
	return r.list(ctx, `SELECT `+classColumns+` FROM classes WHERE teacher_id = $1 ORDER BY name`, teacherID)
}

// ListAll returns every class (admin dashboard).
func (r *Repository) ListAll(ctx context.Context) ([]models.Class, error) {
	return r.list(ctx, `SELECT `+classColumns+` FROM classes ORDER BY name`)
}

// ListByStudent returns the classes a student is enrolled in.
func (r *Repository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Class, error) {
	return r.list(ctx, `SELECT c.id, c.name, c.teacher_id, c.created_at, c.updated_at
		FROM classes c JOIN class_students cs ON cs.class_id = c.id
		WHERE cs.student_id = $1 ORDER BY c.name`, studentID)
}

// Roster returns the students enrolled in a class.
func (r *Repository) Roster(ctx context.Context, classID uuid.UUID) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.id, u.email, u.full_name, u.role, u.created_at
		FROM users u JOIN class_students cs ON cs.student_id = u.id
		WHERE cs.class_id = $1 ORDER BY u.full_name`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// Enroll adds a student to a class, idempotently.
func (r *Repository) Enroll(ctx context.Context, classID, studentID uuid.UUID) error {
	const q = `INSERT INTO class_students (class_id, student_id) VALUES ($1, $2)
		ON CONFLICT (class_id, student_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, classID, studentID)
	return err
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Class, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Class
	for rows.Next() {
		var cl models.Class
		if err := rows.Scan(&cl.ID, &cl.Name, &cl.TeacherID, &cl.CreatedAt, &cl.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, cl)
	}
	return list, rows.Err()
}
