package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edupresence/backend/internal/models"
)

// Repository persists attendance rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, class_id, student_id, date, recorded_at, rssi, evidence_url`

// InsertIfAbsent inserts the row unless one already exists for the same
// (class_id, student_id, date). The decision rides entirely on the unique
// constraint: under concurrent claims exactly one INSERT wins and the rest
// conflict. On conflict the stored row is fetched and returned unchanged.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error) {
	const ins = `INSERT INTO attendance (id, class_id, student_id, date, recorded_at, rssi, face_scan_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (class_id, student_id, date) DO NOTHING
		RETURNING ` + recordColumns

	stored, err := scanRecord(r.pool.QueryRow(ctx, ins,
		rec.ID, rec.ClassID, rec.StudentID, rec.Date, rec.RecordedAt, rec.RSSI, rec.FaceScanData))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}

	// Conflict path: the existing row was committed by another claim, so a
	// fresh SELECT sees it.
	existing, err := r.getByKey(ctx, rec.ClassID, rec.StudentID, rec.Date)
	if err != nil {
		return models.AttendanceRecord{}, false, fmt.Errorf("fetch existing attendance: %w", err)
	}
	return existing, false, nil
}

// GetByID returns a single record, including the raw face scan blob (used
// by the evidence archiver).
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.AttendanceRecord, error) {
	const q = `SELECT ` + recordColumns + `, face_scan_data FROM attendance WHERE id = $1`
	var rec models.AttendanceRecord
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.ClassID, &rec.StudentID, &rec.Date, &rec.RecordedAt, &rec.RSSI, &rec.EvidenceURL, &rec.FaceScanData)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByClassAndDate returns a class's records for one calendar date.
func (r *Repository) ListByClassAndDate(ctx context.Context, classID uuid.UUID, date time.Time) ([]models.AttendanceRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM attendance
		WHERE class_id = $1 AND date = $2 ORDER BY recorded_at`
	rows, err := r.pool.Query(ctx, q, classID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// SetEvidenceURL writes the archive URL and drops the inline blob. The
// attendance decision fields are never touched.
func (r *Repository) SetEvidenceURL(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE attendance SET evidence_url = $2, face_scan_data = NULL WHERE id = $1 AND evidence_url IS NULL`
	_, err := r.pool.Exec(ctx, q, id, url)
	return err
}

func (r *Repository) getByKey(ctx context.Context, classID, studentID uuid.UUID, date time.Time) (models.AttendanceRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM attendance
		WHERE class_id = $1 AND student_id = $2 AND date = $3`
	return scanRecord(r.pool.QueryRow(ctx, q, classID, studentID, date))
}

func scanRecord(row pgx.Row) (models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := row.Scan(&rec.ID, &rec.ClassID, &rec.StudentID, &rec.Date, &rec.RecordedAt, &rec.RSSI, &rec.EvidenceURL)
	return rec, err
}
