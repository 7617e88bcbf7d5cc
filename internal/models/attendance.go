package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is one student's attendance for a class on a calendar
// day. At most one row exists per (class_id, student_id, date); the row is
// immutable after insert except for the evidence archive URL written by
// the worker.
type AttendanceRecord struct {
	ID           uuid.UUID `json:"id"`
	ClassID      uuid.UUID `json:"class_id"`
	StudentID    uuid.UUID `json:"student_id"`
	Date         time.Time `json:"date"`
	RecordedAt   time.Time `json:"recorded_at"`
	RSSI         *int      `json:"rssi,omitempty"`
	FaceScanData []byte    `json:"-"` // opaque client-asserted blob, never validated
	EvidenceURL  *string   `json:"evidence_url,omitempty"`
}

// DateOf truncates a timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
