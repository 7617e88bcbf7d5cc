package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event names delivered on a class channel.
const (
	EventWindowOpened       = "window_opened"
	EventAttendanceRecorded = "attendance_recorded"
)

// WindowOpenedEvent announces that a teacher opened an attendance window.
type WindowOpenedEvent struct {
	ClassID   uuid.UUID `json:"class_id"`
	TeacherID uuid.UUID `json:"teacher_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AttendanceRecordedEvent announces one student's first successful claim.
// It is never emitted for an already-recorded attempt.
type AttendanceRecordedEvent struct {
	ClassID    uuid.UUID `json:"class_id"`
	StudentID  uuid.UUID `json:"student_id"`
	RecordedAt time.Time `json:"recorded_at"`
}
