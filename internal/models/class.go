package models

import (
	"time"

	"github.com/google/uuid"
)

// Class is a course taught by one teacher.
type Class struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	TeacherID uuid.UUID `json:"teacher_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrollment associates a student with a class. Enrollment facts are
// re-read from the store on every authorization check, never cached.
type Enrollment struct {
	ClassID    uuid.UUID `json:"class_id"`
	StudentID  uuid.UUID `json:"student_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
