package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Session is the ephemeral record of "attendance is currently being taken for
// this class with this token". Sessions live in the Registry only: a process
// restart drops them all and attendance taking must be restarted.
type Session struct {
	ClassID      string    `json:"class_id"`
	Token        string    `json:"-"` // bearer proof-of-presence; never serialized to clients
	StartedAt    time.Time `json:"started_at"`
	TeacherName  string    `json:"-"`
	TeacherEmail string    `json:"-"`
}

// Presence is one student marked present on a Record.
type Presence struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// Record is the durable per-occasion attendance record of a class. Present is
// logically a set keyed by StudentID; the storage layer guarantees no
// duplicates under concurrent scans.
type Record struct {
	ID       string     `json:"id"`
	ClassID  string     `json:"class_id"`
	OpenedAt time.Time  `json:"opened_at"`
	IsActive bool       `json:"is_active"`
	Present  []Presence `json:"present"`
}

// StartSession contains information needed to open an attendance session.
type StartSession struct {
	ClassID string `json:"class_id" validate:"required"`
	Token   string `json:"token" validate:"required"`

	// set from the authenticated teacher identity, not from the payload
	TeacherName  string `json:"-"`
	TeacherEmail string `json:"-"`
}

func (ss *StartSession) Validate(validate *validator.Validate) error {
	return validate.Struct(ss)
}

// Scan is a single claim of presence by a student.
type Scan struct {
	ClassID     string `json:"class_id" validate:"required"`
	StudentID   string `json:"student_id" validate:"required"`
	StudentName string `json:"student_name"`
	Token       string `json:"token" validate:"required"`
}

func (s *Scan) Validate(validate *validator.Validate) error {
	return validate.Struct(s)
}
