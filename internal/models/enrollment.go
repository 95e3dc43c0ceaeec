package models

import (
	"strings"
	"time"

	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDIENTE"
	EnrollmentStatusEnrolled  EnrollmentStatus = "INSCRITO"
	EnrollmentStatusDropped   EnrollmentStatus = "RETIRADO"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETADO"
)

// enrollmentTransitions is the allowed status transition table.
// Re-enrollment after a drop reuses the same row, so RETIRADO may
// move back to INSCRITO.
var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending:  {EnrollmentStatusEnrolled, EnrollmentStatusDropped},
	EnrollmentStatusEnrolled: {EnrollmentStatusDropped, EnrollmentStatusCompleted},
	EnrollmentStatusDropped:  {EnrollmentStatusEnrolled},
}

// CanTransitionTo reports whether the status may move to target.
func (s EnrollmentStatus) CanTransitionTo(target EnrollmentStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ParseEnrollmentStatus validates a raw enrollment status string.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, error) {
	status := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case EnrollmentStatusPending, EnrollmentStatusEnrolled, EnrollmentStatusDropped, EnrollmentStatusCompleted:
		return status, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status: "+raw)
}

// Enrollment captures a student's membership in a course. The pair
// (student_id, course_id) is unique; dropping and re-enrolling
// updates this row in place rather than creating a new one.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt  *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	Status     EnrollmentStatus `db:"status" json:"status"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	StudentCode string `db:"student_code" json:"student_code"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
}

// DropResult reports the outcome of a drop operation. Dropping a
// student who is not enrolled is a no-op, not an error.
type DropResult struct {
	Dropped    bool        `json:"dropped"`
	Enrollment *Enrollment `json:"enrollment,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
