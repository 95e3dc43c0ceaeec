package models

import (
	"strings"
	"time"

	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

// CourseStatus represents the catalog lifecycle of a course.
type CourseStatus string

const (
	CourseStatusActive   CourseStatus = "ACTIVE"
	CourseStatusInactive CourseStatus = "INACTIVE"
	CourseStatusArchived CourseStatus = "ARCHIVED"
)

var courseTransitions = map[CourseStatus][]CourseStatus{
	CourseStatusActive:   {CourseStatusInactive, CourseStatusArchived},
	CourseStatusInactive: {CourseStatusActive, CourseStatusArchived},
}

// CanTransitionTo reports whether the status may move to target.
// Archived courses are terminal.
func (s CourseStatus) CanTransitionTo(target CourseStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range courseTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ParseCourseStatus normalises free-text input into the closed set.
func ParseCourseStatus(raw string) (CourseStatus, error) {
	status := CourseStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case CourseStatusActive, CourseStatusInactive, CourseStatusArchived:
		return status, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unknown course status: "+raw)
}

// Course represents an offering in the catalog. CurrentStudents is
// owned exclusively by the enrollment workflow and is only mutated
// through its gated increment/decrement; 0 <= current <= max holds
// at all times.
type Course struct {
	ID              string       `db:"id" json:"id"`
	Code            string       `db:"code" json:"code"`
	Name            string       `db:"name" json:"name"`
	Description     string       `db:"description" json:"description"`
	DegreeID        string       `db:"degree_id" json:"degree_id"`
	Credits         int          `db:"credits" json:"credits"`
	MaxStudents     int          `db:"max_students" json:"max_students"`
	CurrentStudents int          `db:"current_students" json:"current_students"`
	Status          CourseStatus `db:"status" json:"status"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether another student fits in the course.
func (c *Course) HasCapacity() bool {
	return c.CurrentStudents < c.MaxStudents
}

// CourseFilter encapsulates allowed search parameters for listing courses.
type CourseFilter struct {
	DegreeID  string
	Status    CourseStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
