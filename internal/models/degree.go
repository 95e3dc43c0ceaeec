package models

import "time"

// Degree is catalog metadata referenced by courses. It carries no
// enrollment invariants of its own.
type Degree struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Faculty     string    `db:"faculty" json:"faculty"`
	Semesters   int       `db:"semesters" json:"semesters"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DegreeFilter encapsulates search parameters for listing degrees.
type DegreeFilter struct {
	Faculty   string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
