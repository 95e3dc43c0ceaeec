package models

import (
	"strings"
	"time"

	appErrors "github.com/uninorte/portal-api/pkg/errors"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleProfessor UserRole = "PROFESSOR"
	RoleStudent   UserRole = "STUDENT"
)

// UserStatus models the account lifecycle. Accounts are created
// PENDIENTE and move through the approval workflow; they are never
// hard-deleted, deactivation flips the status to INACTIVO.
type UserStatus string

const (
	UserStatusPending   UserStatus = "PENDIENTE"
	UserStatusApproved  UserStatus = "APROBADO"
	UserStatusRejected  UserStatus = "RECHAZADO"
	UserStatusInactive  UserStatus = "INACTIVO"
	UserStatusSuspended UserStatus = "SUSPENDIDO"
)

// userTransitions is the allowed status transition table. Re-applying
// the current status is always permitted.
// Any non-APROBADO status may move to APROBADO: the approval workflow
// reinstates previously rejected or deactivated accounts.
var userTransitions = map[UserStatus][]UserStatus{
	UserStatusPending:   {UserStatusApproved, UserStatusRejected, UserStatusInactive},
	UserStatusApproved:  {UserStatusSuspended, UserStatusInactive},
	UserStatusRejected:  {UserStatusApproved, UserStatusPending, UserStatusInactive},
	UserStatusSuspended: {UserStatusApproved, UserStatusInactive},
	UserStatusInactive:  {UserStatusApproved, UserStatusPending},
}

// CanTransitionTo reports whether the status may move to target.
func (s UserStatus) CanTransitionTo(target UserStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range userTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ParseUserRole normalises free-text input into the closed role set.
func ParseUserRole(raw string) (UserRole, error) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleAdmin, RoleProfessor, RoleStudent:
		return role, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unknown role: "+raw)
}

// ParseUserStatus normalises free-text input into the closed status set.
func ParseUserStatus(raw string) (UserStatus, error) {
	status := UserStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case UserStatusPending, UserStatusApproved, UserStatusRejected, UserStatusInactive, UserStatusSuspended:
		return status, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unknown status: "+raw)
}

// User represents a portal account stored in the users table.
type User struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	PasswordHash    string     `db:"password_hash" json:"-"`
	FullName        string     `db:"full_name" json:"full_name"`
	Role            UserRole   `db:"role" json:"role"`
	Status          UserStatus `db:"status" json:"status"`
	StudentCode     *string    `db:"student_code" json:"student_code,omitempty"`
	ProfessorCode   *string    `db:"professor_code" json:"professor_code,omitempty"`
	ValidationToken *string    `db:"validation_token" json:"-"`
	TokenExpiresAt  *time.Time `db:"token_expires_at" json:"-"`
	LastLogin       *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Code returns the issued sequential identifier for the user's role,
// empty when none has been assigned yet.
func (u *User) Code() string {
	switch u.Role {
	case RoleStudent:
		if u.StudentCode != nil {
			return *u.StudentCode
		}
	case RoleProfessor:
		if u.ProfessorCode != nil {
			return *u.ProfessorCode
		}
	}
	return ""
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Status    *UserStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
