package models

import "time"

// NotificationKind identifies the state change being announced.
type NotificationKind string

const (
	NotificationApproved NotificationKind = "APPROVED"
	NotificationRejected NotificationKind = "REJECTED"
	NotificationEnrolled NotificationKind = "ENROLLED"
	NotificationDropped  NotificationKind = "DROPPED"
)

// Notification is the message emitted after a workflow transaction
// commits. Delivery is best-effort and never blocks the workflow.
type Notification struct {
	UserID    string            `json:"user_id"`
	Email     string            `json:"email"`
	FullName  string            `json:"full_name"`
	Kind      NotificationKind  `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
