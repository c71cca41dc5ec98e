package model

import "time"

// WaitlistStatus is the approval state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistPending  WaitlistStatus = "pending"
	WaitlistApproved WaitlistStatus = "approved"
	WaitlistRejected WaitlistStatus = "rejected"
)

// ParseWaitlistStatus validates a status string.
func ParseWaitlistStatus(s string) (WaitlistStatus, error) {
	switch st := WaitlistStatus(s); st {
	case WaitlistPending, WaitlistApproved, WaitlistRejected:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Message: "must be one of pending, approved, rejected"}
	}
}

// WaitlistEntry pre-approves an email for federated signup.
type WaitlistEntry struct {
	Email     string
	Status    WaitlistStatus
	Inbox     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InboxAlias returns the alias to record on the account, falling back to the email.
func (w *WaitlistEntry) InboxAlias() string {
	if w.Inbox != "" {
		return w.Inbox
	}
	return w.Email
}
