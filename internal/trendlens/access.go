package trendlens

import "time"

type (
	// AccessRequest is a user's ask to be let into the daily digest
	// feature. Admins approve or reject them from the console.
	AccessRequest struct {
		ID         string        `json:"id"`
		UserID     string        `json:"user_id"`
		Email      string        `json:"email"`
		Reason     string        `json:"reason"`
		Status     RequestStatus `json:"status"`
		CreatedAt  time.Time     `json:"created_at"`
		ReviewedAt *time.Time    `json:"reviewed_at,omitempty"`
	}

	// Admin is an allow-list entry granting console access.
	Admin struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		CreatedAt time.Time `json:"created_at"`
	}

	// BindCode is a short-lived code linking a web account to the
	// messaging bot.
	BindCode struct {
		Code      string `json:"code"`
		ExpiresIn int    `json:"expires_in"`
	}
)

// RequestStatus is the review state of an access request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// AccessStatus is a user's digest-access state as the backend reports it.
// The zero value means the state has not been resolved yet, which every
// caller must treat as no access.
type AccessStatus string

const (
	AccessUnknown  AccessStatus = ""
	AccessNone     AccessStatus = "none"
	AccessPending  AccessStatus = "pending"
	AccessApproved AccessStatus = "approved"
	AccessRejected AccessStatus = "rejected"
	AccessAdmin    AccessStatus = "admin"
)

// HasAccess reports whether the user may view digest content.
func (s AccessStatus) HasAccess() bool {
	return s == AccessApproved || s == AccessAdmin
}

// IsAdmin reports whether the user may use the admin console.
func (s AccessStatus) IsAdmin() bool {
	return s == AccessAdmin
}
