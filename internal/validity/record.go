// Package validity holds the authoritative validity state of a client
// account and the reconciler that diffs operator drafts against it,
// turning the gap into backend operations.
package validity

import "time"

// Status is the subscription/enablement state the backend reports.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusUnlimited Status = "unlimited"
	StatusUnknown   Status = "unknown"
	StatusDisabled  Status = "disabled"
)

// Record is the authoritative validity record for one client account.
// ExpiresAt is absent for unlimited and unknown accounts; a disabled
// account is blocked regardless of ExpiresAt.
type Record struct {
	Status    Status     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	StartAt   *time.Time `json:"startAt,omitempty"`
}

// Unknown is the canonical record for accounts the backend has no validity
// row for. It is a real value, never nil.
func Unknown() Record {
	return Record{Status: StatusUnknown}
}

// Enabled reports whether consumers should treat the account as usable.
// Derived, never stored.
func (r Record) Enabled() bool {
	return r.Status == StatusActive || r.Status == StatusUnlimited
}

// Blocked reports whether the account is administratively disabled.
func (r Record) Blocked() bool {
	return r.Status == StatusDisabled
}
