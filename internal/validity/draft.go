package validity

import (
	"fmt"
	"time"
)

// Draft is an operator's uncommitted edit of a validity record. Enabled is
// the intended on/off toggle; ExplicitExpiry, when set, is the requested
// override expiry at midnight of the chosen day.
type Draft struct {
	Enabled        bool
	ExplicitExpiry *time.Time
}

// DeriveDraft builds a clean draft from the authoritative record. Called
// whenever a fresh record is loaded, resetting any in-progress edit.
// The toggle base is "not administratively disabled": an expired account
// still shows as switched on, because turning the toggle off means issuing
// a disable, not letting the clock run out.
func DeriveDraft(r Record) Draft {
	return Draft{Enabled: r.Status != StatusDisabled}
}

// IsDirty reports whether the draft differs from its originating record.
// It is the single gate for save/reset actions and must be re-derived on
// every change, never cached.
func IsDirty(d Draft, r Record) bool {
	return d.Enabled != (r.Status != StatusDisabled) || d.ExplicitExpiry != nil
}

// ParseExpiry parses an operator-entered expiry date (YYYY-MM-DD) as local
// midnight of that day.
func ParseExpiry(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}
