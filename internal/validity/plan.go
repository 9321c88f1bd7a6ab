package validity

import (
	"math"
	"time"
)

// OpKind represents a backend operation kind.
type OpKind int

const (
	OpDisable OpKind = iota
	OpGrant
)

// String returns a human-readable name for the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpDisable:
		return "disable"
	case OpGrant:
		return "grant"
	default:
		return "unknown"
	}
}

// Op is one backend operation the reconciler must issue. Grants carry an
// absolute day count relative to now, never a raw date; StartAt is set only
// for explicit-expiry grants.
type Op struct {
	Kind    OpKind
	Days    int
	StartAt *time.Time
}

// Plan computes the ordered operations needed to move the backend from the
// record's state to the draft's. It is pure; Commit executes the result.
//
// Two independent checks drive it:
//  1. toggle changed: turning off issues a disable; turning on issues a
//     grant for the default 1-day window (enabling always re-grants a
//     window on the backend).
//  2. explicit expiry set: issues a separate grant with days counted from
//     now and StartAt pinned to now, even when the toggle also changed.
//
// The two writes hit the same backend record, so they must run in this
// order and never concurrently. An empty plan means commit is a no-op.
func Plan(d Draft, r Record, now time.Time) []Op {
	var ops []Op

	if d.Enabled != (r.Status != StatusDisabled) {
		if d.Enabled {
			ops = append(ops, Op{Kind: OpGrant, Days: 1})
		} else {
			ops = append(ops, Op{Kind: OpDisable})
		}
	}

	if d.ExplicitExpiry != nil {
		start := now
		ops = append(ops, Op{
			Kind:    OpGrant,
			Days:    DaysUntil(*d.ExplicitExpiry, now),
			StartAt: &start,
		})
	}

	return ops
}

// DaysUntil converts a requested expiry instant into a whole day count from
// now, rounding up and flooring at 1. A date today or in the past still
// grants one day; the backend has no notion of a zero-length window.
func DaysUntil(expiry, now time.Time) int {
	days := int(math.Ceil(expiry.Sub(now).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}
