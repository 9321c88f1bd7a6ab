package permission

import "strconv"

// Draft is a full, mutable copy of a permission record. Commits send the
// whole draft; there is no per-field diffing on the wire.
type Draft Record

// DeriveDraft builds a clean draft from the authoritative record.
func DeriveDraft(r Record) Draft {
	return Draft(r)
}

// IsDirty reports whether any field differs from the record. Numeric fields
// compare as numbers, booleans directly; the struct is comparable so this
// is a single equality check.
func IsDirty(d Draft, r Record) bool {
	return Record(d) != r
}

// ParseCount coerces operator text input into a usable limit. Empty or
// non-numeric input means 0, and negatives clamp to 0; a limit is never
// NaN-ish or below zero.
func ParseCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
