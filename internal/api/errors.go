package api

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchError reports a failed read from the backend. It is plain data so
// callers can render the message without unwrapping anything else.
type FetchError struct {
	Message string
	Status  int // HTTP status when known, 0 for transport failures
}

func (e *FetchError) Error() string {
	return e.Message
}

// CommitError reports a failed write operation. The state known before the
// commit was attempted remains authoritative.
type CommitError struct {
	Message string
	Status  int
}

func (e *CommitError) Error() string {
	return e.Message
}

// IsNotFound reports whether err is a FetchError caused by a 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == http.StatusNotFound
}

func fetchErrorf(status int, format string, args ...any) *FetchError {
	return &FetchError{Message: fmt.Sprintf(format, args...), Status: status}
}

func commitErrorf(status int, format string, args ...any) *CommitError {
	return &CommitError{Message: fmt.Sprintf(format, args...), Status: status}
}
