package hosting

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the credential is missing or rejected. Fatal for the
	// current operation; the user has to reconfigure.
	ErrAuth = errors.New("hosting authentication failed")

	// ErrNotFound is returned for 404 responses. On content fetches it is
	// an expected control-flow signal meaning "new file".
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a ref mutation is refused, either
	// because the ref already exists or because the update is not a
	// fast-forward.
	ErrConflict = errors.New("ref conflict")
)

// StatusError carries the HTTP status of a failed hosting call. It wraps
// one of the sentinel errors above where the status maps onto one, so
// callers classify with errors.Is.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hosting API error: %d %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case 401, 403:
		return ErrAuth
	case 404:
		return ErrNotFound
	case 409, 422:
		return ErrConflict
	}
	return nil
}
