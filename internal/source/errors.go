package source

import (
	"errors"
	"fmt"
)

// ErrAuthorizationDenied is returned when the process has no read capability
// for a collection. The caller must re-trigger after access is granted; no
// retry is scheduled automatically.
var ErrAuthorizationDenied = errors.New("authorization denied")

// FetchError wraps a failure from the external record store. The collector's
// active flag is cleared when it occurs, so a later trigger retries from the
// last persisted anchor.
type FetchError struct {
	Collection string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Collection, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
