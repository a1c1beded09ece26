package repo

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema means the header row could not be read or a required column
	// is missing. It is a configuration defect, not a transient failure.
	ErrSchema = errors.New("sheet schema error")

	// ErrStoreUnavailable means the store could not be reached (network,
	// auth, quota, timeout). Callers treat it as retryable by the user.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// storeErr annotates err with the operation name. Errors already classified
// by a driver keep their kind; everything else becomes ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSchema) || errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
