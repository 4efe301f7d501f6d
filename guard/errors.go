package guard

import "errors"

var (
	// ErrBusy means another request is already pending for this session.
	// Callers queue and retry; they do not surface this to the user.
	ErrBusy = errors.New("an approval request is already pending")

	ErrAlreadyResolved = errors.New("approval request already resolved")
	ErrUnknownRequest  = errors.New("unknown approval request")
	ErrCancelled       = errors.New("approval wait cancelled")
)
