package models

import "errors"

// Sentinel errors shared by every component. Wrap with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	// ErrValidation covers bad input: malformed address, non-positive amount,
	// insufficient balance, limit violations surfaced as errors.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork is returned when a simulated network collaborator fails.
	// The caller must retry explicitly; no state was changed.
	ErrNetwork = errors.New("network operation failed")
	// ErrInvalidTransition signals a state machine violation, i.e. a caller bug.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("not found")

	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNoActiveWallet         = errors.New("no active wallet")
	ErrNotSignedIn            = errors.New("not signed in")
	ErrTransferBlocked        = errors.New("transfer blocked")
	ErrAcknowledgementNeeded  = errors.New("acknowledgement required")
)
