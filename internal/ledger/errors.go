package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFined is returned when settling a roll number that has no outstanding fine.
	ErrNotFined = errors.New("roll number has no outstanding fine")
	// ErrNotConfirmed is returned when a settlement lacks operator confirmation.
	ErrNotConfirmed = errors.New("settlement requires confirmation")
	// ErrAccountFull is returned when an account document holds the maximum number of roll numbers.
	ErrAccountFull = errors.New("account ledger is full")
	// ErrNoAccount is returned when no authenticated account id is supplied.
	ErrNoAccount = errors.New("account id required")
)

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
