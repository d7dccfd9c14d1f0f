package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPassword is returned when a receiver-initiated exchange is
	// opened without a password. That password is the only secret behind
	// the receiver's keypair.
	ErrEmptyPassword = errors.New("password must not be empty")

	// ErrMetadataMismatch is returned when authenticated plaintext disagrees
	// with the size or nonce the exchange service reported.
	ErrMetadataMismatch = errors.New("file does not match exchange metadata")
)

// StepError names the protocol step that failed, for example
// "upload chunk 3" or "decrypt file".
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	return &StepError{Step: step, Err: err}
}
