package flasher

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady       = errors.New("device not ready")
	ErrWriteProtected = errors.New("modchip is write-protected, try replugging the USB cable")
)

// IdentityError indicates that the opened device is not an X-Bit.
type IdentityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("invalid %s string: expected %q, got %q", e.Field, e.Expected, e.Actual)
}

// SizeMismatchError indicates that an image does not match the bank size.
type SizeMismatchError struct {
	Bank     int
	Expected int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("image size %d does not match bank %d size %d", e.Actual, e.Bank, e.Expected)
}

// VerificationError indicates that a bank does not hold the expected image.
type VerificationError struct {
	Bank   int
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification of bank %d failed: %s", e.Bank, e.Reason)
}

// WriteAbortedError indicates that a chunk write was given up, either
// because the retry policy ran out of attempts or the context ended.
// The bank is left partially written.
type WriteAbortedError struct {
	Block    int
	Offset   int
	Attempts int

	// Err is the failure of the last attempt
	Err error

	// Cause is the context error, if the write was cancelled
	Cause error
}

func (e *WriteAbortedError) Error() string {
	reason := "retries exhausted"
	if e.Cause != nil {
		reason = e.Cause.Error()
	}
	return fmt.Sprintf("write of block %d offset 0x%X aborted after %d attempts (%s): %v",
		e.Block, e.Offset, e.Attempts, reason, e.Err)
}

func (e *WriteAbortedError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
