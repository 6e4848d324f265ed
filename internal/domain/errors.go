package domain

import (
	"errors"
	"fmt"
)

// Rejection reasons returned by order validation. All are non-fatal: the
// signal is dropped and the reason logged.
var (
	ErrOutsideTradingWindow = errors.New("signal outside strategy trading window")
	ErrNoPosition           = errors.New("sell signal for symbol with no held quantity")
	ErrInsufficientFunds    = errors.New("buy signal exceeds available cash")
	ErrDuplicateOrder       = errors.New("open order already exists for strategy and symbol")
	ErrSizeZero             = errors.New("position sizing reduced quantity to zero")
	ErrSubmissionFailed     = errors.New("order submission failed after retries")
)

// TransientError marks a broker failure that is safe to retry, such as a
// timeout or a rate-limit response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PermanentError marks a broker rejection that must not be retried, such as
// an invalid symbol or a rejected order.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// CorruptionError signals a detected ledger invariant violation (negative
// cash or quantity, fill overflow). It is fatal: trading halts.
type CorruptionError struct {
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("ledger corruption risk: %s", e.Detail)
}

// ConfigError is a fatal startup misconfiguration, e.g. overlapping strategy
// windows or missing credentials.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Detail)
}
