package rates

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchTransport covers network and unexpected HTTP failures.
	ErrFetchTransport = errors.New("rates: transport failure")
	// ErrFetchAuth signals rejected credentials. Not retried on the backoff ladder.
	ErrFetchAuth = errors.New("rates: authentication rejected")
	// ErrFetchEmpty is returned when the provider has no slots for the requested day.
	ErrFetchEmpty = errors.New("rates: provider returned no slots")
	// ErrConfiguration marks invalid caller input such as an unaligned window duration.
	ErrConfiguration = errors.New("rates: configuration error")
	// ErrNotYetEligible rejects a tomorrow refresh before the fetch window opens.
	ErrNotYetEligible = errors.New("rates: tomorrow not yet eligible for fetch")
)

// FetchError wraps a provider failure with its kind.
type FetchError struct {
	Kind   error
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the failure belongs on the backoff ladder.
func (e *FetchError) Retryable() bool {
	return !errors.Is(e.Kind, ErrFetchAuth)
}

// ConfigError describes invalid input to an analysis query.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// IsRetryable classifies any error returned by a fetcher.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrFetchAuth)
}
