package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrServiceNotRegistered is returned when a request targets a source that
// was never registered. This is a programmer error and is never retried.
var ErrServiceNotRegistered = errors.New("source not registered")

// ErrRateLimited is returned when a source's local rate-limit budget is
// exhausted; it counts as a source failure without a network attempt.
var ErrRateLimited = errors.New("source rate limit exhausted")

// SourceError records one failed attempt within a fallback chain.
type SourceError struct {
	Source string
	Err    error
}

// AllSourcesFailedError is the terminal error when the primary and every
// eligible fallback failed. It carries per-source errors for diagnostics.
type AllSourcesFailedError struct {
	Attempts []SourceError
}

// Error lists every attempted source.
func (e *AllSourcesFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all sources failed: no sources attempted"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Source, a.Err)
	}
	return "all sources failed: " + strings.Join(parts, "; ")
}

// Sources returns the attempted source names in attempt order.
func (e *AllSourcesFailedError) Sources() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Source
	}
	return names
}

// Unwrap exposes the underlying attempt errors to errors.Is/As.
func (e *AllSourcesFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}
