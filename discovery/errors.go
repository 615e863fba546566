package discovery

import (
	"errors"
	"fmt"
)

// ErrNoCandidatesFound is not fatal: discovery turns it into an empty,
// flagged buyer group with confidence 0.
var ErrNoCandidatesFound = errors.New("no candidates returned")

// ValidationError means the CompanyContext was rejected before any provider
// call was made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid company context: " + e.Reason
}

// ProviderUnavailableError wraps a provider call failure after retries are
// exhausted. Discovery degrades the tier and continues.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}
