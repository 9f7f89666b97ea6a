package indexer

import (
	"fmt"

	"fhirindex/internal/job"
)

// ResolutionError means an identifier could not be mapped to anything to
// index. The identifier counts as a failure and the job carries on.
type ResolutionError struct {
	Type       job.IdentifierType
	Identifier string
	Reason     string
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not resolve %s %s: %s: %v", e.Type, e.Identifier, e.Reason, e.Err)
	}
	return fmt.Sprintf("could not resolve %s %s: %s", e.Type, e.Identifier, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// FatalError wraps a panic raised while indexing an identifier.
type FatalError struct {
	Value any
	Stack []byte
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("panic while indexing: %v", e.Value)
}
