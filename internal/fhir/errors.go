package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPatientNotFound is returned when no patient matches an identifier.
var ErrPatientNotFound = errors.New("patient not found")

// ErrInvalidContent is returned when document content cannot be decoded.
var ErrInvalidContent = errors.New("invalid document content")

// APIError is a non-success response from the FHIR server.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fhir %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err means the requested resource does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrPatientNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone)
}
