package auth

import "fmt"

// AuthError reports a failure to obtain credentials from the token endpoint.
type AuthError struct {
	Scheme     Scheme
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s authentication failed (status %d): %v", e.Scheme, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s authentication failed: %v", e.Scheme, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
