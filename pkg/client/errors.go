package client

import (
	"errors"
	"fmt"
)

// CodeAdminDisabled is set on errors from admin calls against a server that
// does not expose the admin API.
const CodeAdminDisabled = "admin_disabled"

// HTTPError represents a non-2xx response from a handoff server.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// IsAdminDisabled reports whether err came from an admin call the server
// refused because it runs without --admin-api.
func IsAdminDisabled(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == CodeAdminDisabled
}
