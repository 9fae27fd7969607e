package provider

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the provider. The orchestrator keys its
// retry decision off StatusCode: 4xx is rejected as malformed or unknown and
// must not be retried, everything else is transient.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Body) > 200 {
		return fmt.Sprintf("provider returned %d: %s...", e.StatusCode, e.Body[:200])
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether err is a provider 4xx.
func IsClientError(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 400 && ae.StatusCode < 500
	}
	return false
}

// ErrInvalidResponse marks a response that failed schema validation. Treated
// like a 4xx: a malformed response means an incompatible contract, not load.
var ErrInvalidResponse = errors.New("provider response failed schema validation")
