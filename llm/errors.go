package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	// KindUnreachable means no HTTP response was received.
	KindUnreachable ErrorKind = "unreachable"

	// KindStatus means the service answered with a non-success status.
	KindStatus ErrorKind = "status"

	// KindProtocol means the response could not be interpreted.
	KindProtocol ErrorKind = "protocol"
)

// GenerationError is returned for every failed generation request.
type GenerationError struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	StatusCode int
	RequestID  string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation %s (%s/%s, status %d): %v", e.Kind, e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation %s (%s/%s): %v", e.Kind, e.Provider, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is likely to clear on its own:
// unreachable services, rate limiting and 5xx responses.
func (e *GenerationError) Transient() bool {
	switch e.Kind {
	case KindUnreachable:
		return true
	case KindStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// IsGenerationError checks if an error is a GenerationError and returns it.
func IsGenerationError(err error) (*GenerationError, bool) {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// statusError builds the cause for a non-success HTTP response.
func statusError(body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	return fmt.Errorf("API error: %s", bodyStr)
}
