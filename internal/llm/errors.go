package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyMessages is returned when a request carries no messages.
var ErrEmptyMessages = errors.New("completion request has no messages")

// ProviderError kinds. Callers branch on these rather than on message text.
const (
	KindAuth            = "auth"
	KindRateLimit       = "rate_limit"
	KindInvalidResponse = "invalid_response"
	KindEmptyResponse   = "empty_response"
	KindUnavailable     = "unavailable"
)

// ProviderError is a failure reported by (or on behalf of) a completion
// provider, classified into a small closed set of kinds.
type ProviderError struct {
	Provider string // provider name, e.g. "openai"
	Kind     string // one of the Kind* constants
	Message  string // human-readable detail
	Code     int    // HTTP status when the failure came from an HTTP response
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// classifyStatus maps an HTTP status code to a ProviderError kind.
func classifyStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindUnavailable
	default:
		return KindInvalidResponse
	}
}
