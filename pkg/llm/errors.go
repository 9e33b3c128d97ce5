package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// LLMError is the base error type for all LLM client errors.
type LLMError struct {
	Code    int
	Message string
	Cause   error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// RateLimitError is returned when the provider rate-limits the request.
type RateLimitError struct{ LLMError }

// ServerError is returned on 5xx responses from the provider.
type ServerError struct{ LLMError }

// AuthError is returned on authentication/authorization failures.
type AuthError struct{ LLMError }

// ContextLengthError is returned when the request exceeds the model's context window.
type ContextLengthError struct{ LLMError }

// ContentFilterError is returned when the request is blocked by the provider's safety filter.
type ContentFilterError struct{ LLMError }

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// FromStatus classifies a provider error by HTTP status code.
func FromStatus(code int, message string, cause error) error {
	base := LLMError{Code: code, Message: message, Cause: cause}
	switch {
	case code == http.StatusTooManyRequests:
		return &RateLimitError{LLMError: base}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{LLMError: base}
	case code == http.StatusBadRequest:
		return &ContextLengthError{LLMError: base}
	case code >= 500:
		return &ServerError{LLMError: base}
	default:
		return &base
	}
}

// Transient reports whether err is a rate limit or a server-side failure,
// i.e. something a caller may reasonably try again later.
func Transient(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}
