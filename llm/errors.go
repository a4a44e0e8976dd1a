package llm

import (
	"fmt"
	"unicode/utf8"
)

// ClientErrorBodyLimit bounds the response body carried by ClientRequestError.
const ClientErrorBodyLimit = 2000

// SchemaErrorOutputLimit bounds the raw output carried by SchemaViolationError.
const SchemaErrorOutputLimit = 1000

// SDKError is the base error type for all driver errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is a non-success HTTP response from the endpoint.
type ProviderError struct {
	SDKError
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s (status=%d): %s", e.Message, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s (status=%d)", e.Message, e.StatusCode)
}

// ServerError is a 5xx response. It is retried.
type ServerError struct{ ProviderError }

// ClientRequestError is a 4xx response. It is never retried.
type ClientRequestError struct{ ProviderError }

// RequestTimeoutError is a connect or read timeout. It is retried.
type RequestTimeoutError struct{ SDKError }

// NetworkError is a transport failure other than a timeout.
type NetworkError struct{ SDKError }

// AbortError means the caller's context ended the call.
type AbortError struct{ SDKError }

// ConfigurationError reports a missing key, model, or collaborator.
type ConfigurationError struct{ SDKError }

// RetriesExhaustedError is returned after every attempt hit a retryable error.
type RetriesExhaustedError struct {
	SDKError
	Attempts int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Cause)
}

// SchemaViolationError is a final answer that did not parse as the requested
// JSON shape.
type SchemaViolationError struct {
	SDKError
	Output string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s: %v; output: %s", e.Message, e.Cause, e.Output)
}

// NewSchemaViolation builds a SchemaViolationError with the output truncated.
func NewSchemaViolation(output string, cause error) *SchemaViolationError {
	return &SchemaViolationError{
		SDKError: SDKError{Message: "Failed to parse strict JSON from model output", Cause: cause},
		Output:   Truncate(output, SchemaErrorOutputLimit),
	}
}

// ErrorFromStatusCode maps a non-success HTTP status to an error type.
func ErrorFromStatusCode(statusCode int, body string) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: "Responses API error"},
		StatusCode: statusCode,
	}
	switch {
	case statusCode >= 400 && statusCode < 500:
		pe.Message = "Responses API client error"
		pe.Body = Truncate(body, ClientErrorBodyLimit)
		return &ClientRequestError{ProviderError: pe}
	case statusCode >= 500 && statusCode < 600:
		pe.Message = "Responses API server error"
		pe.Body = Truncate(body, ClientErrorBodyLimit)
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Body = Truncate(body, ClientErrorBodyLimit)
		return &pe
	}
}

// IsRetryable reports whether err is a transient failure: a 5xx response or
// a timeout. Everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *ServerError:
		return true
	case *RequestTimeoutError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		return false
	}
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
