package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		client    bool
	}{
		{400, false, true},
		{401, false, true},
		{404, false, true},
		{408, false, true},
		{429, false, true},
		{500, true, false},
		{502, true, false},
		{503, true, false},
		{302, false, false},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "body")
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retryable)
		}
		var cre *ClientRequestError
		if got := errors.As(err, &cre); got != tt.client {
			t.Errorf("status %d: ClientRequestError = %v, want %v", tt.status, got, tt.client)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"client error", &ClientRequestError{}, false},
		{"config error", &ConfigurationError{}, false},
		{"network error", &NetworkError{}, false},
		{"schema violation", &SchemaViolationError{}, false},
		{"server error", &ServerError{ProviderError: ProviderError{Retryable: true}}, true},
		{"timeout error", &RequestTimeoutError{}, true},
		{"unknown error", errors.New("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%T) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestClientErrorBodyTruncated(t *testing.T) {
	body := strings.Repeat("x", 5000)
	err := ErrorFromStatusCode(400, body)
	var cre *ClientRequestError
	if !errors.As(err, &cre) {
		t.Fatalf("expected ClientRequestError, got %T", err)
	}
	if len(cre.Body) != ClientErrorBodyLimit {
		t.Errorf("expected body of %d chars, got %d", ClientErrorBodyLimit, len(cre.Body))
	}
	if !strings.Contains(err.Error(), "status=400") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
}

func TestSchemaViolationTruncatesOutput(t *testing.T) {
	err := NewSchemaViolation(strings.Repeat("é", 1500), errors.New("bad"))
	if n := len([]rune(err.Output)); n != SchemaErrorOutputLimit {
		t.Errorf("expected %d runes, got %d", SchemaErrorOutputLimit, n)
	}
	if !strings.HasPrefix(err.Error(), "Failed to parse strict JSON") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &SDKError{Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected SDKError to unwrap to its cause")
	}
}
