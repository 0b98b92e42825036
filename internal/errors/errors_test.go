package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRetryableDefaults(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeRateLimited, true},
		{CodeTimeout, true},
		{CodeUpstreamFailure, true},
		{CodeConnectionFailure, false},
		{CodeEmptyPrompt, false},
		{CodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := RetryableError(New(tt.code, "")); got != tt.want {
				t.Fatalf("RetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := fmt.Errorf("chat: %w", Wrap(CodeConnectionFailure, cause, "连接失败"))

	if CodeOf(err) != CodeConnectionFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
	if !stdErrors.Is(err, New(CodeConnectionFailure, "")) {
		t.Fatalf("expected code comparison through errors.Is")
	}
	if RetryableError(err) {
		t.Fatalf("connection failures must not be retryable")
	}
}

func TestPlainErrorsAreUnknown(t *testing.T) {
	err := fmt.Errorf("boom")
	if CodeOf(err) != CodeUnknown {
		t.Fatalf("expected UNKNOWN, got %s", CodeOf(err))
	}
	if !ShouldAlert(err) {
		t.Fatalf("unknown errors should alert")
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity: %s", SeverityOf(err))
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := fmt.Errorf("chat: %w", New(CodeUpstreamFailure, "", WithMetadata("status", "502")))
	if got := MetadataOf(err); got["status"] != "502" {
		t.Fatalf("unexpected metadata: %v", got)
	}
	meta := MetadataOf(err)
	meta["status"] = "changed"
	if MetadataOf(err)["status"] != "502" {
		t.Fatalf("metadata must be copied")
	}
	if MetadataOf(fmt.Errorf("plain")) != nil {
		t.Fatalf("plain errors carry no metadata")
	}
	if e, _ := From(err); e.Message() != "model endpoint returned a server error" {
		t.Fatalf("expected registry message, got %q", e.Message())
	}
}

func TestUnregisteredCodeBehavesAsUnknown(t *testing.T) {
	err := New(Code("SOMETHING_ELSE"), "")
	if RetryableError(err) || !ShouldAlert(err) || SeverityOf(err) != SeverityCritical {
		t.Fatalf("unregistered codes must use UNKNOWN attributes")
	}
}
