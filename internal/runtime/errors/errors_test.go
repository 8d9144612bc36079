package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrServiceRequired", ErrServiceRequired, "apibridge: service is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "apibridge: handler function is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "apibridge: publisher is required"},
		{"ErrTopicRequired", ErrTopicRequired, "apibridge: topic is required"},
		{"ErrMethodNotFound", ErrMethodNotFound, "apibridge: method not found"},
		{"ErrTimeout", ErrTimeout, "apibridge: timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestStructuredErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"service", ServiceNotFound("API"), ErrServiceNotFound, KindNotFound},
		{"method", MethodNotFound("API", "m"), ErrMethodNotFound, KindNotFound},
		{"param", ParamNotFound("m", "p"), ErrParamNotFound, KindValidation},
		{"required", RequireParamNotSet("m", "p"), ErrRequireParamNotSet, KindRequiredMissing},
		{"type", WrongType("p", "int", "x"), ErrWrongTypeParam, KindWrongType},
		{"size", WrongSize("p", "3 digits", 12345), ErrWrongSizeParam, KindWrongSize},
		{"rls", ServiceMethodNotAllowed("B", "m", "A"), ErrServiceMethodNotAllowed, KindUnauthorized},
		{"rls all", AllServiceMethodsNotAllowed("B", "A"), ErrAllServiceMethodsNotAllowed, KindUnauthorized},
		{"timeout", Timeout("rpc", "abc", time.Second), ErrTimeout, KindTimeout},
		{"transport", Transport("publish", errors.New("closed")), ErrTransport, KindTransport},
		{"handler", HandlerFailed("m", errors.New("boom")), ErrHandlerFailed, KindHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Fatalf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if got := KindOf(wrapped); got != tt.kind {
				t.Errorf("KindOf(wrapped) = %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := WrongSize("amount", "at most 3 digits", 12345)
	msg := err.Error()
	for _, want := range []string{"wrong param size", "param=amount", "at most 3 digits", "12345"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not contain %q", msg, want)
		}
	}
}

func TestTransportUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transport("http", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
}

func TestKindOfUnknown(t *testing.T) {
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v", got)
	}
	if got := Kind(99).String(); got != "kind(99)" {
		t.Errorf("String() = %q", got)
	}
}
