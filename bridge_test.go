package juliaproject

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateBridgeKind(t *testing.T) {
	if err := validateBridgeKind(BridgePyCall); err != nil {
		t.Errorf("Expected pycall to validate, got %v", err)
	}
	if err := validateBridgeKind(BridgePythonCall); err != nil {
		t.Errorf("Expected pythoncall to validate, got %v", err)
	}
	if err := validateBridgeKind("jlwrap"); err == nil {
		t.Error("Expected error for unknown bridge kind")
	}
	if err := validateBridgeKind(""); err == nil {
		t.Error("Expected error for empty bridge kind")
	}
}

func TestNeededPackages(t *testing.T) {
	if diff := cmp.Diff([]string{"PyCall"}, BridgePyCall.NeededPackages()); diff != "" {
		t.Errorf("PyCall packages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"PythonCall", "MsgPack"}, BridgePythonCall.NeededPackages()); diff != "" {
		t.Errorf("PythonCall packages mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJuliaError(t *testing.T) {
	e := parseJuliaError("DomainError\x1fsqrt was called with a negative real argument\x1fStacktrace:\n [1] sqrt\n")
	if e.Exception != "DomainError" {
		t.Errorf("Expected 'DomainError', got %q", e.Exception)
	}
	if e.Message != "sqrt was called with a negative real argument" {
		t.Errorf("Unexpected message %q", e.Message)
	}
	if e.Backtrace != "Stacktrace:\n [1] sqrt" {
		t.Errorf("Unexpected backtrace %q", e.Backtrace)
	}

	// Missing fields are left empty.
	e = parseJuliaError("UndefVarError\x1fx not defined")
	if e.Exception != "UndefVarError" || e.Message != "x not defined" || e.Backtrace != "" {
		t.Errorf("Unexpected error %+v", e)
	}
	e = parseJuliaError("InterruptException")
	if e.Exception != "InterruptException" || e.Message != "" {
		t.Errorf("Unexpected error %+v", e)
	}
}

func TestJuliaErrorMessage(t *testing.T) {
	e := &JuliaError{Exception: "DomainError", Message: "negative argument", Backtrace: "Stacktrace:"}
	want := "DomainError: negative argument\nStacktrace:"
	if got := e.Error(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	e = &JuliaError{Exception: "DomainError", Message: "negative argument"}
	if got := e.Error(); got != "DomainError: negative argument" {
		t.Errorf("Expected message without backtrace, got %q", got)
	}
}

func TestNewBridge(t *testing.T) {
	if _, ok := newBridge(BridgePyCall, bridgeConfig{}).(*pycallBridge); !ok {
		t.Error("Expected a pycall bridge")
	}
	if _, ok := newBridge(BridgePythonCall, bridgeConfig{}).(*pythoncallBridge); !ok {
		t.Error("Expected a pythoncall bridge")
	}
}
