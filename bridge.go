package juliaproject

import (
	"fmt"
	"strings"
)

// BridgeKind selects which Julia interop family a project is built around.
// The two families need different Julia packages in the project and carry
// different compatibility constraints, so the choice is fixed for the
// lifetime of an initialized project.
type BridgeKind string

const (
	// BridgePyCall is the REPL-style bridge for projects using the PyCall
	// package family.
	BridgePyCall BridgeKind = "pycall"
	// BridgePythonCall is the MessagePack RPC bridge for projects using
	// the PythonCall package family.
	BridgePythonCall BridgeKind = "pythoncall"
)

func validateBridgeKind(kind BridgeKind) error {
	switch kind {
	case BridgePyCall, BridgePythonCall:
		return nil
	}
	return fmt.Errorf("bridge must be %q or %q, got %q", BridgePyCall, BridgePythonCall, kind)
}

// NeededPackages returns the Julia packages the bridge family requires in
// the project.
func (kind BridgeKind) NeededPackages() []string {
	if kind == BridgePythonCall {
		return []string{"PythonCall", "MsgPack"}
	}
	return []string{"PyCall"}
}

// Bridge is the capability interface over a running Julia process. Both
// bridge families implement it; the orchestrator and the system image
// compiler speak only to this interface.
type Bridge interface {
	// Start launches the Julia process and waits for its server to report
	// readiness.
	Start() error
	// Eval evaluates Julia code in Main and returns the captured output
	// followed by the printed value of the final expression.
	Eval(code string) (string, error)
	// EvalAll evaluates a multi-expression script in Main.
	EvalAll(code string) (string, error)
	// Import loads a Julia module into Main.
	Import(module string) error
	// Close shuts the Julia process down.
	Close() error
}

// JuliaError represents an exception raised in the Julia process.
type JuliaError struct {
	// Exception is the Julia exception type, e.g. "DomainError".
	Exception string
	// Message is the rendered error message.
	Message string
	// Backtrace is the Julia backtrace, when available.
	Backtrace string
}

func (e *JuliaError) Error() string {
	if e.Backtrace != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Exception, e.Message, e.Backtrace)
	}
	return fmt.Sprintf("%s: %s", e.Exception, e.Message)
}

// errorFieldSep separates the exception, message, and backtrace fields of
// an error payload from the REPL server.
const errorFieldSep = "\x1f"

// parseJuliaError splits a framed error payload into a JuliaError. Missing
// fields are left empty.
func parseJuliaError(payload string) *JuliaError {
	parts := strings.SplitN(payload, errorFieldSep, 3)
	err := &JuliaError{Exception: parts[0]}
	if len(parts) > 1 {
		err.Message = parts[1]
	}
	if len(parts) > 2 {
		err.Backtrace = strings.TrimRight(parts[2], "\n")
	}
	return err
}

// newBridge constructs the bridge implementation for kind. The bridge is
// not started.
func newBridge(kind BridgeKind, cfg bridgeConfig) Bridge {
	if kind == BridgePythonCall {
		return newPythonCallBridge(cfg)
	}
	return newPyCallBridge(cfg)
}
