package juliaproject

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"
)

//go:embed scripts/repl.jl
var replServerScript string

// replDelimiter marks the end of a framed request or response using
// non-printable ASCII characters. This allows reliable detection of message
// boundaries without conflicting with output from user code.
const replDelimiter = "\x01\x02\x03\n"

// pycallBridge runs Julia as a persistent REPL server speaking a
// delimiter-framed text protocol on its standard streams. The server
// imports PyCall at startup, which is why projects using this bridge need
// the PyCall package installed and built compatibly.
//
// State persists between calls: a variable defined by one Eval remains
// available to the next. The bridge is safe for concurrent use; requests
// are serialized via an internal mutex.
type pycallBridge struct {
	cfg bridgeConfig

	// m serializes requests on the protocol stream
	m sync.Mutex

	proc   *juliaProc
	reader *bufio.Reader

	started bool
	closed  bool
}

func newPyCallBridge(cfg bridgeConfig) *pycallBridge {
	return &pycallBridge{cfg: cfg}
}

// Start launches the Julia server and waits for its ready frame.
func (b *pycallBridge) Start() error {
	b.m.Lock()
	defer b.m.Unlock()
	if b.closed {
		return fmt.Errorf("bridge has been closed")
	}
	if b.started {
		return nil
	}
	proc, err := startJuliaProc(b.cfg, replServerScript)
	if err != nil {
		return fmt.Errorf("error starting julia repl server: %v", err)
	}
	b.proc = proc
	b.reader = bufio.NewReader(proc.Stdout)
	status, payload, err := b.readFrame()
	if err != nil {
		proc.Terminate()
		return fmt.Errorf("julia repl server failed to start: %v", err)
	}
	if status != "ok" {
		proc.Terminate()
		return fmt.Errorf("julia repl server failed to start: %v", parseJuliaError(payload))
	}
	b.started = true
	b.cfg.logger().Info("julia repl bridge started", "server", payload)
	return nil
}

// Eval evaluates Julia code in Main and returns the captured output
// followed by the printed value of the final expression. An exception in
// the code is returned as a *JuliaError.
func (b *pycallBridge) Eval(code string) (string, error) {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return "", fmt.Errorf("bridge has been closed")
	}
	if !b.started {
		return "", fmt.Errorf("bridge has not been started")
	}

	// trim whitespace from the end of the code
	code = strings.TrimRight(code, " \t\n\r")

	// append the delimiter on its own line
	code += "\n" + replDelimiter

	// write the code to the Julia process as a single string
	if _, err := io.WriteString(b.proc.Stdin, code); err != nil {
		return "", err
	}

	status, payload, err := b.readFrame()
	if err != nil {
		return "", err
	}
	if status == "error" {
		return "", parseJuliaError(payload)
	}
	return payload, nil
}

// EvalAll evaluates a multi-expression script. The REPL server parses every
// top-level expression of a request, so this is the same as Eval.
func (b *pycallBridge) EvalAll(code string) (string, error) {
	return b.Eval(code)
}

// Import loads a Julia module into Main.
func (b *pycallBridge) Import(module string) error {
	_, err := b.Eval("import " + module)
	return err
}

// readFrame reads one framed response: a status line, a payload, and the
// delimiter. The caller must hold the mutex.
func (b *pycallBridge) readFrame() (status, payload string, err error) {
	var result strings.Builder
	for {
		line, err := b.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", "", err
		}

		result.WriteString(line)

		// Check if we've received the complete response (marked by the delimiter)
		if strings.HasSuffix(result.String(), replDelimiter) {
			frame := strings.TrimSuffix(result.String(), replDelimiter)
			status, payload, _ := strings.Cut(frame, "\n")
			payload = strings.TrimRight(payload, "\n\r")
			return status, payload, nil
		}

		if err == io.EOF {
			return "", "", fmt.Errorf("unexpected EOF from julia repl server")
		}
	}
}

// Close terminates the Julia process. After Close the bridge cannot be
// reused. Returns an error if already closed.
func (b *pycallBridge) Close() error {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return fmt.Errorf("bridge has been closed")
	}
	b.closed = true
	if b.proc == nil {
		return nil
	}
	return b.proc.Terminate()
}
