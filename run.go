package juliaproject

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// stdJuliaFlags make one-shot julia invocations quiet, hermetic, and quick
// to start.
var stdJuliaFlags = []string{"-q", "--history-file=no", "--startup-file=no", "--optimize=0"}

// RunOptions controls a single blocking julia invocation.
type RunOptions struct {
	// DepotPath, when non-empty, is passed to the child as
	// JULIA_DEPOT_PATH. The calling process's environment is not modified.
	DepotPath string

	// ExtraEnv holds additional environment variables for the child.
	ExtraEnv map[string]string

	// Console streams the child's output to stdout as it arrives, in
	// addition to capturing it.
	Console bool

	// QuietStderr discards the child's stderr instead of merging it into
	// the captured output.
	QuietStderr bool
}

// JuliaRunner abstracts the blocking julia subprocess invocations made while
// preparing a project. The default implementation spawns real processes;
// tests substitute scripted ones.
type JuliaRunner interface {
	// RunCode executes code with `julia -e`, returning the captured output.
	RunCode(exe, code string, opts RunOptions) (string, error)
	// Version returns the trimmed output of `exe --version`.
	Version(exe string) (string, error)
}

// execJuliaRunner runs julia as a subprocess.
type execJuliaRunner struct{}

func (execJuliaRunner) RunCode(exe, code string, opts RunOptions) (string, error) {
	if exe == "" {
		var err error
		exe, err = exec.LookPath("julia")
		if err != nil {
			return "", fmt.Errorf("no julia executable given and none found on PATH: %v", err)
		}
	}
	args := append(append([]string{}, stdJuliaFlags...), "-e", code)
	cmd := exec.Command(exe, args...)
	cmd.Env = os.Environ()
	if opts.DepotPath != "" {
		abs, err := filepath.Abs(opts.DepotPath)
		if err != nil {
			return "", fmt.Errorf("error resolving depot path %s: %v", opts.DepotPath, err)
		}
		cmd.Env = append(cmd.Env, "JULIA_DEPOT_PATH="+abs)
	}
	for name, value := range opts.ExtraEnv {
		cmd.Env = append(cmd.Env, name+"="+value)
	}
	var buf bytes.Buffer
	var out io.Writer = &buf
	if opts.Console {
		out = io.MultiWriter(&buf, os.Stdout)
	}
	cmd.Stdout = out
	if opts.QuietStderr {
		cmd.Stderr = io.Discard
	} else {
		cmd.Stderr = out
	}
	if err := cmd.Run(); err != nil {
		return buf.String(), fmt.Errorf("error running julia: %v, output: %s", err, buf.String())
	}
	return buf.String(), nil
}

func (execJuliaRunner) Version(exe string) (string, error) {
	out, err := exec.Command(exe, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("error running %s --version: %v", exe, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// pkgCommands wraps package-manager commands so they run with the project
// at projectPath activated.
func pkgCommands(projectPath, commands string) string {
	return fmt.Sprintf("import Pkg; Pkg.activate(%q); %s", projectPath, commands)
}

// juliaVersionString probes exe and returns its version, e.g. "1.7.2".
// Prerelease and build tags are preserved as printed by the executable.
func juliaVersionString(r JuliaRunner, exe string) (string, error) {
	out, err := r.Version(exe)
	if err != nil {
		return "", err
	}
	words := strings.Fields(out)
	if len(words) < 3 ||
		!strings.EqualFold(words[0], "julia") ||
		!strings.EqualFold(words[1], "version") {
		return "", fmt.Errorf("%s is not a julia executable", exe)
	}
	return words[2], nil
}
