package juliaproject

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// bridgeConfig carries everything needed to launch the Julia child process
// behind a bridge.
type bridgeConfig struct {
	// juliaExe is the julia executable to launch.
	juliaExe string

	// projectPath is activated via --project and exported as JULIA_PROJECT.
	projectPath string

	// sysImagePath is loaded with -J when useSysImage is set and the file
	// exists.
	sysImagePath string
	useSysImage  bool

	// depotPath, when non-empty, is exported to the child as
	// JULIA_DEPOT_PATH.
	depotPath string

	// extraEnv holds additional environment variables for the child.
	extraEnv map[string]string

	log *slog.Logger
}

func (cfg bridgeConfig) logger() *slog.Logger {
	if cfg.log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return cfg.log
}

// juliaProc represents a running Julia server process with its standard
// streams wired for a framing protocol. Stderr is drained to the log so
// package-manager chatter cannot corrupt the protocol stream.
type juliaProc struct {
	// Cmd is the underlying exec.Cmd for the Julia process.
	Cmd *exec.Cmd

	// Stdin is the write end of the process's standard input.
	Stdin io.WriteCloser

	// Stdout is the read end of the process's standard output.
	Stdout io.ReadCloser

	log *slog.Logger
}

// startJuliaProc launches julia running serverScript via -e with the
// project, system image, and depot from cfg.
func startJuliaProc(cfg bridgeConfig, serverScript string) (*juliaProc, error) {
	log := cfg.logger()
	args := []string{"-q", "--history-file=no", "--startup-file=no"}
	if cfg.projectPath != "" {
		args = append(args, "--project="+cfg.projectPath)
	}
	if cfg.useSysImage && cfg.sysImagePath != "" && fileExists(cfg.sysImagePath) {
		log.Info("loading system image", "path", cfg.sysImagePath)
		args = append(args, "-J", cfg.sysImagePath)
	}
	args = append(args, "-e", serverScript)

	cmd := exec.Command(cfg.juliaExe, args...)
	cmd.Env = os.Environ()
	if cfg.projectPath != "" {
		cmd.Env = append(cmd.Env, "JULIA_PROJECT="+cfg.projectPath)
	}
	if cfg.depotPath != "" {
		cmd.Env = append(cmd.Env, "JULIA_DEPOT_PATH="+cfg.depotPath)
	}
	for key, value := range cfg.extraEnv {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// Drain stderr so the child never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			log.Debug("julia stderr", "line", scanner.Text())
		}
	}()

	proc := &juliaProc{
		Cmd:    cmd,
		Stdin:  stdinPipe,
		Stdout: stdoutPipe,
		log:    log,
	}

	setupSignalHandler(proc)

	return proc, nil
}

// Wait blocks until the Julia process exits.
// Returns an error if the process was killed or exited with a non-zero status.
func (jp *juliaProc) Wait() error {
	err := jp.Cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ExitCode() == -1 {
				// The child process was killed
				return errors.New("child process was killed")
			}
		}
		return err
	}
	return nil
}

// Terminate gracefully stops the Julia process. If the process doesn't exit
// within 5 seconds, it is forcefully killed.
// Returns nil if the process wasn't running or has already finished.
func (jp *juliaProc) Terminate() error {
	if jp.Cmd.Process == nil {
		return nil // Process hasn't started or has already finished
	}

	// Closing stdin lets the server loop end on its own.
	jp.Stdin.Close()

	// Try to terminate gracefully first
	err := terminateProcess(jp.Cmd.Process)
	if err != nil {
		return err
	}

	// Wait for the process to exit
	done := make(chan error, 1)
	go func() {
		done <- jp.Cmd.Wait()
	}()

	// Wait for the process to exit or force kill after timeout
	select {
	case <-time.After(5 * time.Second):
		// Force kill if it doesn't exit within 5 seconds
		err = jp.Cmd.Process.Kill()
		if err != nil {
			return err
		}
		<-done // Wait for the process to be killed
	case err = <-done:
		// Process exited before timeout
	}

	return err
}

func setupSignalHandler(jp *juliaProc) {
	signalChan := make(chan os.Signal, 1)
	setSignalsForChannel(signalChan)

	go func() {
		<-signalChan
		// Terminate the child process when a signal is received
		jp.Terminate()
	}()
}
