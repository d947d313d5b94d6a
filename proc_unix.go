//go:build !windows
// +build !windows

package juliaproject

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSignalsForChannel configures the channel to receive SIGINT and SIGTERM.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
}

// terminateProcess asks the process to exit gracefully.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// lockProjectDir takes an advisory exclusive lock on a project directory so
// two processes cannot mutate its manifests at the same time. The returned
// function releases the lock. Blocks until the lock is available.
func lockProjectDir(path string) (func(), error) {
	f, err := os.OpenFile(filepath.Join(path, ".julia_project.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
