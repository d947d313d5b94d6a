//go:build windows
// +build windows

package juliaproject

import (
	"os"
	"os/signal"
)

// setSignalsForChannel configures the channel to receive interrupt signals.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt)
}

// terminateProcess stops the process. Windows has no SIGTERM, so the
// process is killed outright.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

// lockProjectDir is a no-op on Windows, where flock is unavailable.
func lockProjectDir(path string) (func(), error) {
	return func() {}, nil
}
