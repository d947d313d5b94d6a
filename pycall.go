package juliaproject

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// pycallProbeScript inspects how PyCall.jl is installed in the active
// project and prints "libpython,python,status" on its last output line.
//
//go:embed scripts/pycall_probe.jl
var pycallProbeScript string

// findLibPythonScript prints the path of the libpython a Python interpreter
// is dynamically linked against, or nothing for a static interpreter.
//
//go:embed scripts/find_libpython.py
var findLibPythonScript string

// PyCallStatus is the result of probing the PyCall installation in a
// project.
type PyCallStatus int

const (
	// PyCallOK means PyCall is built against the host interpreter's
	// libpython.
	PyCallOK PyCallStatus = iota
	// PyCallNotInstalled means the package is absent from the project.
	PyCallNotInstalled
	// PyCallNotBuilt means the package is present but its build step has
	// not run.
	PyCallNotBuilt
	// PyCallIncompatible means the package was built against a different
	// libpython than the host interpreter's.
	PyCallIncompatible
)

func (s PyCallStatus) String() string {
	switch s {
	case PyCallOK:
		return "ok"
	case PyCallNotInstalled:
		return "not installed"
	case PyCallNotBuilt:
		return "not built"
	case PyCallIncompatible:
		return "incompatible libpython"
	default:
		return fmt.Sprintf("PyCallStatus(%d)", int(s))
	}
}

// PyCallProbe reports the state of PyCall.jl in a project and the
// interpreters and libraries involved.
type PyCallProbe struct {
	Status PyCallStatus

	// LibPython and PythonExe are recorded in PyCall's deps.jl, when built.
	LibPython string
	PythonExe string

	// HostPython is the interpreter the project brokers calls for, and
	// HostLibPython the library it is linked against.
	HostPython    string
	HostLibPython string

	JuliaExe string
}

// PyCallIncompatibleError reports that PyCall.jl was built against a
// different libpython than the one linked into the host interpreter, with
// enough detail to see which side to change.
type PyCallIncompatibleError struct {
	Probe PyCallProbe
}

func (e *PyCallIncompatibleError) Error() string {
	p := e.Probe
	return fmt.Sprintf(`the Julia and Python setups have conflicting libpython libraries:
julia executable:
    %s
python and libpython recorded by PyCall.jl:
    %s
    %s
python used by this project and its libpython:
    %s
    %s`,
		p.JuliaExe, p.PythonExe, p.LibPython, p.HostPython, p.HostLibPython)
}

// incompatiblePythonQuestion is asked when PyCall was built for another
// libpython and the caller has not scripted a decision.
const incompatiblePythonQuestion = `The PyCall package in this project was built against a python library
different from the one in use. You have three choices:
1. Install all Julia packages in a project-specific depot. This duplicates
   package storage but avoids all incompatibilities.
2. Rebuild PyCall against the current python library. Other projects built
   against the previous library will stop working.
3. Give up and raise an error.`

// hostLibPython returns the path of the libpython dynamically linked into
// pythonExe, or "" when the interpreter is statically linked or missing.
func hostLibPython(pythonExe string) (string, error) {
	if pythonExe == "" {
		return "", nil
	}
	out, err := exec.Command(pythonExe, "-c", findLibPythonScript).Output()
	if err != nil {
		return "", fmt.Errorf("error probing libpython of %s: %v", pythonExe, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// probePyCall runs the PyCall probe script in the project and classifies
// the result against hostLib.
func probePyCall(r JuliaRunner, projectPath, juliaExe, depotPath, pythonExe, hostLib string) (PyCallProbe, error) {
	probe := PyCallProbe{
		JuliaExe:      juliaExe,
		HostPython:    pythonExe,
		HostLibPython: hostLib,
	}
	out, err := r.RunCode(juliaExe, pkgCommands(projectPath, pycallProbeScript), RunOptions{
		DepotPath:   depotPath,
		QuietStderr: true,
	})
	if err != nil {
		return probe, fmt.Errorf("error probing PyCall: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Split(lines[len(lines)-1], ",")
	if len(fields) != 3 {
		return probe, fmt.Errorf("unexpected PyCall probe output: %q", out)
	}
	libpython, python, status := fields[0], fields[1], fields[2]
	switch status {
	case "not installed":
		probe.Status = PyCallNotInstalled
	case "not built":
		probe.Status = PyCallNotBuilt
	case "ok":
		probe.LibPython = libpython
		probe.PythonExe = python
		if libpython == hostLib {
			probe.Status = PyCallOK
		} else {
			probe.Status = PyCallIncompatible
		}
	default:
		return probe, fmt.Errorf("unexpected PyCall probe status: %q", status)
	}
	return probe, nil
}

// rebuildPyCall rebuilds PyCall against pythonExe. The PYTHON variable is
// passed only to the child process.
func rebuildPyCall(r JuliaRunner, projectPath, juliaExe, depotPath, pythonExe string, console bool) error {
	_, err := r.RunCode(juliaExe, pkgCommands(projectPath, `Pkg.build("PyCall")`), RunOptions{
		DepotPath: depotPath,
		ExtraEnv:  map[string]string{"PYTHON": pythonExe},
		Console:   console,
	})
	if err != nil {
		return fmt.Errorf("error rebuilding PyCall: %v", err)
	}
	return nil
}

// RepairDecision is the remediation chosen when PyCall was built against a
// different libpython than the host interpreter's.
type RepairDecision int

const (
	// RepairAbort gives up with a diagnostic error.
	RepairAbort RepairDecision = iota
	// RepairDepot switches the project to a private depot.
	RepairDepot
	// RepairRebuild rebuilds PyCall against the host interpreter.
	RepairRebuild
)

// defaultRepairAttempts bounds the install-probe-repair loop.
const defaultRepairAttempts = 3

// PyCallRepair wraps a PkgInstaller in a bounded loop that detects and
// repairs PyCall installations built against the wrong libpython. Each
// attempt makes the project ready, probes PyCall, and either finishes,
// rebuilds, or switches to a private depot before trying again.
type PyCallRepair struct {
	// Installer prepares the project on each attempt. Its DepotPath is
	// updated when the loop switches depots.
	Installer *PkgInstaller

	// PossibleDepotPath is the private depot adopted when the chosen
	// remediation is RepairDepot.
	PossibleDepotPath string

	// PythonExe is the interpreter PyCall must be built against.
	PythonExe string

	// MaxAttempts bounds the loop. Zero means defaultRepairAttempts.
	MaxAttempts int

	// Prompter asks the three-way incompatibility question when Decide is
	// nil. nil means TerminalPrompter.
	Prompter Prompter

	// Probe, Rebuild, and Decide override the subprocess-backed
	// implementations, mainly for tests.
	Probe   func(depotPath string) (PyCallProbe, error)
	Rebuild func(depotPath string) error
	Decide  func(probe PyCallProbe) (RepairDecision, error)

	// OnDepotChosen and OnRebuildChosen run when the interactive decision
	// picks the corresponding remediation, so the caller can record the
	// answers it implies.
	OnDepotChosen   func()
	OnRebuildChosen func()
}

func (r *PyCallRepair) logger() *slog.Logger {
	return r.Installer.logger()
}

func (r *PyCallRepair) probe(depotPath string) (PyCallProbe, error) {
	if r.Probe != nil {
		return r.Probe(depotPath)
	}
	hostLib, err := hostLibPython(r.PythonExe)
	if err != nil {
		return PyCallProbe{}, err
	}
	return probePyCall(r.Installer.runner(), r.Installer.ProjectPath, r.Installer.JuliaExe,
		depotPath, r.PythonExe, hostLib)
}

func (r *PyCallRepair) rebuild(depotPath string) error {
	if r.Rebuild != nil {
		return r.Rebuild(depotPath)
	}
	return rebuildPyCall(r.Installer.runner(), r.Installer.ProjectPath, r.Installer.JuliaExe,
		depotPath, r.PythonExe, r.Installer.Console)
}

func (r *PyCallRepair) decide(probe PyCallProbe) (RepairDecision, error) {
	if r.Decide != nil {
		return r.Decide(probe)
	}
	prompter := r.Prompter
	if prompter == nil {
		prompter = &TerminalPrompter{}
	}
	choice, err := prompter.Choose(incompatiblePythonQuestion, []string{"1", "2", "3"})
	if err != nil {
		return RepairAbort, err
	}
	switch choice {
	case "1":
		return RepairDepot, nil
	case "2":
		return RepairRebuild, nil
	default:
		return RepairAbort, nil
	}
}

// EnsureReady runs the bounded install-probe-repair loop and returns the
// depot path in effect when it finished. After the first attempt the
// installer is always forced, since the previous attempt's failure may have
// left timestamps looking fresh.
func (r *PyCallRepair) EnsureReady(force bool, preInstall func() error) (string, error) {
	attempts := r.MaxAttempts
	if attempts == 0 {
		attempts = defaultRepairAttempts
	}
	depotPath := r.Installer.DepotPath
	log := r.logger()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			force = true
		}
		log.Info("ensuring project is ready with PyCall", "attempt", attempt, "depot", depotPath)
		r.Installer.DepotPath = depotPath
		if err := r.Installer.EnsureReady(force, preInstall); err != nil {
			return depotPath, err
		}
		probe, err := r.probe(depotPath)
		if err != nil {
			return depotPath, err
		}
		switch probe.Status {
		case PyCallOK:
			log.Info("PyCall is built against the host libpython")
			return depotPath, nil
		case PyCallNotInstalled:
			r.Installer.console("PyCall is not installed. Instantiating again.")
			log.Info("PyCall not installed, retrying")
		case PyCallNotBuilt:
			r.Installer.console("PyCall is not built. Building.")
			if err := r.rebuild(depotPath); err != nil {
				return depotPath, err
			}
			probe, err = r.probe(depotPath)
			if err != nil {
				return depotPath, err
			}
			if probe.Status != PyCallOK {
				return depotPath, fmt.Errorf("building PyCall failed: status %s", probe.Status)
			}
			return depotPath, nil
		case PyCallIncompatible:
			decision, err := r.decide(probe)
			if err != nil {
				return depotPath, err
			}
			switch decision {
			case RepairRebuild:
				if r.OnRebuildChosen != nil {
					r.OnRebuildChosen()
				}
				if err := r.rebuild(depotPath); err != nil {
					return depotPath, err
				}
				probe, err = r.probe(depotPath)
				if err != nil {
					return depotPath, err
				}
				if probe.Status != PyCallOK {
					if probe.Status == PyCallIncompatible {
						return depotPath, fmt.Errorf("rebuilding PyCall failed: %v", &PyCallIncompatibleError{Probe: probe})
					}
					return depotPath, fmt.Errorf("rebuilding PyCall failed: status %s", probe.Status)
				}
				r.Installer.console("Rebuilding PyCall succeeded.")
				log.Info("rebuilding PyCall succeeded")
				return depotPath, nil
			case RepairDepot:
				if r.OnDepotChosen != nil {
					r.OnDepotChosen()
				}
				depotPath = r.PossibleDepotPath
				log.Info("switching to project-specific depot", "depot", depotPath)
			default:
				return depotPath, &PyCallIncompatibleError{Probe: probe}
			}
		}
	}
	return depotPath, fmt.Errorf("unable to properly install PyCall after %d attempts", attempts)
}
