package juliaproject

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// probeScript returns a canned sequence of probe results, repeating the
// last one, and records the depot passed to each probe.
type probeScript struct {
	statuses []PyCallStatus
	depots   []string
}

func (p *probeScript) probe(depotPath string) (PyCallProbe, error) {
	p.depots = append(p.depots, depotPath)
	status := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}
	return PyCallProbe{
		Status:        status,
		JuliaExe:      "/opt/julia/bin/julia",
		LibPython:     "/old/libpython3.8.so",
		PythonExe:     "/old/python3",
		HostPython:    "/usr/bin/python3",
		HostLibPython: "/usr/lib/libpython3.10.so",
	}, nil
}

// newRepairInstaller builds a PkgInstaller over a ready project whose
// scripted runner materializes registries and manifests on demand.
func newRepairInstaller(t *testing.T) (*PkgInstaller, *scriptedRunner) {
	t.Helper()
	t.Setenv("JULIA_DEPOT_PATH", makeDepot(t))
	dir := makeProjectDir(t, true)
	runner := &scriptedRunner{}
	runner.onCode("Pkg.Registry.add", func(c scriptedCall) (string, error) {
		if c.opts.DepotPath == "" {
			return "", nil
		}
		for _, sub := range depotSubdirs {
			if err := os.MkdirAll(filepath.Join(c.opts.DepotPath, sub), 0755); err != nil {
				return "", err
			}
		}
		return "", os.MkdirAll(filepath.Join(c.opts.DepotPath, "registries", "General"), 0755)
	})
	runner.onCode("Pkg.instantiate()", func(c scriptedCall) (string, error) {
		return "", os.WriteFile(filepath.Join(dir, manifestTOMLName), nil, 0644)
	})
	return &PkgInstaller{
		ProjectPath:    dir,
		NeededPackages: []string{"PyCall"},
		Runner:         runner,
	}, runner
}

func TestRepairSucceedsImmediately(t *testing.T) {
	pi, runner := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallOK}}
	r := &PyCallRepair{
		Installer: pi,
		Probe:     probes.probe,
	}
	depot, err := r.EnsureReady(false, nil)
	if err != nil {
		t.Fatalf("Failed to ensure ready: %v", err)
	}
	if depot != "" {
		t.Errorf("Expected default depot, got %q", depot)
	}
	if len(probes.depots) != 1 {
		t.Errorf("Expected one probe, got %d", len(probes.depots))
	}
	// A ready project with a compatible PyCall runs no julia at all.
	if len(runner.calls) != 0 {
		t.Errorf("Expected no julia invocations, got %d", len(runner.calls))
	}
}

func TestRepairSwitchesToPrivateDepot(t *testing.T) {
	pi, runner := newRepairInstaller(t)
	possible := filepath.Join(filepath.Dir(pi.ProjectPath), "depot")
	probes := &probeScript{statuses: []PyCallStatus{PyCallIncompatible, PyCallOK}}
	var depotChosen bool
	r := &PyCallRepair{
		Installer:         pi,
		PossibleDepotPath: possible,
		Probe:             probes.probe,
		Decide: func(PyCallProbe) (RepairDecision, error) {
			return RepairDepot, nil
		},
		OnDepotChosen: func() { depotChosen = true },
	}
	depot, err := r.EnsureReady(false, nil)
	if err != nil {
		t.Fatalf("Failed to ensure ready: %v", err)
	}
	if depot != possible {
		t.Errorf("Expected private depot %q, got %q", possible, depot)
	}
	if !depotChosen {
		t.Error("Expected OnDepotChosen to run")
	}
	if pi.DepotPath != possible {
		t.Errorf("Expected installer depot %q, got %q", possible, pi.DepotPath)
	}
	// The first probe sees the default depot, the second the private one.
	if len(probes.depots) != 2 || probes.depots[0] != "" || probes.depots[1] != possible {
		t.Errorf("Unexpected probe depots %v", probes.depots)
	}
	// The second attempt is forced, so the project is instantiated into
	// the new depot even though its manifest was fresh.
	if !runner.codeRun("Pkg.instantiate()") {
		t.Error("Expected forced instantiation after the depot switch")
	}
}

func TestRepairRetriesWhenNotInstalled(t *testing.T) {
	pi, runner := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallNotInstalled, PyCallOK}}
	r := &PyCallRepair{
		Installer: pi,
		Probe:     probes.probe,
	}
	if _, err := r.EnsureReady(false, nil); err != nil {
		t.Fatalf("Failed to ensure ready: %v", err)
	}
	if len(probes.depots) != 2 {
		t.Errorf("Expected two probes, got %d", len(probes.depots))
	}
	if !runner.codeRun("Pkg.instantiate()") {
		t.Error("Expected forced instantiation on the second attempt")
	}
}

func TestRepairRebuildsWhenNotBuilt(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallNotBuilt, PyCallOK}}
	var rebuilt int
	r := &PyCallRepair{
		Installer: pi,
		Probe:     probes.probe,
		Rebuild: func(depotPath string) error {
			rebuilt++
			return nil
		},
	}
	if _, err := r.EnsureReady(false, nil); err != nil {
		t.Fatalf("Failed to ensure ready: %v", err)
	}
	if rebuilt != 1 {
		t.Errorf("Expected one rebuild, got %d", rebuilt)
	}
}

func TestRepairRebuildDoesNotTake(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallNotBuilt}}
	r := &PyCallRepair{
		Installer: pi,
		Probe:     probes.probe,
		Rebuild:   func(string) error { return nil },
	}
	_, err := r.EnsureReady(false, nil)
	if err == nil {
		t.Fatal("Expected error when the rebuild does not take")
	}
	if !strings.Contains(err.Error(), "building PyCall failed") {
		t.Errorf("Expected build failure, got %q", err.Error())
	}
}

func TestRepairRebuildChoice(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallIncompatible, PyCallOK}}
	var rebuildChosen bool
	r := &PyCallRepair{
		Installer: pi,
		Probe:     probes.probe,
		Rebuild:   func(string) error { return nil },
		Decide: func(PyCallProbe) (RepairDecision, error) {
			return RepairRebuild, nil
		},
		OnRebuildChosen: func() { rebuildChosen = true },
	}
	if _, err := r.EnsureReady(false, nil); err != nil {
		t.Fatalf("Failed to ensure ready: %v", err)
	}
	if !rebuildChosen {
		t.Error("Expected OnRebuildChosen to run")
	}
}

func TestRepairAbort(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallIncompatible}}
	r := &PyCallRepair{
		Installer: pi,
		Probe:     probes.probe,
		Decide: func(PyCallProbe) (RepairDecision, error) {
			return RepairAbort, nil
		},
	}
	_, err := r.EnsureReady(false, nil)
	if err == nil {
		t.Fatal("Expected error on abort")
	}
	var incompatible *PyCallIncompatibleError
	if !errors.As(err, &incompatible) {
		t.Fatalf("Expected PyCallIncompatibleError, got %T", err)
	}
	if incompatible.Probe.HostLibPython != "/usr/lib/libpython3.10.so" {
		t.Errorf("Expected probe detail in error, got %+v", incompatible.Probe)
	}
}

func TestRepairGivesUpAfterMaxAttempts(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	possible := filepath.Join(filepath.Dir(pi.ProjectPath), "depot")
	probes := &probeScript{statuses: []PyCallStatus{PyCallIncompatible}}
	r := &PyCallRepair{
		Installer:         pi,
		PossibleDepotPath: possible,
		Probe:             probes.probe,
		Decide: func(PyCallProbe) (RepairDecision, error) {
			return RepairDepot, nil
		},
	}
	_, err := r.EnsureReady(false, nil)
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !strings.Contains(err.Error(), "unable to properly install PyCall after 3 attempts") {
		t.Errorf("Expected exhaustion error, got %q", err.Error())
	}
	if len(probes.depots) != 3 {
		t.Errorf("Expected 3 probes, got %d", len(probes.depots))
	}
}

func TestRepairMaxAttemptsOverride(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	probes := &probeScript{statuses: []PyCallStatus{PyCallNotInstalled}}
	r := &PyCallRepair{
		Installer:   pi,
		MaxAttempts: 1,
		Probe:       probes.probe,
	}
	_, err := r.EnsureReady(false, nil)
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if len(probes.depots) != 1 {
		t.Errorf("Expected 1 probe, got %d", len(probes.depots))
	}
}

func TestRepairInteractiveDecision(t *testing.T) {
	pi, _ := newRepairInstaller(t)
	possible := filepath.Join(filepath.Dir(pi.ProjectPath), "depot")
	probes := &probeScript{statuses: []PyCallStatus{PyCallIncompatible, PyCallOK}}
	prompter := &scriptedPrompter{choices: []string{"1"}}
	r := &PyCallRepair{
		Installer:         pi,
		PossibleDepotPath: possible,
		Prompter:          prompter,
		Probe:             probes.probe,
	}
	depot, err := r.EnsureReady(false, nil)
	if err != nil {
		t.Fatalf("Failed to ensure ready: %v", err)
	}
	if depot != possible {
		t.Errorf("Expected private depot after choice 1, got %q", depot)
	}
	if len(prompter.asked) != 1 || prompter.asked[0] != incompatiblePythonQuestion {
		t.Errorf("Expected the incompatibility question, got %v", prompter.asked)
	}

	// Choice 3 gives up.
	pi, _ = newRepairInstaller(t)
	probes = &probeScript{statuses: []PyCallStatus{PyCallIncompatible}}
	r = &PyCallRepair{
		Installer: pi,
		Prompter:  &scriptedPrompter{choices: []string{"3"}},
		Probe:     probes.probe,
	}
	if _, err := r.EnsureReady(false, nil); err == nil {
		t.Error("Expected error after choice 3")
	}
}

func TestProbePyCallClassification(t *testing.T) {
	const hostLib = "/usr/lib/libpython3.10.so"
	tests := []struct {
		out  string
		want PyCallStatus
	}{
		{"/usr/lib/libpython3.10.so,/usr/bin/python3,ok", PyCallOK},
		{"/old/libpython3.8.so,/old/python3,ok", PyCallIncompatible},
		{",,not installed", PyCallNotInstalled},
		{",,not built", PyCallNotBuilt},
	}
	for _, tt := range tests {
		runner := &scriptedRunner{}
		out := tt.out
		runner.onCode("find_package", func(scriptedCall) (string, error) {
			// Package-manager chatter precedes the result line.
			return "  Activating project\n" + out + "\n", nil
		})
		probe, err := probePyCall(runner, "/proj", "/opt/julia/bin/julia", "", "/usr/bin/python3", hostLib)
		if err != nil {
			t.Fatalf("Failed to probe for %q: %v", tt.out, err)
		}
		if probe.Status != tt.want {
			t.Errorf("Probe of %q = %s, want %s", tt.out, probe.Status, tt.want)
		}
		if len(runner.calls) != 1 || !runner.calls[0].opts.QuietStderr {
			t.Error("Expected one probe invocation with stderr discarded")
		}
	}
}

func TestProbePyCallUnexpectedOutput(t *testing.T) {
	runner := &scriptedRunner{}
	if _, err := probePyCall(runner, "/proj", "julia", "", "", ""); err == nil {
		t.Error("Expected error for malformed probe output")
	}

	runner = &scriptedRunner{}
	runner.onCode("find_package", func(scriptedCall) (string, error) {
		return "a,b,bogus", nil
	})
	if _, err := probePyCall(runner, "/proj", "julia", "", "", ""); err == nil {
		t.Error("Expected error for unknown probe status")
	}
}

func TestRebuildPyCall(t *testing.T) {
	runner := &scriptedRunner{}
	err := rebuildPyCall(runner, "/proj", "julia", "/depot", "/usr/bin/python3", false)
	if err != nil {
		t.Fatalf("Failed to rebuild: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("Expected one invocation, got %d", len(runner.calls))
	}
	call := runner.calls[0]
	if !strings.Contains(call.code, `Pkg.build("PyCall")`) {
		t.Errorf("Expected a PyCall build, got %q", call.code)
	}
	if call.opts.ExtraEnv["PYTHON"] != "/usr/bin/python3" {
		t.Errorf("Expected PYTHON passed to the build, got %v", call.opts.ExtraEnv)
	}
	if call.opts.DepotPath != "/depot" {
		t.Errorf("Expected depot on the build, got %q", call.opts.DepotPath)
	}
}

func TestPyCallIncompatibleErrorMessage(t *testing.T) {
	e := &PyCallIncompatibleError{Probe: PyCallProbe{
		JuliaExe:      "/opt/julia/bin/julia",
		LibPython:     "/old/libpython3.8.so",
		PythonExe:     "/old/python3",
		HostPython:    "/usr/bin/python3",
		HostLibPython: "/usr/lib/libpython3.10.so",
	}}
	msg := e.Error()
	for _, want := range []string{
		"conflicting libpython",
		"/opt/julia/bin/julia",
		"/old/libpython3.8.so",
		"/usr/lib/libpython3.10.so",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error to mention %q:\n%s", want, msg)
		}
	}
}

func TestPyCallStatusString(t *testing.T) {
	if PyCallOK.String() != "ok" ||
		PyCallNotInstalled.String() != "not installed" ||
		PyCallNotBuilt.String() != "not built" ||
		PyCallIncompatible.String() != "incompatible libpython" {
		t.Error("PyCallStatus.String returned unexpected values")
	}
}
