package juliaproject

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// depotSubdirs are present in any depot that has completed at least one
// package resolution.
var depotSubdirs = []string{"registries", "packages", "compiled"}

// NeedResolve reports whether the project in projectPath must run a package
// resolution: the private depot (if one is in use) is missing one of its
// standard subdirectories, the manifest is missing, or the project
// descriptor is newer than the manifest. A missing project descriptor is an
// error.
func NeedResolve(projectPath, depotPath string) (bool, error) {
	need, _, err := needResolveMtime(projectPath, depotPath)
	return need, err
}

// needResolveMtime additionally returns the manifest modification time when
// one exists, for the caller's staleness guard.
func needResolveMtime(projectPath, depotPath string) (bool, time.Time, error) {
	if depotPath != "" {
		for _, sub := range depotSubdirs {
			if !isDir(filepath.Join(depotPath, sub)) {
				return true, time.Time{}, nil
			}
		}
	}
	proj := projectTOMLPath(projectPath)
	if proj == "" {
		return false, time.Time{}, fmt.Errorf("%s", noProjectTOMLMessage(projectPath))
	}
	manifest, err := manifestTOMLPath(projectPath)
	if err != nil {
		return false, time.Time{}, err
	}
	if manifest == "" {
		return true, time.Time{}, nil
	}
	projInfo, err := os.Stat(proj)
	if err != nil {
		return false, time.Time{}, err
	}
	manInfo, err := os.Stat(manifest)
	if err != nil {
		return false, time.Time{}, err
	}
	if projInfo.ModTime().After(manInfo.ModTime()) {
		return true, manInfo.ModTime(), nil
	}
	return false, manInfo.ModTime(), nil
}

// PkgInstaller drives the blocking, subprocess-based package-manager
// invocations that make one Julia project directory ready for use. It is
// deliberately independent of any running bridge so that it can repair a
// project no runtime has loaded yet.
type PkgInstaller struct {
	// ProjectPath is the project directory to make ready.
	ProjectPath string

	// JuliaExe is the julia executable to run. Empty means julia on PATH.
	JuliaExe string

	// DepotPath, when non-empty, is the private depot passed to every
	// invocation.
	DepotPath string

	// Registries maps registry names to their clone URLs. They are
	// installed before instantiation if missing.
	Registries map[string]string

	// NeededPackages are added to the project if its descriptor does not
	// list them.
	NeededPackages []string

	// PreInstantiateCmds is Julia code run after project activation and
	// before instantiation.
	PreInstantiateCmds string

	// Console streams installation progress to stdout.
	Console bool

	// Log receives progress. nil discards it.
	Log *slog.Logger

	// Runner performs the julia invocations. nil means real subprocesses.
	Runner JuliaRunner
}

func (pi *PkgInstaller) runner() JuliaRunner {
	if pi.Runner == nil {
		return execJuliaRunner{}
	}
	return pi.Runner
}

func (pi *PkgInstaller) logger() *slog.Logger {
	if pi.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return pi.Log
}

func (pi *PkgInstaller) console(msg string) {
	if pi.Console {
		fmt.Println(msg)
	}
}

// runPkg runs package-manager commands with the project activated.
func (pi *PkgInstaller) runPkg(commands string, quietStderr bool) (string, error) {
	if !isDir(pi.ProjectPath) {
		return "", fmt.Errorf("project directory %s does not exist", pi.ProjectPath)
	}
	return pi.runner().RunCode(pi.JuliaExe, pkgCommands(pi.ProjectPath, commands), RunOptions{
		DepotPath:   pi.DepotPath,
		Console:     pi.Console,
		QuietStderr: quietStderr,
	})
}

// EnsureReady makes the project directory ready: registries installed,
// needed packages added, manifest resolved. If nothing needs to be done and
// force is not set, it returns without running julia at all. preInstall, if
// non-nil, runs after the decision to do work and before any invocation.
func (pi *PkgInstaller) EnsureReady(force bool, preInstall func() error) error {
	log := pi.logger()
	log.Info("ensuring project is ready", "project", pi.ProjectPath, "depot", pi.DepotPath)
	toAdd, err := PackagesToAdd(pi.ProjectPath, pi.NeededPackages)
	if err != nil {
		return err
	}
	need, _, err := needResolveMtime(pi.ProjectPath, pi.DepotPath)
	if err != nil {
		return err
	}
	if !need && !force && len(toAdd) == 0 {
		log.Info("project needs no installation or updating")
		return nil
	}
	unlock, err := lockProjectDir(pi.ProjectPath)
	if err != nil {
		return fmt.Errorf("error locking project directory: %v", err)
	}
	defer unlock()
	if preInstall != nil {
		if err := preInstall(); err != nil {
			return err
		}
	}
	if err := pi.ensureGeneralRegistry(); err != nil {
		return err
	}
	names := make([]string, 0, len(pi.Registries))
	for name := range pi.Registries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pi.ensureRegistry(name, pi.Registries[name]); err != nil {
			return err
		}
	}
	return pi.instantiate(toAdd)
}

// instantiate adds missing packages and instantiates the project, then
// verifies that a manifest was written and touches it so a resolution that
// changed nothing still reads as fresh.
func (pi *PkgInstaller) instantiate(toAdd []string) error {
	var b strings.Builder
	if pi.PreInstantiateCmds != "" {
		b.WriteString(pi.PreInstantiateCmds)
		b.WriteString("; ")
	}
	for _, name := range toAdd {
		fmt.Fprintf(&b, "Pkg.add(%q); ", name)
	}
	b.WriteString("Pkg.instantiate()")
	pi.console("Instantiating Julia project.")
	pi.logger().Info("instantiating project", "adding", toAdd)
	if _, err := pi.runPkg(b.String(), false); err != nil {
		return fmt.Errorf("error instantiating project: %v", err)
	}
	manifest, err := manifestTOMLPath(pi.ProjectPath)
	if err != nil {
		return err
	}
	if manifest == "" {
		return fmt.Errorf("instantiation of project failed, no manifest file created in %s", pi.ProjectPath)
	}
	return touchNow(manifest)
}

// registryInstalled reports whether a registry is present in the depot.
// Since Julia 1.7 a registry may be a single <name>.toml file rather than a
// directory.
func registryInstalled(name, depotPath string) bool {
	if depotPath == "" {
		depotPath = defaultDepotPath()
	}
	path := filepath.Join(depotPath, "registries", name)
	if strings.HasSuffix(name, ".toml") {
		return fileExists(path)
	}
	return isDir(path)
}

func generalRegistryInstalled(depotPath string) bool {
	return registryInstalled("General", depotPath) || registryInstalled("General.toml", depotPath)
}

// ensureGeneralRegistry installs the General package registry if it is
// missing, then verifies the installation.
func (pi *PkgInstaller) ensureGeneralRegistry() error {
	if generalRegistryInstalled(pi.DepotPath) {
		return nil
	}
	pi.console("Installing the General package registry.")
	pi.logger().Info("installing General registry")
	if _, err := pi.runPkg(`Pkg.Registry.add("General")`, false); err != nil {
		return fmt.Errorf("error installing General registry: %v", err)
	}
	if !generalRegistryInstalled(pi.DepotPath) {
		return fmt.Errorf("installation of the General registry failed")
	}
	return nil
}

// ensureRegistry installs one registry from its URL if it is missing, then
// verifies the installation.
func (pi *PkgInstaller) ensureRegistry(name, url string) error {
	if registryInstalled(name, pi.DepotPath) {
		return nil
	}
	pi.console(fmt.Sprintf("Installing registry %s.", name))
	pi.logger().Info("installing registry", "name", name, "url", url)
	code := fmt.Sprintf("import Pkg; Pkg.Registry.add(Pkg.RegistrySpec(url = %q))", url)
	_, err := pi.runner().RunCode(pi.JuliaExe, code, RunOptions{
		DepotPath: pi.DepotPath,
		Console:   pi.Console,
	})
	if err != nil {
		return fmt.Errorf("error installing registry %s: %v", name, err)
	}
	if !registryInstalled(name, pi.DepotPath) {
		return fmt.Errorf("installation of registry %s failed", name)
	}
	return nil
}
