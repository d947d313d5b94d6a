package juliaproject

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNoJulia is returned when no julia executable could be found or
// installed.
var ErrNoJulia = errors.New("no julia executable found or installed")

// Installer downloads and installs a Julia runtime.
type Installer interface {
	// Install installs a Julia satisfying spec and returns the path of the
	// installed executable. With strict set, prerelease versions are not
	// acceptable.
	Install(spec string, strict bool) (string, error)
}

// JuliaupInstaller installs Julia through the juliaup version manager.
type JuliaupInstaller struct {
	// Juliaup is the path of the juliaup executable. Empty means "juliaup"
	// found on PATH.
	Juliaup string
}

// Install runs `juliaup add` for the channel implied by spec, then returns
// the newest installed julia that satisfies spec.
func (ji *JuliaupInstaller) Install(spec string, strict bool) (string, error) {
	exe := ji.Juliaup
	if exe == "" {
		var err error
		exe, err = exec.LookPath("juliaup")
		if err != nil {
			return "", fmt.Errorf("juliaup not found: install it from https://julialang.org/downloads/ or supply a julia executable")
		}
	}
	parsed, err := ParseVersionSpec(spec)
	if err != nil {
		return "", err
	}
	channel := juliaupChannel(parsed)
	out, err := exec.Command(exe, "add", channel).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("error running juliaup add %s: %v, output: %s", channel, err, out)
	}
	path := bestJulia(installedJulias(), parsed, strict)
	if path == "" {
		return "", fmt.Errorf("juliaup add %s succeeded but no julia matching %q was found", channel, spec)
	}
	return path, nil
}

// juliaupChannel maps a version spec to a juliaup channel name: "1.7" for
// specs that pin a minor version, "release" otherwise.
func juliaupChannel(spec VersionSpec) string {
	if spec.lower.Minor < 0 {
		return "release"
	}
	return spec.lower.MinorString()
}

func juliaExeName() string {
	if runtime.GOOS == "windows" {
		return "julia.exe"
	}
	return "julia"
}

// juliaInstall is one discovered julia executable.
type juliaInstall struct {
	version Version
	path    string
}

// installedJulias scans the roots used by the common Julia installers for
// julia-<version> directories: ~/packages/julias (jill-style) and
// <depot>/juliaup. The version is taken from the directory name.
func installedJulias() []juliaInstall {
	var roots []string
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "packages", "julias"))
	}
	roots = append(roots, filepath.Join(defaultDepotPath(), "juliaup"))

	var installs []juliaInstall
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "julia-") {
				continue
			}
			verStr := strings.TrimPrefix(entry.Name(), "julia-")
			// juliaup appends build and platform tags, e.g.
			// julia-1.7.2+0.x64.linux.gnu
			if cut, _, found := strings.Cut(verStr, "+"); found {
				verStr = cut
			}
			version, err := ParseVersion(verStr)
			if err != nil {
				continue
			}
			exe := filepath.Join(root, entry.Name(), "bin", juliaExeName())
			if fileExists(exe) {
				installs = append(installs, juliaInstall{version: version, path: exe})
			}
		}
	}
	return installs
}

// bestJulia returns the path of the newest install satisfying spec, or "".
func bestJulia(installs []juliaInstall, spec VersionSpec, strict bool) string {
	best := -1
	for i, inst := range installs {
		if !spec.Matches(inst.version, strict) {
			continue
		}
		if best < 0 || inst.version.Compare(installs[best].version) > 0 {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return installs[best].path
}

// FindOptions controls the search performed by FindOrInstall.
type FindOptions struct {
	// EnvVar names an environment variable that may hold the path of a
	// julia executable. A set variable naming a missing file or an
	// executable outside the version spec is an error.
	EnvVar string

	// VersionSpec filters candidate executables. Empty means
	// DefaultVersionSpec.
	VersionSpec string

	// Strict excludes prerelease versions from matching the spec.
	Strict bool

	// Install is the recorded answer to the install question. AnswerNo
	// skips installation, AnswerYes installs without prompting, and
	// AnswerUnknown prompts.
	Install Answer

	// OtherInstallations lists local installation roots whose bin
	// subdirectory is checked for a julia executable.
	OtherInstallations []string

	// PostQuestionHook runs just before the install prompt so that a
	// caller can batch its other interactive questions with it.
	PostQuestionHook func() error

	// Prompter asks the install question when Install is AnswerUnknown.
	// nil means TerminalPrompter.
	Prompter Prompter

	// Installer performs the installation. nil means JuliaupInstaller.
	Installer Installer

	// Runner probes candidate executables. nil means real subprocesses.
	Runner JuliaRunner

	// Log receives search progress. nil discards it.
	Log *slog.Logger
}

// FindOrInstall locates a julia executable satisfying the version spec. The
// search order is: the environment variable, the given local installation
// roots, julias installed by jill or juliaup, and finally PATH. If nothing
// is found and installation is not declined, it installs one. It returns
// "" with a nil error when no executable was found and installation was
// declined.
func FindOrInstall(opts FindOptions) (string, error) {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	specStr := opts.VersionSpec
	if specStr == "" {
		specStr = DefaultVersionSpec
	}
	spec, err := ParseVersionSpec(specStr)
	if err != nil {
		return "", err
	}
	runner := opts.Runner
	if runner == nil {
		runner = execJuliaRunner{}
	}

	// matches probes path and reports whether its version satisfies spec.
	matches := func(path string) (bool, error) {
		verStr, err := juliaVersionString(runner, path)
		if err != nil {
			return false, err
		}
		version, err := ParseVersion(verStr)
		if err != nil {
			return false, err
		}
		return spec.Matches(version, opts.Strict), nil
	}

	if opts.EnvVar != "" {
		if value := os.Getenv(opts.EnvVar); value != "" {
			path := expandUser(value)
			if !fileExists(path) {
				return "", fmt.Errorf("%s=%s does not name an existing julia executable", opts.EnvVar, value)
			}
			ok, err := matches(path)
			if err != nil {
				return "", fmt.Errorf("error probing %s from %s: %v", path, opts.EnvVar, err)
			}
			if !ok {
				return "", fmt.Errorf("%s=%s does not satisfy version spec %q", opts.EnvVar, value, specStr)
			}
			log.Info("found julia via environment variable", "variable", opts.EnvVar, "path", path)
			return path, nil
		}
	}

	for _, dir := range opts.OtherInstallations {
		exe := filepath.Join(dir, "bin", juliaExeName())
		if !fileExists(exe) {
			continue
		}
		if ok, err := matches(exe); err == nil && ok {
			log.Info("found julia in local installation", "path", exe)
			return exe, nil
		}
		log.Info("skipping local installation outside version spec", "path", exe)
	}

	if path := bestJulia(installedJulias(), spec, opts.Strict); path != "" {
		log.Info("found installed julia", "path", path)
		return path, nil
	}

	if path, err := exec.LookPath(juliaExeName()); err == nil {
		if ok, perr := matches(path); perr == nil && ok {
			log.Info("found julia on PATH", "path", path)
			return path, nil
		}
		log.Info("julia on PATH does not satisfy version spec", "path", path, "spec", specStr)
	}

	switch opts.Install {
	case AnswerNo:
		log.Info("no julia found and installation declined")
		return "", nil
	case AnswerUnknown:
		if opts.PostQuestionHook != nil {
			if err := opts.PostQuestionHook(); err != nil {
				return "", err
			}
		}
		prompter := opts.Prompter
		if prompter == nil {
			prompter = &TerminalPrompter{}
		}
		yes, err := prompter.YesNo(questionText[questionInstall])
		if err != nil {
			return "", err
		}
		if !yes {
			log.Info("no julia found and installation declined")
			return "", nil
		}
	}

	installer := opts.Installer
	if installer == nil {
		installer = &JuliaupInstaller{}
	}
	path, err := installer.Install(specStr, opts.Strict)
	if err != nil {
		return "", fmt.Errorf("error installing julia: %v", err)
	}
	if !fileExists(path) {
		return "", fmt.Errorf("julia installer reported %s but it does not exist", path)
	}
	log.Info("installed julia", "path", path)
	return path, nil
}
