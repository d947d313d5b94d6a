package juliaproject

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

//go:embed scripts/utils.jl
var juliaUtilsScript string

var (
	// ErrBridgeActive is returned when EnsureInit asks for a different
	// bridge family than the one an initialized project is running.
	ErrBridgeActive = errors.New("a julia bridge is already active")

	// ErrAlreadyInitialized is returned when initialization is enabled or
	// disabled on a project that has already initialized.
	ErrAlreadyInitialized = errors.New("the project is already initialized")
)

// initFlags is the one-shot initialization state machine. initializing
// guards against re-entrant EnsureInit calls from the same goroutine, such
// as a post-init hook that calls back into the project. It is not a
// cross-goroutine lock.
type initFlags struct {
	initialized  bool
	initializing bool
	disabled     bool
}

// ProjectOptions configures a JuliaProject at construction. The zero value
// of every field selects a sensible default.
type ProjectOptions struct {
	// Registries maps registry names to clone URLs for registries beyond
	// General that the project's packages need. Names ending in ".toml"
	// are verified as registry files, others as registry directories.
	Registries map[string]string

	// VersionSpec constrains which julia versions are acceptable, in
	// caret/tilde/exact notation. Default "^1".
	VersionSpec string

	// StrictVersion excludes prerelease julia versions from matching the
	// spec. Default true.
	StrictVersion *bool

	// SysImageDir is the directory holding the system image compile
	// project. A relative path (default "sys_image") names a template
	// directory under the package path that is copied into the project
	// directory; an absolute path is used in place.
	SysImageDir string

	// SysImageFileBase is the basename of the compiled image, without
	// version and suffix. Default "sys_" + name.
	SysImageFileBase string

	// EnvPrefix is prepended to the names of the environment variables the
	// project reads. Default "JULIA_PROJECT_".
	EnvPrefix string

	// Depot pre-answers whether to use a project-private package depot.
	// nil leaves the decision to the environment or an interactive prompt.
	Depot *bool

	// Bridge selects the interop family. Default BridgePyCall.
	Bridge BridgeKind

	// PythonExe is the python interpreter PyCall must be compatible with.
	// Default: python3, then python, from PATH.
	PythonExe string

	// PostInitHook runs after the bridge is up and before the project is
	// marked initialized. An error aborts initialization.
	PostInitHook func() error

	// PreInstantiateCmds is Julia code run after project activation and
	// before package instantiation.
	PreInstantiateCmds string

	// LogLevel enables logging to a file at that level. nil disables
	// logging entirely.
	LogLevel *slog.Level

	// ConsoleLogging additionally copies log output to stderr.
	ConsoleLogging bool

	// Installer installs julia when none is found. nil means a
	// juliaup-backed installer.
	Installer Installer

	// Prompter asks the interactive questions. nil means prompts on the
	// controlling terminal.
	Prompter Prompter
}

// InitOptions are per-call arguments to EnsureInit. They take priority over
// environment variables, which in turn take priority over interactive
// prompts. nil pointer fields leave the corresponding setting untouched.
type InitOptions struct {
	// Bridge selects the interop family for this initialization. Asking
	// for a different family than the active one after initialization is
	// an error.
	Bridge BridgeKind

	// Depot answers the private-depot question.
	Depot *bool

	// UseSysImage controls loading a previously compiled system image.
	// Default: load it when present.
	UseSysImage *bool

	// Compile answers the compile-a-system-image question. Yes triggers
	// compilation after initialization completes.
	Compile *bool

	// InstallJulia answers the install question.
	InstallJulia *bool

	// JuliaPath is an explicit julia executable, bypassing the search and
	// answering the install question no.
	JuliaPath string

	// VersionSpec overrides the constructed version constraint.
	VersionSpec string

	// StrictVersion overrides prerelease exclusion.
	StrictVersion *bool

	// PreInstantiateCmds overrides the constructed pre-instantiate
	// commands.
	PreInstantiateCmds string
}

// JuliaProject locates or installs a julia executable, materializes a
// versioned project directory with resolved package manifests, starts an
// interop bridge to a julia process, and optionally compiles a custom
// system image for faster startups. The whole sequence runs once, on the
// first EnsureInit call.
type JuliaProject struct {
	// Name identifies the project. It names the project directory, the
	// default log file, and the default system image.
	Name string

	// PackagePath is the host package's installation directory, holding
	// the Project.toml template and the system image template directory.
	PackagePath string

	registries         map[string]string
	versionSpec        string
	strictVersion      bool
	relSysImageDir     string
	sysImageFileBase   string
	envVars            EnvVars
	bridgeKind         BridgeKind
	pythonExe          string
	postInitHook       func() error
	preInstantiateCmds string
	logLevel           *slog.Level
	consoleLogging     bool
	installer          Installer
	prompter           Prompter

	// per-EnsureInit settings
	useSysImage *bool
	juliaPath   string

	questions *questionStore
	flags     initFlags

	log     *slog.Logger
	logFile *os.File

	juliaExe      string
	juliaVersion  string
	projectPath   string
	possibleDepot string
	depotPath     string
	sysImage      *SystemImage
	bridge        Bridge

	// replaceable for tests
	runner            JuliaRunner
	locate            func(FindOptions) (string, error)
	makeBridge        func(BridgeKind, bridgeConfig) Bridge
	findHostLibPython func(pythonExe string) (string, error)
	pycallProbe       func(depotPath string) (PyCallProbe, error)
	pycallRebuild     func(depotPath string) error
	pycallDecide      func(PyCallProbe) (RepairDecision, error)
}

func answerFromPtr(b *bool) Answer {
	if b == nil {
		return AnswerUnknown
	}
	return answerFromBool(*b)
}

// NewJuliaProject creates a project named name whose templates live under
// packagePath. No filesystem or subprocess work happens until EnsureInit.
func NewJuliaProject(name, packagePath string, options *ProjectOptions) (*JuliaProject, error) {
	if name == "" {
		return nil, errors.New("project name must not be empty")
	}
	if packagePath == "" {
		return nil, errors.New("package path must not be empty")
	}
	if options == nil {
		options = &ProjectOptions{}
	}
	pkgPath, err := filepath.Abs(expandUser(packagePath))
	if err != nil {
		return nil, fmt.Errorf("error resolving package path: %v", err)
	}

	bridge := options.Bridge
	if bridge == "" {
		bridge = BridgePyCall
	}
	if err := validateBridgeKind(bridge); err != nil {
		return nil, err
	}

	versionSpec := options.VersionSpec
	if versionSpec == "" {
		versionSpec = DefaultVersionSpec
	}
	if _, err := ParseVersionSpec(versionSpec); err != nil {
		return nil, err
	}

	strict := true
	if options.StrictVersion != nil {
		strict = *options.StrictVersion
	}

	sysImageDir := options.SysImageDir
	if sysImageDir == "" {
		sysImageDir = "sys_image"
	}
	fileBase := options.SysImageFileBase
	if fileBase == "" {
		fileBase = "sys_" + name
	}

	prompter := options.Prompter
	if prompter == nil {
		prompter = &TerminalPrompter{}
	}
	installer := options.Installer
	if installer == nil {
		installer = &JuliaupInstaller{}
	}

	pythonExe := options.PythonExe
	if pythonExe == "" {
		for _, candidate := range []string{"python3", "python"} {
			if path, err := exec.LookPath(candidate); err == nil {
				pythonExe = path
				break
			}
		}
	}

	envVars := NewEnvVars(options.EnvPrefix)
	p := &JuliaProject{
		Name:               name,
		PackagePath:        pkgPath,
		registries:         options.Registries,
		versionSpec:        versionSpec,
		strictVersion:      strict,
		relSysImageDir:     sysImageDir,
		sysImageFileBase:   fileBase,
		envVars:            envVars,
		bridgeKind:         bridge,
		pythonExe:          pythonExe,
		postInitHook:       options.PostInitHook,
		preInstantiateCmds: options.PreInstantiateCmds,
		logLevel:           options.LogLevel,
		consoleLogging:     options.ConsoleLogging,
		installer:          installer,
		prompter:           prompter,
		log:                slog.New(slog.DiscardHandler),

		runner:            execJuliaRunner{},
		locate:            FindOrInstall,
		makeBridge:        newBridge,
		findHostLibPython: hostLibPython,
	}
	p.questions = newQuestionStore(answerFromPtr(options.Depot), envVars, prompter)
	return p, nil
}

// EnsureInit initializes the project if it has not been initialized yet.
// When the project is already initialized, initializing, or disabled, the
// call is a no-op, except that asking for a different bridge family than
// the active one is an error: the two families cannot coexist in one
// process.
//
// Initialization failures leave the project uninitialized; calling
// EnsureInit again retries from the start, which resolves transient
// failures such as an interrupted registry download.
func (p *JuliaProject) EnsureInit(opts *InitOptions) error {
	if opts == nil {
		opts = &InitOptions{}
	}
	if p.flags.initialized || p.flags.initializing || p.flags.disabled {
		if p.flags.initialized && opts.Bridge != "" && opts.Bridge != p.bridgeKind {
			return fmt.Errorf("%w: already initialized with the %q bridge", ErrBridgeActive, p.bridgeKind)
		}
		return nil
	}
	if err := p.applyInitOptions(opts); err != nil {
		return err
	}

	// PyCall needs a shared libpython. A statically linked python cannot
	// work, so fall back to the PythonCall family.
	if p.bridgeKind == BridgePyCall && p.pythonExe != "" {
		lib, err := p.findHostLibPython(p.pythonExe)
		if err != nil || lib == "" {
			fmt.Fprintf(os.Stderr,
				"%s has no dynamic libpython, which PyCall requires. Using the PythonCall bridge instead.\n",
				p.pythonExe)
			p.log.Warn("no dynamic libpython, switching bridge", "python", p.pythonExe, "error", err)
			p.bridgeKind = BridgePythonCall
		}
	}

	err := func() error {
		p.flags.initializing = true
		defer func() { p.flags.initializing = false }()
		return p.init()
	}()
	if err != nil {
		fmt.Println("Initialization failed. You may try running again.")
		return err
	}
	p.flags.initialized = true

	// Compilation runs outside the initializing window: it can take many
	// minutes and a failure must not undo a completed initialization.
	if p.questions.get(questionCompile) == AnswerYes {
		return p.Compile()
	}
	return nil
}

func (p *JuliaProject) applyInitOptions(opts *InitOptions) error {
	if opts.Bridge != "" {
		if err := validateBridgeKind(opts.Bridge); err != nil {
			return err
		}
		p.bridgeKind = opts.Bridge
	}
	if opts.VersionSpec != "" {
		if _, err := ParseVersionSpec(opts.VersionSpec); err != nil {
			return err
		}
		p.versionSpec = opts.VersionSpec
	}
	if opts.StrictVersion != nil {
		p.strictVersion = *opts.StrictVersion
	}
	if opts.UseSysImage != nil {
		p.useSysImage = opts.UseSysImage
	}
	if opts.Depot != nil {
		p.questions.set(questionDepot, answerFromBool(*opts.Depot))
	}
	if opts.Compile != nil {
		p.questions.set(questionCompile, answerFromBool(*opts.Compile))
	}
	if opts.InstallJulia != nil {
		p.questions.set(questionInstall, answerFromBool(*opts.InstallJulia))
	}
	if opts.JuliaPath != "" {
		p.juliaPath = expandUser(opts.JuliaPath)
		p.questions.set(questionInstall, AnswerNo)
	}
	if opts.PreInstantiateCmds != "" {
		p.preInstantiateCmds = opts.PreInstantiateCmds
	}
	return nil
}

// init runs the fixed initialization sequence. Every step's failure is
// fatal and aborts the remainder.
func (p *JuliaProject) init() error {
	if err := p.setupLogging(); err != nil {
		return err
	}
	p.log.Info("initializing", "project", p.Name, "package_path", p.PackagePath)

	if err := p.questions.readEnvironmentVariables(); err != nil {
		return err
	}

	if err := p.findJulia(); err != nil {
		return err
	}

	raw, err := juliaVersionString(p.runner, p.juliaExe)
	if err != nil {
		return err
	}
	if _, err := ParseVersion(raw); err != nil {
		return fmt.Errorf("error parsing julia version %q: %v", raw, err)
	}
	p.juliaVersion = raw
	p.log.Info("found julia", "path", p.juliaExe, "version", raw)

	if err := p.setupProjectDir(); err != nil {
		return err
	}
	if err := p.setupSysImageDir(); err != nil {
		return err
	}
	p.resolveDepotCandidate()

	p.sysImage = &SystemImage{
		Name:         p.Name,
		Dir:          p.sysImageDir(),
		FileBase:     p.sysImageFileBase,
		JuliaVersion: p.juliaVersion,
		PythonExe:    p.pythonExe,
		Log:          p.log,
	}

	if err := p.installPackages(); err != nil {
		return err
	}

	if p.questions.get(questionDepot) == AnswerYes {
		if p.depotPath == "" {
			p.depotPath = p.possibleDepot
		}
		os.Setenv("JULIA_DEPOT_PATH", p.depotPath)
		p.log.Info("using private depot", "path", p.depotPath)
	} else {
		p.log.Info("using default julia depot")
	}
	if p.pythonExe != "" {
		os.Setenv("PYCALL_JL_RUNTIME_PYTHON", p.pythonExe)
	}

	bridge := p.makeBridge(p.bridgeKind, bridgeConfig{
		juliaExe:     p.juliaExe,
		projectPath:  p.projectPath,
		sysImagePath: p.sysImage.ImagePath(),
		useSysImage:  p.useSysImage == nil || *p.useSysImage,
		depotPath:    p.depotPath,
		log:          p.log,
	})
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("error starting %s bridge: %w", p.bridgeKind, err)
	}
	p.bridge = bridge
	p.sysImage.SetBridge(bridge)
	started := false
	defer func() {
		if !started {
			p.bridge.Close()
			p.bridge = nil
		}
	}()

	if _, err := bridge.EvalAll(juliaUtilsScript); err != nil {
		return fmt.Errorf("error loading julia utilities: %w", err)
	}
	p.logBridgeVersions()

	if p.postInitHook != nil {
		if err := p.postInitHook(); err != nil {
			return fmt.Errorf("error in post-init hook: %w", err)
		}
	}
	started = true
	return nil
}

// logPath is where log output goes when logging is enabled.
func (p *JuliaProject) logPath() string {
	if path := p.envVars.Get("LOG_PATH"); path != "" {
		return expandUser(path)
	}
	return p.Name + ".log"
}

func (p *JuliaProject) setupLogging() error {
	if p.logLevel == nil {
		p.log = slog.New(slog.DiscardHandler)
		return nil
	}
	file, err := os.OpenFile(p.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error opening log file: %v", err)
	}
	p.logFile = file
	var w io.Writer = file
	if p.consoleLogging {
		w = io.MultiWriter(file, os.Stderr)
	}
	p.log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: *p.logLevel}))
	p.questions.log = p.log
	return nil
}

func (p *JuliaProject) findJulia() error {
	if p.juliaPath != "" {
		if !fileExists(p.juliaPath) {
			return fmt.Errorf("julia executable %s does not exist", p.juliaPath)
		}
		p.juliaExe = p.juliaPath
		p.questions.set(questionInstall, AnswerNo)
		return nil
	}
	exe, err := p.locate(FindOptions{
		EnvVar:             p.envVars.Name("JULIA_PATH"),
		VersionSpec:        p.versionSpec,
		Strict:             p.strictVersion,
		Install:            p.questions.get(questionInstall),
		OtherInstallations: []string{filepath.Join(p.PackagePath, "julia")},
		// Batch the other questions with the install prompt so the user
		// answers everything in one sitting.
		PostQuestionHook: func() error {
			if err := p.questions.ask(questionCompile); err != nil {
				return err
			}
			return p.questions.ask(questionDepot)
		},
		Prompter:  p.prompter,
		Installer: p.installer,
		Runner:    p.runner,
		Log:       p.log,
	})
	if err != nil {
		return err
	}
	if exe == "" {
		return ErrNoJulia
	}
	p.juliaExe = exe
	p.questions.set(questionInstall, AnswerNo)
	return nil
}

// setupProjectDir materializes the versioned project directory and seeds it
// with the descriptor templates shipped in the package directory.
func (p *JuliaProject) setupProjectDir() error {
	parent, err := virtualEnvPath()
	if err != nil {
		return err
	}
	if parent == "" {
		parent = defaultDepotPath()
	}
	p.projectPath = filepath.Join(parent, "julia_project", p.Name+"-"+p.juliaVersion)
	if err := os.MkdirAll(p.projectPath, 0o755); err != nil {
		return fmt.Errorf("error creating project directory %s: %v", p.projectPath, err)
	}
	os.Setenv("JULIA_PROJECT", p.projectPath)
	p.log.Info("using project directory", "path", p.projectPath)

	for _, name := range []string{projectTOMLName, juliaProjectTOMLName} {
		src := filepath.Join(p.PackagePath, name)
		if err := updateCopy(src, filepath.Join(p.projectPath, name)); err != nil {
			return fmt.Errorf("error copying %s to the project directory: %v", src, err)
		}
	}
	if !hasProjectTOML(p.projectPath) {
		return fmt.Errorf("%s: add one of them to %s", noProjectTOMLMessage(p.projectPath), p.PackagePath)
	}
	return nil
}

// sysImageDir is the directory the system image is compiled in. A relative
// configured directory lives inside the project directory.
func (p *JuliaProject) sysImageDir() string {
	if filepath.IsAbs(p.relSysImageDir) {
		return p.relSysImageDir
	}
	return filepath.Join(p.projectPath, p.relSysImageDir)
}

func (p *JuliaProject) setupSysImageDir() error {
	if filepath.IsAbs(p.relSysImageDir) {
		return nil
	}
	src := filepath.Join(p.PackagePath, p.relSysImageDir)
	if !isDir(src) {
		return nil
	}
	if err := copyTreeUpdate(src, p.sysImageDir()); err != nil {
		return fmt.Errorf("error copying system image directory: %v", err)
	}
	return nil
}

// resolveDepotCandidate fixes the private depot path and adopts an existing
// one. Projects on the pythoncall bridge default to the shared depot since
// they are not subject to libpython conflicts.
func (p *JuliaProject) resolveDepotCandidate() {
	p.possibleDepot = filepath.Join(p.projectPath, "depot")
	if isDir(p.possibleDepot) && p.questions.get(questionDepot) != AnswerNo {
		p.log.Info("found existing private depot", "path", p.possibleDepot)
		p.questions.set(questionDepot, AnswerYes)
	}
	if p.questions.get(questionDepot) == AnswerUnknown && p.bridgeKind == BridgePythonCall {
		p.questions.set(questionDepot, AnswerNo)
	}
}

// installPackages makes the project directory ready, asking any questions
// still open once it is clear that installation work is coming. Projects on
// the pycall bridge run the libpython repair loop around installation.
func (p *JuliaProject) installPackages() error {
	needed := p.bridgeKind.NeededPackages()
	depotPath := ""
	if p.questions.get(questionDepot) == AnswerYes {
		depotPath = p.possibleDepot
	}

	need, err := NeedResolve(p.projectPath, depotPath)
	if err != nil {
		return err
	}
	toAdd, err := PackagesToAdd(p.projectPath, needed)
	if err != nil {
		return err
	}
	if need || len(toAdd) > 0 {
		if err := p.questions.askAll(); err != nil {
			return err
		}
		if p.questions.get(questionDepot) == AnswerYes {
			depotPath = p.possibleDepot
		}
	}

	installer := &PkgInstaller{
		ProjectPath:        p.projectPath,
		JuliaExe:           p.juliaExe,
		DepotPath:          depotPath,
		Registries:         p.registries,
		NeededPackages:     needed,
		PreInstantiateCmds: p.preInstantiateCmds,
		Console:            true,
		Log:                p.log,
		Runner:             p.runner,
	}
	preInstall := func() error { return p.questions.askAll() }

	if p.bridgeKind != BridgePyCall {
		return installer.EnsureReady(false, preInstall)
	}

	repair := &PyCallRepair{
		Installer:         installer,
		PossibleDepotPath: p.possibleDepot,
		PythonExe:         p.pythonExe,
		Prompter:          p.prompter,
		Probe:             p.pycallProbe,
		Rebuild:           p.pycallRebuild,
		Decide:            p.pycallDecide,
		OnDepotChosen:     func() { p.questions.set(questionDepot, AnswerYes) },
		OnRebuildChosen:   func() { p.questions.set(questionDepot, AnswerNo) },
	}
	finalDepot, err := repair.EnsureReady(false, preInstall)
	if err != nil {
		return err
	}
	if finalDepot != "" {
		p.depotPath = finalDepot
		p.questions.set(questionDepot, AnswerYes)
	} else if p.questions.get(questionDepot) == AnswerUnknown {
		p.questions.set(questionDepot, AnswerNo)
	}
	return nil
}

func (p *JuliaProject) logBridgeVersions() {
	for _, call := range []string{"pycall_version()", "pythoncall_version()"} {
		out, err := p.bridge.Eval(call)
		if err != nil {
			p.log.Debug("version query failed", "call", call, "error", err)
			continue
		}
		if out = strings.TrimSpace(out); out != "" {
			p.log.Info("bridge package version", "call", call, "version", out)
		}
	}
}

// ensureActive initializes the project if needed and verifies a bridge is
// running.
func (p *JuliaProject) ensureActive() error {
	if err := p.EnsureInit(nil); err != nil {
		return err
	}
	if p.bridge == nil {
		if p.flags.disabled {
			return errors.New("julia initialization is disabled for this project")
		}
		return errors.New("no julia is running")
	}
	return nil
}

// IsInitialized reports whether initialization has completed.
func (p *JuliaProject) IsInitialized() bool {
	return p.flags.initialized
}

// DisableInit makes EnsureInit a no-op until EnableInit is called. It
// returns the previous disabled value. Disabling an initialized project is
// an error.
func (p *JuliaProject) DisableInit() (bool, error) {
	if p.flags.initialized {
		return p.flags.disabled, fmt.Errorf("cannot disable initialization: %w", ErrAlreadyInitialized)
	}
	prev := p.flags.disabled
	p.flags.disabled = true
	return prev, nil
}

// EnableInit re-enables initialization after DisableInit. It returns the
// previous disabled value. Enabling an initialized project is an error.
func (p *JuliaProject) EnableInit() (bool, error) {
	if p.flags.initialized {
		return p.flags.disabled, fmt.Errorf("cannot enable initialization: %w", ErrAlreadyInitialized)
	}
	prev := p.flags.disabled
	p.flags.disabled = false
	return prev, nil
}

// UsingPyCall reports whether the project is on the PyCall bridge family.
func (p *JuliaProject) UsingPyCall() bool {
	return p.bridgeKind == BridgePyCall
}

// UsingPythonCall reports whether the project is on the PythonCall bridge
// family.
func (p *JuliaProject) UsingPythonCall() bool {
	return p.bridgeKind == BridgePythonCall
}

// JuliaPath returns the julia executable in use. Empty before
// initialization.
func (p *JuliaProject) JuliaPath() string {
	return p.juliaExe
}

// JuliaVersion returns the version of the julia executable in use, e.g.
// "1.9.2". Empty before initialization.
func (p *JuliaProject) JuliaVersion() string {
	return p.juliaVersion
}

// ProjectPath returns the versioned project directory. Empty before
// initialization.
func (p *JuliaProject) ProjectPath() string {
	return p.projectPath
}

// LoadedSysImage returns the path of the system image the running julia
// process was started with. It is an error to call it before
// initialization.
func (p *JuliaProject) LoadedSysImage() (string, error) {
	if !p.flags.initialized || p.bridge == nil {
		return "", errors.New("no julia is running: the project is not initialized")
	}
	out, err := p.bridge.Eval("unsafe_string(Base.JLOptions().image_file)")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UsingCustomSysImage reports whether the running julia process was started
// with an image from this project's system image directory.
func (p *JuliaProject) UsingCustomSysImage() (bool, error) {
	loaded, err := p.LoadedSysImage()
	if err != nil {
		return false, err
	}
	return filepath.Dir(loaded) == p.sysImage.Dir, nil
}

// Eval initializes the project if needed, then evaluates code in the
// running julia process, returning its captured output followed by the
// printed value of the final expression.
func (p *JuliaProject) Eval(code string) (string, error) {
	if err := p.ensureActive(); err != nil {
		return "", err
	}
	return p.bridge.Eval(code)
}

// SimpleImport initializes the project if needed, then imports a Julia
// module into Main.
func (p *JuliaProject) SimpleImport(module string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	return p.bridge.Import(module)
}

// ActivateProject activates the project directory in the running julia
// process. Useful after other code has activated something else.
func (p *JuliaProject) ActivateProject() error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if !hasProjectTOML(p.projectPath) {
		return fmt.Errorf("%s", noProjectTOMLMessage(p.projectPath))
	}
	if _, err := p.bridge.Eval(fmt.Sprintf("import Pkg; Pkg.activate(%q)", p.projectPath)); err != nil {
		return err
	}
	p.log.Info("activated project", "path", p.projectPath)
	return nil
}

// Update cleans the resolved state and re-resolves every package to its
// latest allowed version.
func (p *JuliaProject) Update() error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if err := p.Clean(); err != nil {
		return err
	}
	if err := p.ActivateProject(); err != nil {
		return err
	}
	p.log.Info("updating packages")
	_, err := p.bridge.EvalAll("import Pkg; Pkg.update(); Pkg.resolve(); Pkg.instantiate()")
	return err
}

// Clean removes the files the project writes as it works: the resolved
// manifests, the log file, and the compiled system image. The descriptor
// templates and installed packages are kept.
func (p *JuliaProject) Clean() error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	paths := []string{
		filepath.Join(p.projectPath, manifestTOMLName),
		filepath.Join(p.projectPath, juliaManifestTOMLName),
	}
	if p.logLevel != nil {
		paths = append(paths, p.logPath())
	}
	for _, path := range paths {
		if err := maybeRemove(path); err != nil {
			return err
		}
	}
	return p.sysImage.Clean()
}

const compileWhileLoadedWarning = `WARNING: a custom system image is loaded in the running julia process.
Compiling it again now would corrupt the build. Skipping compilation.
Initialize with use_sys_image disabled, then compile.`

// Compile builds the custom system image for this project. If a custom
// image is already loaded in the running process, Compile warns and skips
// rather than rebuilding the image out from under it.
func (p *JuliaProject) Compile() error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	custom, err := p.UsingCustomSysImage()
	if err != nil {
		return err
	}
	if custom {
		fmt.Println(compileWhileLoadedWarning)
		p.log.Warn("skipping compilation, a custom system image is loaded")
		return nil
	}
	p.sysImage.SetBridge(p.bridge)
	return p.sysImage.Compile()
}

// CleanAll removes this project's entire versioned directory, including its
// manifests, private depot, and compiled system image. Directories of other
// projects under the same julia_project root are left alone. The next
// initialization rebuilds the directory from the package templates.
func (p *JuliaProject) CleanAll() error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	// Refuse paths that cannot be ours, however they were computed.
	if !strings.Contains(p.projectPath, "julia_project") {
		return fmt.Errorf("refusing to remove %s: the path does not contain \"julia_project\"", p.projectPath)
	}
	p.log.Info("removing project directory", "path", p.projectPath)
	return os.RemoveAll(p.projectPath)
}

// Close shuts down the running julia process and returns the project to
// the uninitialized state, letting a later EnsureInit choose a different
// bridge family.
func (p *JuliaProject) Close() error {
	var err error
	if p.bridge != nil {
		err = p.bridge.Close()
		p.bridge = nil
	}
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
		p.log = slog.New(slog.DiscardHandler)
	}
	p.flags.initialized = false
	return err
}
