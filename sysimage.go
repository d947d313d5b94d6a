package juliaproject

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SystemImage manages compilation of a custom Julia system image with
// PackageCompiler. The image directory holds its own Julia project
// (Project.toml, packages.jl, and optionally compile_exercise_script.jl)
// describing what gets baked into the image.
//
// Compilation runs through an already-started Bridge so the image picks up
// the same package versions the live session resolved.
type SystemImage struct {
	// Name is the project name the image belongs to.
	Name string

	// Dir is the directory holding the compile project and the finished
	// image.
	Dir string

	// FileBase is the basename of the finished image, without the version
	// and shared-library suffix. Defaults to "sys_" + Name.
	FileBase string

	// JuliaVersion is the version of the julia executable the image is
	// compiled for. It becomes part of the image file name so images
	// survive julia upgrades side by side.
	JuliaVersion string

	// PythonExe, when non-empty, is exported to the compile process so
	// PyCall builds against the intended python.
	PythonExe string

	// Log receives progress messages. When nil, messages are discarded.
	Log *slog.Logger

	bridge Bridge
}

// SetBridge installs the bridge compilation runs through.
func (s *SystemImage) SetBridge(b Bridge) {
	s.bridge = b
}

func (s *SystemImage) logger() *slog.Logger {
	if s.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Log
}

func (s *SystemImage) fileBase() string {
	if s.FileBase != "" {
		return s.FileBase
	}
	return "sys_" + s.Name
}

// ImagePath returns the path a finished image is installed at. The name
// carries the julia version so images for different julia installations do
// not clobber one another.
func (s *SystemImage) ImagePath() string {
	return filepath.Join(s.Dir, s.fileBase()+"-"+s.JuliaVersion+sharedLibSuffix())
}

// rawImagePath is where PackageCompiler writes the image before it is
// renamed into place.
func (s *SystemImage) rawImagePath() string {
	return filepath.Join(s.Dir, "sys_julia_project"+sharedLibSuffix())
}

// exerciseScriptPath is an optional script run under --trace-compile while
// building the image.
func (s *SystemImage) exerciseScriptPath() string {
	return filepath.Join(s.Dir, "compile_exercise_script.jl")
}

// Clean removes the compiled image and the manifest files of the compile
// project. Missing files are not an error.
func (s *SystemImage) Clean() error {
	for _, path := range []string{
		filepath.Join(s.Dir, manifestTOMLName),
		filepath.Join(s.Dir, juliaManifestTOMLName),
		s.ImagePath(),
	} {
		if err := maybeRemove(path); err != nil {
			return err
		}
	}
	return nil
}

// Compile builds the system image. The bridge's working directory, active
// project, and the JULIA_PROJECT environment variable are restored
// afterwards, whether or not compilation succeeds.
func (s *SystemImage) Compile() error {
	if s.bridge == nil {
		return errors.New("compiling a system image requires a running julia bridge")
	}

	savedDir, err := s.bridge.Eval("pwd()")
	if err != nil {
		return fmt.Errorf("error reading current directory before compiling: %v", err)
	}
	savedDir = strings.TrimSpace(savedDir)

	savedProject, err := s.bridge.Eval("import Pkg; Pkg.project().path")
	if err != nil {
		return fmt.Errorf("error reading active project before compiling: %v", err)
	}
	savedProject = filepath.Dir(strings.TrimSpace(savedProject))

	restoreEnv := captureEnv("JULIA_PROJECT")
	defer func() {
		restoreEnv()
		if _, err := s.bridge.Eval(fmt.Sprintf("cd(%q)", savedDir)); err != nil {
			s.logger().Warn("failed to restore working directory after compiling", "error", err)
		}
		if _, err := s.bridge.Eval(fmt.Sprintf("import Pkg; Pkg.activate(%q)", savedProject)); err != nil {
			s.logger().Warn("failed to restore active project after compiling", "error", err)
		}
	}()

	if err := s.compile(); err != nil {
		s.logger().Error("compiling system image failed", "error", err)
		return fmt.Errorf("error compiling system image: %w", err)
	}
	return nil
}

func (s *SystemImage) compile() error {
	if !isDir(s.Dir) {
		return fmt.Errorf("can't find directory for compiling system image: %s", s.Dir)
	}
	if !hasProjectTOML(s.Dir) {
		return errors.New(noProjectTOMLMessage(s.Dir))
	}

	// Stale manifests from an earlier julia version break resolution.
	for _, name := range []string{manifestTOMLName, juliaManifestTOMLName} {
		if err := maybeRemove(filepath.Join(s.Dir, name)); err != nil {
			return err
		}
	}

	if s.PythonExe != "" {
		if _, err := s.bridge.Eval(fmt.Sprintf(`ENV["PYCALL_JL_RUNTIME_PYTHON"] = %q`, s.PythonExe)); err != nil {
			return err
		}
	}
	if _, err := s.bridge.Eval(fmt.Sprintf("import Pkg; Pkg.activate(%q)", s.Dir)); err != nil {
		return fmt.Errorf("error activating system image project: %v", err)
	}
	os.Setenv("JULIA_PROJECT", s.Dir)

	pycallLoaded, err := s.moduleLoaded("PyCall")
	if err != nil {
		return err
	}
	pythoncallLoaded, err := s.moduleLoaded("PythonCall")
	if err != nil {
		return err
	}

	// The bridge packages in use must be baked into the image, and
	// PackageCompiler itself must be resolvable in the compile project.
	// PythonCall stays in the dep set even when unused so that an image
	// compiled under one bridge family still loads under the other.
	proj, err := parseProject(s.Dir)
	if err != nil {
		return err
	}
	for _, want := range []struct {
		dep  string
		need bool
	}{
		{"PyCall", pycallLoaded},
		{"PythonCall", true},
		{"PackageCompiler", true},
	} {
		dep := want.dep
		if want.need && !proj.hasDep(dep) {
			s.logger().Info("adding package to system image project", "package", dep)
			if _, err := s.bridge.Eval(fmt.Sprintf("import Pkg; Pkg.add(%q)", dep)); err != nil {
				return fmt.Errorf("error adding %s to system image project: %v", dep, err)
			}
		}
	}

	if _, err := s.bridge.Eval(fmt.Sprintf("cd(%q)", s.Dir)); err != nil {
		return err
	}

	s.logger().Info("resolving system image project", "dir", s.Dir)
	if _, err := s.bridge.Eval("import Pkg; Pkg.resolve()"); err != nil {
		s.logger().Warn("Pkg.resolve() failed, updating and retrying", "error", err)
		if _, err := s.bridge.Eval("import Pkg; Pkg.update(); Pkg.resolve()"); err != nil {
			return fmt.Errorf("error resolving system image project: %v", err)
		}
	}
	if _, err := s.bridge.Eval("import Pkg; Pkg.instantiate()"); err != nil {
		return fmt.Errorf("error instantiating system image project: %v", err)
	}

	packagesFile := filepath.Join(s.Dir, "packages.jl")
	if !fileExists(packagesFile) {
		return fmt.Errorf("%s does not exist", packagesFile)
	}

	s.logger().Info("compiling system image", "dir", s.Dir)
	if _, err := s.bridge.EvalAll(s.compileScript(pycallLoaded, pythoncallLoaded)); err != nil {
		return err
	}

	raw := s.rawImagePath()
	if !fileExists(raw) {
		return fmt.Errorf("compiled system image not found: %s", raw)
	}
	image := s.ImagePath()
	if err := os.Rename(raw, image); err != nil {
		return fmt.Errorf("renaming compiled system image to %s failed: %v", image, err)
	}
	if !fileExists(image) {
		return fmt.Errorf("renaming compiled system image to %s failed", image)
	}
	s.logger().Info("compiled system image", "path", image)
	return nil
}

// moduleLoaded reports whether a module is loaded in the bridge session.
func (s *SystemImage) moduleLoaded(name string) (bool, error) {
	out, err := s.bridge.Eval(fmt.Sprintf("any(id -> id.name == %q, keys(Base.loaded_modules))", name))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

// compileScript builds the Julia script that drives PackageCompiler. The
// package list comes from packages.jl in the image directory, with the
// bridge packages appended so the live interop stack is baked in.
func (s *SystemImage) compileScript(pycall, pythoncall bool) string {
	var b strings.Builder
	b.WriteString("import Pkg\nimport PackageCompiler\nimport Libdl\nlet\n")
	python := s.PythonExe
	if python == "" {
		b.WriteString("    python = Sys.which(\"python\")\n")
	} else {
		fmt.Fprintf(&b, "    python = %q\n", python)
	}
	b.WriteString("    ENV[\"PYCALL_JL_RUNTIME_PYTHON\"] = python\n")
	b.WriteString("    ENV[\"PYTHON\"] = python\n")
	fmt.Fprintf(&b, "    packages = include(%q)\n", filepath.Join(s.Dir, "packages.jl"))
	if pycall {
		b.WriteString("    push!(packages, :PyCall)\n")
	}
	if pythoncall {
		b.WriteString("    push!(packages, :PythonCall)\n")
	}
	fmt.Fprintf(&b, "    sysimage_path = joinpath(%q, \"sys_julia_project.\" * Libdl.dlext)\n", s.Dir)
	b.WriteString("    PackageCompiler.create_sysimage(packages;\n")
	b.WriteString("        sysimage_path = sysimage_path,\n")
	if fileExists(s.exerciseScriptPath()) {
		fmt.Fprintf(&b, "        precompile_execution_file = %q,\n", s.exerciseScriptPath())
	}
	fmt.Fprintf(&b, "        incremental = true,\n        project = %q,\n    )\nend\n", s.Dir)
	return b.String()
}
