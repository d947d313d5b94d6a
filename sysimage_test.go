package juliaproject

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeBridge records evaluated code and returns scripted results keyed on
// code substrings; the first match wins. Unmatched code evaluates to empty
// output.
type fakeBridge struct {
	started bool
	closed  bool
	evals   []string
	results []bridgeResult
}

type bridgeResult struct {
	substr string
	fn     func(code string) (string, error)
}

func (b *fakeBridge) onEval(substr string, fn func(code string) (string, error)) {
	b.results = append(b.results, bridgeResult{substr: substr, fn: fn})
}

func (b *fakeBridge) Start() error {
	b.started = true
	return nil
}

func (b *fakeBridge) Eval(code string) (string, error) {
	b.evals = append(b.evals, code)
	for _, r := range b.results {
		if strings.Contains(code, r.substr) {
			return r.fn(code)
		}
	}
	return "", nil
}

func (b *fakeBridge) EvalAll(code string) (string, error) {
	return b.Eval(code)
}

func (b *fakeBridge) Import(module string) error {
	_, err := b.Eval("import " + module)
	return err
}

func (b *fakeBridge) Close() error {
	b.closed = true
	return nil
}

// evaled reports whether any evaluated code contains substr.
func (b *fakeBridge) evaled(substr string) bool {
	for _, code := range b.evals {
		if strings.Contains(code, substr) {
			return true
		}
	}
	return false
}

func newFakeBridge() *fakeBridge {
	b := &fakeBridge{}
	b.onEval("pwd()", func(string) (string, error) { return "/saved/wd\n", nil })
	b.onEval("Pkg.project().path", func(string) (string, error) { return "/saved/proj/Project.toml\n", nil })
	return b
}

const sysImageProjectTOML = `name = "sysimage"

[deps]
PackageCompiler = "9b87118b-4619-50d2-8e1e-99f35a4d4d9d"
`

// newCompileFixture builds a SystemImage over a populated compile project
// and a fake bridge that materializes the raw image on create_sysimage.
func newCompileFixture(t *testing.T, pythonExe string) (*SystemImage, *fakeBridge) {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, projectTOMLName), sysImageProjectTOML)
	writeTestFile(t, filepath.Join(dir, "packages.jl"), "[:Example]\n")
	b := newFakeBridge()
	s := &SystemImage{Name: "myproj", Dir: dir, JuliaVersion: "1.7.2", PythonExe: pythonExe}
	s.SetBridge(b)
	b.onEval("create_sysimage", func(string) (string, error) {
		return "", os.WriteFile(s.rawImagePath(), []byte("image"), 0644)
	})
	return s, b
}

func TestSystemImagePaths(t *testing.T) {
	s := &SystemImage{Name: "myproj", Dir: "/images", JuliaVersion: "1.7.2"}
	want := filepath.Join("/images", "sys_myproj-1.7.2"+sharedLibSuffix())
	if got := s.ImagePath(); got != want {
		t.Errorf("Expected image path %q, got %q", want, got)
	}
	want = filepath.Join("/images", "sys_julia_project"+sharedLibSuffix())
	if got := s.rawImagePath(); got != want {
		t.Errorf("Expected raw image path %q, got %q", want, got)
	}

	s.FileBase = "custom"
	if got := filepath.Base(s.ImagePath()); got != "custom-1.7.2"+sharedLibSuffix() {
		t.Errorf("Expected custom file base, got %q", got)
	}
}

func TestCompileSystemImage(t *testing.T) {
	t.Setenv("JULIA_PROJECT", "/original/project")
	s, b := newCompileFixture(t, "")
	// A manifest left over from an earlier julia must not survive.
	writeTestFile(t, filepath.Join(s.Dir, manifestTOMLName), "stale")

	if err := s.Compile(); err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if !fileExists(s.ImagePath()) {
		t.Error("Expected finished image to exist")
	}
	if fileExists(s.rawImagePath()) {
		t.Error("Expected raw image to be renamed away")
	}
	if fileExists(filepath.Join(s.Dir, manifestTOMLName)) {
		t.Error("Expected stale manifest to be removed")
	}
	if got := os.Getenv("JULIA_PROJECT"); got != "/original/project" {
		t.Errorf("Expected JULIA_PROJECT restored, got %q", got)
	}
	if !b.evaled(fmt.Sprintf("Pkg.activate(%q)", s.Dir)) {
		t.Error("Expected the compile project to be activated")
	}
	if !b.evaled("Pkg.instantiate()") {
		t.Error("Expected the compile project to be instantiated")
	}

	// The session state is restored last, whatever else ran.
	n := len(b.evals)
	if n < 2 || b.evals[n-2] != `cd("/saved/wd")` {
		t.Errorf("Expected working directory restored, got %q", b.evals[n-2])
	}
	if b.evals[n-1] != `import Pkg; Pkg.activate("/saved/proj")` {
		t.Errorf("Expected active project restored, got %q", b.evals[n-1])
	}
}

func TestCompileRequiresBridge(t *testing.T) {
	s := &SystemImage{Name: "myproj", Dir: t.TempDir(), JuliaVersion: "1.7.2"}
	if err := s.Compile(); err == nil {
		t.Error("Expected error without a bridge")
	}
}

func TestCompileMissingDir(t *testing.T) {
	s := &SystemImage{Name: "myproj", Dir: filepath.Join(t.TempDir(), "missing"), JuliaVersion: "1.7.2"}
	s.SetBridge(newFakeBridge())
	err := s.Compile()
	if err == nil {
		t.Fatal("Expected error for missing directory")
	}
	if !strings.Contains(err.Error(), "can't find directory") {
		t.Errorf("Expected directory error, got %q", err.Error())
	}
}

func TestCompileMissingProjectTOML(t *testing.T) {
	s := &SystemImage{Name: "myproj", Dir: t.TempDir(), JuliaVersion: "1.7.2"}
	s.SetBridge(newFakeBridge())
	err := s.Compile()
	if err == nil {
		t.Fatal("Expected error for missing project descriptor")
	}
	if !strings.Contains(err.Error(), "neither") {
		t.Errorf("Expected descriptor error, got %q", err.Error())
	}
}

func TestCompileMissingPackagesFile(t *testing.T) {
	s, _ := newCompileFixture(t, "")
	if err := os.Remove(filepath.Join(s.Dir, "packages.jl")); err != nil {
		t.Fatalf("Failed to remove packages.jl: %v", err)
	}
	err := s.Compile()
	if err == nil {
		t.Fatal("Expected error for missing packages.jl")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected packages.jl error, got %q", err.Error())
	}
}

func TestCompileNoImageProduced(t *testing.T) {
	t.Setenv("JULIA_PROJECT", "/original/project")
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, projectTOMLName), sysImageProjectTOML)
	writeTestFile(t, filepath.Join(dir, "packages.jl"), "[:Example]\n")
	s := &SystemImage{Name: "myproj", Dir: dir, JuliaVersion: "1.7.2"}
	b := newFakeBridge()
	s.SetBridge(b)

	err := s.Compile()
	if err == nil {
		t.Fatal("Expected error when no image is produced")
	}
	if !strings.Contains(err.Error(), "compiled system image not found") {
		t.Errorf("Expected missing image error, got %q", err.Error())
	}
	// State is restored even on failure.
	if got := os.Getenv("JULIA_PROJECT"); got != "/original/project" {
		t.Errorf("Expected JULIA_PROJECT restored, got %q", got)
	}
	if !b.evaled(`cd("/saved/wd")`) {
		t.Error("Expected working directory restored on failure")
	}
}

func TestCompileResolveRetry(t *testing.T) {
	s, b := newCompileFixture(t, "")
	var resolves int
	b.onEval("Pkg.update(); Pkg.resolve()", func(string) (string, error) {
		return "", nil
	})
	b.onEval("Pkg.resolve()", func(string) (string, error) {
		resolves++
		return "", fmt.Errorf("resolution conflict")
	})
	if err := s.Compile(); err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if resolves != 1 {
		t.Errorf("Expected one failed resolve before the retry, got %d", resolves)
	}
	if !b.evaled("Pkg.update(); Pkg.resolve()") {
		t.Error("Expected an update and retry after the failed resolve")
	}
}

func TestCompileAddsMissingPackages(t *testing.T) {
	s, b := newCompileFixture(t, "")
	// A compile project without PackageCompiler in its deps gets it added.
	writeTestFile(t, filepath.Join(s.Dir, projectTOMLName), "name = \"sysimage\"\n")
	b.onEval(`== "PyCall"`, func(string) (string, error) { return "true\n", nil })

	if err := s.Compile(); err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if !b.evaled(`Pkg.add("PackageCompiler")`) {
		t.Error("Expected PackageCompiler to be added")
	}
	if !b.evaled(`Pkg.add("PyCall")`) {
		t.Error("Expected the loaded bridge package to be added")
	}
	// PythonCall is added even in a PyCall session so the image loads
	// under either bridge family.
	if !b.evaled(`Pkg.add("PythonCall")`) {
		t.Error("Expected PythonCall to be added to the compile project")
	}
}

func TestCompileDoesNotReaddPresentPackages(t *testing.T) {
	s, b := newCompileFixture(t, "")
	withPythonCall := sysImageProjectTOML + "PythonCall = \"6099a3de-0909-46bc-b1f4-468b9a2dfc0d\"\n"
	writeTestFile(t, filepath.Join(s.Dir, projectTOMLName), withPythonCall)
	if err := s.Compile(); err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if b.evaled(`Pkg.add("PackageCompiler")`) {
		t.Error("Expected no add for a package already in the descriptor")
	}
	if b.evaled(`Pkg.add("PythonCall")`) {
		t.Error("Expected no add for a package already in the descriptor")
	}
}

func TestCompilePythonExe(t *testing.T) {
	s, b := newCompileFixture(t, "/usr/bin/python3")
	if err := s.Compile(); err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if !b.evaled(`ENV["PYCALL_JL_RUNTIME_PYTHON"] = "/usr/bin/python3"`) {
		t.Error("Expected the runtime python to be exported to the session")
	}
}

func TestCompileScript(t *testing.T) {
	dir := t.TempDir()
	s := &SystemImage{Name: "myproj", Dir: dir, JuliaVersion: "1.7.2"}

	script := s.compileScript(true, false)
	if !strings.Contains(script, "push!(packages, :PyCall)") {
		t.Error("Expected PyCall in the package list")
	}
	if strings.Contains(script, "push!(packages, :PythonCall)") {
		t.Error("Expected no PythonCall in the package list")
	}
	if !strings.Contains(script, `Sys.which("python")`) {
		t.Error("Expected python found on PATH when none is configured")
	}
	if !strings.Contains(script, "incremental = true") {
		t.Error("Expected an incremental image")
	}
	if strings.Contains(script, "precompile_execution_file") {
		t.Error("Expected no exercise script when none exists")
	}

	writeTestFile(t, s.exerciseScriptPath(), "1 + 1\n")
	s.PythonExe = "/usr/bin/python3"
	script = s.compileScript(false, true)
	if !strings.Contains(script, "push!(packages, :PythonCall)") {
		t.Error("Expected PythonCall in the package list")
	}
	if !strings.Contains(script, `python = "/usr/bin/python3"`) {
		t.Error("Expected the configured python")
	}
	if !strings.Contains(script, fmt.Sprintf("precompile_execution_file = %q", s.exerciseScriptPath())) {
		t.Error("Expected the exercise script to be traced")
	}
}

func TestSystemImageClean(t *testing.T) {
	dir := t.TempDir()
	s := &SystemImage{Name: "myproj", Dir: dir, JuliaVersion: "1.7.2"}
	writeTestFile(t, filepath.Join(dir, manifestTOMLName), "")
	writeTestFile(t, filepath.Join(dir, juliaManifestTOMLName), "")
	writeTestFile(t, s.ImagePath(), "image")

	if err := s.Clean(); err != nil {
		t.Fatalf("Failed to clean: %v", err)
	}
	for _, path := range []string{
		filepath.Join(dir, manifestTOMLName),
		filepath.Join(dir, juliaManifestTOMLName),
		s.ImagePath(),
	} {
		if fileExists(path) {
			t.Errorf("Expected %s to be removed", path)
		}
	}
	// Cleaning an already clean directory is not an error.
	if err := s.Clean(); err != nil {
		t.Errorf("Expected nil on second clean, got %v", err)
	}
}
