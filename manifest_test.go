package juliaproject

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testProjectTOML = `name = "MyModule"
uuid = "176b1a34-b5a6-42f2-9d4a-92e200d1ba93"

[deps]
PyCall = "438e738f-606a-5dbb-bf0a-cddfbfd45ab0"
Example = "7876af07-990d-54b4-ab0e-23690620f79a"
`

func TestProjectTOMLPath(t *testing.T) {
	dir := t.TempDir()
	if got := projectTOMLPath(dir); got != "" {
		t.Errorf("Expected empty path for empty directory, got %q", got)
	}

	writeTestFile(t, filepath.Join(dir, projectTOMLName), testProjectTOML)
	if got := projectTOMLPath(dir); got != filepath.Join(dir, projectTOMLName) {
		t.Errorf("Expected Project.toml, got %q", got)
	}

	// JuliaProject.toml wins when both are present.
	writeTestFile(t, filepath.Join(dir, juliaProjectTOMLName), testProjectTOML)
	if got := projectTOMLPath(dir); got != filepath.Join(dir, juliaProjectTOMLName) {
		t.Errorf("Expected JuliaProject.toml, got %q", got)
	}
}

func TestManifestTOMLPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := manifestTOMLPath(dir); err == nil {
		t.Error("Expected error for directory with no project descriptor")
	}

	writeTestFile(t, filepath.Join(dir, projectTOMLName), testProjectTOML)
	path, err := manifestTOMLPath(dir)
	if err != nil {
		t.Fatalf("Failed to locate manifest: %v", err)
	}
	if path != "" {
		t.Errorf("Expected empty path with no manifest, got %q", path)
	}

	writeTestFile(t, filepath.Join(dir, manifestTOMLName), "")
	path, err = manifestTOMLPath(dir)
	if err != nil {
		t.Fatalf("Failed to locate manifest: %v", err)
	}
	if path != filepath.Join(dir, manifestTOMLName) {
		t.Errorf("Expected Manifest.toml, got %q", path)
	}
}

func TestManifestPairsWithJuliaProjectTOML(t *testing.T) {
	// JuliaProject.toml pairs with JuliaManifest.toml, so a plain
	// Manifest.toml next to it does not count.
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, juliaProjectTOMLName), testProjectTOML)
	writeTestFile(t, filepath.Join(dir, manifestTOMLName), "")

	path, err := manifestTOMLPath(dir)
	if err != nil {
		t.Fatalf("Failed to locate manifest: %v", err)
	}
	if path != "" {
		t.Errorf("Expected empty path, got %q", path)
	}

	writeTestFile(t, filepath.Join(dir, juliaManifestTOMLName), "")
	path, err = manifestTOMLPath(dir)
	if err != nil {
		t.Fatalf("Failed to locate manifest: %v", err)
	}
	if path != filepath.Join(dir, juliaManifestTOMLName) {
		t.Errorf("Expected JuliaManifest.toml, got %q", path)
	}
}

func TestParseProject(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, projectTOMLName), testProjectTOML)

	pf, err := parseProject(dir)
	if err != nil {
		t.Fatalf("Failed to parse project: %v", err)
	}
	want := &projectFile{
		Name: "MyModule",
		UUID: "176b1a34-b5a6-42f2-9d4a-92e200d1ba93",
		Deps: map[string]string{
			"PyCall":  "438e738f-606a-5dbb-bf0a-cddfbfd45ab0",
			"Example": "7876af07-990d-54b4-ab0e-23690620f79a",
		},
	}
	if diff := cmp.Diff(want, pf); diff != "" {
		t.Errorf("Parsed project mismatch (-want +got):\n%s", diff)
	}
	if !pf.hasDep("PyCall") {
		t.Error("Expected hasDep(PyCall) to be true")
	}
	if pf.hasDep("PythonCall") {
		t.Error("Expected hasDep(PythonCall) to be false")
	}
}

func TestParseProjectNoDeps(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, projectTOMLName), "name = \"Empty\"\n")

	pf, err := parseProject(dir)
	if err != nil {
		t.Fatalf("Failed to parse project: %v", err)
	}
	if pf.hasDep("PyCall") {
		t.Error("Expected no dependencies")
	}
}

func TestParseProjectMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := parseProject(dir)
	if err == nil {
		t.Fatal("Expected error for missing project descriptor")
	}
	if !strings.Contains(err.Error(), "neither") {
		t.Errorf("Expected error naming both descriptor files, got %q", err.Error())
	}
}

func TestPackagesToAdd(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, projectTOMLName), testProjectTOML)

	missing, err := PackagesToAdd(dir, []string{"PyCall", "PythonCall", "MsgPack"})
	if err != nil {
		t.Fatalf("Failed to compute packages to add: %v", err)
	}
	want := []string{"PythonCall", "MsgPack"}
	if diff := cmp.Diff(want, missing); diff != "" {
		t.Errorf("Packages to add mismatch (-want +got):\n%s", diff)
	}

	missing, err = PackagesToAdd(dir, []string{"PyCall"})
	if err != nil {
		t.Fatalf("Failed to compute packages to add: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Expected no packages to add, got %v", missing)
	}
}
