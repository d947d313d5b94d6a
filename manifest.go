package juliaproject

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// A Julia project directory is described by Project.toml or, for projects
// that double as Python packages, by JuliaProject.toml. Julia pairs each
// with a manifest file of the matching name.
const (
	projectTOMLName       = "Project.toml"
	juliaProjectTOMLName  = "JuliaProject.toml"
	manifestTOMLName      = "Manifest.toml"
	juliaManifestTOMLName = "JuliaManifest.toml"
)

// projectTOMLPath returns the path of the project descriptor in dir,
// preferring JuliaProject.toml, or "" if neither file exists.
func projectTOMLPath(dir string) string {
	for _, name := range []string{juliaProjectTOMLName, projectTOMLName} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// manifestTOMLPath returns the path of the manifest paired with the project
// descriptor in dir, or "" if the manifest does not exist. A directory with
// no project descriptor at all is an error.
func manifestTOMLPath(dir string) (string, error) {
	proj := projectTOMLPath(dir)
	if proj == "" {
		return "", fmt.Errorf("%s while searching for a manifest", noProjectTOMLMessage(dir))
	}
	name := manifestTOMLName
	if filepath.Base(proj) == juliaProjectTOMLName {
		name = juliaManifestTOMLName
	}
	path := filepath.Join(dir, name)
	if !fileExists(path) {
		return "", nil
	}
	return path, nil
}

func hasProjectTOML(dir string) bool {
	return projectTOMLPath(dir) != ""
}

func noProjectTOMLMessage(dir string) string {
	return fmt.Sprintf("neither %q nor %q exist",
		filepath.Join(dir, projectTOMLName), filepath.Join(dir, juliaProjectTOMLName))
}

// projectFile is the subset of a Project.toml that installation decisions
// depend on.
type projectFile struct {
	Name string            `toml:"name"`
	UUID string            `toml:"uuid"`
	Deps map[string]string `toml:"deps"`
}

func (pf *projectFile) hasDep(name string) bool {
	_, ok := pf.Deps[name]
	return ok
}

// parseProject reads the project descriptor in dir. A missing deps table is
// treated as an empty dependency set.
func parseProject(dir string) (*projectFile, error) {
	path := projectTOMLPath(dir)
	if path == "" {
		return nil, fmt.Errorf("%s", noProjectTOMLMessage(dir))
	}
	var pf projectFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", path, err)
	}
	return &pf, nil
}

// PackagesToAdd returns the subset of needed that is absent from the
// dependency set of the project descriptor in projectPath.
func PackagesToAdd(projectPath string, needed []string) ([]string, error) {
	pf, err := parseProject(projectPath)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range needed {
		if !pf.hasDep(name) {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
