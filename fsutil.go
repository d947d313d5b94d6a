package juliaproject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// maybeRemove removes a file if it exists. Removing a file that does not
// exist is not an error.
func maybeRemove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing %s: %v", path, err)
	}
	return nil
}

// touchNow sets the modification time of path to the current time.
func touchNow(path string) error {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("error touching %s: %v", path, err)
	}
	return nil
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, info.Mode().Perm())
}

// updateCopy copies src to dest if src exists and dest is either missing or
// older than src. A missing src is not an error.
func updateCopy(src, dest string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	destInfo, err := os.Stat(dest)
	if err == nil && !destInfo.ModTime().Before(srcInfo.ModTime()) {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return fmt.Errorf("error copying %s to %s: %v", src, dest, err)
	}
	return nil
}

// copyTreeUpdate recursively copies srcDir into destDir, replacing only
// files that are missing or older than their source.
func copyTreeUpdate(srcDir, destDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return updateCopy(path, target)
	})
}

// sharedLibSuffix returns the platform's shared library file extension,
// including the leading dot.
func sharedLibSuffix() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// depotPathListSeparator separates entries of JULIA_DEPOT_PATH.
func depotPathListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// defaultDepotPath returns the first entry of JULIA_DEPOT_PATH, or the
// standard user depot ~/.julia when the variable is not set.
func defaultDepotPath() string {
	if v := os.Getenv("JULIA_DEPOT_PATH"); v != "" {
		if first := strings.Split(v, depotPathListSeparator())[0]; first != "" {
			return first
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".julia"
	}
	return filepath.Join(home, ".julia")
}

// virtualEnvPath returns the root of the active Python virtual, conda, or
// mamba environment, or "" if none is active. More than one kind active at
// once is an error since there is no way to choose between them.
func virtualEnvPath() (string, error) {
	var found []string
	for _, name := range []string{"VIRTUAL_ENV", "CONDA_PREFIX", "MAMBA_PREFIX"} {
		if v := os.Getenv(name); v != "" {
			found = append(found, v)
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("a mix of virtual, conda, and mamba environments is active: cannot choose one")
	}
}

// expandUser replaces a leading "~" with the user's home directory.
func expandUser(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
