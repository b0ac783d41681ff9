package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nexusd/pkg/types"
)

// ScanDir scans a directory for *.gguf files and builds the model catalog
// from filenames. ID is the full filename; Path is the absolute file path.
// A leading "~" in dir resolves against the current user's home directory.
func ScanDir(dir string) ([]types.Model, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := types.Model{ID: name, Name: name, Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
			m.ModifiedUnix = info.ModTime().Unix()
		}
		models = append(models, m)
	}
	return models, nil
}

// expandHome rewrites "~" and "~/..." paths so the catalog can live under the
// default user directory without shell expansion.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
