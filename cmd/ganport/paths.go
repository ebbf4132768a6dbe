package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveLiteName returns the output base for an edge conversion: the
// explicit name when given, otherwise the last element of inDir.
func resolveLiteName(inDir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		return filepath.Clean(name), nil
	}
	base := filepath.Base(filepath.Clean(inDir))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("lite: cannot derive a name from %q; pass one explicitly", inDir)
	}
	return base, nil
}

// resolveModelsDir picks the serve root from the flag or config, falling
// back to the working directory.
func resolveModelsDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return os.Getwd()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("models dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("models dir: %s is not a directory", dir)
	}
	return filepath.Clean(dir), nil
}
