package config

import (
	"os"
	"path/filepath"
)

const defaultRuntimeDir = ".recall"

// GetRuntimePath resolves RECALL_RUNTIME_PATH before any config is parsed.
func GetRuntimePath() string {
	return resolveRuntimePath(os.Getenv("RECALL_RUNTIME_PATH"))
}

// relative paths land under the home directory
func resolveRuntimePath(path string) string {
	if path == "" {
		path = defaultRuntimeDir
	}
	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path)
	}
	return path
}
