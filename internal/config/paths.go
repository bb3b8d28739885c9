package config

import (
	"os"
	"path/filepath"
	"strings"
)

// BaseDir returns the directory relative runtime paths are resolved against:
// the config file's directory when known, otherwise the working directory.
func BaseDir(configPath string) string {
	if p := strings.TrimSpace(configPath); p != "" {
		if abs, err := filepath.Abs(p); err == nil {
			return filepath.Dir(abs)
		}
	}
	if wd, err := os.Getwd(); err == nil && strings.TrimSpace(wd) != "" {
		return wd
	}
	return "."
}

func resolvePath(base, raw, fallback string) string {
	target := strings.TrimSpace(raw)
	if target == "" {
		target = fallback
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(base, target))
}
