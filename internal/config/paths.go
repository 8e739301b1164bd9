package config

import (
	"os"
	"path/filepath"
)

// ConfigDir returns the directory config files are read from.
// TASKDECK_CONFIG_DIR overrides the XDG default.
func ConfigDir() string {
	if dir := os.Getenv("TASKDECK_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskdeck")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskdeck"
	}
	return filepath.Join(home, ".config", "taskdeck")
}

// DataDir returns the default data directory.
func DataDir() string {
	if dir := os.Getenv("TASKDECK_DATA_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskdeck")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskdeck"
	}
	return filepath.Join(home, ".local", "share", "taskdeck")
}
