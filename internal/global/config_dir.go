package global

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns ~/.config/synapse.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("SYNAPSE_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "synapse"), nil
}

// ResolveConfigDir returns dir when set, else DefaultConfigDir.
func ResolveConfigDir(dir string) (string, error) {
	if dir = strings.TrimSpace(dir); dir != "" {
		return dir, nil
	}
	return DefaultConfigDir()
}
