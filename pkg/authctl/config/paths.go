package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "authctl"
	defaultConfigFile    = "config.yaml"
)

func DefaultConfigPath() string {
	if env := os.Getenv("AUTHCTL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".authctl", defaultConfigFile)
}

// HomeDir returns the directory below which the token stores keep their
// files. An empty configured value means the user's home directory.
func HomeDir(configured string) string {
	if configured != "" {
		return configured
	}
	home, _ := os.UserHomeDir()
	return home
}
