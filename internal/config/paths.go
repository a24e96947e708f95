package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	paths := []string{"/etc/battery-watchdog/config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".battery-watchdog", "config.yaml"))
	}
	return paths
}
