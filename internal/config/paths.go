package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".loom"

// DataDir returns the base data directory for the daemon.
func DataDir() (string, error) {
	if override := os.Getenv("LOOM_DATA_DIR"); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// SessionsDir returns the directory where per-session turn logs are stored.
func SessionsDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions"), nil
}

// TokenPath returns the path to the local API token file.
func TokenPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "token"), nil
}

// DBPath returns the path to the bbolt database holding branch records and
// the session index.
func DBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "loom.db"), nil
}

// CoreConfigPath returns the path to the daemon configuration file.
func CoreConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}
