package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".chanscribe"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file. CHANSCRIBE_CONFIG
// overrides the default location; CHANSCRIBE_HOME relocates the home
// directory the default hangs off.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CHANSCRIBE_CONFIG")); explicit != "" {
		return ExpandPath(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("CHANSCRIBE_HOME")); h != "" {
		return ExpandPath(h)
	}
	return os.UserHomeDir()
}

// ExpandPath resolves a leading "~" against the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// Load reads the config file, then overrides with environment variables for
// each group. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	envconfig.Process("CHANSCRIBE_PATHS", &cfg.Paths)
	envconfig.Process("CHANSCRIBE_STORE", &cfg.Store)
	envconfig.Process("CHANSCRIBE_RELAY", &cfg.Relay)
	envconfig.Process("CHANSCRIBE_IDSCHEME", &cfg.IDScheme)
	envconfig.Process("CHANSCRIBE_STATS", &cfg.Stats)

	return cfg, nil
}

// Save writes the config back to its file, creating the directory if
// needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
