// Package config holds the file and environment plumbing shared by the
// PyPNM GUI server and the remote agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const productDir = "pypnmgui"

// FindConfigFile searches the standard locations for filename and returns
// the first match with its contents.
func FindConfigFile(filename string, component string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename, component) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s not found in any search path", filename)
}

// GetConfigSearchPaths returns the ordered config search path for a
// component ("server" or "agent"): system dir, user dir, executable dir, cwd.
func GetConfigSearchPaths(filename string, component string) []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		paths = append(paths, filepath.Join(os.Getenv("ProgramData"), "PyPNMGui", component, filename))
	case "darwin":
		paths = append(paths, filepath.Join("/Library/Application Support", "PyPNMGui", component, filename))
	default:
		paths = append(paths, filepath.Join("/etc", productDir, component, filename))
	}

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, productDir, component, filename))
	}

	if exePath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exePath), filename))
	}

	return append(paths, filepath.Join(".", filename))
}

// ResolveConfigPath picks the config file location: <PREFIX>_CONFIG,
// <PREFIX>_CONFIG_PATH, CONFIG, CONFIG_PATH, then the flag value.
func ResolveConfigPath(prefix, flagValue string) string {
	keys := []string{"CONFIG", "CONFIG_PATH"}
	if prefix != "" {
		keys = append([]string{prefix + "_CONFIG", prefix + "_CONFIG_PATH"}, keys...)
	}
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return flagValue
}

// GetEnvPrefixed returns <PREFIX>_<KEY> when set, otherwise <KEY>.
func GetEnvPrefixed(prefix, key string) string {
	if prefix != "" {
		if v := os.Getenv(prefix + "_" + key); v != "" {
			return v
		}
	}
	return os.Getenv(key)
}

// GetDataDirectory returns (and creates) the data directory. Services use a
// system-wide location, interactive runs a per-user one.
func GetDataDirectory(component string, isService bool) (string, error) {
	var dataDir string

	if isService {
		switch runtime.GOOS {
		case "windows":
			dataDir = filepath.Join(os.Getenv("ProgramData"), "PyPNMGui", component)
		default:
			dataDir = filepath.Join("/var/lib", productDir, component)
		}
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
		switch runtime.GOOS {
		case "windows":
			dataDir = filepath.Join(homeDir, "AppData", "Local", "PyPNMGui", component)
		case "darwin":
			dataDir = filepath.Join(homeDir, "Library", "Application Support", "PyPNMGui", component)
		default:
			dataDir = filepath.Join(homeDir, ".local", "share", productDir, component)
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}

// GetLogDirectory returns (and creates) the log directory.
func GetLogDirectory(component string, isService bool) (string, error) {
	logDir := "logs"
	if isService {
		switch runtime.GOOS {
		case "windows":
			logDir = filepath.Join(os.Getenv("ProgramData"), "PyPNMGui", component, "logs")
		default:
			logDir = filepath.Join("/var/log", productDir, component)
		}
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return logDir, nil
}

// WriteDefaultTOML writes config to a new file at configPath. It refuses to
// overwrite an existing file.
func WriteDefaultTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s: %w", configPath, os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML decodes a TOML file into config.
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into config. Unknown fields are ignored so
// agent configs written for older releases keep loading.
func LoadJSON(configPath string, config interface{}) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return nil
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// ApplyLoggingEnvOverrides applies <PREFIX>_LOG_LEVEL or LOG_LEVEL.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig, prefix string) bool {
	if val := GetEnvPrefixed(prefix, "LOG_LEVEL"); val != "" {
		cfg.Level = val
		return true
	}
	return false
}

// SourceTracker records which config keys were set from the environment.
type SourceTracker struct {
	EnvKeys map[string]bool
}

// NewSourceTracker returns an empty tracker.
func NewSourceTracker() *SourceTracker {
	return &SourceTracker{EnvKeys: make(map[string]bool)}
}

// String sets *dst from env var name when non-empty.
func (t *SourceTracker) String(name, key string, dst *string) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		*dst = val
		t.mark(key)
	}
}

// Int sets *dst from env var name when it parses as an integer.
func (t *SourceTracker) Int(name, key string, dst *int) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
			t.mark(key)
		}
	}
}

// Bool sets *dst from env var name ("1", "true", "yes", "on" and their negatives).
func (t *SourceTracker) Bool(name, key string, dst *bool) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if b, ok := ParseBool(val); ok {
			*dst = b
			t.mark(key)
		}
	}
}

// Seconds sets *dst from an env var holding whole or fractional seconds.
func (t *SourceTracker) Seconds(name, key string, dst *time.Duration) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			*dst = time.Duration(f * float64(time.Second))
			t.mark(key)
		}
	}
}

func (t *SourceTracker) mark(key string) {
	if t == nil {
		return
	}
	if t.EnvKeys == nil {
		t.EnvKeys = make(map[string]bool)
	}
	t.EnvKeys[key] = true
}

// ParseBool accepts the spellings commonly used in env files.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on", "y":
		return true, true
	case "0", "false", "no", "off", "n":
		return false, true
	}
	return false, false
}
