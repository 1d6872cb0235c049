package util

import (
	"os"
	"path/filepath"
	"strings"
)

// ConfiguredAppName is set by the host before anything derives a path from it.
// When empty, a default is used.
var ConfiguredAppName string

const defaultAppName = "panelcore"

// PanelcoreVersion is the current version of the panelcore module.
const PanelcoreVersion = "v0.4.0"

// SetAppName sets the application name used for config/cache/log paths.
func SetAppName(name string) {
	ConfiguredAppName = sanitizeName(name)
}

// AppName returns the effective application name.
func AppName() string {
	if n := strings.TrimSpace(ConfiguredAppName); n != "" {
		return n
	}
	return defaultAppName
}

// ConfigDir returns the base directory for configuration files.
func ConfigDir() string {
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, AppName())
	}
	return filepath.Join(".", "config", AppName())
}

// DataDir returns the base directory for durable state (panel instance
// documents, audit database).
func DataDir() string {
	if base, err := os.UserCacheDir(); err == nil && base != "" {
		return filepath.Join(base, AppName())
	}
	return filepath.Join(".", "cache", AppName())
}

// LogDir returns the directory for rotated log files.
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// PanelStateDir returns the directory holding one JSON document per scope.
func PanelStateDir() string {
	return filepath.Join(DataDir(), "panels")
}

// AuditDBPath returns the SQLite path for the interaction audit store.
func AuditDBPath() string {
	return filepath.Join(DataDir(), "audit", "interactions.db")
}

// EnsureDataDirs creates the durable-state directories. Safe to call multiple times.
func EnsureDataDirs() error {
	for _, d := range []string{PanelStateDir(), filepath.Dir(AuditDBPath()), LogDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeName(s string) string {
	out := strings.TrimSpace(s)
	out = strings.ReplaceAll(out, "/", "-")
	out = strings.ReplaceAll(out, string(filepath.Separator), "-")
	return out
}
