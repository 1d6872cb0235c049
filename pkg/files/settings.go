// Package files manages the on-disk settings of a panelcore instance.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/util"
)

// Settings is the persisted instance configuration. Environment variables
// override individual fields at startup.
type Settings struct {
	// ControlAddr is the control server bind address. Empty disables it.
	ControlAddr string `json:"controlAddr,omitempty"`

	// AuditRetentionDays is how long interaction audit rows are kept.
	AuditRetentionDays int `json:"auditRetentionDays"`

	// LogLevel overrides the default log level (debug, info, warn, error).
	LogLevel string `json:"logLevel,omitempty"`
}

// DefaultSettings returns the settings applied when no file exists.
func DefaultSettings() Settings {
	return Settings{AuditRetentionDays: 30}
}

// SettingsManager loads and persists Settings through the shared JSON
// manager, so writes are atomic.
type SettingsManager struct {
	mu          sync.RWMutex
	settings    Settings
	jsonManager *util.JSONManager
}

// NewSettingsManager points at <config dir>/settings.json.
func NewSettingsManager() *SettingsManager {
	return NewSettingsManagerWithPath(filepath.Join(util.ConfigDir(), "settings.json"))
}

// NewSettingsManagerWithPath uses an explicit settings path.
func NewSettingsManagerWithPath(path string) *SettingsManager {
	return &SettingsManager{
		settings:    DefaultSettings(),
		jsonManager: util.NewJSONManager(path),
	}
}

// Load reads the settings file. A missing file is not an error; defaults
// apply and the next Save creates it.
func (m *SettingsManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := DefaultSettings()
	if err := m.jsonManager.Load(&loaded); err != nil {
		if os.IsNotExist(err) {
			log.ApplicationLogger().Info("No settings file found, using defaults", "path", m.jsonManager.Path())
			return nil
		}
		return fmt.Errorf("read settings %s: %w", m.jsonManager.Path(), err)
	}

	if loaded.AuditRetentionDays <= 0 {
		loaded.AuditRetentionDays = DefaultSettings().AuditRetentionDays
	}
	m.settings = loaded
	return nil
}

// Save persists the current settings.
func (m *SettingsManager) Save() error {
	m.mu.RLock()
	snapshot := m.settings
	m.mu.RUnlock()

	if err := m.jsonManager.Save(&snapshot); err != nil {
		return fmt.Errorf("write settings %s: %w", m.jsonManager.Path(), err)
	}
	return nil
}

// Get returns a copy of the current settings.
func (m *SettingsManager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update mutates the settings under the lock and persists the result.
func (m *SettingsManager) Update(fn func(*Settings)) error {
	m.mu.Lock()
	fn(&m.settings)
	if m.settings.AuditRetentionDays <= 0 {
		m.settings.AuditRetentionDays = DefaultSettings().AuditRetentionDays
	}
	snapshot := m.settings
	m.mu.Unlock()

	if err := m.jsonManager.Save(&snapshot); err != nil {
		return fmt.Errorf("write settings %s: %w", m.jsonManager.Path(), err)
	}
	return nil
}
