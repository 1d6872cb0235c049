package files

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m := NewSettingsManagerWithPath(filepath.Join(t.TempDir(), "settings.json"))
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	m := NewSettingsManagerWithPath(path)
	err := m.Update(func(s *Settings) {
		s.ControlAddr = "127.0.0.1:7700"
		s.AuditRetentionDays = 7
		s.LogLevel = "debug"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	fresh := NewSettingsManagerWithPath(path)
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := fresh.Get()
	if got.ControlAddr != "127.0.0.1:7700" || got.AuditRetentionDays != 7 || got.LogLevel != "debug" {
		t.Errorf("settings = %+v", got)
	}
}

func TestLoadNormalizesRetention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"auditRetentionDays": -3}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewSettingsManagerWithPath(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get().AuditRetentionDays; got != 30 {
		t.Errorf("retention = %d, want default 30", got)
	}
}

func TestLoadCorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewSettingsManagerWithPath(path)
	if err := m.Load(); err == nil {
		t.Fatal("expected error for corrupt settings file")
	}
	// Defaults survive a failed load.
	if got := m.Get(); got != DefaultSettings() {
		t.Errorf("settings after failed load = %+v", got)
	}
}
