package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GB_ADMIN_KEY", "test-key")
	t.Setenv("GB_BASE_URL", "https://donate.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8090 {
		t.Errorf("Port = %d, want 8090", cfg.Port)
	}
	if cfg.BindAddress != "0.0.0.0" {
		t.Errorf("BindAddress = %q", cfg.BindAddress)
	}
	if cfg.ProcessorTimeout != 20*time.Second {
		t.Errorf("ProcessorTimeout = %v", cfg.ProcessorTimeout)
	}
	if cfg.DraftRetention != 72*time.Hour {
		t.Errorf("DraftRetention = %v", cfg.DraftRetention)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GB_PORT", "9100")
	t.Setenv("GB_DATA_DIR", "/var/lib/givebridge")
	t.Setenv("GB_DRAFT_RETENTION", "24h")
	t.Setenv("GB_PROCESSOR_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.DataDir != "/var/lib/givebridge" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.EngineDir() != "/var/lib/givebridge/engine" {
		t.Errorf("EngineDir = %q", cfg.EngineDir())
	}
	if cfg.DraftRetention != 24*time.Hour {
		t.Errorf("DraftRetention = %v", cfg.DraftRetention)
	}
	if cfg.ProcessorTimeout != 5*time.Second {
		t.Errorf("ProcessorTimeout = %v", cfg.ProcessorTimeout)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("GB_ADMIN_KEY", "")
	t.Setenv("GB_BASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	if !strings.Contains(err.Error(), "GB_ADMIN_KEY") || !strings.Contains(err.Error(), "GB_BASE_URL") {
		t.Errorf("error should name the missing variables, got: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "GB_PORT", "eighty"},
		{"port out of range", "GB_PORT", "70000"},
		{"bad timeout", "GB_PROCESSOR_TIMEOUT", "soon"},
		{"base url without scheme", "GB_BASE_URL", "donate.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}
