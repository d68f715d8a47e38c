package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("api.base_url", "https://drafts.example.test")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.CachePath != "draftsync.db" {
		t.Fatalf("unexpected cache path %q", cfg.CachePath)
	}
	if cfg.Debounce != 2*time.Second {
		t.Fatalf("unexpected debounce %v", cfg.Debounce)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Fatalf("unexpected flush interval %v", cfg.FlushInterval)
	}
	if !cfg.AutosaveEnabled {
		t.Fatalf("expected autosave enabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name      string
		configure func(v map[string]any)
	}{
		{
			name:      "missing-base-url",
			configure: func(v map[string]any) {},
		},
		{
			name: "blank-cache-path",
			configure: func(v map[string]any) {
				v["api.base_url"] = "https://drafts.example.test"
				v["cache.path"] = "   "
			},
		},
		{
			name: "non-positive-debounce",
			configure: func(v map[string]any) {
				v["api.base_url"] = "https://drafts.example.test"
				v["autosave.debounce_ms"] = 0
			},
		},
		{
			name: "non-positive-flush-interval",
			configure: func(v map[string]any) {
				v["api.base_url"] = "https://drafts.example.test"
				v["autosave.flush_interval_ms"] = -5
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			values := map[string]any{}
			tt.configure(values)
			for key, value := range values {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
