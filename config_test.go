package nuvom_test

import (
	"testing"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := nuvom.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.QueueBackend != "memory" || cfg.ResultBackend != "memory" {
		t.Errorf("backends = %q/%q", cfg.QueueBackend, cfg.ResultBackend)
	}
	if cfg.SerializationBackend != "msgpack" {
		t.Errorf("serialization = %q", cfg.SerializationBackend)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("NUVOM_QUEUE_BACKEND", "file")
	t.Setenv("NUVOM_MAX_WORKERS", "8")
	t.Setenv("NUVOM_JOB_TIMEOUT_SECS", "120")
	t.Setenv("NUVOM_TIMEOUT_POLICY", "retry")
	t.Setenv("NUVOM_ENVIRONMENT", "prod")

	cfg, err := nuvom.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueueBackend != "file" {
		t.Errorf("QueueBackend = %q, want file", cfg.QueueBackend)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.MaxWorkers)
	}
	if cfg.JobTimeout != 120*time.Second {
		t.Errorf("JobTimeout = %v, want 2m", cfg.JobTimeout)
	}
	if cfg.TimeoutPolicy != "retry" {
		t.Errorf("TimeoutPolicy = %q, want retry", cfg.TimeoutPolicy)
	}
	if cfg.Environment != nuvom.EnvProd {
		t.Errorf("Environment = %q, want prod", cfg.Environment)
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	t.Setenv("NUVOM_ENVIRONMENT", "staging")
	if _, err := nuvom.LoadConfig(); err == nil {
		t.Fatal("expected error for invalid environment")
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*nuvom.Config)
	}{
		{"zero workers", func(c *nuvom.Config) { c.MaxWorkers = 0 }},
		{"zero batch", func(c *nuvom.Config) { c.BatchSize = 0 }},
		{"bad policy", func(c *nuvom.Config) { c.TimeoutPolicy = "shrug" }},
		{"bad environment", func(c *nuvom.Config) { c.Environment = "qa" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := nuvom.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted %s", tt.name)
			}
		})
	}
}
