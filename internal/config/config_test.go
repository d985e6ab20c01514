package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("TWITTER_CLIENT_ID", "client")
	t.Setenv("TWITTER_CLIENT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want 24h", cfg.CacheTTL)
	}
	if cfg.CacheMinRefetch != 15*time.Minute {
		t.Errorf("CacheMinRefetch = %v, want 15m", cfg.CacheMinRefetch)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("RetryMaxAttempts = %d, want 3", cfg.RetryMaxAttempts)
	}
	if cfg.RetryMaxWait != 30*time.Second {
		t.Errorf("RetryMaxWait = %v, want 30s", cfg.RetryMaxWait)
	}
	if cfg.DefaultThreshold != 0.7 {
		t.Errorf("DefaultThreshold = %v, want 0.7", cfg.DefaultThreshold)
	}
	if cfg.ClassifierBackend != "huggingface" {
		t.Errorf("ClassifierBackend = %q, want huggingface", cfg.ClassifierBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CACHE_TTL", "2h")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("DEFAULT_THRESHOLD", "0.4")
	t.Setenv("RETRY_BASE_DELAY", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 2*time.Hour {
		t.Errorf("CacheTTL = %v, want 2h", cfg.CacheTTL)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("RetryMaxAttempts = %d, want 5", cfg.RetryMaxAttempts)
	}
	if cfg.DefaultThreshold != 0.4 {
		t.Errorf("DefaultThreshold = %v, want 0.4", cfg.DefaultThreshold)
	}
	if cfg.RetryBaseDelay != 2*time.Second {
		t.Errorf("RetryBaseDelay = %v, want fallback 2s", cfg.RetryBaseDelay)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing session secret",
			env:     map[string]string{"SESSION_SECRET": ""},
			wantErr: "SESSION_SECRET",
		},
		{
			name:    "missing credentials",
			env:     map[string]string{"TWITTER_CLIENT_ID": "", "TWITTER_CLIENT_SECRET": ""},
			wantErr: "TWITTER_CLIENT_ID",
		},
		{
			name:    "threshold out of range",
			env:     map[string]string{"DEFAULT_THRESHOLD": "1.5"},
			wantErr: "DEFAULT_THRESHOLD",
		},
		{
			name:    "threshold not a number",
			env:     map[string]string{"DEFAULT_THRESHOLD": "NaN"},
			wantErr: "DEFAULT_THRESHOLD",
		},
		{
			name:    "gemini without key",
			env:     map[string]string{"CLASSIFIER_BACKEND": "gemini", "GEMINI_API_KEY": ""},
			wantErr: "GEMINI_API_KEY",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"CLASSIFIER_BACKEND": "onnx"},
			wantErr: "unknown CLASSIFIER_BACKEND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestServiceSessionSatisfiesCredentials(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("TWITTER_CLIENT_ID", "")
	t.Setenv("TWITTER_CLIENT_SECRET", "")
	t.Setenv("TWITTER_BEARER_TOKEN", "bearer")
	t.Setenv("TWITTER_USER_ID", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.HasServiceSession() {
		t.Error("HasServiceSession() = false, want true")
	}
}
