package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func missingEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.env")
}

// TestLoad_Defaults verifies the zero-configuration startup.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{EnvFile: missingEnvFile(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != EnvDevelopment {
		t.Errorf("Env = %q", cfg.Env)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v", cfg.ProbeInterval)
	}
	if cfg.DBPath != "betania-offline.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.NotificationsEnabled() {
		t.Error("notifications should be off without a key")
	}
}

// TestLoad_Environment verifies BETANIA_* variables override defaults.
func TestLoad_Environment(t *testing.T) {
	t.Setenv("BETANIA_REMOTE_URL", "https://betania.example.org")
	t.Setenv("BETANIA_REMOTE_TIMEOUT", "3s")
	t.Setenv("BETANIA_MAX_RETRIES", "5")
	t.Setenv("BETANIA_ENV", "production")
	t.Setenv("BETANIA_RESEND_API_KEY", "re_test")
	t.Setenv("BETANIA_NOTIFY_TO", "secretaria@example.org,pastor@example.org")

	cfg, err := Load(Options{EnvFile: missingEnvFile(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteURL != "https://betania.example.org" {
		t.Errorf("RemoteURL = %q", cfg.RemoteURL)
	}
	if cfg.RemoteTimeout != 3*time.Second {
		t.Errorf("RemoteTimeout = %v", cfg.RemoteTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction = false")
	}
	if len(cfg.NotifyTo) != 2 || cfg.NotifyTo[1] != "pastor@example.org" {
		t.Errorf("NotifyTo = %v", cfg.NotifyTo)
	}
	if !cfg.NotificationsEnabled() {
		t.Error("NotificationsEnabled = false")
	}
}

// TestLoad_EnvFile verifies .env values apply but do not beat the real environment.
func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "BETANIA_LISTEN_ADDR=127.0.0.1:9999\nBETANIA_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BETANIA_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("BETANIA_LISTEN_ADDR") })

	cfg, err := Load(Options{EnvFile: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want the environment to win", cfg.LogLevel)
	}
}

// TestLoad_ConfigFileAndOverrides verifies file values and explicit overrides.
func TestLoad_ConfigFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "betania.yaml")
	content := "db_path: /var/lib/betania/cache.db\nlog_format: json\nprobe_interval: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{
		EnvFile:    missingEnvFile(t),
		ConfigFile: path,
		Overrides:  map[string]any{"db_path": "override.db"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "override.db" {
		t.Errorf("DBPath = %q, want override", cfg.DBPath)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.ProbeInterval != time.Minute {
		t.Errorf("ProbeInterval = %v", cfg.ProbeInterval)
	}
}

// TestLoad_Invalid verifies validation failures name the key.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad url", map[string]string{"BETANIA_REMOTE_URL": "not a url"}, "remote_url"},
		{"bad level", map[string]string{"BETANIA_LOG_LEVEL": "loud"}, "log_level"},
		{"bad retries", map[string]string{"BETANIA_MAX_RETRIES": "0"}, "max_retries"},
		{"short csrf key", map[string]string{"BETANIA_CSRF_KEY": "abcd"}, "csrf_key"},
		{"bad recipient", map[string]string{"BETANIA_NOTIFY_TO": "nobody"}, "notify_to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(Options{EnvFile: missingEnvFile(t)})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

// TestLoad_MissingConfigFile fails loudly for an explicit file.
func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(Options{EnvFile: missingEnvFile(t), ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("expected error")
	}
}
