package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/pagewire/internal/errors"
	"github.com/vango-dev/pagewire/pkg/server"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	cfg := New()
	d := server.DefaultConfig()

	if cfg.Address != d.Address {
		t.Errorf("Address = %q, want %q", cfg.Address, d.Address)
	}
	if time.Duration(cfg.PageIdleTimeout) != d.PageIdleTimeout {
		t.Errorf("PageIdleTimeout = %v, want %v", cfg.PageIdleTimeout, d.PageIdleTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "pagewire.yaml", `
address: "127.0.0.1:9000"
secret_key: s3cret
ajax_only: true
latency: 250ms
page_idle_timeout: 90
channel:
  heartbeat_interval: 5s
  event_rate: 50
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if !cfg.AjaxOnly {
		t.Error("AjaxOnly should be true")
	}
	if time.Duration(cfg.Latency) != 250*time.Millisecond {
		t.Errorf("Latency = %v", cfg.Latency)
	}
	if time.Duration(cfg.PageIdleTimeout) != 90*time.Second {
		t.Errorf("PageIdleTimeout = %v", cfg.PageIdleTimeout)
	}
	if time.Duration(cfg.Channel.HeartbeatInterval) != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Channel.HeartbeatInterval)
	}
	// keys left out keep their defaults
	if time.Duration(cfg.Channel.ReadTimeout) != 60*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Channel.ReadTimeout)
	}
	if cfg.EventPath != server.DefaultEventPath {
		t.Errorf("EventPath = %q", cfg.EventPath)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "pagewire.json", `{
  "secret_key": "k",
  "latency": 0.5,
  "shutdown_timeout": "10s",
  "disable_metrics": true
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if time.Duration(cfg.Latency) != 500*time.Millisecond {
		t.Errorf("Latency = %v", cfg.Latency)
	}
	if time.Duration(cfg.ShutdownTimeout) != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if !cfg.DisableMetrics {
		t.Error("DisableMetrics should be true")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		code string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }, "C006"},
		{"format", func(t *testing.T) string { return writeFile(t, "pagewire.toml", "x = 1") }, "C007"},
		{"yaml", func(t *testing.T) string { return writeFile(t, "pagewire.yaml", "address: [") }, "C008"},
		{"json", func(t *testing.T) string { return writeFile(t, "pagewire.json", "{") }, "C008"},
		{"duration", func(t *testing.T) string { return writeFile(t, "pagewire.yml", "latency: soon") }, "C008"},
		{"level", func(t *testing.T) string { return writeFile(t, "pagewire.yml", "log:\n  level: loud") }, "C003"},
		{"log format", func(t *testing.T) string { return writeFile(t, "pagewire.yml", "log:\n  format: xml") }, "C004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := New()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PAGEWIRE_SECRET_KEY": "from-env",
		"PAGEWIRE_AJAX_ONLY":  "true",
		"PAGEWIRE_LATENCY":    "1.5",
		"PAGEWIRE_LOG_LEVEL":  " warn ",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.SecretKey != "from-env" {
		t.Errorf("SecretKey = %q", cfg.SecretKey)
	}
	if !cfg.AjaxOnly {
		t.Error("AjaxOnly should be true")
	}
	if time.Duration(cfg.Latency) != 1500*time.Millisecond {
		t.Errorf("Latency = %v", cfg.Latency)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := New()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PAGEWIRE_CRASH":   "maybe",
		"PAGEWIRE_LATENCY": "later",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.HasCode(err, "C009") {
		t.Errorf("error = %v, want C009", err)
	}
	msg := err.Error()
	for _, name := range []string{"PAGEWIRE_CRASH", "PAGEWIRE_LATENCY"} {
		if !strings.Contains(msg, name) {
			t.Errorf("error %q does not mention %s", msg, name)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "pagewire.yaml", "secret_key: from-file\n")
	t.Setenv("PAGEWIRE_SECRET_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SecretKey != "from-env" {
		t.Errorf("SecretKey = %q, want from-env", cfg.SecretKey)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if got := Find(dir); got != "" {
		t.Errorf("Find() = %q on empty dir", got)
	}

	for _, name := range []string{"pagewire.json", "pagewire.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if got := Find(dir); filepath.Base(got) != "pagewire.yml" {
		t.Errorf("Find() = %q, want pagewire.yml first", got)
	}
}

func TestServer(t *testing.T) {
	cfg := New()
	if err := cfg.ApplyEnv(noEnv); err != nil {
		t.Fatal(err)
	}
	cfg.SecretKey = "k"
	cfg.Crash = true
	cfg.Latency = Duration(time.Second)
	cfg.Channel.EventRate = 10

	sc := cfg.Server()
	if !sc.CrashOnHandlerError {
		t.Error("CrashOnHandlerError should follow Crash")
	}
	if sc.Latency != time.Second {
		t.Errorf("Latency = %v", sc.Latency)
	}
	if sc.Channel.EventRate != 10 {
		t.Errorf("Channel.EventRate = %v", sc.Channel.EventRate)
	}
	if sc.CheckOrigin == nil {
		t.Error("CheckOrigin should keep its default")
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected output %q", out)
	}

	buf.Reset()
	cfg.Debug = true
	cfg.Logger(&buf).Debug("debugging")
	if !strings.Contains(buf.String(), "debugging") {
		t.Error("Debug should force the debug level")
	}
}
