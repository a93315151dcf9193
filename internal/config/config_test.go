package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"abc"},"logging":{"level":"info","console":true}}`)

	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.At != "12:00" || cfg.Dispatch.Timezone != "Europe/Vienna" {
		t.Fatalf("dispatch defaults = %q %q", cfg.Dispatch.At, cfg.Dispatch.Timezone)
	}
	if cfg.Fares.Currency != "USD" {
		t.Fatalf("currency = %q", cfg.Fares.Currency)
	}
	if cfg.Dispatch.MaxMessageLen != 4096 || cfg.Dispatch.WindowMonths != 6 {
		t.Fatalf("limits = %d %d", cfg.Dispatch.MaxMessageLen, cfg.Dispatch.WindowMonths)
	}
	if cfg.Dispatch.SendRetries == nil || *cfg.Dispatch.SendRetries != 1 {
		t.Fatalf("send_retries = %v", cfg.Dispatch.SendRetries)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: abc
dispatch:
  at: "08:30"
  timezone: Europe/Warsaw
  chunking: count
storage:
  driver: sqlite
  path: ./fares.db
`
	p := writeFile(t, t.TempDir(), "config.yaml", body)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.At != "08:30" || cfg.Dispatch.Chunking != "count" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected config: %+v", cfg.Dispatch)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateFatalErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, want: "telegram.token"},
		{name: "bad timezone", mutate: func(c *Config) { c.Dispatch.Timezone = "Mars/Olympus" }, want: "dispatch.timezone"},
		{name: "bad time", mutate: func(c *Config) { c.Dispatch.At = "25:00" }, want: "dispatch.at"},
		{name: "bad duration", mutate: func(c *Config) { c.Dispatch.QueryTimeout = "soon" }, want: "dispatch.query_timeout"},
		{name: "bad chunking", mutate: func(c *Config) { c.Dispatch.Chunking = "random" }, want: "dispatch.chunking"},
		{name: "two retries", mutate: func(c *Config) { n := 2; c.Dispatch.SendRetries = &n }, want: "dispatch.send_retries"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, want: "storage.path"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Telegram: TelegramConfig{Token: "abc"}}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTokenLegacy: "legacy",
		EnvCurrency:    "eur",
		EnvTimezone:    "Europe/Dublin",
	}
	cfg := &Config{Telegram: TelegramConfig{Token: "file"}}
	ApplyEnvFrom(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.Telegram.Token != "legacy" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Fares.Currency != "EUR" || cfg.Dispatch.Timezone != "Europe/Dublin" {
		t.Fatalf("overrides = %q %q", cfg.Fares.Currency, cfg.Dispatch.Timezone)
	}

	env[EnvToken] = "primary"
	ApplyEnvFrom(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.Telegram.Token != "primary" {
		t.Fatalf("primary token should win, got %q", cfg.Telegram.Token)
	}
}

func TestLoadDotEnvMissingFileIgnored(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:15")
	if err != nil {
		t.Fatalf("ParseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}
	for _, bad := range []string{"24:00", "12", "aa:bb", "12:60"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"telegram":{"token":"abc"}}`)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	// Invalid reload is rejected and never published.
	writeFile(t, dir, "config.json", `{"telegram":{"token":"abc"},"dispatch":{"at":"99:99"}}`)
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Dispatch)
	default:
	}

	writeFile(t, dir, "config.json", `{"telegram":{"token":"abc"},"dispatch":{"at":"07:45"}}`)
	select {
	case cfg := <-ch:
		if cfg.Dispatch.At != "07:45" {
			t.Fatalf("at = %q", cfg.Dispatch.At)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	cancel()
	<-done
}

func TestTimeoutsDefaultsAndErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Dispatch.SendTimeout = "3s"
	got, err := cfg.Timeouts()
	if err != nil {
		t.Fatal(err)
	}
	if got.Send != 3*time.Second || got.Query != 20*time.Second || got.Cycle != 30*time.Minute || got.Poll != 10*time.Second {
		t.Fatalf("timeouts = %+v", got)
	}

	cfg.Fares.HTTPTimeout = "-1s"
	cfg.Storage.BusyTimeout = "later"
	_, err = cfg.Timeouts()
	if err == nil || !strings.Contains(err.Error(), "fares.http_timeout") || !strings.Contains(err.Error(), "storage.busy_timeout") {
		t.Fatalf("err = %v, want both fields reported", err)
	}
}

func TestDecodeYAMLRejectsMultipleDocuments(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.yaml", []byte("telegram:\n  token: a\n---\ntelegram:\n  token: b\n"))
	if err == nil || !strings.Contains(err.Error(), "single document") {
		t.Fatalf("err = %v", err)
	}
	cfg, err := Decode("c.yml", []byte("base: &b\n  token: t\ntelegram: *b\n"))
	if err == nil {
		t.Fatalf("unknown top-level key accepted: %+v", cfg)
	}
	cfg, err = Decode("c.yml", []byte("telegram: &b\n  token: t\n"))
	if err != nil || cfg.Telegram.Token != "t" {
		t.Fatalf("cfg = %+v, err = %v", cfg, err)
	}
}
