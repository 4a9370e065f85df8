package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: "10s"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    min_level: "WARN"
    rate_per_sec: 1
dispatch:
  throttle: "2s"
  retry_max: 3
  queue_size: 64
storage:
  driver: "sqlite"
  path: "./quizcast.db"
schedule:
  enabled: true
  timezone: "UTC"
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", validYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.IsOwner(42) || cfg.IsOwner(7) {
		t.Fatalf("owner check wrong: %v", cfg.Telegram.OwnerUserIDs)
	}
	if got := cfg.ThrottleInterval(); got != 2*time.Second {
		t.Fatalf("throttle = %v, want 2s", got)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatal("Get() did not return committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{
  "telegram": {"token": "123:abc", "owner_user_ids": [1], "poll_timeout": "10s"},
  "logging": {"level": "INFO", "console": true,
    "file": {"enabled": false, "path": ""},
    "telegram": {"enabled": false, "min_level": "WARN", "rate_per_sec": 1}},
  "dispatch": {"throttle": "500ms"},
  "schedule": {"enabled": false}
}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ThrottleInterval(); got != 500*time.Millisecond {
		t.Fatalf("throttle = %v, want 500ms", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{"telegram": {"token": "x", "owner_user_ids": [1], "poll_timeout": "", "bogus": 1}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("want error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{"telegram": {"token": "x", "owner_user_ids": [1], "poll_timeout": ""}} {}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("want error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Telegram: TelegramConfig{Token: "123:abc", OwnerUserIDs: []int64{1}},
		}
	}

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "token"},
		{"no owners", func(c *Config) { c.Telegram.OwnerUserIDs = nil }, "owner_user_ids"},
		{"bad throttle", func(c *Config) { c.Dispatch.Throttle = "soon" }, "dispatch.throttle"},
		{"negative retry", func(c *Config) { c.Dispatch.RetryMax = -1 }, "retry_max"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "timezone"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 1m "); err != nil || d != time.Minute {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("want error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: got (%v, %v)", d, err)
	}
}
