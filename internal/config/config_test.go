package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"syncbot", "syncbot"},
		{"SyncBot-01", "syncbot_01"},
		{"ip-10-0-1-23.ap-northeast-2.compute.internal", "ip_10_0_1_23_ap_northeast_2_compute_internal"},

		// Spaces
		{"Home Server", "home_server"},
		{"bot  and   more", "bot_and_more"},

		// Special characters
		{"bot@home!", "bothome"},
		{"日本語bot", "bot"},

		// Starts with number
		{"2024 bot", "syncbot_2024_bot"},
		{"123", "syncbot_123"},

		// Edge cases
		{"", "syncbot"},
		{"___", "syncbot"},
		{"...", "syncbot"},

		{
			"ThisIsAReallyLongHostNameThatExceedsTheIdentifierLimitOfSixtyThreeCharacters",
			"thisisareallylonghostnamethatexceedstheidentifierlimitofsixtyth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := SanitizeIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeIdentifier_ValidIdentifier(t *testing.T) {
	for _, tc := range []string{"My Host", "123", "", "___test___", "UPPERCASE", "a.b.c"} {
		result := SanitizeIdentifier(tc)
		if len(result) == 0 || len(result) > 63 {
			t.Errorf("SanitizeIdentifier(%q) = %q, bad length", tc, result)
			continue
		}
		if result[0] < 'a' || result[0] > 'z' {
			t.Errorf("SanitizeIdentifier(%q) = %q, doesn't start with letter", tc, result)
		}
		for _, c := range result {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
				t.Errorf("SanitizeIdentifier(%q) = %q, contains invalid character %q", tc, result, c)
			}
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
syncbot:
  prefix: bot_a
database:
  host: localhost
  user: syncbot
  password: secret
  database: calendar2notion
google:
  callbacks:
    "1": https://example.com/callback
worker:
  ignore_calendars:
    - "*#holiday@group.v.calendar.google.com"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Syncbot.Prefix != "bot_a" {
		t.Errorf("prefix = %q, want bot_a", cfg.Syncbot.Prefix)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Worker.Timeout != time.Hour {
		t.Errorf("timeout = %v, want 1h", cfg.Worker.Timeout)
	}
	if cfg.Worker.ErrorLogRetentionDays != 21 {
		t.Errorf("retention = %d, want 21", cfg.Worker.ErrorLogRetentionDays)
	}
	if cfg.Runner.Workers["init"] != 5 || cfg.Runner.Workers["pro"] != 10 {
		t.Errorf("unexpected worker pool: %v", cfg.Runner.Workers)
	}
	if cfg.Google.Callbacks["1"] != "https://example.com/callback" {
		t.Errorf("callbacks = %v", cfg.Google.Callbacks)
	}
}

func TestLoad_MissingDatabase(t *testing.T) {
	_, err := Load(writeConfig(t, "syncbot:\n  prefix: x\n"))
	if err == nil {
		t.Fatal("expected validation error for missing database settings")
	}
}

func TestLoad_InvalidWindow(t *testing.T) {
	body := minimalConfig + `
  min_date: "2025-01-01T00:00:00Z"
  max_date: "2024-01-01T00:00:00Z"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error when min_date is after max_date")
	}
}

func TestIsIgnoredCalendar(t *testing.T) {
	w := WorkerConfig{IgnoreCalendars: []string{"*#holiday@group.v.calendar.google.com", "team-*"}}

	tests := []struct {
		id   string
		want bool
	}{
		{"ko.south_korea#holiday@group.v.calendar.google.com", true},
		{"team-infra", true},
		{"someone@gmail.com", false},
		{"primary", false},
	}
	for _, tt := range tests {
		if got := w.IsIgnoredCalendar(tt.id); got != tt.want {
			t.Errorf("IsIgnoredCalendar(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestDebouncer_Coalesces(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	d.Trigger()
	d.Trigger()
	d.Trigger()

	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 coalesced call, got %d", n)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()

	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("expected no calls after Stop, got %d", n)
	}
}

func TestWatch_DeliversReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloads := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloads <- cfg })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Stop()

	body := minimalConfig + "runner:\n  stop: true\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloads:
		if !cfg.Runner.Stop {
			t.Error("reloaded config should have runner.stop set")
		}
		if cfg.Syncbot.Prefix != "bot_a" {
			t.Errorf("Prefix = %q, want bot_a", cfg.Syncbot.Prefix)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload delivered")
	}
}
