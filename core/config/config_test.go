package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Token:    "123:token",
			AdminIDs: []int64{1},
		},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("expected longpoll default, got %q", cfg.Telegram.RunMode)
	}
	if cfg.Storage.Dir != "data" {
		t.Fatalf("expected default storage dir, got %q", cfg.Storage.Dir)
	}
}

func TestNormalizeErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Telegram.Token = "" },
			wantErr: "token is required",
		},
		{
			name:    "no admins",
			mutate:  func(c *Config) { c.Telegram.AdminIDs = nil },
			wantErr: "admin_ids",
		},
		{
			name:    "zero admin",
			mutate:  func(c *Config) { c.Telegram.AdminIDs = []int64{0} },
			wantErr: "admin_ids",
		},
		{
			name:    "invalid run mode",
			mutate:  func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" },
			wantErr: "run_mode",
		},
		{
			name:    "webhook missing url",
			mutate:  func(c *Config) { c.Telegram.RunMode = RunModeWebhook },
			wantErr: "webhook.url",
		},
		{
			name:    "negative relay attempts",
			mutate:  func(c *Config) { c.Relay.MaxAttempts = -1 },
			wantErr: "relay.max_attempts",
		},
		{
			name:    "bad rate limit exclusion",
			mutate:  func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"smoke_signal"} },
			wantErr: "exclude_updates",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Normalize(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestNormalizePollingAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = "polling"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("expected polling alias to map to longpoll, got %q", cfg.Telegram.RunMode)
	}
}

func TestIsAdmin(t *testing.T) {
	tg := TelegramConfig{AdminIDs: []int64{1, 42}}
	if !tg.IsAdmin(42) {
		t.Fatal("expected 42 to be admin")
	}
	if tg.IsAdmin(7) {
		t.Fatal("expected 7 to not be admin")
	}
}
