package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.Retry.MaxAttempts != 3 || cfg.Crawl.Retry.Delay != 5*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Crawl.Retry)
	}
	if cfg.Crawl.Pacing.UnitDelayMin != 2*time.Second || cfg.Crawl.Pacing.UnitDelayMax != 4*time.Second {
		t.Fatalf("unexpected pacing defaults: %+v", cfg.Crawl.Pacing)
	}
	if cfg.Maps.MaxScrolls != 20 || cfg.Maps.ScrollAmount != 800 {
		t.Fatalf("unexpected maps defaults: %+v", cfg.Maps.Config)
	}
	if cfg.Comments.MaxComments != 100 {
		t.Fatalf("expected 100 max comments, got %d", cfg.Comments.MaxComments)
	}
	if cfg.Dispatch.MaxDailyMessages != 50 || cfg.Dispatch.MessageDelay != time.Minute {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg.Dispatch)
	}
	if cfg.Checkpoint.Backend != CheckpointFile || cfg.Artifacts.Backend != "local" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Checkpoint, cfg.Artifacts)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
checkpoint:
  backend: badger
  badger:
    in_memory: true
crawl:
  run_id: nightly
  retry:
    max_attempts: 5
    delay: 1s
  rate_limit:
    hosts:
      - host: www.googleapis.com
        rps: 2
        burst: 4
navigator:
  driver: static
maps:
  queries: ["plumbers in austin", "cafes in austin"]
  max_scrolls: 7
  require_contact: true
comments:
  videos: ["https://youtu.be/dQw4w9WgXcQ"]
  api:
    api_key: key-123
posts:
  groups: ["https://social.example/groups/a"]
dispatch:
  max_daily_messages: 10
  message_delay: 30s
  channels: ["email"]
smtp:
  server: smtp.example.com
  from: me@example.com
sinks:
  postgres:
    enabled: true
    dsn: postgres://localhost/leads
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Checkpoint.Backend != CheckpointBadger || !cfg.Checkpoint.Badger.InMemory {
		t.Fatalf("expected in-memory badger checkpoint: %+v", cfg.Checkpoint)
	}
	if cfg.Crawl.RunID != "nightly" || cfg.Crawl.Retry.MaxAttempts != 5 || cfg.Crawl.Retry.Delay != time.Second {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if hosts := cfg.Crawl.RateLimit.Hosts; len(hosts) != 1 || hosts[0].Host != "www.googleapis.com" || hosts[0].RPS != 2 {
		t.Fatalf("expected host rate limit override: %+v", cfg.Crawl.RateLimit)
	}
	if len(cfg.Maps.Queries) != 2 || cfg.Maps.MaxScrolls != 7 || !cfg.Maps.RequireContact {
		t.Fatalf("expected maps overrides: %+v", cfg.Maps)
	}
	if cfg.Maps.ScrollAmount != 800 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Maps.ScrollAmount)
	}
	if cfg.Comments.API.APIKey != "key-123" {
		t.Fatalf("expected api key from file")
	}
	if cfg.Dispatch.MaxDailyMessages != 10 || cfg.Dispatch.MessageDelay != 30*time.Second {
		t.Fatalf("expected dispatch overrides: %+v", cfg.Dispatch)
	}
	if len(cfg.Dispatch.Channels) != 1 || cfg.Dispatch.Channels[0] != "email" {
		t.Fatalf("expected email-only dispatch: %v", cfg.Dispatch.Channels)
	}
	if cfg.SMTP.Server != "smtp.example.com" || cfg.SMTP.Port != 587 {
		t.Fatalf("expected smtp overrides with default port: %+v", cfg.SMTP)
	}
	if !cfg.Sinks.Postgres.Enabled || cfg.Sinks.Postgres.Table != "leads" {
		t.Fatalf("expected postgres sink: %+v", cfg.Sinks.Postgres)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LEADCRAWLER_SMTP_PASSWORD", "from-env")
	t.Setenv("LEADCRAWLER_DISPATCH_MAX_DAILY_MESSAGES", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SMTP.Password != "from-env" {
		t.Fatalf("expected password from env, got %q", cfg.SMTP.Password)
	}
	if cfg.Dispatch.MaxDailyMessages != 7 {
		t.Fatalf("expected 7 daily messages, got %d", cfg.Dispatch.MaxDailyMessages)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "unknown checkpoint backend", mutate: func(c *Config) { c.Checkpoint.Backend = "redis" }, want: "checkpoint.backend"},
		{name: "no attempts", mutate: func(c *Config) { c.Crawl.Retry.MaxAttempts = 0 }, want: "crawl.retry.max_attempts"},
		{
			name:   "inverted pacing",
			mutate: func(c *Config) { c.Crawl.Pacing.UnitDelayMax = time.Second },
			want:   "unit_delay_max",
		},
		{name: "unknown driver", mutate: func(c *Config) { c.Navigator.Driver = "selenium" }, want: "navigator.driver"},
		{
			name:   "videos without key",
			mutate: func(c *Config) { c.Comments.Videos = []string{"dQw4w9WgXcQ"} },
			want:   "comments.api.api_key",
		},
		{name: "email without password", mutate: func(c *Config) { c.Posts.Email = "me@x.io" }, want: "posts.password"},
		{name: "unknown channel", mutate: func(c *Config) { c.Dispatch.Channels = []string{"fax"} }, want: "dispatch.channels"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Sinks.Postgres.Enabled = true }, want: "sinks.postgres.dsn"},
		{name: "pubsub without project", mutate: func(c *Config) { c.Sinks.PubSub.Enabled = true }, want: "sinks.pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.want)
			}
		})
	}
}
