// Package config loads and validates lead crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/leadcrawler/internal/checkpoint"
	"github.com/JakeFAU/leadcrawler/internal/dispatch"
	"github.com/JakeFAU/leadcrawler/internal/messaging/dm"
	"github.com/JakeFAU/leadcrawler/internal/messaging/smtp"
	"github.com/JakeFAU/leadcrawler/internal/navigator/browser"
	"github.com/JakeFAU/leadcrawler/internal/navigator/static"
	"github.com/JakeFAU/leadcrawler/internal/orchestrator"
	"github.com/JakeFAU/leadcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/leadcrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/leadcrawler/internal/retry"
	"github.com/JakeFAU/leadcrawler/internal/source/comments"
	"github.com/JakeFAU/leadcrawler/internal/source/maps"
	"github.com/JakeFAU/leadcrawler/internal/source/posts"
	"github.com/JakeFAU/leadcrawler/internal/storage"
	"github.com/JakeFAU/leadcrawler/internal/store/postgres"
	"github.com/JakeFAU/leadcrawler/internal/youtube"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Artifacts  storage.Config   `mapstructure:"artifacts"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Navigator  NavigatorConfig  `mapstructure:"navigator"`
	Maps       MapsConfig       `mapstructure:"maps"`
	Comments   CommentsConfig   `mapstructure:"comments"`
	Posts      PostsConfig      `mapstructure:"posts"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	SMTP       smtp.Config      `mapstructure:"smtp"`
	DM         dm.Config        `mapstructure:"dm"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Checkpoint backends.
const (
	CheckpointFile   = "file"
	CheckpointBadger = "badger"
)

// CheckpointConfig selects where progress documents live.
type CheckpointConfig struct {
	Backend string                  `mapstructure:"backend"`
	File    checkpoint.FileConfig   `mapstructure:"file"`
	Badger  checkpoint.BadgerConfig `mapstructure:"badger"`
}

// CrawlConfig holds what every batch shares.
type CrawlConfig struct {
	// RunID overrides the run identity derived from the targets.
	RunID     string              `mapstructure:"run_id"`
	Retry     retry.Policy        `mapstructure:"retry"`
	Pacing    orchestrator.Config `mapstructure:"pacing"`
	RateLimit ratelimit.Config    `mapstructure:"rate_limit"`
}

// Navigator drivers.
const (
	DriverBrowser = "browser"
	DriverStatic  = "static"
)

// NavigatorConfig picks and tunes the page driver.
type NavigatorConfig struct {
	Driver  string         `mapstructure:"driver"`
	Browser browser.Config `mapstructure:"browser"`
	Static  static.Config  `mapstructure:"static"`
}

// MapsConfig lists search queries and how to crawl them.
type MapsConfig struct {
	Queries     []string `mapstructure:"queries"`
	maps.Config `mapstructure:",squash"`
}

// CommentsConfig lists videos and the comment API settings.
type CommentsConfig struct {
	Videos          []string       `mapstructure:"videos"`
	API             youtube.Config `mapstructure:"api"`
	comments.Config `mapstructure:",squash"`
}

// PostsConfig lists group feeds and the login settings.
type PostsConfig struct {
	Groups       []string `mapstructure:"groups"`
	posts.Config `mapstructure:",squash"`
}

// DispatchConfig controls outreach.
type DispatchConfig struct {
	MaxDailyMessages int      `mapstructure:"max_daily_messages"`
	Channels         []string `mapstructure:"channels"`
	dispatch.Config  `mapstructure:",squash"`
}

// SinksConfig enables downstream lead sinks.
type SinksConfig struct {
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	PubSub   PubSubSinkConfig   `mapstructure:"pubsub"`
	DryRun   DryRunSinkConfig   `mapstructure:"dry_run"`
}

// PostgresSinkConfig enables the SQL sink.
type PostgresSinkConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	postgres.Config `mapstructure:",squash"`
}

// PubSubSinkConfig enables the message bus sink.
type PubSubSinkConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
}

// DryRunSinkConfig enables a sink that builds lead events in memory and
// publishes nothing.
type DryRunSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)

	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.file.dir", "checkpoints")
	v.SetDefault("checkpoint.badger.dir", "checkpoints/badger")
	v.SetDefault("artifacts.backend", storage.BackendLocal)
	v.SetDefault("artifacts.prefix", "leads")
	v.SetDefault("artifacts.local.base_dir", "artifacts")

	v.SetDefault("crawl.retry.max_attempts", 3)
	v.SetDefault("crawl.retry.delay", 5*time.Second)
	v.SetDefault("crawl.retry.max_delay", 30*time.Second)
	v.SetDefault("crawl.retry.multiplier", 1)
	v.SetDefault("crawl.pacing.unit_delay_min", 2*time.Second)
	v.SetDefault("crawl.pacing.unit_delay_max", 4*time.Second)
	v.SetDefault("crawl.pacing.finalize_timeout", 30*time.Second)
	v.SetDefault("crawl.rate_limit.default_rps", 1.0)
	v.SetDefault("crawl.rate_limit.default_burst", 1)

	v.SetDefault("navigator.driver", DriverBrowser)
	v.SetDefault("navigator.browser.headless", true)
	v.SetDefault("navigator.browser.navigation_timeout", 45*time.Second)
	v.SetDefault("navigator.browser.action_timeout", 10*time.Second)
	v.SetDefault("navigator.browser.window_width", 1920)
	v.SetDefault("navigator.browser.window_height", 1080)
	v.SetDefault("navigator.static.user_agent", "leadcrawler/0.1")
	v.SetDefault("navigator.static.respect_robots", true)
	v.SetDefault("navigator.static.timeout", 30*time.Second)

	v.SetDefault("maps.base_url", "https://www.google.com/maps/search/")
	v.SetDefault("maps.max_scrolls", 20)
	v.SetDefault("maps.scroll_amount", 800)
	v.SetDefault("maps.scroll_pause", 2*time.Second)
	v.SetDefault("maps.wait_timeout", 10*time.Second)
	v.SetDefault("maps.click_retries", 3)
	v.SetDefault("maps.settle_delay", 3*time.Second)

	v.SetDefault("comments.max_comments", comments.DefaultMaxComments)
	v.SetDefault("comments.api.base_url", youtube.DefaultBaseURL)
	v.SetDefault("comments.api.timeout", 15*time.Second)
	v.SetDefault("comments.api.rps", 5.0)

	v.SetDefault("posts.login_url", "https://www.facebook.com")
	v.SetDefault("posts.scrolls", 5)
	v.SetDefault("posts.scroll_amount", 5000)
	v.SetDefault("posts.scroll_pause", 2*time.Second)
	v.SetDefault("posts.load_delay", 5*time.Second)
	v.SetDefault("posts.login_settle", 5*time.Second)
	v.SetDefault("posts.wait_timeout", 10*time.Second)

	v.SetDefault("dispatch.max_daily_messages", 50)
	v.SetDefault("dispatch.message_delay", time.Minute)
	v.SetDefault("dispatch.channels", []string{"email", "dm"})

	v.SetDefault("smtp.port", 587)
	v.SetDefault("dm.message_button", `div[aria-label="Message"]`)
	v.SetDefault("dm.input", `div[role="textbox"][contenteditable="true"]`)
	v.SetDefault("dm.send_button", `div[aria-label="Press enter to send"]`)
	v.SetDefault("dm.timeout", 10*time.Second)

	v.SetDefault("sinks.postgres.table", "leads")
	v.SetDefault("sinks.pubsub.topic", "leads")
	v.SetDefault("sinks.dry_run.topic", "leads")

	// Secrets have no default but must be known keys so the environment
	// can supply them.
	for _, key := range []string{
		"comments.api.api_key",
		"posts.email",
		"posts.password",
		"smtp.server",
		"smtp.username",
		"smtp.password",
		"smtp.from",
		"sinks.postgres.dsn",
		"sinks.pubsub.project_id",
	} {
		v.SetDefault(key, "")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Checkpoint.Backend {
	case CheckpointFile:
		if c.Checkpoint.File.Dir == "" {
			return fmt.Errorf("checkpoint.file.dir is required")
		}
	case CheckpointBadger:
		if c.Checkpoint.Badger.Dir == "" && !c.Checkpoint.Badger.InMemory {
			return fmt.Errorf("checkpoint.badger.dir is required unless in_memory is set")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be %q or %q", CheckpointFile, CheckpointBadger)
	}
	if c.Crawl.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.retry.max_attempts must be > 0")
	}
	if c.Crawl.Pacing.UnitDelayMax < c.Crawl.Pacing.UnitDelayMin {
		return fmt.Errorf("crawl.pacing.unit_delay_max must be >= unit_delay_min")
	}
	if c.Navigator.Driver != DriverBrowser && c.Navigator.Driver != DriverStatic {
		return fmt.Errorf("navigator.driver must be %q or %q", DriverBrowser, DriverStatic)
	}
	if len(c.Comments.Videos) > 0 && c.Comments.API.APIKey == "" {
		return fmt.Errorf("comments.api.api_key is required when comments.videos is set")
	}
	if c.Posts.Email != "" && c.Posts.Password == "" {
		return fmt.Errorf("posts.password must be set when posts.email is set")
	}
	if c.Dispatch.MaxDailyMessages < 0 {
		return fmt.Errorf("dispatch.max_daily_messages must be >= 0")
	}
	for _, ch := range c.Dispatch.Channels {
		if ch != "email" && ch != "dm" {
			return fmt.Errorf("dispatch.channels: unknown channel %q", ch)
		}
	}
	if c.Sinks.Postgres.Enabled && c.Sinks.Postgres.DSN == "" {
		return fmt.Errorf("sinks.postgres.dsn is required when the postgres sink is enabled")
	}
	if c.Sinks.PubSub.Enabled && c.Sinks.PubSub.ProjectID == "" {
		return fmt.Errorf("sinks.pubsub.project_id is required when the pubsub sink is enabled")
	}
	return nil
}
