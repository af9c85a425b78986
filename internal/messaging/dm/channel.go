// Package dm delivers direct messages by driving a logged-in browser session.
package dm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/messaging"
)

// Config holds the page locators and the message template.
type Config struct {
	MessageButton string        `mapstructure:"message_button"`
	Input         string        `mapstructure:"input"`
	SendButton    string        `mapstructure:"send_button"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Sender        string        `mapstructure:"sender"`
	Body          string        `mapstructure:"body"`
}

// DefaultConfig returns locators for a typical social profile page.
func DefaultConfig() Config {
	return Config{
		MessageButton: `div[aria-label="Message"]`,
		Input:         `div[role="textbox"][contenteditable="true"]`,
		SendButton:    `div[aria-label="Press enter to send"]`,
		Timeout:       10 * time.Second,
		Body:          messaging.DefaultDMBody,
	}
}

// Channel opens each lead's profile and sends a message through it.
// Sends are serialized because the navigator is a single tab.
type Channel struct {
	mu     sync.Mutex
	nav    crawler.Navigator
	cfg    Config
	body   *messaging.Template
	logger *zap.Logger
}

// New builds a Channel over nav, which must already be logged in.
func New(nav crawler.Navigator, cfg Config, logger *zap.Logger) (*Channel, error) {
	if nav == nil {
		return nil, errors.New("dm channel requires a navigator")
	}
	def := DefaultConfig()
	if cfg.MessageButton == "" {
		cfg.MessageButton = def.MessageButton
	}
	if cfg.Input == "" {
		cfg.Input = def.Input
	}
	if cfg.SendButton == "" {
		cfg.SendButton = def.SendButton
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Body == "" {
		cfg.Body = def.Body
	}
	body, err := messaging.Parse("dm", cfg.Body)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{nav: nav, cfg: cfg, body: body, logger: logger}, nil
}

// Name implements crawler.Channel.
func (c *Channel) Name() string { return "dm" }

// Eligible reports whether lead has a profile to message.
func (c *Channel) Eligible(lead crawler.Lead) bool {
	return lead.ProfileURL != ""
}

// Send implements crawler.Channel.
func (c *Channel) Send(ctx context.Context, lead crawler.Lead) error {
	text, err := c.body.Render(messaging.DataFor(lead, c.cfg.Sender))
	if err != nil {
		return c.fail(lead, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	steps := []func() error{
		func() error { return c.nav.Open(ctx, lead.ProfileURL) },
		func() error { return c.nav.WaitFor(ctx, crawler.Select(c.cfg.MessageButton), c.cfg.Timeout) },
		func() error { return c.nav.Click(ctx, crawler.Select(c.cfg.MessageButton)) },
		func() error { return c.nav.WaitFor(ctx, crawler.Select(c.cfg.Input), c.cfg.Timeout) },
		func() error { return c.nav.Type(ctx, crawler.Select(c.cfg.Input), text) },
		func() error { return c.nav.Click(ctx, crawler.Select(c.cfg.SendButton)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return c.fail(lead, err)
		}
	}
	c.logger.Debug("direct message sent", zap.String("profile_url", lead.ProfileURL))
	return nil
}

// Close releases the navigator.
func (c *Channel) Close() error {
	if err := c.nav.Close(); err != nil {
		return fmt.Errorf("close dm navigator: %w", err)
	}
	return nil
}

func (c *Channel) fail(lead crawler.Lead, err error) error {
	return &crawler.DispatchError{Channel: c.Name(), Lead: lead.Name, Err: err}
}
