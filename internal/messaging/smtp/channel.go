// Package smtp delivers outreach email through an SMTP relay.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/messaging"
)

// Config describes the relay and the message templates.
type Config struct {
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Sender   string `mapstructure:"sender"`
	Subject  string `mapstructure:"subject"`
	Body     string `mapstructure:"body"`
}

type sendFunc func(addr string, auth smtp.Auth, mail *email.Email) error

// Channel sends templated email to leads that have an address.
type Channel struct {
	cfg     Config
	addr    string
	subject *messaging.Template
	body    *messaging.Template
	send    sendFunc
	logger  *zap.Logger
}

// New validates cfg and parses its templates.
func New(cfg Config, logger *zap.Logger) (*Channel, error) {
	if cfg.Server == "" {
		return nil, errors.New("smtp server is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = messaging.DefaultEmailSubject
	}
	if cfg.Body == "" {
		cfg.Body = messaging.DefaultEmailBody
	}
	subject, err := messaging.Parse("subject", cfg.Subject)
	if err != nil {
		return nil, err
	}
	body, err := messaging.Parse("email", cfg.Body)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		subject: subject,
		body:    body,
		send:    func(addr string, auth smtp.Auth, mail *email.Email) error { return mail.Send(addr, auth) },
		logger:  logger,
	}, nil
}

// Name implements crawler.Channel.
func (c *Channel) Name() string { return "email" }

// Eligible reports whether lead has an email address.
func (c *Channel) Eligible(lead crawler.Lead) bool {
	return lead.Email != ""
}

// Send renders and delivers the message. Relays without AUTH support are
// retried unauthenticated.
func (c *Channel) Send(ctx context.Context, lead crawler.Lead) error {
	if err := ctx.Err(); err != nil {
		return c.fail(lead, err)
	}
	mail, err := c.compose(lead)
	if err != nil {
		return c.fail(lead, err)
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Server)
	}
	err = c.send(c.addr, auth, mail)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		c.logger.Debug("relay lacks AUTH, retrying unauthenticated", zap.String("server", c.cfg.Server))
		err = c.send(c.addr, nil, mail)
	}
	if err != nil {
		return c.fail(lead, fmt.Errorf("send mail: %w", err))
	}
	return nil
}

func (c *Channel) compose(lead crawler.Lead) (*email.Email, error) {
	data := messaging.DataFor(lead, c.cfg.Sender)
	subject, err := c.subject.Render(data)
	if err != nil {
		return nil, err
	}
	body, err := c.body.Render(data)
	if err != nil {
		return nil, err
	}
	mail := email.NewEmail()
	if c.cfg.Sender != "" {
		mail.From = fmt.Sprintf("%s <%s>", c.cfg.Sender, c.cfg.From)
	} else {
		mail.From = c.cfg.From
	}
	mail.To = []string{lead.Email}
	mail.Subject = strings.TrimSpace(subject)
	mail.Text = []byte(body)
	return mail, nil
}

func (c *Channel) fail(lead crawler.Lead, err error) error {
	return &crawler.DispatchError{Channel: c.Name(), Lead: lead.Name, Err: err}
}
