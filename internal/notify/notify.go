// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package notify announces the end of a run. Delivery is best effort:
// callers log a failed notification and carry on.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/pdiddy/foldeval/internal/secrets"
	"github.com/pdiddy/foldeval/pkg/types"
)

// implicitTLSPort is the submission port that expects TLS from the first
// byte.
const implicitTLSPort = 465

// Message is a completion announcement.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers one Message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes the message to the structured logger. It stands in
// when no mail server is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("run complete", "subject", msg.Subject, "body", msg.Body)
	return nil
}

// SMTPNotifier sends the message as a plain-text email.
type SMTPNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	// DialContext opens the TCP connection; nil uses a net.Dialer.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// TLSConfig overrides the TLS settings for implicit TLS and STARTTLS.
	TLSConfig *tls.Config

	// Now stamps the Date header; nil uses time.Now.
	Now func() time.Time
}

// New returns an SMTPNotifier when cfg names a mail server and a
// LogNotifier otherwise. The username falls back to the smtp-username
// secret; the password only ever comes from the smtp-password secret.
func New(cfg types.NotifyConfig, sec *secrets.Secrets, logger *slog.Logger) (Notifier, error) {
	if !cfg.Enabled() {
		return LogNotifier{Logger: logger}, nil
	}
	n := &SMTPNotifier{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.Username,
		From:     cfg.From,
		To:       cfg.To,
	}
	if n.Port == 0 {
		n.Port = implicitTLSPort
	}
	if n.Username == "" {
		n.Username, _ = sec.Get(secrets.SMTPUsername)
	}
	if n.Username != "" {
		pw, err := sec.Require(secrets.SMTPPassword)
		if err != nil {
			return nil, fmt.Errorf("smtp credentials: %w", err)
		}
		n.Password = pw
	}
	if n.From == "" {
		n.From = n.Username
	}
	if n.From == "" {
		return nil, errors.New("smtp notification needs a from address or username")
	}
	return n, nil
}

// Notify connects, authenticates when credentials are set, and sends msg
// to every recipient.
func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	m, err := n.message(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(n.Host, n.options()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	addr := net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if err := client.Send(m); err != nil {
		client.Close()
		return fmt.Errorf("sending to %s: %w", strings.Join(n.To, ", "), err)
	}
	return client.Close()
}

func (n *SMTPNotifier) options() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.Port),
		mail.WithTLSConfig(n.tlsConfig()),
	}
	if n.Port == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if n.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.Username),
			mail.WithPassword(n.Password),
		)
	}
	if n.DialContext != nil {
		opts = append(opts, mail.WithDialContextFunc(n.DialContext))
	}
	return opts
}

func (n *SMTPNotifier) tlsConfig() *tls.Config {
	if n.TLSConfig != nil {
		return n.TLSConfig
	}
	return &tls.Config{ServerName: n.Host, MinVersion: tls.VersionTLS12}
}

func (n *SMTPNotifier) message(msg Message) (*mail.Msg, error) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	m := mail.NewMsg()
	if err := m.From(n.From); err != nil {
		return nil, fmt.Errorf("from address %q: %w", n.From, err)
	}
	if err := m.To(n.To...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(now())
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
