// Package mail renders and delivers transactional email through the outbox.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	gomail "github.com/wneessen/go-mail"

	"aurum/api/internal/config"
)

// Message is a rendered email. Inline images are referenced from HTML as
// cid:<Name>.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	Inline  []Inline
}

type Inline struct {
	Name string
	Data []byte
}

type Mailer interface {
	Send(ctx context.Context, m *Message) error
}

// SMTPMailer sends through an SMTP relay, retrying transient failures with
// exponential backoff.
type SMTPMailer struct {
	client   *gomail.Client
	from     string
	maxTries uint
}

func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = "orders@aurum.local"
	}
	return &SMTPMailer{client: client, from: from, maxTries: 3}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, m *Message) error {
	msg, err := s.build(m)
	if err != nil {
		return err
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.client.DialAndSendWithContext(ctx, msg)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(time.Minute),
	)
	return err
}

func (s *SMTPMailer) build(m *Message) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("to %q: %w", m.To, err)
	}
	if m.ReplyTo != "" {
		if err := msg.ReplyTo(m.ReplyTo); err != nil {
			return nil, fmt.Errorf("reply-to %q: %w", m.ReplyTo, err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)
	}
	for _, in := range m.Inline {
		if err := msg.EmbedReader(in.Name, bytes.NewReader(in.Data)); err != nil {
			return nil, fmt.Errorf("embed %s: %w", in.Name, err)
		}
	}
	return msg, nil
}

// LogMailer stands in when no SMTP relay is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, m *Message) error {
	if m.To == "" {
		return errors.New("message has no recipient")
	}
	log.Info().Str("to", m.To).Str("subject", m.Subject).Msg("smtp not configured, email logged only")
	return nil
}
