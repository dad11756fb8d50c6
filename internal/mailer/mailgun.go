package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

type MailgunConfig struct {
	Domain string
	APIKey string

	// Override API address, EU region or tests
	// If not set than client's default is used
	APIBase string
}

type MailgunSender struct {
	from string
	mg   *mailgun.MailgunImpl
}

func NewMailgunSender(from string, cfg MailgunConfig) (*MailgunSender, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, errors.New("invalid mailgun configuration: domain and api key required")
	}

	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}

	return &MailgunSender{from: from, mg: mg}, nil
}

func (s *MailgunSender) Send(ctx context.Context, msg Message) error {
	m := s.mg.NewMessage(s.from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		m.SetHtml(msg.HTML)
	}

	_, _, err := s.mg.Send(ctx, m)
	if err != nil {
		return fmt.Errorf("mailgun send failed. Err: %w", err)
	}

	return nil
}
