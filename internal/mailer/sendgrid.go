package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendgridEndpoint = "/v3/mail/send"

type SendGridConfig struct {
	APIKey string

	// Override API host, used in tests
	// If not set than client's default is used
	APIBase string
}

type SendGridSender struct {
	from   *mail.Email
	client *sendgrid.Client
}

func NewSendGridSender(from string, cfg SendGridConfig) (*SendGridSender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("invalid sendgrid configuration: api key required")
	}

	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.APIBase != "" {
		client.BaseURL = strings.TrimRight(cfg.APIBase, "/") + sendgridEndpoint
	}

	return &SendGridSender{from: mail.NewEmail("", from), client: client}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail("", msg.To), msg.Text, msg.HTML)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed. Err: %w", err)
	}

	// Accepted messages get 202, anything outside 2xx is a rejection
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("sendgrid rejected message, status code: %d, body: %s", response.StatusCode, response.Body)
	}

	return nil
}
