package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/askibill/askibill/internal/logger"
)

const (
	ProviderSMTP     = "smtp"
	ProviderMailgun  = "mailgun"
	ProviderSendGrid = "sendgrid"
	ProviderLog      = "log"
)

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers single message
// Implementations must honor ctx deadline and must not retry
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	// One of smtp, mailgun, sendgrid or log
	Provider string

	// Sender address for every provider
	From string

	SMTP     SMTPConfig
	Mailgun  MailgunConfig
	SendGrid SendGridConfig
}

// Create sender for configured provider
func New(cfg Config, l logger.Logger) (Sender, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderLog
	}

	if cfg.From == "" && provider != ProviderLog {
		return nil, errors.New("mail sender address must be set")
	}

	switch provider {
	case ProviderSMTP:
		return NewSMTPSender(cfg.From, cfg.SMTP)
	case ProviderMailgun:
		return NewMailgunSender(cfg.From, cfg.Mailgun)
	case ProviderSendGrid:
		return NewSendGridSender(cfg.From, cfg.SendGrid)
	case ProviderLog:
		return NewLogSender(l), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// Build password reset email with the link valid for ttl
func PasswordResetMessage(to string, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Text: fmt.Sprintf(
			"We received a request to reset your password.\n\n"+
				"Open the link below to choose a new one:\n%s\n\n"+
				"The link expires in %s. If you didn't ask to reset your password, ignore this email.\n",
			link, ttl,
		),
		HTML: fmt.Sprintf(
			"<p>We received a request to reset your password.</p>"+
				"<p><a href=\"%s\">Choose a new password</a></p>"+
				"<p>The link expires in %s. If you didn't ask to reset your password, ignore this email.</p>",
			link, ttl,
		),
	}
}
