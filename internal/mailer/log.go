package mailer

import (
	"context"

	"github.com/askibill/askibill/internal/logger"
)

// Development sender which logs that a message was due instead of delivering it.
// Only recipient and subject are logged: the body may carry reset links.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(l logger.Logger) *LogSender {
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	return &LogSender{logger: l.With("component", "mailer")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Info("Email not delivered, log provider used", "to", msg.To, "subject", msg.Subject)
	return nil
}
