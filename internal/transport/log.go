package transport

import (
	"context"

	logx "skillswap/pkg/logx"
)

// LogSender "delivers" by logging. It is the default when no messaging
// channel is configured.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log.With(logx.String("comp", "sender.log"))}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, userID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("notification", logx.String("user", userID), logx.String("text", text))
	return nil
}
