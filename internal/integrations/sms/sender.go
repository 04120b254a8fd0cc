// Package sms delivers outbound text messages.
package sms

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Sender delivers one text message to a phone number.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// LogSender writes messages to the log instead of a carrier.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, text string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("sms: recipient is required")
	}
	s.logger.InfoContext(ctx, "sms send", "to", to, "text", text, "chars", len([]rune(text)))
	return nil
}
