// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/holomush/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.Notifier = (*LogNotifier)(nil)

// LogNotifier writes messages to the log instead of sending them. It exists
// for development, where the message text (including any code) must be
// readable from the console.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger selects slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send implements auth.Notifier.
func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.InfoContext(ctx, "email not sent (development)",
		"to", to,
		"subject", subject,
		"message", body,
	)
	return nil
}
