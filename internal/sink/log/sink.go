// Package log writes alerts to the structured log. It is useful during
// development or when no messaging backend is configured. Like every sink
// under internal/sink it satisfies beacon.MessageSink.
package log

import (
	"context"

	"go.uber.org/zap"
)

// Sink emits each message as one log entry.
type Sink struct {
	logger *zap.Logger
}

// New wires a Zap logger to the sink interface.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

// SendMessage logs text at info level. It never fails.
func (s *Sink) SendMessage(_ context.Context, text string) error {
	s.logger.Info("visitor alert", zap.String("text", text))
	return nil
}
