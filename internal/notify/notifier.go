package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
)

// Notifier formats events and delivers them to a sink.
type Notifier struct {
	sink     beacon.MessageSink
	location *time.Location
	timeout  time.Duration
	logger   *zap.Logger
}

// NewNotifier creates a Notifier. A zero timeout leaves the caller's deadline
// in charge.
func NewNotifier(sink beacon.MessageSink, location *time.Location, timeout time.Duration, logger *zap.Logger) *Notifier {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sink: sink, location: location, timeout: timeout, logger: logger}
}

// Notify sends the alert for evt. Errors are counted and logged here and
// returned for callers that want them; the pipeline discards them.
func (n *Notifier) Notify(ctx context.Context, evt beacon.Event) error {
	return n.send(ctx, Format(evt, n.location), zap.String("request_id", evt.RequestID))
}

// Announce sends the startup message.
func (n *Notifier) Announce(ctx context.Context, now time.Time, service string) error {
	text := fmt.Sprintf("✅ <b>%s started</b>\n🕒 Time: %s", esc(service), now.In(n.location).Format(timeLayout))
	return n.send(ctx, text, zap.String("kind", "startup"))
}

func (n *Notifier) send(ctx context.Context, text string, fields ...zap.Field) error {
	if n.sink == nil {
		telemetry.ObserveNotification("skipped")
		return nil
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := n.sink.SendMessage(ctx, text); err != nil {
		telemetry.ObserveNotification("failure")
		n.logger.Warn("notification failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("send notification: %w", err)
	}
	telemetry.ObserveNotification("success")
	return nil
}
