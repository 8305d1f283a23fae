// Package worker runs the background half of the visit pipeline: enrich,
// persist, then notify subject to the notification cooldown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/queue/memory"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
)

// Source yields queued submissions.
type Source interface {
	Dequeue(ctx context.Context) (beacon.QueueItem, error)
}

// Enricher turns a submission into an event.
type Enricher interface {
	Enrich(ctx context.Context, sub beacon.Submission) beacon.Event
}

// Limiter is the per-address notification cooldown.
type Limiter interface {
	Allow(key string, now time.Time) bool
}

// Notifier delivers the alert for an event.
type Notifier interface {
	Notify(ctx context.Context, evt beacon.Event) error
}

// Config controls Worker behavior.
type Config struct {
	PersistTimeout time.Duration
	NotifyTimeout  time.Duration
}

// Worker consumes queue items and executes the pipeline.
type Worker struct {
	queue    Source
	enricher Enricher
	store    beacon.RecordStore
	limiter  Limiter
	notifier Notifier
	clock    beacon.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue Source,
	enricher Enricher,
	store beacon.RecordStore,
	limiter Limiter,
	notifier Notifier,
	clock beacon.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Worker{
		queue:    queue,
		enricher: enricher,
		store:    store,
		limiter:  limiter,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the queue closes or the context
// finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, item)
	}
}

// Process handles one submission. Failures are logged and counted; nothing is
// returned because nobody is waiting on the outcome.
func (w *Worker) Process(ctx context.Context, item beacon.QueueItem) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			telemetry.ObserveDropped(telemetry.DropPanic)
			w.logger.Error("worker panic", zap.Any("panic", r), zap.String("request_id", item.Submission.RequestID))
		}
	}()

	ctx, span := otel.Tracer("worker").Start(ctx, "visit.process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	evt := w.enricher.Enrich(ctx, item.Submission)
	span.SetAttributes(
		attribute.String("client.address", evt.SourceAddress),
		attribute.String("visit.request_id", evt.RequestID),
	)
	if evt.Resolved != nil {
		span.SetAttributes(attribute.String("visit.location_source", string(evt.Resolved.Source)))
	}

	if id, err := w.persist(ctx, evt); err != nil {
		telemetry.ObservePersist("failure")
		w.logger.Warn("persist event failed", zap.String("request_id", evt.RequestID), zap.Error(err))
	} else {
		telemetry.ObservePersist("success")
		evt.ID = id
	}

	if w.limiter != nil && !w.limiter.Allow(evt.SourceAddress, w.clock.Now()) {
		telemetry.ObserveNotification("suppressed")
		w.logger.Debug("notification suppressed", zap.String("address", evt.SourceAddress))
		return
	}
	if w.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, w.cfg.NotifyTimeout)
	defer cancel()
	// Notifier records its own outcome.
	_ = w.notifier.Notify(nctx, evt)

	w.logger.Debug("processed visit",
		zap.String("request_id", evt.RequestID),
		zap.Duration("queued_for", w.clock.Now().Sub(item.Enqueued)))
}

func (w *Worker) persist(ctx context.Context, evt beacon.Event) (string, error) {
	if w.store == nil {
		return "", errors.New("no record store configured")
	}
	pctx, cancel := context.WithTimeout(ctx, w.cfg.PersistTimeout)
	defer cancel()
	id, err := w.store.Insert(pctx, evt)
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	return id, nil
}
