// Package dispatcher manages worker fan-out over the visit queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/queue/memory"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
	"github.com/JakeFAU/visitor-telemetry/internal/worker"
)

// DefaultDrainTimeout bounds how long Run keeps processing buffered items
// after its context ends.
const DefaultDrainTimeout = 10 * time.Second

const depthInterval = 5 * time.Second

// Queue is the bounded hand-off between handlers and workers.
type Queue interface {
	TryEnqueue(item beacon.QueueItem) error
	Len() int
	Close()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue        Queue
	workers      []*worker.Worker
	drainTimeout time.Duration
	logger       *zap.Logger
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker, drainTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:        queue,
		workers:      workers,
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

// Run starts all workers and blocks until the context finishes and the queue
// has drained or the drain timeout expires.
func (d *Dispatcher) Run(ctx context.Context) {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(workCtx)
		}(w)
	}

	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			telemetry.SetQueueDepth(d.queue.Len())
		}
	}

	d.queue.Close()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.drainTimeout):
		d.logger.Warn("drain timeout, abandoning queued visits", zap.Int("remaining", d.queue.Len()))
		cancelWork()
		<-done
	}
	telemetry.SetQueueDepth(0)
}

// Submit hands item to the pool without blocking. A full or closed queue
// drops the item and returns the reason.
func (d *Dispatcher) Submit(item beacon.QueueItem) error {
	err := d.queue.TryEnqueue(item)
	telemetry.SetQueueDepth(d.queue.Len())
	if err != nil {
		if errors.Is(err, memory.ErrQueueFull) {
			telemetry.ObserveDropped(telemetry.DropQueueFull)
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
