package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/telemetry"
)

// JobProcessor is one unit of periodic background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker calls a JobProcessor on a fixed interval until stopped.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	runAtStart   bool
	logger       *zap.Logger
	stopChan     chan struct{}
	doneChan     chan struct{}
}

type Option func(*Worker)

// WithRunAtStart processes once immediately instead of waiting a full interval.
func WithRunAtStart() Option {
	return func(w *Worker) { w.runAtStart = true }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWorker(name string, processor JobProcessor, pollInterval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		logger:       zap.NewNop(),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("worker", name))
	return w
}

// Start blocks until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	w.logger.Info("worker started", zap.Duration("poll_interval", w.pollInterval))

	if w.runAtStart {
		w.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", zap.String("reason", "context cancelled"))
			return
		case <-w.stopChan:
			w.logger.Info("worker stopped", zap.String("reason", "stop signal"))
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	ctx, span := telemetry.StartTransaction(ctx, "worker."+w.name, "job")
	defer span.End()

	if err := w.processor.ProcessJobs(ctx); err != nil {
		span.SetError(err)
		w.logger.Warn("job run failed", zap.Error(err))
	}
}

// Stop signals the loop and waits for the current run to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}
