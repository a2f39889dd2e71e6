package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/ayo6706/deal-escrow/internal/service"
	"go.uber.org/zap"
)

// RetryProcessor charges failed payments whose retry came due.
type RetryProcessor interface {
	ProcessDueRetries(ctx context.Context, limit int) ([]*service.Result, error)
}

// Dispatcher delivers the notification intents of committed results.
type Dispatcher interface {
	Dispatch(ctx context.Context, intents []models.NotificationIntent)
}

// RetryWorker polls for payments with a due retry and charges them again.
// Several instances may run at once: each retry commits under the deal's
// version check, so a payment is moved back to pending by one worker only.
type RetryWorker struct {
	processor    RetryProcessor
	dispatcher   Dispatcher
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewRetryWorker(processor RetryProcessor, dispatcher Dispatcher) *RetryWorker {
	return &RetryWorker{
		processor:    processor,
		dispatcher:   dispatcher,
		pollInterval: 30 * time.Second,
		batchSize:    20,
		stopCh:       make(chan struct{}),
	}
}

func (w *RetryWorker) WithPollInterval(interval time.Duration) *RetryWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *RetryWorker) WithBatchSize(size int) *RetryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is cancelled.
func (w *RetryWorker) Start(ctx context.Context) {
	zap.L().Info("payment retry worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payment retry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("payment retry worker stop signal received")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("payment retry batch failed", zap.Error(err))
			}
		}
	}
}

func (w *RetryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *RetryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single batch immediately.
func (w *RetryWorker) ProcessOnce(ctx context.Context) error {
	results, err := w.processor.ProcessDueRetries(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("payment_retry", "failed")
		return err
	}
	for _, res := range results {
		if w.dispatcher != nil {
			w.dispatcher.Dispatch(ctx, res.Intents)
		}
	}
	observability.IncrementWorkerRun("payment_retry", "success")
	if len(results) > 0 {
		zap.L().Info("payment retries processed", zap.Int("count", len(results)))
	}
	return nil
}

func (w *RetryWorker) String() string {
	return fmt.Sprintf("RetryWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
