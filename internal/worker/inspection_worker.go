package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/ayo6706/deal-escrow/internal/service"
	"go.uber.org/zap"
)

// TimeoutProcessor completes delivered deals whose inspection period elapsed.
type TimeoutProcessor interface {
	ProcessInspectionTimeouts(ctx context.Context, limit int) ([]*service.Result, error)
}

// InspectionWorker releases escrow for delivered deals the buyer neither
// confirmed nor disputed within the inspection period.
type InspectionWorker struct {
	processor  TimeoutProcessor
	dispatcher Dispatcher
	interval   time.Duration
	batchSize  int
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewInspectionWorker(processor TimeoutProcessor, dispatcher Dispatcher) *InspectionWorker {
	return &InspectionWorker{
		processor:  processor,
		dispatcher: dispatcher,
		interval:   time.Hour,
		batchSize:  50,
		stopCh:     make(chan struct{}),
	}
}

func (w *InspectionWorker) WithInterval(interval time.Duration) *InspectionWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *InspectionWorker) WithBatchSize(size int) *InspectionWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and checks for elapsed inspection periods at the configured interval.
func (w *InspectionWorker) Start(ctx context.Context) {
	zap.L().Info("inspection worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("inspection worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("inspection worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *InspectionWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *InspectionWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *InspectionWorker) runOnce(ctx context.Context) {
	results, err := w.processor.ProcessInspectionTimeouts(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("inspection_timeout", "failed")
		zap.L().Error("inspection timeout run failed", zap.Error(err))
		return
	}
	for _, res := range results {
		if w.dispatcher != nil {
			w.dispatcher.Dispatch(ctx, res.Intents)
		}
		zap.L().Info("escrow released after inspection period",
			zap.String("deal_id", res.Deal.DealID),
		)
	}
	observability.IncrementWorkerRun("inspection_timeout", "success")
}
