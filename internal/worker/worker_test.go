package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   int
	limits  []int
	results []*service.Result
	err     error
}

func (f *fakeProcessor) record(limit int) ([]*service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limits = append(f.limits, limit)
	return f.results, f.err
}

func (f *fakeProcessor) ProcessDueRetries(_ context.Context, limit int) ([]*service.Result, error) {
	return f.record(limit)
}

func (f *fakeProcessor) ProcessInspectionTimeouts(_ context.Context, limit int) ([]*service.Result, error) {
	return f.record(limit)
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDispatcher struct {
	mu        sync.Mutex
	templates []string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, intents []models.NotificationIntent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, i := range intents {
		d.templates = append(d.templates, i.Template)
	}
}

func result(dealID string, templates ...string) *service.Result {
	res := &service.Result{Deal: &models.Deal{DealID: dealID}}
	for _, tpl := range templates {
		res.Intents = append(res.Intents, models.NotificationIntent{DealID: dealID, Template: tpl})
	}
	return res
}

func TestRetryWorkerProcessOnceDispatchesIntents(t *testing.T) {
	proc := &fakeProcessor{results: []*service.Result{
		result("DEAL00000001", models.TemplatePaymentCaptured, models.TemplatePaymentCaptured),
		result("DEAL00000002", models.TemplatePaymentFailed),
	}}
	disp := &fakeDispatcher{}
	w := NewRetryWorker(proc, disp).WithBatchSize(5)

	require.NoError(t, w.ProcessOnce(context.Background()))
	assert.Equal(t, []int{5}, proc.limits)
	assert.Equal(t, []string{
		models.TemplatePaymentCaptured,
		models.TemplatePaymentCaptured,
		models.TemplatePaymentFailed,
	}, disp.templates)
}

func TestRetryWorkerProcessOnceReturnsErrors(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("store unavailable")}
	w := NewRetryWorker(proc, nil)
	require.Error(t, w.ProcessOnce(context.Background()))
}

func TestRetryWorkerPollsUntilStopped(t *testing.T) {
	proc := &fakeProcessor{}
	w := NewRetryWorker(proc, nil).WithPollInterval(10 * time.Millisecond)

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool { return proc.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	stop()
	stop()

	settled := proc.callCount()
	time.Sleep(40 * time.Millisecond)
	assert.LessOrEqual(t, proc.callCount(), settled+1)
	assert.Contains(t, w.String(), "batch=20")
}

func TestInspectionWorkerRunsAtStartup(t *testing.T) {
	proc := &fakeProcessor{results: []*service.Result{
		result("DEAL00000003", models.TemplateDealCompleted, models.TemplateFundsReleased),
	}}
	disp := &fakeDispatcher{}
	w := NewInspectionWorker(proc, disp).WithInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	assert.Equal(t, []string{models.TemplateDealCompleted, models.TemplateFundsReleased}, disp.templates)
	assert.Equal(t, []int{50}, proc.limits)
}
