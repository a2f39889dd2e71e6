package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/stretchr/testify/assert"
)

type recordingNotifier struct {
	sent []models.NotificationIntent
	fail map[string]bool
}

func (r *recordingNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	if r.fail[intent.Template] {
		return errors.New("smtp unavailable")
	}
	r.sent = append(r.sent, intent)
	return nil
}

func TestDispatcherIsBestEffort(t *testing.T) {
	n := &recordingNotifier{fail: map[string]bool{models.TemplateDealAccepted: true}}
	d := NewDispatcher(n)

	d.Dispatch(context.Background(), []models.NotificationIntent{
		{Recipient: buyerID, Template: models.TemplateDealAccepted, DealID: "DEAL00000001"},
		{Recipient: sellerID, Template: models.TemplateDealFullyAccepted, DealID: "DEAL00000001"},
	})

	assert.Len(t, n.sent, 1)
	assert.Equal(t, models.TemplateDealFullyAccepted, n.sent[0].Template)
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), []models.NotificationIntent{{Template: models.TemplateDealCreated}})
	})
	assert.NotPanics(t, func() {
		NewDispatcher(nil).Dispatch(context.Background(), nil)
	})
}
