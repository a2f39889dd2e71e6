package service

import (
	"context"

	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/observability"
	"go.uber.org/zap"
)

// Notifier delivers one notification intent.
type Notifier interface {
	Notify(ctx context.Context, intent models.NotificationIntent) error
}

// Dispatcher delivers intents after their transition committed. Delivery is
// best-effort: failures are logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
}

func NewDispatcher(notifier Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier}
}

func (d *Dispatcher) Dispatch(ctx context.Context, intents []models.NotificationIntent) {
	if d == nil || d.notifier == nil {
		return
	}
	for _, intent := range intents {
		if err := d.notifier.Notify(ctx, intent); err != nil {
			observability.IncrementNotification(intent.Template, "failed")
			zap.L().Warn("notification dispatch failed",
				zap.String("deal_id", intent.DealID),
				zap.String("recipient", intent.Recipient),
				zap.String("template", intent.Template),
				zap.Error(err),
			)
			continue
		}
		observability.IncrementNotification(intent.Template, "sent")
	}
}
