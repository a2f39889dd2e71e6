// Package notify delivers notification intents produced by escrow transitions.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel intents are published on.
const DefaultChannel = "escrow:notifications"

// LogNotifier writes intents to the structured log. It backs local and
// in-memory deployments where no delivery channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.L()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	n.logger.Info("notification",
		zap.String("recipient", intent.Recipient),
		zap.String("template", intent.Template),
		zap.String("deal_id", intent.DealID),
		zap.String("payment_id", intent.PaymentID),
		zap.Any("data", intent.Data),
	)
	return nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes intents as JSON for a downstream delivery service.
type RedisNotifier struct {
	client  publisher
	channel string
	timeout time.Duration
}

func NewRedisNotifier(client redis.Cmdable, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel, timeout: 2 * time.Second}
}

type envelope struct {
	models.NotificationIntent
	SentAt time.Time `json:"sent_at"`
}

func (n *RedisNotifier) Notify(ctx context.Context, intent models.NotificationIntent) error {
	payload, err := json.Marshal(envelope{NotificationIntent: intent, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
