package bundlesync

import (
	"context"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"go.uber.org/zap"
)

// DefaultWebhookRetention keeps processed webhook events for a month
const DefaultWebhookRetention = 30 * 24 * time.Hour

// WebhookRetention purges processed webhook events past their retention.
// Unprocessed events are never purged.
type WebhookRetention struct {
	events    bundlesync.WebhookEventRepository
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewWebhookRetention creates a new WebhookRetention
func NewWebhookRetention(events bundlesync.WebhookEventRepository, retention time.Duration, logger *zap.Logger) *WebhookRetention {
	if retention <= 0 {
		retention = DefaultWebhookRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookRetention{events: events, retention: retention, logger: logger.Named("retention"), now: time.Now}
}

// Run deletes processed events received before now minus the retention
func (r *WebhookRetention) Run(ctx context.Context) error {
	cutoff := r.now().Add(-r.retention)
	n, err := r.events.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("Purged processed webhook events", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return nil
}
