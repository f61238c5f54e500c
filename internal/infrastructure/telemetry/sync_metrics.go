package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
)

// Webhook delivery outcomes recorded by SyncMetrics.WebhookReceived
const (
	WebhookAdmitted     = "admitted"
	WebhookDuplicate    = "duplicate"
	WebhookRejected     = "rejected"
	WebhookMalformed    = "malformed"
	WebhookUnknownTopic = "unknown_topic"
	WebhookHandlerError = "handler_error"
)

// SyncMetrics holds the sync engine instruments. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	webhooks        *Counter
	transitions     *Counter
	publishSteps    *Counter
	publishDuration *Histogram
	pollAttempts    *Counter
	catalogChecks   *Counter
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	var (
		m   SyncMetrics
		err error
	)
	if m.webhooks, err = NewCounter(meter, "sync_webhook_deliveries_total",
		"Webhook deliveries by topic and outcome", "{delivery}"); err != nil {
		return nil, err
	}
	if m.transitions, err = NewCounter(meter, "sync_status_transitions_total",
		"Sync record status transitions", "{transition}"); err != nil {
		return nil, err
	}
	if m.publishSteps, err = NewCounter(meter, "sync_publish_steps_total",
		"Publisher steps by step and result", "{step}"); err != nil {
		return nil, err
	}
	if m.publishDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sync_publish_step_duration_seconds",
		Description: "Publisher step latency",
		Unit:        "s",
		Boundaries:  PublishDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.pollAttempts, err = NewCounter(meter, "sync_publish_poll_attempts_total",
		"Operation status polls that found the operation still running", "{poll}"); err != nil {
		return nil, err
	}
	if m.catalogChecks, err = NewCounter(meter, "sync_catalog_checks_total",
		"Catalog reconciliation results per bundle", "{bundle}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// WebhookReceived counts one delivery
func (m *SyncMetrics) WebhookReceived(ctx context.Context, topic bundlesync.Topic, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.Inc(ctx, AttrWebhookTopic.String(string(topic)), AttrWebhookOutcome.String(outcome))
}

// Transition counts a status change of a sync record
func (m *SyncMetrics) Transition(ctx context.Context, from, to bundlesync.SyncStatus, cause bundlesync.TransitionCause) {
	if m == nil {
		return
	}
	m.transitions.Inc(ctx,
		AttrSyncFrom.String(string(from)),
		AttrSyncTo.String(string(to)),
		AttrSyncCause.String(string(cause)),
	)
}

// PublishStep records the result and latency of one publisher step
func (m *SyncMetrics) PublishStep(ctx context.Context, step bundlesync.OperationStep, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.publishSteps.Inc(ctx, AttrPublisherStep.String(string(step)), AttrResult.String(result))
	m.publishDuration.RecordDuration(ctx, d, AttrPublisherStep.String(string(step)))
}

// PollAttempt counts a poll that found the platform operation still running
func (m *SyncMetrics) PollAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollAttempts.Inc(ctx)
}

// CatalogCheck counts one per-bundle catalog reconciliation result
func (m *SyncMetrics) CatalogCheck(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.catalogChecks.Inc(ctx, AttrResult.String(result))
}
