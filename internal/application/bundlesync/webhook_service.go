package bundlesync

import (
	"context"
	"fmt"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultWebhookProcessTimeout bounds dispatch of one admitted delivery
const DefaultWebhookProcessTimeout = 30 * time.Second

// WebhookRequest is one inbound delivery as received by the HTTP layer
type WebhookRequest struct {
	Body      []byte
	Signature string
	Topic     string
	EventID   string
	RemoteIP  string
	Headers   map[string]string
}

// WebhookResult is the acknowledgement returned to the platform
type WebhookResult struct {
	DedupeKey string `json:"dedupe_key"`
	Topic     string `json:"topic"`
	Duplicate bool   `json:"duplicate"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
}

// WebhookService authenticates, deduplicates and dispatches commerce webhooks
type WebhookService struct {
	verifier  SignatureVerifier
	events    bundlesync.WebhookEventRepository
	records   bundlesync.SyncRecordRepository
	bundles   bundlesync.BundleRepository
	commerce  bundlesync.CommerceRepository
	orch      *Orchestrator
	dedupe    shared.IdempotencyStore
	dedupeTTL time.Duration
	timeout   time.Duration
	archive   DeliveryArchive
	detector  bundlesync.ConflictDetector
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// WebhookServiceConfig contains the dependencies of a WebhookService
type WebhookServiceConfig struct {
	Verifier     SignatureVerifier
	Events       bundlesync.WebhookEventRepository
	Records      bundlesync.SyncRecordRepository
	Bundles      bundlesync.BundleRepository
	Commerce     bundlesync.CommerceRepository
	Orchestrator *Orchestrator
	// Dedupe is the optional fast path in front of the unique dedupe key
	Dedupe    shared.IdempotencyStore
	DedupeTTL time.Duration
	// ProcessTimeout bounds dispatch after admission. It is also how long an
	// unfinished row stays claimed before a redelivery may take it over.
	ProcessTimeout time.Duration
	// Archive optionally keeps raw deliveries
	Archive           DeliveryArchive
	SuppressionWindow time.Duration
	Metrics           *telemetry.SyncMetrics
	Logger            *zap.Logger
	Now               func() time.Time
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = shared.DefaultIdempotencyConfig().TTL
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultWebhookProcessTimeout
	}
	return &WebhookService{
		verifier:  cfg.Verifier,
		events:    cfg.Events,
		records:   cfg.Records,
		bundles:   cfg.Bundles,
		commerce:  cfg.Commerce,
		orch:      cfg.Orchestrator,
		dedupe:    cfg.Dedupe,
		dedupeTTL: cfg.DedupeTTL,
		timeout:   cfg.ProcessTimeout,
		archive:   cfg.Archive,
		detector:  bundlesync.NewConflictDetector(cfg.SuppressionWindow),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.Named("webhook"),
		now:       cfg.Now,
	}
}

// Ingest processes one delivery.
//
// Returned errors are ErrSignatureMissing/ErrSignatureInvalid (reject with 401),
// ErrMalformedPayload (400) or a storage failure. Handler failures are not
// returned: they are kept on the event row and the delivery is acknowledged.
func (s *WebhookService) Ingest(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	receivedAt := s.now()
	log := logger.WithLogger(ctx, s.logger)

	if err := s.verifier.Verify(req.Body, req.Signature); err != nil {
		log.Warn("Rejected webhook with bad signature",
			zap.String("remote_ip", req.RemoteIP),
			zap.String("topic", req.Topic),
			zap.Int("size", len(req.Body)),
			zap.Error(err))
		s.metrics.WebhookReceived(ctx, bundlesync.Topic(req.Topic), telemetry.WebhookRejected)
		s.archiveDelivery(ctx, DeliveryRejected, req, "", receivedAt)
		return nil, err
	}

	env, err := ParseEnvelope(req.Body, req.Topic, req.EventID)
	if err != nil {
		s.metrics.WebhookReceived(ctx, bundlesync.Topic(req.Topic), telemetry.WebhookMalformed)
		return nil, err
	}
	key := env.DedupeKey()
	result := &WebhookResult{DedupeKey: key, Topic: string(env.Topic)}
	log = log.With(zap.String("topic", string(env.Topic)), zap.String("dedupe_key", key))

	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "ingest",
		telemetry.WithAttribute(telemetry.SpanAttrWebhookTopic, string(env.Topic)),
		telemetry.WithAttribute(telemetry.SpanAttrDedupeKey, key))
	defer span.End()

	// Malformed payloads never reach the table, so a corrected redelivery is still admitted.
	var payload any
	if env.Topic.IsKnown() {
		if payload, err = DecodePayload(env.Topic, req.Body); err != nil {
			log.Warn("Rejected malformed webhook", zap.Error(err))
			s.metrics.WebhookReceived(ctx, env.Topic, telemetry.WebhookMalformed)
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if s.seen(ctx, key) {
		result.Duplicate = true
		s.metrics.WebhookReceived(ctx, env.Topic, telemetry.WebhookDuplicate)
		log.Debug("Duplicate webhook skipped by fast path")
		return result, nil
	}

	event := bundlesync.NewWebhookEvent(env, req.Body, receivedAt)
	admitted, err := s.admit(ctx, event)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !admitted {
		result.Duplicate = true
		s.metrics.WebhookReceived(ctx, env.Topic, telemetry.WebhookDuplicate)
		log.Info("Duplicate webhook skipped")
		return result, nil
	}
	s.archiveDelivery(ctx, DeliveryAdmitted, req, key, receivedAt)

	// The row is committed: finish even if the platform hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if payload == nil {
		log.Warn("Webhook topic not handled, recorded for audit")
		event.MarkProcessed(nil, s.now())
		s.finish(ctx, event)
		s.metrics.WebhookReceived(ctx, env.Topic, telemetry.WebhookUnknownTopic)
		result.Message = "topic not handled"
		return result, nil
	}

	handleErr := s.dispatch(ctx, env.Topic, payload, receivedAt)
	event.MarkProcessed(handleErr, s.now())
	s.finish(ctx, event)
	if handleErr != nil {
		log.Error("Webhook handler failed", zap.Error(handleErr))
		telemetry.RecordError(span, handleErr)
		s.metrics.WebhookReceived(ctx, env.Topic, telemetry.WebhookHandlerError)
		result.Message = handleErr.Error()
		return result, nil
	}
	s.metrics.WebhookReceived(ctx, env.Topic, telemetry.WebhookAdmitted)
	result.Processed = true
	log.Info("Webhook processed")
	return result, nil
}

// admit inserts the event row, or takes over the row of an earlier delivery
// of the same key that failed or was abandoned mid-dispatch.
func (s *WebhookService) admit(ctx context.Context, event *bundlesync.WebhookEvent) (bool, error) {
	inserted, err := s.events.Insert(ctx, event)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	if inserted {
		return true, nil
	}
	reclaimed, err := s.events.Reclaim(ctx, event, event.ReceivedAt.Add(-s.timeout))
	if err != nil {
		return false, fmt.Errorf("reclaim webhook event: %w", err)
	}
	if reclaimed {
		logger.WithLogger(ctx, s.logger).Info("Redelivery re-admitted unfinished webhook",
			zap.String("dedupe_key", event.DedupeKey))
	}
	return reclaimed, nil
}

// seen consults the fast path; an unavailable store falls through to the database key
func (s *WebhookService) seen(ctx context.Context, key string) bool {
	if s.dedupe == nil {
		return false
	}
	ok, err := s.dedupe.IsProcessed(ctx, key)
	if err != nil {
		s.logger.Warn("Dedupe fast path unavailable", zap.Error(err))
		return false
	}
	return ok
}

func (s *WebhookService) remember(ctx context.Context, key string) {
	if s.dedupe == nil {
		return
	}
	if _, err := s.dedupe.MarkProcessed(ctx, key, s.dedupeTTL); err != nil {
		s.logger.Warn("Failed to remember dedupe key", zap.String("dedupe_key", key), zap.Error(err))
	}
}

// finish stores the outcome. Only a clean, stored outcome reaches the fast
// path, so failed deliveries stay open to redelivery.
func (s *WebhookService) finish(ctx context.Context, event *bundlesync.WebhookEvent) {
	if err := s.events.MarkProcessed(ctx, event); err != nil {
		s.logger.Error("Failed to store webhook outcome",
			zap.String("dedupe_key", event.DedupeKey),
			zap.Error(err))
		return
	}
	if event.ProcessingError == "" {
		s.remember(ctx, event.DedupeKey)
	}
}

func (s *WebhookService) archiveDelivery(ctx context.Context, kind DeliveryKind, req WebhookRequest, key string, at time.Time) {
	if s.archive == nil {
		return
	}
	err := s.archive.Archive(ctx, Delivery{
		Kind:       kind,
		Topic:      req.Topic,
		DedupeKey:  key,
		RemoteIP:   req.RemoteIP,
		Headers:    req.Headers,
		Body:       req.Body,
		ReceivedAt: at,
	})
	if err != nil {
		s.logger.Warn("Failed to archive webhook delivery", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// dispatch loads the local state a topic handler needs, runs it and applies the outcome
func (s *WebhookService) dispatch(ctx context.Context, topic bundlesync.Topic, payload any, receivedAt time.Time) error {
	outcome, err := s.handle(ctx, topic, payload, receivedAt)
	if err != nil {
		return err
	}
	for _, ig := range outcome.Ignored {
		logger.WithLogger(ctx, s.logger).Debug("Product change ignored",
			zap.String("bundle_id", ig.BundleID.String()),
			zap.String("verdict", string(ig.Verdict)))
	}
	return s.orch.ApplyOutcome(ctx, outcome)
}

func (s *WebhookService) handle(ctx context.Context, topic bundlesync.Topic, payload any, receivedAt time.Time) (bundlesync.Outcome, error) {
	switch p := payload.(type) {
	case *bundlesync.OrderPayload:
		st, err := s.orderState(ctx, p)
		if err != nil {
			return bundlesync.Outcome{}, err
		}
		switch topic {
		case bundlesync.TopicOrderCreated:
			return bundlesync.HandleOrderCreated(p, st, receivedAt), nil
		case bundlesync.TopicOrderPaid:
			return bundlesync.HandleOrderPaid(p, st, receivedAt), nil
		default:
			return bundlesync.HandleOrderFulfilled(p, st, receivedAt), nil
		}
	case *bundlesync.FulfillmentPayload:
		existing, err := s.commerce.FindDelivery(ctx, p.ID)
		if err != nil {
			return bundlesync.Outcome{}, err
		}
		return bundlesync.HandleFulfillmentUpdated(p, existing, receivedAt), nil
	case *bundlesync.ProductPayload:
		affected, err := s.affectedBundles(ctx, p.ID)
		if err != nil {
			return bundlesync.Outcome{}, err
		}
		return bundlesync.HandleProductUpdated(p, affected, s.detector, receivedAt), nil
	case *bundlesync.ProductDeletePayload:
		affected, err := s.affectedBundles(ctx, p.ID)
		if err != nil {
			return bundlesync.Outcome{}, err
		}
		return bundlesync.HandleProductDeleted(p, affected), nil
	default:
		return bundlesync.Outcome{}, fmt.Errorf("no handler for topic %s", topic)
	}
}

// orderState maps each line item product onto the bundle linked to it, if any
func (s *WebhookService) orderState(ctx context.Context, p *bundlesync.OrderPayload) (bundlesync.OrderState, error) {
	order, err := s.commerce.FindOrder(ctx, p.ID)
	if err != nil {
		return bundlesync.OrderState{}, err
	}
	ents, err := s.commerce.FindEntitlements(ctx, p.ID)
	if err != nil {
		return bundlesync.OrderState{}, err
	}
	byProduct := make(map[string]uuid.UUID)
	for _, li := range p.LineItems {
		if _, done := byProduct[li.ProductID]; done {
			continue
		}
		recs, err := s.records.FindByExternalID(ctx, li.ProductID)
		if err != nil {
			return bundlesync.OrderState{}, err
		}
		if len(recs) > 0 {
			byProduct[li.ProductID] = recs[0].BundleID
		}
	}
	return bundlesync.OrderState{Order: order, Entitlements: ents, BundleByProduct: byProduct}, nil
}

// affectedBundles returns the records whose composite is productID or whose
// bundle lists productID as a component, each paired with its bundle.
func (s *WebhookService) affectedBundles(ctx context.Context, productID string) ([]bundlesync.AffectedBundle, error) {
	records, err := s.records.FindByExternalID(ctx, productID)
	if err != nil {
		return nil, err
	}
	referencing, err := s.bundles.FindReferencingProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(records))
	for _, r := range records {
		seen[r.BundleID] = struct{}{}
	}
	bundles := make(map[uuid.UUID]*bundlesync.Bundle, len(referencing))
	var missing []uuid.UUID
	for _, b := range referencing {
		bundles[b.ID] = b
		if _, ok := seen[b.ID]; !ok {
			missing = append(missing, b.ID)
		}
	}
	if len(missing) > 0 {
		more, err := s.records.FindByBundleIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		records = append(records, more...)
	}

	var unloaded []uuid.UUID
	for _, r := range records {
		if _, ok := bundles[r.BundleID]; !ok {
			unloaded = append(unloaded, r.BundleID)
		}
	}
	if len(unloaded) > 0 {
		loaded, err := s.bundles.FindByIDs(ctx, unloaded)
		if err != nil {
			return nil, err
		}
		for _, b := range loaded {
			bundles[b.ID] = b
		}
	}

	out := make([]bundlesync.AffectedBundle, 0, len(records))
	for _, r := range records {
		out = append(out, bundlesync.AffectedBundle{Record: r, Bundle: bundles[r.BundleID]})
	}
	return out, nil
}
