package bundlesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/ecommerce"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec-test"

const orderPaidBody = `{
  "id": "evt-1",
  "topic": "orders/paid",
  "created_at": "2026-05-04T09:59:00Z",
  "data": {
    "id": "order-1",
    "name": "#1001",
    "email": "client@example.com",
    "customer": {"id": "cust-1"},
    "currency": "EUR",
    "total_price": "89.00",
    "financial_status": "paid",
    "line_items": [
      {"id": "li-1", "product_id": "gid-composite", "quantity": 1, "price": "89.00"},
      {"id": "li-2", "product_id": "gid-protein", "quantity": 2, "price": "20.00"}
    ],
    "updated_at": "2026-05-04T09:58:30Z"
  }
}`

const productUpdateBody = `{
  "id": "evt-2",
  "topic": "products/update",
  "data": {
    "id": "gid-composite",
    "title": "Strength starter by another admin",
    "price": "99.00",
    "version": 8,
    "updated_at": "2026-05-04T09:59:00Z"
  }
}`

type recordingArchive struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (a *recordingArchive) Archive(_ context.Context, d Delivery) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deliveries = append(a.deliveries, d)
	return a.err
}

type webhookFixture struct {
	repos    *mockRepos
	dedupe   *MockIdempotencyStore
	archive  *recordingArchive
	verifier *ecommerce.WebhookVerifier
	service  *WebhookService
}

func newWebhookFixture(withDedupe bool) *webhookFixture {
	f := &webhookFixture{
		repos:    newMockRepos(),
		archive:  &recordingArchive{},
		verifier: ecommerce.NewWebhookVerifier(testWebhookSecret),
	}
	cfg := WebhookServiceConfig{
		Verifier:     f.verifier,
		Events:       f.repos.events,
		Records:      f.repos.records,
		Bundles:      f.repos.bundles,
		Commerce:     f.repos.commerce,
		Orchestrator: newTestOrchestrator(f.repos, nil),
		Archive:      f.archive,
		Now:          clock,
	}
	if withDedupe {
		f.dedupe = new(MockIdempotencyStore)
		cfg.Dedupe = f.dedupe
		cfg.DedupeTTL = time.Hour
	}
	f.service = NewWebhookService(cfg)
	return f
}

func (f *webhookFixture) signed(body, topic string) WebhookRequest {
	return WebhookRequest{
		Body:      []byte(body),
		Signature: f.verifier.Sign([]byte(body)),
		Topic:     topic,
		RemoteIP:  "203.0.113.7",
	}
}

func TestWebhookService_Authentication(t *testing.T) {
	ctx := context.Background()

	t.Run("forged signature is rejected and archived", func(t *testing.T) {
		f := newWebhookFixture(false)
		req := f.signed(orderPaidBody, "orders/paid")
		req.Signature = ecommerce.NewWebhookVerifier("other-secret").Sign(req.Body)

		_, err := f.service.Ingest(ctx, req)
		assert.ErrorIs(t, err, bundlesync.ErrSignatureInvalid)
		require.Len(t, f.archive.deliveries, 1)
		assert.Equal(t, DeliveryRejected, f.archive.deliveries[0].Kind)
		assert.Equal(t, "203.0.113.7", f.archive.deliveries[0].RemoteIP)
		f.repos.events.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("missing signature", func(t *testing.T) {
		f := newWebhookFixture(false)
		req := f.signed(orderPaidBody, "orders/paid")
		req.Signature = ""

		_, err := f.service.Ingest(ctx, req)
		assert.ErrorIs(t, err, bundlesync.ErrSignatureMissing)
	})

	t.Run("body altered after signing", func(t *testing.T) {
		f := newWebhookFixture(false)
		req := f.signed(orderPaidBody, "orders/paid")
		req.Body = append(req.Body, ' ')

		_, err := f.service.Ingest(ctx, req)
		assert.ErrorIs(t, err, bundlesync.ErrSignatureInvalid)
	})
}

func TestWebhookService_Malformed(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"not json":         `{"id":`,
		"unknown field":    `{"topic":"products/delete","data":{"id":"gid-1","deleted_by":"admin"}}`,
		"missing required": `{"topic":"orders/create","data":{"currency":"EUR","line_items":[]}}`,
		"data not object":  `{"topic":"products/delete","data":"gid-1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newWebhookFixture(false)
			_, err := f.service.Ingest(ctx, f.signed(body, ""))
			assert.ErrorIs(t, err, bundlesync.ErrMalformedPayload)
			f.repos.events.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhookService_OrderPaid(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(true)
	bundleID := uuid.New()

	f.dedupe.On("IsProcessed", mock.Anything, "evt:evt-1").Return(false, nil)
	f.repos.events.On("Insert", mock.Anything, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
		return e.DedupeKey == "evt:evt-1" && e.Topic == bundlesync.TopicOrderPaid && e.ExternalResourceID == "order-1"
	})).Return(true, nil)
	f.dedupe.On("MarkProcessed", mock.Anything, "evt:evt-1", time.Hour).Return(true, nil)
	f.repos.commerce.On("FindOrder", mock.Anything, "order-1").Return(nil, nil)
	f.repos.commerce.On("FindEntitlements", mock.Anything, "order-1").Return(nil, nil)
	f.repos.records.On("FindByExternalID", mock.Anything, "gid-composite").
		Return([]*bundlesync.SyncRecord{testRecord(bundleID, bundlesync.SyncStatusSynced, "gid-composite")}, nil)
	f.repos.records.On("FindByExternalID", mock.Anything, "gid-protein").Return([]*bundlesync.SyncRecord{}, nil)
	f.repos.commerce.On("SaveOrderWithEntitlements", mock.Anything,
		mock.MatchedBy(func(o *bundlesync.CommerceOrder) bool {
			return o.ExternalOrderID == "order-1" && o.FinancialStatus == bundlesync.FinancialStatusPaid && o.PaidAt != nil
		}),
		mock.MatchedBy(func(ents []*bundlesync.Entitlement) bool {
			return len(ents) == 1 && ents[0].BundleID == bundleID && ents[0].LineItemID == "li-1" &&
				ents[0].Status == bundlesync.EntitlementActive && ents[0].CustomerEmail == "client@example.com"
		})).Return(nil)
	f.repos.events.On("MarkProcessed", mock.Anything, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
		return e.IsProcessed() && e.ProcessingError == ""
	})).Return(nil)

	res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "evt:evt-1", res.DedupeKey)
	assert.Equal(t, "orders/paid", res.Topic)
	require.Len(t, f.archive.deliveries, 1)
	assert.Equal(t, DeliveryAdmitted, f.archive.deliveries[0].Kind)
	f.repos.assertExpectations(t)
	f.dedupe.AssertExpectations(t)
}

func TestWebhookService_Duplicates(t *testing.T) {
	ctx := context.Background()

	t.Run("unique key rejects a redelivery", func(t *testing.T) {
		f := newWebhookFixture(false)
		f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(false, nil)
		f.repos.events.On("Reclaim", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.False(t, res.Processed)
		assert.Empty(t, f.archive.deliveries)
		f.repos.commerce.AssertNotCalled(t, "FindOrder", mock.Anything, mock.Anything)
	})

	t.Run("fast path skips the insert", func(t *testing.T) {
		f := newWebhookFixture(true)
		f.dedupe.On("IsProcessed", mock.Anything, "evt:evt-1").Return(true, nil)

		res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		f.repos.events.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("unavailable fast path falls through to the table", func(t *testing.T) {
		f := newWebhookFixture(true)
		f.dedupe.On("IsProcessed", mock.Anything, "evt:evt-1").Return(false, errors.New("redis: connection refused"))
		f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(false, nil)
		f.repos.events.On("Reclaim", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		f.repos.events.AssertExpectations(t)
	})

	t.Run("header event id wins over the body", func(t *testing.T) {
		f := newWebhookFixture(false)
		f.repos.events.On("Insert", mock.Anything, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
			return e.DedupeKey == "evt:hdr-9"
		})).Return(false, nil)
		f.repos.events.On("Reclaim", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		req := f.signed(orderPaidBody, "")
		req.EventID = "hdr-9"
		res, err := f.service.Ingest(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "evt:hdr-9", res.DedupeKey)
	})
}

func TestWebhookService_Redelivery(t *testing.T) {
	ctx := context.Background()
	body := `{"id":"evt-3","data":{"id":"cust-1"}}`

	t.Run("unfinished row is taken over", func(t *testing.T) {
		f := newWebhookFixture(false)
		storedID := uuid.New()
		f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(false, nil)
		f.repos.events.On("Reclaim", mock.Anything, mock.Anything, clock().Add(-DefaultWebhookProcessTimeout)).
			Run(func(args mock.Arguments) {
				args.Get(1).(*bundlesync.WebhookEvent).ID = storedID
			}).Return(true, nil)
		f.repos.events.On("MarkProcessed", mock.Anything, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
			return e.ID == storedID && e.IsProcessed()
		})).Return(nil)

		res, err := f.service.Ingest(ctx, f.signed(body, "customers/create"))
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, "topic not handled", res.Message)
		require.Len(t, f.archive.deliveries, 1)
		f.repos.events.AssertExpectations(t)
	})

	t.Run("reclaim failure is a storage error", func(t *testing.T) {
		f := newWebhookFixture(false)
		f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(false, nil)
		f.repos.events.On("Reclaim", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("database is locked"))

		_, err := f.service.Ingest(ctx, f.signed(body, "customers/create"))
		assert.ErrorContains(t, err, "reclaim webhook event")
	})
}

func TestWebhookService_DispatchOutlivesRequest(t *testing.T) {
	f := newWebhookFixture(true)
	bundleID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil })

	f.dedupe.On("IsProcessed", mock.Anything, "evt:evt-1").Return(false, nil)
	// The platform hangs up right after the row is committed.
	f.repos.events.On("Insert", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(true, nil)
	f.repos.commerce.On("FindOrder", live, "order-1").Return(nil, nil)
	f.repos.commerce.On("FindEntitlements", live, "order-1").Return(nil, nil)
	f.repos.records.On("FindByExternalID", live, "gid-composite").
		Return([]*bundlesync.SyncRecord{testRecord(bundleID, bundlesync.SyncStatusSynced, "gid-composite")}, nil)
	f.repos.records.On("FindByExternalID", live, "gid-protein").Return([]*bundlesync.SyncRecord{}, nil)
	f.repos.commerce.On("SaveOrderWithEntitlements", live, mock.Anything, mock.Anything).Return(nil)
	f.repos.events.On("MarkProcessed", live, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
		return e.IsProcessed() && e.ProcessingError == ""
	})).Return(nil)
	f.dedupe.On("MarkProcessed", live, "evt:evt-1", time.Hour).Return(true, nil)

	res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Error(t, ctx.Err())
	f.repos.assertExpectations(t)
	f.dedupe.AssertExpectations(t)
}

func TestWebhookService_FailedOutcomeNotRemembered(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(true)

	f.dedupe.On("IsProcessed", mock.Anything, "evt:evt-1").Return(false, nil)
	f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(true, nil)
	f.repos.commerce.On("FindOrder", mock.Anything, "order-1").Return(nil, errors.New("connection reset"))
	f.repos.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
	require.NoError(t, err)
	assert.False(t, res.Processed)
	f.dedupe.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_UnknownTopic(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)
	body := `{"id":"evt-3","data":{"id":"cust-1","anything":"goes"}}`

	f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(true, nil)
	f.repos.events.On("MarkProcessed", mock.Anything, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
		return e.IsProcessed() && e.Topic == "customers/create"
	})).Return(nil)

	res, err := f.service.Ingest(ctx, f.signed(body, "customers/create"))
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, "topic not handled", res.Message)
	f.repos.events.AssertExpectations(t)
}

func TestWebhookService_HandlerFailureIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)

	f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(true, nil)
	f.repos.commerce.On("FindOrder", mock.Anything, "order-1").Return(nil, errors.New("connection reset"))
	f.repos.events.On("MarkProcessed", mock.Anything, mock.MatchedBy(func(e *bundlesync.WebhookEvent) bool {
		return e.IsProcessed() && e.ProcessingError == "connection reset"
	})).Return(nil)

	res, err := f.service.Ingest(ctx, f.signed(orderPaidBody, ""))
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, "connection reset", res.Message)
	f.repos.events.AssertExpectations(t)
}

func TestWebhookService_ProductUpdateFlagsConflict(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)
	bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
	rec := testRecord(bundle.ID, bundlesync.SyncStatusSynced, "gid-composite")

	f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(true, nil)
	f.repos.records.On("FindByExternalID", mock.Anything, "gid-composite").Return([]*bundlesync.SyncRecord{rec}, nil)
	f.repos.bundles.On("FindReferencingProduct", mock.Anything, "gid-composite").Return([]*bundlesync.Bundle{}, nil)
	f.repos.bundles.On("FindByIDs", mock.Anything, []uuid.UUID{bundle.ID}).Return([]*bundlesync.Bundle{bundle}, nil)
	f.repos.records.On("FindByBundleID", mock.Anything, bundle.ID).Return(rec, nil)
	f.repos.records.On("Update", mock.Anything, rec).Return(nil)
	f.repos.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	res, err := f.service.Ingest(ctx, f.signed(productUpdateBody, ""))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, bundlesync.SyncStatusConflict, rec.Status)
	assert.Equal(t, "external_edit:gid-composite@v8", rec.ConflictReason)
}

func TestWebhookService_EchoIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)
	bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
	rec := testRecord(bundle.ID, bundlesync.SyncStatusSynced, "gid-composite")
	rec.LastPushedVersion = 8

	f.repos.events.On("Insert", mock.Anything, mock.Anything).Return(true, nil)
	f.repos.records.On("FindByExternalID", mock.Anything, "gid-composite").Return([]*bundlesync.SyncRecord{rec}, nil)
	f.repos.bundles.On("FindReferencingProduct", mock.Anything, "gid-composite").Return([]*bundlesync.Bundle{}, nil)
	f.repos.bundles.On("FindByIDs", mock.Anything, []uuid.UUID{bundle.ID}).Return([]*bundlesync.Bundle{bundle}, nil)
	f.repos.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	res, err := f.service.Ingest(ctx, f.signed(productUpdateBody, ""))
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, bundlesync.SyncStatusSynced, rec.Status)
	f.repos.records.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}
