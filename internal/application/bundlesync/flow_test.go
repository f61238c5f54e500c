package bundlesync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/fitmarket/backend/internal/infrastructure/ecommerce"
	"github.com/fitmarket/backend/internal/infrastructure/event"
	"github.com/fitmarket/backend/internal/infrastructure/persistence"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"github.com/fitmarket/backend/internal/infrastructure/scheduler"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type steppedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakePlatform answers RUNNING for the first runningPolls polls, forever when
// negative, and COMPLETE afterwards.
type fakePlatform struct {
	mu           sync.Mutex
	clock        *steppedClock
	submits      []bundlesync.CompositeOfferingInput
	offering     *bundlesync.ExternalOffering
	runningPolls int
	submittedAt  time.Time
	polls        []time.Time
}

func (p *fakePlatform) SubmitCompositeOffering(_ context.Context, in bundlesync.CompositeOfferingInput) (*bundlesync.OperationHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, in)
	p.submittedAt = p.clock.Now()
	return &bundlesync.OperationHandle{OperationID: "op-1", Status: bundlesync.OperationRunning}, nil
}

func (p *fakePlatform) GetOperation(_ context.Context, id string) (*bundlesync.OperationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls = append(p.polls, p.clock.Now())
	if p.runningPolls < 0 || len(p.polls) <= p.runningPolls {
		return &bundlesync.OperationResult{OperationID: id, Status: bundlesync.OperationRunning}, nil
	}
	return &bundlesync.OperationResult{
		OperationID: id,
		Status:      bundlesync.OperationComplete,
		ResourceID:  "gid-composite-1",
		Handle:      "strength-starter",
	}, nil
}

func (p *fakePlatform) AttachMetadata(_ context.Context, externalID string, _ []bundlesync.MetadataEntry) (*bundlesync.ResourceVersion, error) {
	if externalID != "gid-composite-1" {
		return nil, bundlesync.ErrExternalNotFound
	}
	return &bundlesync.ResourceVersion{Version: 5, UpdatedAt: p.clock.Now()}, nil
}

func (p *fakePlatform) GetCompositeOffering(_ context.Context, externalID string) (*bundlesync.ExternalOffering, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offering == nil || p.offering.ID != externalID {
		return nil, bundlesync.ErrExternalNotFound
	}
	return p.offering, nil
}

// inlineSubmitter runs tasks on the caller's goroutine
type inlineSubmitter struct {
	errs []error
}

func (s *inlineSubmitter) Submit(task scheduler.Task) error {
	if err := task.Run(context.Background()); err != nil {
		s.errs = append(s.errs, err)
	}
	return nil
}

type flowHarness struct {
	db        *gorm.DB
	clock     *steppedClock
	platform  *fakePlatform
	submitter *inlineSubmitter
	bundles   *persistence.GormBundleRepository
	records   *persistence.GormSyncRecordRepository
	ops       *persistence.GormPendingOperationRepository
	orch      *syncapp.Orchestrator
	publisher *syncapp.Publisher
	events    *persistence.GormWebhookEventRepository
	webhooks  *syncapp.WebhookService
	verifier  *ecommerce.WebhookVerifier
	statuses  []bundlesync.SyncStatus
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	h := &flowHarness{
		db:        db,
		clock:     &steppedClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		submitter: &inlineSubmitter{},
		bundles:   persistence.NewGormBundleRepository(db),
		records:   persistence.NewGormSyncRecordRepository(db),
		ops:       persistence.NewGormPendingOperationRepository(db),
		events:    persistence.NewGormWebhookEventRepository(db),
		verifier:  ecommerce.NewWebhookVerifier("flow-secret"),
	}
	h.platform = &fakePlatform{clock: h.clock}

	bus := event.NewInMemoryEventBus(nil)
	bus.Subscribe(event.NewFuncHandler(func(_ context.Context, e shared.DomainEvent) error {
		h.statuses = append(h.statuses, e.(*bundlesync.SyncStatusChangedEvent).To)
		return nil
	}, bundlesync.EventTypeSyncStatusChanged))

	scope := persistence.NewGormTransactionScope(db)
	h.orch = syncapp.NewOrchestrator(syncapp.OrchestratorConfig{
		Scope:    scope,
		Bundles:  h.bundles,
		Records:  h.records,
		Platform: h.platform,
		Events:   bus,
		Now:      h.clock.Now,
	})
	h.publisher = syncapp.NewPublisher(syncapp.DefaultPublisherConfig(), syncapp.PublisherDeps{
		Scope:        scope,
		Operations:   h.ops,
		Bundles:      h.bundles,
		Platform:     h.platform,
		Pool:         h.submitter,
		Orchestrator: h.orch,
		Now:          h.clock.Now,
	})
	h.useRecords(h.records)
	return h
}

// useRecords rebuilds the webhook service over records
func (h *flowHarness) useRecords(records bundlesync.SyncRecordRepository) {
	h.webhooks = syncapp.NewWebhookService(syncapp.WebhookServiceConfig{
		Verifier:     h.verifier,
		Events:       h.events,
		Records:      records,
		Bundles:      h.bundles,
		Commerce:     persistence.NewGormCommerceRepository(h.db),
		Orchestrator: h.orch,
		Now:          h.clock.Now,
	})
}

func (h *flowHarness) deliver(t *testing.T, body string) *syncapp.WebhookResult {
	t.Helper()
	return h.deliverCtx(t, context.Background(), body)
}

func (h *flowHarness) deliverCtx(t *testing.T, ctx context.Context, body string) *syncapp.WebhookResult {
	t.Helper()
	res, err := h.webhooks.Ingest(ctx, syncapp.WebhookRequest{
		Body:      []byte(body),
		Signature: h.verifier.Sign([]byte(body)),
	})
	require.NoError(t, err)
	return res
}

func (h *flowHarness) record(t *testing.T, bundleID uuid.UUID) *bundlesync.SyncRecord {
	t.Helper()
	rec, err := h.records.FindByBundleID(context.Background(), bundleID)
	require.NoError(t, err)
	return rec
}

func TestBundleLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newFlowHarness(t)

	bundle := &bundlesync.Bundle{
		ID:             uuid.New(),
		TrainerID:      uuid.New(),
		Title:          "Strength starter",
		Price:          decimal.RequireFromString("89.00"),
		Currency:       "EUR",
		ApprovalStatus: bundlesync.ApprovalPendingReview,
		Components:     []bundlesync.ComponentRef{{ProductID: "gid-band", Quantity: 1}},
		Services:       []bundlesync.ServiceLineItem{{Name: "Personal training", Sessions: 4, DurationMinutes: 60}},
		CreatedAt:      h.clock.Now(),
		UpdatedAt:      h.clock.Now(),
	}
	require.NoError(t, h.bundles.Create(ctx, bundle))

	// Approval queues the first push.
	rec, err := h.orch.Approve(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, bundlesync.SyncStatusPendingPush, rec.Status)
	_, err = h.orch.SyncBundle(ctx, bundle.ID)
	assert.ErrorIs(t, err, bundlesync.ErrPushInProgress)

	// submit, poll, finalize: one step per tick.
	h.publisher.Tick(ctx)
	h.clock.Advance(time.Second)
	h.publisher.Tick(ctx)
	h.publisher.Tick(ctx)
	require.Empty(t, h.submitter.errs)

	require.Len(t, h.platform.submits, 1)
	assert.True(t, h.platform.submits[0].IsCreate())
	assert.NotEmpty(t, h.platform.submits[0].IdempotencyKey)

	rec = h.record(t, bundle.ID)
	assert.Equal(t, bundlesync.SyncStatusSynced, rec.Status)
	assert.Equal(t, "gid-composite-1", rec.ExternalID())
	assert.Equal(t, int64(5), rec.LastPushedVersion)
	_, err = h.ops.FindByBundleID(ctx, bundle.ID)
	assert.True(t, errors.Is(err, bundlesync.ErrOperationNotFound))
	assert.Equal(t, []bundlesync.SyncStatus{bundlesync.SyncStatusPendingPush, bundlesync.SyncStatusSynced}, h.statuses)

	// The echo of our own write is not a conflict.
	echo := `{"id":"evt-echo","topic":"products/update","data":{"id":"gid-composite-1","title":"Strength starter","price":"89.00","version":5,"updated_at":"2026-05-04T10:00:01Z"}}`
	res := h.deliver(t, echo)
	assert.True(t, res.Processed)
	assert.Equal(t, bundlesync.SyncStatusSynced, h.record(t, bundle.ID).Status)

	// A later edit by someone else is.
	edit := `{"id":"evt-edit","topic":"products/update","data":{"id":"gid-composite-1","title":"Strength starter XL","price":"95.00","version":6,"updated_at":"2026-05-04T11:00:00Z"}}`
	res = h.deliver(t, edit)
	assert.True(t, res.Processed)
	rec = h.record(t, bundle.ID)
	assert.Equal(t, bundlesync.SyncStatusConflict, rec.Status)
	assert.Equal(t, "external_edit:gid-composite-1@v6", rec.ConflictReason)

	// Redelivery is acknowledged without side effects.
	res = h.deliver(t, edit)
	assert.True(t, res.Duplicate)

	// Conflicts block plain pushes until reconciled.
	_, err = h.orch.SyncBundle(ctx, bundle.ID)
	assert.ErrorIs(t, err, bundlesync.ErrIllegalTransition)

	// Pull wins: the platform's edit becomes the local bundle.
	h.platform.offering = &bundlesync.ExternalOffering{
		ID:         "gid-composite-1",
		Title:      "Strength starter XL",
		Price:      decimal.RequireFromString("95.00"),
		Currency:   "EUR",
		Components: []bundlesync.ExternalComponent{{ProductID: "gid-band", Quantity: 2}},
		Version:    6,
		UpdatedAt:  time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC),
	}
	rec, err = h.orch.Reconcile(ctx, bundle.ID, syncapp.ReconcilePull)
	require.NoError(t, err)
	assert.Equal(t, bundlesync.SyncStatusSynced, rec.Status)
	assert.Equal(t, int64(6), rec.LastPushedVersion)

	stored, err := h.bundles.FindByID(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Strength starter XL", stored.Title)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("95.00")))
	require.Len(t, stored.Components, 1)
	assert.Equal(t, 2, stored.Components[0].Quantity)

	// A republish now updates by id.
	_, err = h.orch.SyncBundle(ctx, bundle.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	h.publisher.Tick(ctx)
	require.Len(t, h.platform.submits, 2)
	assert.Equal(t, "gid-composite-1", h.platform.submits[1].ExternalID)
	assert.Empty(t, h.platform.submits[1].IdempotencyKey)
}

// publishSynced approves a fresh bundle and runs the publisher until it is synced
func (h *flowHarness) publishSynced(t *testing.T) *bundlesync.Bundle {
	t.Helper()
	ctx := context.Background()
	bundle := &bundlesync.Bundle{
		ID:             uuid.New(),
		TrainerID:      uuid.New(),
		Title:          "Mobility basics",
		Price:          decimal.RequireFromString("49.00"),
		Currency:       "EUR",
		ApprovalStatus: bundlesync.ApprovalPendingReview,
		Components:     []bundlesync.ComponentRef{{ProductID: "gid-mat", Quantity: 1}},
		CreatedAt:      h.clock.Now(),
		UpdatedAt:      h.clock.Now(),
	}
	require.NoError(t, h.bundles.Create(ctx, bundle))
	_, err := h.orch.Approve(ctx, bundle.ID)
	require.NoError(t, err)
	h.publisher.Tick(ctx)
	h.clock.Advance(time.Second)
	h.publisher.Tick(ctx)
	h.publisher.Tick(ctx)
	require.Empty(t, h.submitter.errs)
	require.Equal(t, bundlesync.SyncStatusSynced, h.record(t, bundle.ID).Status)
	return bundle
}

// flakyRecords interferes with the first FindByExternalID call
type flakyRecords struct {
	bundlesync.SyncRecordRepository
	once   sync.Once
	cancel context.CancelFunc
	err    error
}

func (r *flakyRecords) FindByExternalID(ctx context.Context, externalID string) ([]*bundlesync.SyncRecord, error) {
	var err error
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		err = r.err
	})
	if err != nil {
		return nil, err
	}
	return r.SyncRecordRepository.FindByExternalID(ctx, externalID)
}

const thirdPartyEdit = `{"id":"evt-edit-9","topic":"products/update","data":{"id":"gid-composite-1","title":"Mobility XL","price":"59.00","version":9,"updated_at":"2026-05-04T11:00:00Z"}}`

func TestWebhookDelivery_AtLeastOnce(t *testing.T) {
	t.Run("request cancelled mid-dispatch still records the conflict", func(t *testing.T) {
		h := newFlowHarness(t)
		bundle := h.publishSynced(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.useRecords(&flakyRecords{SyncRecordRepository: h.records, cancel: cancel})

		res := h.deliverCtx(t, ctx, thirdPartyEdit)
		assert.True(t, res.Processed, res.Message)
		rec := h.record(t, bundle.ID)
		assert.Equal(t, bundlesync.SyncStatusConflict, rec.Status)
		assert.Equal(t, "external_edit:gid-composite-1@v9", rec.ConflictReason)

		stored, err := h.events.FindByDedupeKey(context.Background(), "evt:evt-edit-9")
		require.NoError(t, err)
		assert.True(t, stored.IsProcessed())
		assert.Empty(t, stored.ProcessingError)

		assert.True(t, h.deliver(t, thirdPartyEdit).Duplicate)
	})

	t.Run("redelivery re-runs a failed dispatch", func(t *testing.T) {
		h := newFlowHarness(t)
		bundle := h.publishSynced(t)
		h.useRecords(&flakyRecords{SyncRecordRepository: h.records, err: errors.New("database is locked")})

		res := h.deliver(t, thirdPartyEdit)
		assert.False(t, res.Processed)
		assert.Equal(t, "database is locked", res.Message)
		assert.Equal(t, bundlesync.SyncStatusSynced, h.record(t, bundle.ID).Status)

		h.clock.Advance(time.Second)
		res = h.deliver(t, thirdPartyEdit)
		assert.False(t, res.Duplicate)
		assert.True(t, res.Processed)
		assert.Equal(t, bundlesync.SyncStatusConflict, h.record(t, bundle.ID).Status)

		assert.True(t, h.deliver(t, thirdPartyEdit).Duplicate)
	})
}

// pollIntervals returns the gaps between submission and each successive poll
func (p *fakePlatform) pollIntervals() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Duration, 0, len(p.polls))
	prev := p.submittedAt
	for _, at := range p.polls {
		out = append(out, at.Sub(prev))
		prev = at
	}
	return out
}

// drain approves a bundle and ticks the publisher at each scheduled poll until
// the operation row is gone.
func (h *flowHarness) drain(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	bundle := &bundlesync.Bundle{
		ID:             uuid.New(),
		TrainerID:      uuid.New(),
		Title:          "Core circuit",
		Price:          decimal.RequireFromString("39.00"),
		Currency:       "EUR",
		ApprovalStatus: bundlesync.ApprovalPendingReview,
		Components:     []bundlesync.ComponentRef{{ProductID: "gid-roller", Quantity: 1}},
		CreatedAt:      h.clock.Now(),
		UpdatedAt:      h.clock.Now(),
	}
	require.NoError(t, h.bundles.Create(ctx, bundle))
	_, err := h.orch.Approve(ctx, bundle.ID)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		op, err := h.ops.FindByBundleID(ctx, bundle.ID)
		if errors.Is(err, bundlesync.ErrOperationNotFound) {
			require.Empty(t, h.submitter.errs)
			return bundle.ID
		}
		require.NoError(t, err)
		if wait := op.NextPollAt.Sub(h.clock.Now()); wait > 0 {
			h.clock.Advance(wait)
		}
		h.publisher.Tick(ctx)
	}
	t.Fatal("operation never resolved")
	return uuid.Nil
}

func TestPublisher_PollingTerminates(t *testing.T) {
	t.Run("complete after k polls is synced after k polls", func(t *testing.T) {
		h := newFlowHarness(t)
		h.platform.runningPolls = 4

		bundleID := h.drain(t)

		assert.Equal(t, []time.Duration{
			time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
		}, h.platform.pollIntervals())
		rec := h.record(t, bundleID)
		assert.Equal(t, bundlesync.SyncStatusSynced, rec.Status)
		assert.Equal(t, "gid-composite-1", rec.ExternalID())
	})

	t.Run("platform that never completes times out at the bound", func(t *testing.T) {
		h := newFlowHarness(t)
		h.platform.runningPolls = -1

		bundleID := h.drain(t)

		intervals := h.platform.pollIntervals()
		var waited time.Duration
		for _, d := range intervals {
			assert.LessOrEqual(t, d, 8*time.Second)
			waited += d
		}
		assert.Equal(t, 60*time.Second, waited)
		assert.Len(t, intervals, 10)

		rec := h.record(t, bundleID)
		assert.Equal(t, bundlesync.SyncStatusFailed, rec.Status)
		assert.Equal(t, bundlesync.ErrorKindTimeout, rec.ErrorKind)
	})
}
