package bundlesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcileDirection chooses which side wins when resolving a conflict
type ReconcileDirection string

const (
	ReconcilePush ReconcileDirection = "push"
	ReconcilePull ReconcileDirection = "pull"
)

// TransitionRequest is one guarded change of a SyncRecord
type TransitionRequest struct {
	BundleID uuid.UUID
	// ExpectedVersion guards against stale decisions; 0 accepts the current version
	ExpectedVersion int
	To              bundlesync.SyncStatus
	Cause           bundlesync.TransitionCause
	// Mutate applies the change through a domain method; nil performs a plain transition
	Mutate func(r *bundlesync.SyncRecord, now time.Time) error
}

// Orchestrator owns every SyncRecord status change
type Orchestrator struct {
	scope    TransactionScope
	bundles  bundlesync.BundleRepository
	records  bundlesync.SyncRecordRepository
	platform bundlesync.CommercePlatform
	events   shared.EventPublisher
	metrics  *telemetry.SyncMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// OrchestratorConfig contains the dependencies of an Orchestrator
type OrchestratorConfig struct {
	Scope    TransactionScope
	Bundles  bundlesync.BundleRepository
	Records  bundlesync.SyncRecordRepository
	Platform bundlesync.CommercePlatform
	Events   shared.EventPublisher
	Metrics  *telemetry.SyncMetrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		scope:    cfg.Scope,
		bundles:  cfg.Bundles,
		records:  cfg.Records,
		platform: cfg.Platform,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.Named("orchestrator"),
		now:      cfg.Now,
	}
}

// Transition loads the record, validates the edge, applies the mutation and
// writes it guarded by version, all in one transaction.
func (o *Orchestrator) Transition(ctx context.Context, req TransitionRequest) (*bundlesync.SyncRecord, error) {
	var rec *bundlesync.SyncRecord
	err := o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		rec, err = o.transitionTx(ctx, repos, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) transitionTx(ctx context.Context, repos TransactionalRepositories, req TransitionRequest) (*bundlesync.SyncRecord, error) {
	rec, err := repos.Records().FindByBundleID(ctx, req.BundleID)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion > 0 && rec.Version != req.ExpectedVersion {
		return nil, fmt.Errorf("%w: bundle %s expected version %d, found %d",
			bundlesync.ErrConcurrentSyncUpdate, req.BundleID, req.ExpectedVersion, rec.Version)
	}
	now := o.now()
	if req.Mutate != nil {
		err = req.Mutate(rec, now)
	} else {
		err = rec.Transition(req.To, req.Cause, now)
	}
	if err != nil {
		return nil, err
	}
	if rec.Status != req.To {
		return nil, fmt.Errorf("%w: mutation left record in %s, wanted %s", bundlesync.ErrIllegalTransition, rec.Status, req.To)
	}
	if err := repos.Records().Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// publish hands the committed transition events to subscribers and records metrics
func (o *Orchestrator) publish(ctx context.Context, records ...*bundlesync.SyncRecord) {
	for _, rec := range records {
		if rec == nil {
			continue
		}
		events := rec.GetDomainEvents()
		rec.ClearDomainEvents()
		for _, e := range events {
			if changed, ok := e.(*bundlesync.SyncStatusChangedEvent); ok {
				o.metrics.Transition(ctx, changed.From, changed.To, changed.Cause)
				logger.WithLogger(ctx, o.logger).Info("Sync status changed",
					zap.String("bundle_id", changed.BundleID.String()),
					zap.String("from", string(changed.From)),
					zap.String("to", string(changed.To)),
					zap.String("cause", string(changed.Cause)),
				)
			}
		}
		if o.events == nil || len(events) == 0 {
			continue
		}
		if err := o.events.Publish(ctx, events...); err != nil {
			o.logger.Warn("Failed to publish sync events",
				zap.String("bundle_id", rec.BundleID.String()),
				zap.Error(err))
		}
	}
}

// Approve is the review hook: the bundle becomes publishable and a push is queued
func (o *Orchestrator) Approve(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "approve",
		telemetry.WithAttribute(telemetry.SpanAttrBundleID, bundleID.String()))
	defer span.End()

	rec, err := o.startPush(ctx, bundleID, true)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrSyncStatus, string(rec.Status))
	return rec, nil
}

// SyncBundle pushes one approved bundle: a first push from draft, a retry from
// failed or a republish from synced. Conflicts need an explicit reconcile.
func (o *Orchestrator) SyncBundle(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "sync_bundle",
		telemetry.WithAttribute(telemetry.SpanAttrBundleID, bundleID.String()))
	defer span.End()

	rec, err := o.startPush(ctx, bundleID, false)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return rec, nil
}

// pushCause picks the cause that moves a record of the given status into pending_push
func pushCause(status bundlesync.SyncStatus) (bundlesync.TransitionCause, error) {
	switch status {
	case bundlesync.SyncStatusDraft:
		return bundlesync.CauseApproval, nil
	case bundlesync.SyncStatusFailed:
		return bundlesync.CauseManualRetry, nil
	case bundlesync.SyncStatusSynced:
		return bundlesync.CauseRepublish, nil
	case bundlesync.SyncStatusPendingPush:
		return "", bundlesync.ErrPushInProgress
	default:
		return "", fmt.Errorf("%w: bundle is in %s, reconcile first", bundlesync.ErrIllegalTransition, status)
	}
}

func (o *Orchestrator) startPush(ctx context.Context, bundleID uuid.UUID, approve bool) (*bundlesync.SyncRecord, error) {
	var rec *bundlesync.SyncRecord
	err := o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := o.now()
		bundle, err := repos.Bundles().FindByID(ctx, bundleID)
		if err != nil {
			return err
		}
		if approve && !bundle.IsPublished() {
			if err := bundle.Approve(now); err != nil {
				return err
			}
			if err := repos.Bundles().Save(ctx, bundle); err != nil {
				return err
			}
		}
		if !bundle.IsPublished() {
			return bundlesync.ErrBundleNotApproved
		}
		if err := bundle.Validate(); err != nil {
			return err
		}

		rec, err = repos.Records().FindByBundleID(ctx, bundleID)
		if errors.Is(err, bundlesync.ErrSyncRecordNotFound) {
			if rec, err = bundlesync.NewSyncRecord(bundleID); err != nil {
				return err
			}
			if err := repos.Records().Create(ctx, rec); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		cause, err := pushCause(rec.Status)
		if err != nil {
			return err
		}
		return o.enqueuePush(ctx, repos, rec, cause, now)
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}

// enqueuePush moves rec into pending_push and queues the publisher operation.
// A known external id always yields an update so a retry never re-creates.
func (o *Orchestrator) enqueuePush(ctx context.Context, repos TransactionalRepositories, rec *bundlesync.SyncRecord, cause bundlesync.TransitionCause, now time.Time) error {
	if err := rec.BeginPush(cause, now); err != nil {
		return err
	}
	if err := repos.Records().Update(ctx, rec); err != nil {
		return err
	}
	op := bundlesync.NewPendingOperation(rec.BundleID, rec.ExternalID(), now)
	if err := repos.Operations().Create(ctx, op); err != nil {
		return err
	}
	logger.WithLogger(ctx, o.logger).Info("Push queued",
		zap.String("bundle_id", rec.BundleID.String()),
		zap.String("operation_id", op.ID.String()),
		zap.String("kind", string(op.Kind)),
		zap.String("cause", string(cause)),
	)
	return nil
}

// Reconcile resolves a conflict. Push re-sends the local bundle by its known id;
// pull overwrites the local bundle with the platform's state.
func (o *Orchestrator) Reconcile(ctx context.Context, bundleID uuid.UUID, direction ReconcileDirection) (*bundlesync.SyncRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "reconcile",
		telemetry.WithAttribute(telemetry.SpanAttrBundleID, bundleID.String()),
		telemetry.WithAttribute("reconcile.direction", string(direction)))
	defer span.End()

	var (
		rec *bundlesync.SyncRecord
		err error
	)
	switch direction {
	case ReconcilePush:
		rec, err = o.reconcilePush(ctx, bundleID)
	case ReconcilePull:
		rec, err = o.reconcilePull(ctx, bundleID)
	default:
		err = bundlesync.ErrInvalidDirection
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return rec, nil
}

func (o *Orchestrator) reconcilePush(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	var rec *bundlesync.SyncRecord
	err := o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		rec, err = repos.Records().FindByBundleID(ctx, bundleID)
		if err != nil {
			return err
		}
		if rec.Status != bundlesync.SyncStatusConflict {
			return bundlesync.ErrNotInConflict
		}
		return o.enqueuePush(ctx, repos, rec, bundlesync.CauseReconcilePush, o.now())
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) reconcilePull(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	current, err := o.records.FindByBundleID(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if current.Status != bundlesync.SyncStatusConflict {
		return nil, bundlesync.ErrNotInConflict
	}
	if !current.HasExternal() {
		return nil, fmt.Errorf("%w: bundle has no external offering to pull", bundlesync.ErrIllegalTransition)
	}

	// Read the platform outside the transaction; the version guard catches races.
	offering, err := o.platform.GetCompositeOffering(ctx, current.ExternalID())
	if err != nil {
		return nil, fmt.Errorf("read external offering: %w", err)
	}

	var rec *bundlesync.SyncRecord
	err = o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		bundle, err := repos.Bundles().FindByID(ctx, bundleID)
		if err != nil {
			return err
		}
		now := o.now()
		bundle.ApplyExternal(offering, now)
		if err := repos.Bundles().Save(ctx, bundle); err != nil {
			return err
		}
		rec, err = o.transitionTx(ctx, repos, TransitionRequest{
			BundleID:        bundleID,
			ExpectedVersion: current.Version,
			To:              bundlesync.SyncStatusSynced,
			Cause:           bundlesync.CauseReconcilePull,
			Mutate: func(r *bundlesync.SyncRecord, now time.Time) error {
				return r.AcceptExternal(offering.ResourceVersion().Marker(), now)
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}

// ApplyOutcome writes a webhook handler outcome in one transaction.
// A planned transition whose record moved on since it was planned is skipped.
func (o *Orchestrator) ApplyOutcome(ctx context.Context, outcome bundlesync.Outcome) error {
	if outcome.IsEmpty() {
		return nil
	}
	var changed []*bundlesync.SyncRecord
	err := o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		changed = changed[:0]
		if outcome.Order != nil || len(outcome.Entitlements) > 0 {
			if err := repos.Commerce().SaveOrderWithEntitlements(ctx, outcome.Order, outcome.Entitlements); err != nil {
				return fmt.Errorf("save order: %w", err)
			}
		}
		if outcome.Delivery != nil {
			if err := repos.Commerce().SaveDelivery(ctx, outcome.Delivery); err != nil {
				return fmt.Errorf("save delivery: %w", err)
			}
		}
		for _, t := range outcome.Transitions {
			rec, err := o.transitionTx(ctx, repos, TransitionRequest{
				BundleID:        t.BundleID,
				ExpectedVersion: t.ExpectedVersion,
				To:              t.To,
				Cause:           t.Cause,
				Mutate:          t.Apply,
			})
			if errors.Is(err, bundlesync.ErrConcurrentSyncUpdate) {
				logger.WithLogger(ctx, o.logger).Warn("Skipping stale planned transition",
					zap.String("bundle_id", t.BundleID.String()),
					zap.String("to", string(t.To)),
					zap.Error(err))
				continue
			}
			if err != nil {
				return fmt.Errorf("transition bundle %s: %w", t.BundleID, err)
			}
			changed = append(changed, rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.publish(ctx, changed...)
	return nil
}

// GetRecord returns the sync state of a bundle
func (o *Orchestrator) GetRecord(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	return o.records.FindByBundleID(ctx, bundleID)
}

// ListRecords lists sync records for the review UI
func (o *Orchestrator) ListRecords(ctx context.Context, filter bundlesync.SyncRecordFilter) ([]*bundlesync.SyncRecord, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, shared.NewDomainError("INVALID_STATUS", "Unknown sync status: "+string(filter.Status))
	}
	return o.records.List(ctx, filter)
}
