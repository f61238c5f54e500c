package bundlesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/fitmarket/backend/internal/infrastructure/scheduler"
	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Step results reported to metrics
const (
	stepResultAdvanced    = "advanced"
	stepResultWaiting     = "waiting"
	stepResultDeferred    = "deferred"
	stepResultSucceeded   = "succeeded"
	stepResultFailed      = "failed"
	stepResultInterrupted = "interrupted"
)

// TaskSubmitter queues keyed tasks; scheduler.WorkerPool implements it
type TaskSubmitter interface {
	Submit(task scheduler.Task) error
}

// PublisherConfig holds publisher tuning
type PublisherConfig struct {
	Policy      bundlesync.BackoffPolicy
	StepTimeout time.Duration
	Lease       time.Duration
	BatchSize   int
}

// DefaultPublisherConfig returns the default publisher tuning
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Policy:      bundlesync.DefaultBackoffPolicy(),
		StepTimeout: 15 * time.Second,
		Lease:       30 * time.Second,
		BatchSize:   20,
	}
}

// Publisher drives pending operations through submit, poll and finalize.
// Each claim executes exactly one step; the row is deleted on a terminal outcome.
type Publisher struct {
	config     PublisherConfig
	scope      TransactionScope
	operations bundlesync.PendingOperationRepository
	bundles    bundlesync.BundleRepository
	platform   bundlesync.CommercePlatform
	pool       TaskSubmitter
	orch       *Orchestrator
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// PublisherDeps contains the dependencies of a Publisher
type PublisherDeps struct {
	Scope        TransactionScope
	Operations   bundlesync.PendingOperationRepository
	Bundles      bundlesync.BundleRepository
	Platform     bundlesync.CommercePlatform
	Pool         TaskSubmitter
	Orchestrator *Orchestrator
	Metrics      *telemetry.SyncMetrics
	Logger       *zap.Logger
	Now          func() time.Time
}

// NewPublisher creates a new Publisher
func NewPublisher(cfg PublisherConfig, deps PublisherDeps) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.Policy.Initial <= 0 || cfg.Policy.Max <= 0 || cfg.Policy.MaxWait <= 0 {
		cfg.Policy = def.Policy
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Publisher{
		config:     cfg,
		scope:      deps.Scope,
		operations: deps.Operations,
		bundles:    deps.Bundles,
		platform:   deps.Platform,
		pool:       deps.Pool,
		orch:       deps.Orchestrator,
		metrics:    deps.Metrics,
		logger:     deps.Logger.Named("publisher"),
		now:        deps.Now,
	}
}

// Tick claims due operations and hands one step of each to the worker pool.
// An operation that cannot be queued stays leased and is picked up once the lease ends.
func (p *Publisher) Tick(ctx context.Context) {
	now := p.now()
	due, err := p.operations.FindDue(ctx, now, p.config.BatchSize)
	if err != nil {
		p.logger.Error("Failed to load due operations", zap.Error(err))
		return
	}
	for _, op := range due {
		claimed, err := p.operations.Claim(ctx, op, now.Add(p.config.Lease))
		if err != nil {
			p.logger.Error("Failed to claim operation",
				zap.String("operation_id", op.ID.String()),
				zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		task := scheduler.Task{
			Key:  op.BundleID.String(),
			Name: "publish:" + string(op.Step),
			Run: func(ctx context.Context) error {
				return p.Execute(ctx, op)
			},
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Warn("Operation not queued, retrying after lease",
				zap.String("operation_id", op.ID.String()),
				zap.String("bundle_id", op.BundleID.String()),
				zap.Error(err))
		}
	}
}

// Execute runs the current step of a claimed operation.
// A cancelled context leaves the operation untouched so it resumes after restart.
func (p *Publisher) Execute(ctx context.Context, op *bundlesync.PendingOperation) error {
	if p.config.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.StepTimeout)
		defer cancel()
	}
	ctx = logger.WithBundleID(ctx, op.BundleID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "publisher", string(op.Step),
		telemetry.WithAttribute(telemetry.SpanAttrBundleID, op.BundleID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrOperationID, op.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrOperationStep, string(op.Step)),
	)
	defer span.End()

	start := time.Now()
	step := op.Step
	var (
		result string
		err    error
	)
	labels := map[string]string{
		telemetry.ProfilingLabelOperation: "publish",
		telemetry.ProfilingLabelStep:      string(step),
	}
	telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
		result, err = p.runStep(ctx, op)
	})
	p.metrics.PublishStep(ctx, step, result, time.Since(start))
	telemetry.SetAttribute(span, "publisher.result", result)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetOK(span)
	return nil
}

func (p *Publisher) runStep(ctx context.Context, op *bundlesync.PendingOperation) (string, error) {
	switch op.Step {
	case bundlesync.StepSubmit:
		return p.submit(ctx, op)
	case bundlesync.StepPoll:
		return p.poll(ctx, op)
	case bundlesync.StepFinalize:
		return p.finalize(ctx, op)
	default:
		return stepResultFailed, p.fail(ctx, op, fmt.Errorf("%w: unknown step %q", bundlesync.ErrTerminalExternal, op.Step))
	}
}

func (p *Publisher) submit(ctx context.Context, op *bundlesync.PendingOperation) (string, error) {
	bundle, err := p.bundles.FindByID(ctx, op.BundleID)
	if err != nil {
		if errors.Is(err, bundlesync.ErrBundleNotFound) {
			return stepResultFailed, p.fail(ctx, op, fmt.Errorf("%w: bundle was removed", bundlesync.ErrTerminalExternal))
		}
		return interrupted(ctx, err)
	}

	input := bundlesync.BuildPushPayload(bundle, op.ExternalID, op.IdempotencyKey())
	handle, err := p.platform.SubmitCompositeOffering(ctx, input)
	if err != nil {
		return p.stepError(ctx, op, err)
	}
	now := p.now()
	if err := op.Submitted(handle, p.config.Policy, now); err != nil {
		return stepResultFailed, p.fail(ctx, op, err)
	}
	if err := p.operations.Save(ctx, op); err != nil {
		return stepResultFailed, err
	}
	logger.WithLogger(ctx, p.logger).Info("Composite offering submitted",
		zap.String("operation_id", op.ID.String()),
		zap.String("platform_operation_id", op.PlatformOperationID),
		zap.String("kind", string(op.Kind)),
	)
	return stepResultAdvanced, nil
}

// poll always asks the platform once, so an operation resumed after its
// deadline still completes if the platform finished it in the meantime.
func (p *Publisher) poll(ctx context.Context, op *bundlesync.PendingOperation) (string, error) {
	p.metrics.PollAttempt(ctx)
	res, err := p.platform.GetOperation(ctx, op.PlatformOperationID)
	if err != nil {
		return p.stepError(ctx, op, err)
	}

	now := p.now()
	// Unrecognised statuses keep polling until the deadline.
	if !res.Status.IsTerminal() {
		if op.Expired(p.config.Policy, now) {
			return stepResultFailed, p.fail(ctx, op, p.timeoutError(op))
		}
		op.StillRunning(p.config.Policy, now)
		if err := p.operations.Save(ctx, op); err != nil {
			return stepResultFailed, err
		}
		return stepResultWaiting, nil
	}
	if res.Status == bundlesync.OperationFailed {
		return stepResultFailed, p.fail(ctx, op, bundlesync.NewTerminalError(0, res.Errors...))
	}

	resourceID := res.ResourceID
	if resourceID == "" {
		resourceID = op.ExternalID
	}
	if resourceID == "" {
		return stepResultFailed, p.fail(ctx, op, bundlesync.NewTerminalError(0, "operation completed without a resource id"))
	}
	op.Completed(resourceID, now)
	ref := bundlesync.ExternalRef{ID: resourceID, Handle: res.Handle, AdminURL: res.AdminURL}
	err = p.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		rec, err := repos.Records().FindByBundleID(ctx, op.BundleID)
		if err != nil {
			return err
		}
		if err := rec.LinkExternal(ref, now); err != nil {
			return err
		}
		if err := repos.Records().Update(ctx, rec); err != nil {
			return err
		}
		return repos.Operations().Save(ctx, op)
	})
	if err != nil {
		return interrupted(ctx, err)
	}
	return stepResultAdvanced, nil
}

func (p *Publisher) finalize(ctx context.Context, op *bundlesync.PendingOperation) (string, error) {
	bundle, err := p.bundles.FindByID(ctx, op.BundleID)
	if err != nil {
		if errors.Is(err, bundlesync.ErrBundleNotFound) {
			return stepResultFailed, p.fail(ctx, op, fmt.Errorf("%w: bundle was removed", bundlesync.ErrFinalizeFailed))
		}
		return interrupted(ctx, err)
	}
	entries, err := bundlesync.BuildFinalizeMetadata(bundle)
	if err != nil {
		return stepResultFailed, p.fail(ctx, op, fmt.Errorf("%w: %w", bundlesync.ErrFinalizeFailed, err))
	}

	version, err := p.platform.AttachMetadata(ctx, op.ExternalID, entries)
	if err != nil {
		if ctx.Err() != nil {
			return stepResultInterrupted, ctx.Err()
		}
		if bundlesync.IsTransient(err) && !op.Expired(p.config.Policy, p.now()) {
			return p.deferStep(ctx, op, err)
		}
		return stepResultFailed, p.fail(ctx, op, fmt.Errorf("%w: %w", bundlesync.ErrFinalizeFailed, err))
	}

	_, err = p.orch.completePush(ctx, op, version.Marker())
	if err != nil {
		return interrupted(ctx, err)
	}
	logger.WithLogger(ctx, p.logger).Info("Composite offering published",
		zap.String("external_id", op.ExternalID),
		zap.Int64("resource_version", version.Version),
	)
	return stepResultSucceeded, nil
}

// stepError decides between retrying later and failing the push
func (p *Publisher) stepError(ctx context.Context, op *bundlesync.PendingOperation, err error) (string, error) {
	if ctx.Err() != nil {
		return stepResultInterrupted, ctx.Err()
	}
	if bundlesync.IsTransient(err) {
		if op.Expired(p.config.Policy, p.now()) {
			if op.Step == bundlesync.StepPoll {
				return stepResultFailed, p.fail(ctx, op, p.timeoutError(op))
			}
			return stepResultFailed, p.fail(ctx, op, err)
		}
		return p.deferStep(ctx, op, err)
	}
	return stepResultFailed, p.fail(ctx, op, err)
}

func (p *Publisher) deferStep(ctx context.Context, op *bundlesync.PendingOperation, err error) (string, error) {
	now := p.now()
	delay := p.config.Policy.Delay(op.Attempts)
	op.Deferred(err, delay, now)
	logger.WithLogger(ctx, p.logger).Warn("Publish step deferred",
		zap.String("operation_id", op.ID.String()),
		zap.String("step", string(op.Step)),
		zap.Duration("delay", delay),
		zap.Error(err))
	if saveErr := p.operations.Save(ctx, op); saveErr != nil {
		return stepResultFailed, saveErr
	}
	return stepResultDeferred, nil
}

// interrupted keeps the row when the step was cancelled and reports other errors as is
func interrupted(ctx context.Context, err error) (string, error) {
	if ctx.Err() != nil {
		return stepResultInterrupted, ctx.Err()
	}
	return stepResultFailed, err
}

func (p *Publisher) timeoutError(op *bundlesync.PendingOperation) error {
	return fmt.Errorf("%w: operation %s still running after %s",
		bundlesync.ErrPublishTimeout, op.PlatformOperationID, p.config.Policy.MaxWait)
}

// fail marks the push failed and removes the operation
func (p *Publisher) fail(ctx context.Context, op *bundlesync.PendingOperation, cause error) error {
	logger.WithLogger(ctx, p.logger).Warn("Publish failed",
		zap.String("operation_id", op.ID.String()),
		zap.String("step", string(op.Step)),
		zap.String("error_kind", string(bundlesync.ClassifyError(cause))),
		zap.Error(cause))
	_, err := p.orch.failPush(ctx, op, cause)
	return err
}

// completePush links the external id, stores the echo marker and resolves the operation
func (o *Orchestrator) completePush(ctx context.Context, op *bundlesync.PendingOperation, marker bundlesync.PushMarker) (*bundlesync.SyncRecord, error) {
	var rec *bundlesync.SyncRecord
	err := o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		rec, err = o.transitionTx(ctx, repos, TransitionRequest{
			BundleID: op.BundleID,
			To:       bundlesync.SyncStatusSynced,
			Cause:    bundlesync.CausePublishSucceeded,
			Mutate: func(r *bundlesync.SyncRecord, now time.Time) error {
				if err := r.LinkExternal(bundlesync.ExternalRef{ID: op.ExternalID}, now); err != nil {
					return err
				}
				return r.CompletePush(marker, now)
			},
		})
		if err != nil {
			return err
		}
		return repos.Operations().Delete(ctx, op.ID)
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}

// failPush records the classified failure and resolves the operation. The
// external id is kept so the next attempt updates instead of re-creating.
func (o *Orchestrator) failPush(ctx context.Context, op *bundlesync.PendingOperation, cause error) (*bundlesync.SyncRecord, error) {
	var rec *bundlesync.SyncRecord
	err := o.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		current, err := repos.Records().FindByBundleID(ctx, op.BundleID)
		if err != nil && !errors.Is(err, bundlesync.ErrSyncRecordNotFound) {
			return err
		}
		if current != nil && current.Status == bundlesync.SyncStatusPendingPush {
			rec, err = o.transitionTx(ctx, repos, TransitionRequest{
				BundleID: op.BundleID,
				To:       bundlesync.SyncStatusFailed,
				Cause:    bundlesync.CausePublishFailed,
				Mutate: func(r *bundlesync.SyncRecord, now time.Time) error {
					if op.ExternalID != "" {
						if err := r.LinkExternal(bundlesync.ExternalRef{ID: op.ExternalID}, now); err != nil {
							return err
						}
					}
					return r.FailPush(cause, now)
				},
			})
			if err != nil {
				return err
			}
		}
		return repos.Operations().Delete(ctx, op.ID)
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}
