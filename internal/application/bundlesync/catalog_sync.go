package bundlesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CatalogOutcome is the per-bundle result of a catalog reconciliation
type CatalogOutcome string

const (
	CatalogInSync  CatalogOutcome = "in_sync"
	CatalogDrifted CatalogOutcome = "drifted"
	CatalogMissing CatalogOutcome = "missing"
	CatalogError   CatalogOutcome = "error"
)

// DefaultCatalogParallelism bounds concurrent platform reads
const DefaultCatalogParallelism = 4

// CatalogResult is the outcome for one bundle
type CatalogResult struct {
	BundleID   uuid.UUID      `json:"bundle_id"`
	ExternalID string         `json:"external_id"`
	Outcome    CatalogOutcome `json:"outcome"`
	Detail     string         `json:"detail,omitempty"`
}

// CatalogReport summarizes a catalog reconciliation
type CatalogReport struct {
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Checked    int                    `json:"checked"`
	Counts     map[CatalogOutcome]int `json:"counts"`
	Results    []CatalogResult        `json:"results"`
}

// CatalogSync compares every synced bundle with its composite offering.
// One failing bundle never aborts the batch.
type CatalogSync struct {
	records     bundlesync.SyncRecordRepository
	bundles     bundlesync.BundleRepository
	platform    bundlesync.CommercePlatform
	orch        *Orchestrator
	parallelism int
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	now         func() time.Time
	running     sync.Mutex
}

// CatalogSyncConfig contains the dependencies of a CatalogSync
type CatalogSyncConfig struct {
	Records      bundlesync.SyncRecordRepository
	Bundles      bundlesync.BundleRepository
	Platform     bundlesync.CommercePlatform
	Orchestrator *Orchestrator
	Parallelism  int
	Metrics      *telemetry.SyncMetrics
	Logger       *zap.Logger
	Now          func() time.Time
}

// ErrCatalogSyncRunning is returned when a reconciliation is already in progress
var ErrCatalogSyncRunning = errors.New("bundlesync: catalog reconciliation already running")

// NewCatalogSync creates a new CatalogSync
func NewCatalogSync(cfg CatalogSyncConfig) *CatalogSync {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultCatalogParallelism
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CatalogSync{
		records:     cfg.Records,
		bundles:     cfg.Bundles,
		platform:    cfg.Platform,
		orch:        cfg.Orchestrator,
		parallelism: cfg.Parallelism,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.Named("catalog"),
		now:         cfg.Now,
	}
}

// Run checks every synced bundle. Drift moves the record to conflict and a
// vanished offering moves it to failed.
func (c *CatalogSync) Run(ctx context.Context) (*CatalogReport, error) {
	if !c.running.TryLock() {
		return nil, ErrCatalogSyncRunning
	}
	defer c.running.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "catalog", "run")
	defer span.End()

	report := &CatalogReport{StartedAt: c.now(), Counts: make(map[CatalogOutcome]int)}
	records, err := c.records.FindByStatus(ctx, bundlesync.SyncStatusSynced)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list synced records: %w", err)
	}

	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.BundleID
	}
	bundles, err := c.bundles.FindByIDs(ctx, ids)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load bundles: %w", err)
	}
	byID := make(map[uuid.UUID]*bundlesync.Bundle, len(bundles))
	for _, b := range bundles {
		byID[b.ID] = b
	}

	results := make([]CatalogResult, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, rec := range records {
		g.Go(func() error {
			results[i] = c.check(gctx, rec, byID[rec.BundleID])
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].BundleID.String() < results[j].BundleID.String() })
	for _, r := range results {
		report.Counts[r.Outcome]++
		c.metrics.CatalogCheck(ctx, string(r.Outcome))
	}
	report.Results = results
	report.Checked = len(results)
	report.FinishedAt = c.now()
	telemetry.SetAttribute(span, "catalog.checked", report.Checked)

	c.logger.Info("Catalog reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("in_sync", report.Counts[CatalogInSync]),
		zap.Int("drifted", report.Counts[CatalogDrifted]),
		zap.Int("missing", report.Counts[CatalogMissing]),
		zap.Int("errors", report.Counts[CatalogError]),
	)
	return report, nil
}

// RunScheduled adapts Run to the cron trigger; an overlapping run is skipped
func (c *CatalogSync) RunScheduled(ctx context.Context) error {
	_, err := c.Run(ctx)
	if errors.Is(err, ErrCatalogSyncRunning) {
		c.logger.Info("Catalog reconciliation still running, skipping")
		return nil
	}
	return err
}

func (c *CatalogSync) check(ctx context.Context, rec *bundlesync.SyncRecord, bundle *bundlesync.Bundle) CatalogResult {
	res := CatalogResult{BundleID: rec.BundleID, ExternalID: rec.ExternalID()}
	if bundle == nil {
		res.Outcome, res.Detail = CatalogError, "bundle not found"
		return res
	}
	if !rec.HasExternal() {
		res.Outcome, res.Detail = CatalogError, "synced record has no external id"
		return res
	}

	offering, err := c.platform.GetCompositeOffering(ctx, rec.ExternalID())
	if errors.Is(err, bundlesync.ErrExternalNotFound) {
		reason := "composite offering " + rec.ExternalID() + " no longer exists"
		_, terr := c.orch.Transition(ctx, TransitionRequest{
			BundleID:        rec.BundleID,
			ExpectedVersion: rec.Version,
			To:              bundlesync.SyncStatusFailed,
			Cause:           bundlesync.CauseComponentDeleted,
			Mutate: func(r *bundlesync.SyncRecord, now time.Time) error {
				return r.FlagExternalMissing(reason, now)
			},
		})
		if terr != nil {
			res.Outcome, res.Detail = CatalogError, terr.Error()
			return res
		}
		res.Outcome, res.Detail = CatalogMissing, reason
		return res
	}
	if err != nil {
		res.Outcome, res.Detail = CatalogError, err.Error()
		return res
	}

	// Unchanged since our push: local edits awaiting republish are not drift.
	if offering.Version > 0 && offering.Version == rec.LastPushedVersion {
		res.Outcome = CatalogInSync
		return res
	}
	diffs := bundlesync.DiffOffering(bundle, offering)
	if len(diffs) == 0 {
		res.Outcome = CatalogInSync
		return res
	}

	reason := "drift:" + strings.Join(diffs, ",")
	_, err = c.orch.Transition(ctx, TransitionRequest{
		BundleID:        rec.BundleID,
		ExpectedVersion: rec.Version,
		To:              bundlesync.SyncStatusConflict,
		Cause:           bundlesync.CauseExternalEdit,
		Mutate: func(r *bundlesync.SyncRecord, now time.Time) error {
			return r.FlagConflict(bundlesync.CauseExternalEdit, reason, now)
		},
	})
	if err != nil {
		res.Outcome, res.Detail = CatalogError, err.Error()
		return res
	}
	res.Outcome, res.Detail = CatalogDrifted, reason
	return res
}
