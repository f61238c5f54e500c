package handler

import (
	"context"

	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/auth"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/fitmarket/backend/internal/interfaces/http/dto"
	"github.com/fitmarket/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncOrchestrator is the part of the orchestrator the sync endpoints use
type SyncOrchestrator interface {
	Approve(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error)
	Reconcile(ctx context.Context, bundleID uuid.UUID, direction syncapp.ReconcileDirection) (*bundlesync.SyncRecord, error)
	GetRecord(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error)
	ListRecords(ctx context.Context, filter bundlesync.SyncRecordFilter) ([]*bundlesync.SyncRecord, int64, error)
}

// ManualSyncer starts a push on request
type ManualSyncer interface {
	Sync(ctx context.Context, bundleID uuid.UUID, wait bool) (*syncapp.SyncResult, error)
}

// CatalogRunner runs a catalog-wide reconciliation
type CatalogRunner interface {
	Run(ctx context.Context) (*syncapp.CatalogReport, error)
}

// SyncHandler serves the review UI's sync endpoints
type SyncHandler struct {
	BaseHandler
	orch    SyncOrchestrator
	manual  ManualSyncer
	catalog CatalogRunner
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(orch SyncOrchestrator, manual ManualSyncer, catalog CatalogRunner) *SyncHandler {
	return &SyncHandler{orch: orch, manual: manual, catalog: catalog}
}

// withBundle tags the request logger with the bundle being acted on
func withBundle(c *gin.Context, id uuid.UUID) context.Context {
	ctx := logger.WithBundleID(c.Request.Context(), id.String())
	c.Request = c.Request.WithContext(ctx)
	return ctx
}

// Approve godoc
// @ID           approveBundle
// @Summary      Approve a bundle for publication
// @Description  Approval hook called by the review UI. Creates the sync record if needed and queues the first push.
// @Tags         sync
// @Produce      json
// @Param        id path string true "Bundle ID" format(uuid)
// @Success      202 {object} APIResponse[SyncRecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bundles/{id}/approved [post]
func (h *SyncHandler) Approve(c *gin.Context) {
	id, ok := parseBundleID(c)
	if !ok {
		h.BadRequest(c, "Invalid bundle ID format")
		return
	}
	ctx := withBundle(c, id)

	rec, err := h.orch.Approve(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	logger.L(ctx).Info("Bundle approved", zap.String("by", middleware.GetJWTSubject(c)))
	h.Accepted(c, toSyncRecordResponse(rec))
}

// SyncBundle godoc
// @ID           syncBundle
// @Summary      Push a bundle to the commerce platform
// @Description  Starts a push for a draft, failed or synced bundle. With wait=true the call blocks until the push settles or the configured bound expires.
// @Tags         sync
// @Produce      json
// @Param        id path string true "Bundle ID" format(uuid)
// @Param        wait query bool false "Wait for the push to settle"
// @Success      200 {object} APIResponse[ManualSyncResponse] "Push settled"
// @Success      202 {object} APIResponse[ManualSyncResponse] "Push still in progress"
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse "Push already in progress"
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /sync/bundles/{id} [post]
func (h *SyncHandler) SyncBundle(c *gin.Context) {
	id, ok := parseBundleID(c)
	if !ok {
		h.BadRequest(c, "Invalid bundle ID format")
		return
	}
	ctx := withBundle(c, id)
	wait := c.Query("wait") == "true" || c.Query("wait") == "1"

	result, err := h.manual.Sync(ctx, id, wait)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := ManualSyncResponse{
		SyncRecordResponse: toSyncRecordResponse(result.Record),
		InProgress:         result.InProgress,
	}
	if result.InProgress {
		h.Accepted(c, resp)
		return
	}
	h.Success(c, resp)
}

// GetRecord godoc
// @ID           getSyncRecord
// @Summary      Get a bundle's sync status
// @Tags         sync
// @Produce      json
// @Param        id path string true "Bundle ID" format(uuid)
// @Success      200 {object} APIResponse[SyncRecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /sync/bundles/{id} [get]
func (h *SyncHandler) GetRecord(c *gin.Context) {
	id, ok := parseBundleID(c)
	if !ok {
		h.BadRequest(c, "Invalid bundle ID format")
		return
	}

	rec, err := h.orch.GetRecord(withBundle(c, id), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toSyncRecordResponse(rec))
}

// ListRecords godoc
// @ID           listSyncRecords
// @Summary      List sync records
// @Description  Lists sync records, optionally filtered by status, for the review UI
// @Tags         sync
// @Produce      json
// @Param        status query string false "Status filter" Enums(draft, pending_push, synced, conflict, failed)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20)
// @Param        order_by query string false "Sort field" Enums(updated_at, created_at, status)
// @Param        order_dir query string false "Sort direction" Enums(asc, desc)
// @Success      200 {object} APIResponse[[]SyncRecordResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /sync/records [get]
func (h *SyncHandler) ListRecords(c *gin.Context) {
	q := ListSyncRecordsQuery{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	records, total, err := h.orch.ListRecords(c.Request.Context(), bundlesync.SyncRecordFilter{
		Status:   bundlesync.SyncStatus(q.Status),
		Page:     q.Page,
		PageSize: q.PageSize,
		OrderBy:  q.OrderBy,
		OrderDir: q.OrderDir,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, toSyncRecordResponses(records), total, q.Page, q.PageSize)
}

// Reconcile godoc
// @ID           reconcileBundle
// @Summary      Resolve a sync conflict
// @Description  push overwrites the platform with local state; pull adopts the platform's state locally
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id path string true "Bundle ID" format(uuid)
// @Param        request body ReconcileRequest true "Resolution direction"
// @Success      200 {object} APIResponse[SyncRecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse "Bundle is not in conflict"
// @Failure      502 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /sync/bundles/{id}/reconcile [post]
func (h *SyncHandler) Reconcile(c *gin.Context) {
	id, ok := parseBundleID(c)
	if !ok {
		h.BadRequest(c, "Invalid bundle ID format")
		return
	}
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	ctx := withBundle(c, id)

	rec, err := h.orch.Reconcile(ctx, id, syncapp.ReconcileDirection(req.Direction))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	logger.L(ctx).Info("Conflict reconciled",
		zap.String("direction", req.Direction),
		zap.String("by", middleware.GetJWTSubject(c)))
	h.Success(c, toSyncRecordResponse(rec))
}

// RunCatalog godoc
// @ID           runCatalogSync
// @Summary      Reconcile the whole catalog
// @Description  Compares every synced bundle with its composite offering. Drifted bundles move to conflict, missing ones to failed.
// @Tags         sync
// @Produce      json
// @Success      200 {object} APIResponse[syncapp.CatalogReport]
// @Failure      409 {object} ErrorResponse "A reconciliation is already running"
// @Security     BearerAuth
// @Router       /sync/catalog [post]
func (h *SyncHandler) RunCatalog(c *gin.Context) {
	report, err := h.catalog.Run(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// RegisterRoutes mounts the sync endpoints on an authenticated /api/v1 group
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	read := middleware.RequireScope(auth.ScopeSyncRead)
	write := middleware.RequireScope(auth.ScopeSyncWrite)

	rg.POST("/bundles/:id/approved", write, h.Approve)

	records := rg.Group("/sync")
	records.GET("/records", read, h.ListRecords)
	records.GET("/bundles/:id", read, h.GetRecord)
	records.POST("/bundles/:id", write, h.SyncBundle)
	records.POST("/bundles/:id/reconcile", write, h.Reconcile)
	records.POST("/catalog", write, h.RunCatalog)
}
