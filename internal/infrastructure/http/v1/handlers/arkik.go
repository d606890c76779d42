package handlers

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/batch"
	"concreterp/internal/core/id"
	"concreterp/internal/domain/arkik"
	"concreterp/internal/infrastructure/export"
	"concreterp/internal/infrastructure/http/v1/dto"
	"concreterp/pkg/logger"
)

// ArkikStore persists import sessions and their status processing output.
type ArkikStore interface {
	SaveImportSession(ctx context.Context, meta arkik.ImportSessionMeta) (id.ID, error)
	CompleteImportSession(ctx context.Context, sessionID id.ID, processed, successful int) error
	SaveWasteMaterials(ctx context.Context, items []arkik.WasteMaterial) error
	SaveRemisionReassignments(ctx context.Context, items []arkik.RemisionReassignment, sessionID, plantID id.ID) error
	SaveStatusProcessing(ctx context.Context, res *arkik.StatusProcessingResult, sessionID, plantID id.ID) error
	WasteMaterials(ctx context.Context, sessionID id.ID) ([]arkik.WasteMaterial, error)
}

// OrderCreator turns order suggestions into persisted orders.
type OrderCreator interface {
	CreateOrdersFromSuggestions(ctx context.Context, suggestions []arkik.OrderSuggestion, plantID id.ID, validatedRows []arkik.StagingRemision) (*arkik.OrderCreationResult, error)
}

// TransferApplier applies pending material reassignments.
type TransferApplier interface {
	ApplyPendingTransfers(ctx context.Context, plantID, sessionID id.ID) (*batch.Result[arkik.AppliedTransfer], error)
}

// TransferScheduler queues a transfer run for the background worker.
type TransferScheduler interface {
	RequestPendingTransfers(ctx context.Context, plantID, sessionID id.ID) error
}

// ArkikHandler handles the Arkik import pipeline.
type ArkikHandler struct {
	*BaseHandler
	store     ArkikStore
	orders    OrderCreator
	transfers TransferApplier
	scheduler TransferScheduler
}

// NewArkikHandler creates a new Arkik handler. scheduler may be nil, in which
// case a failed transfer run after order creation is only logged.
func NewArkikHandler(base *BaseHandler, store ArkikStore, orders OrderCreator, transfers TransferApplier, scheduler TransferScheduler) *ArkikHandler {
	return &ArkikHandler{BaseHandler: base, store: store, orders: orders, transfers: transfers, scheduler: scheduler}
}

// CreateSession handles POST /arkik/sessions
func (h *ArkikHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	sessionID, err := h.store.SaveImportSession(c.Request.Context(), req.ToDomain(h.GetUserID(c)))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, sessionID)
}

// CompleteSession handles POST /arkik/sessions/:id/complete
func (h *ArkikHandler) CompleteSession(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.CompleteSessionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if err := h.store.CompleteImportSession(c.Request.Context(), sessionID, req.ProcessedRows, req.SuccessfulRows); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "session completed")
}

// AnalyzeStatus handles POST /arkik/sessions/:id/status/analyze
func (h *ArkikHandler) AnalyzeStatus(c *gin.Context) {
	if _, ok := h.PathID(c, "id"); !ok {
		return
	}
	var req dto.AnalyzeStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}
	summary := arkik.AnalyzeStatuses(req.Rows)
	problems := append(append([]arkik.StagingRemision{}, summary.Incompletos...), summary.Cancelados...)
	h.OK(c, dto.AnalyzeStatusResponse{
		Summary:    summary,
		Candidates: arkik.DetectReassignments(problems, req.Rows),
	})
}

// ProcessStatus handles POST /arkik/sessions/:id/status/process
func (h *ArkikHandler) ProcessStatus(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.ProcessStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if errs := arkik.ValidateDecisions(req.Rows, req.Decisions); len(errs) > 0 {
		h.Error(c, apperror.NewValidation("invalid status decisions").WithDetail("errors", errs))
		return
	}

	res, rows, err := arkik.NewStatusProcessor(sessionID, req.PlantID).ApplyDecisions(req.Rows, req.Decisions)
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.store.SaveStatusProcessing(c.Request.Context(), res, sessionID, req.PlantID); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ProcessStatusResponse{Result: res, Rows: rows})
}

// SaveWaste handles POST /arkik/sessions/:id/waste
func (h *ArkikHandler) SaveWaste(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.SaveWasteRequest
	if !h.BindJSON(c, &req) {
		return
	}
	for i := range req.Items {
		req.Items[i].SessionID = sessionID
		req.Items[i].PlantID = req.PlantID
	}
	if err := h.store.SaveWasteMaterials(c.Request.Context(), req.Items); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.SavedResponse{Saved: len(req.Items)})
}

// SaveReassignments handles POST /arkik/sessions/:id/reassignments
func (h *ArkikHandler) SaveReassignments(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.SaveReassignmentsRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if err := h.store.SaveRemisionReassignments(c.Request.Context(), req.Items, sessionID, req.PlantID); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.SavedResponse{Saved: len(req.Items)})
}

// ExportWaste handles GET /arkik/sessions/:id/waste/export
func (h *ArkikHandler) ExportWaste(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	items, err := h.store.WasteMaterials(c.Request.Context(), sessionID)
	if err != nil {
		h.Error(c, err)
		return
	}
	data, err := export.Waste(items)
	if err != nil {
		h.Error(c, apperror.NewInternal(err))
		return
	}
	h.Attachment(c, fmt.Sprintf("waste-%s.xlsx", sessionID), export.ContentType, data)
}

// CreateOrders handles POST /arkik/sessions/:id/orders
//
// Pending transfers of the session are applied right after the orders are
// created. A transfer failure does not fail the request: the run is queued
// for the worker instead.
func (h *ArkikHandler) CreateOrders(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateOrdersRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	orders, err := h.orders.CreateOrdersFromSuggestions(ctx, req.Suggestions, req.PlantID, req.ValidatedRows)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.CreateOrdersResponse{Orders: orders}
	transfers, err := h.transfers.ApplyPendingTransfers(ctx, req.PlantID, sessionID)
	if err != nil {
		logger.Warn(ctx, "pending transfers not applied after order creation",
			"session_id", sessionID,
			"error", err,
		)
		resp.TransfersDeferred = h.deferTransfers(ctx, req.PlantID, sessionID)
	} else {
		resp.Transfers = transfers
	}
	h.OK(c, resp)
}

func (h *ArkikHandler) deferTransfers(ctx context.Context, plantID, sessionID id.ID) bool {
	if h.scheduler == nil {
		return false
	}
	if err := h.scheduler.RequestPendingTransfers(ctx, plantID, sessionID); err != nil {
		logger.Error(ctx, "failed to queue pending transfers",
			"session_id", sessionID,
			"error", err,
		)
		return false
	}
	logger.Info(ctx, "pending transfers queued", "session_id", sessionID)
	return true
}

// ApplyTransfers handles POST /arkik/sessions/:id/transfers/apply
func (h *ArkikHandler) ApplyTransfers(c *gin.Context) {
	sessionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.ApplyTransfersRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.transfers.ApplyPendingTransfers(c.Request.Context(), req.PlantID, sessionID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}
