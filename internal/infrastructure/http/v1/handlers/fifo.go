package handlers

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/domain/inventory/fifo"
	"concreterp/internal/infrastructure/export"
	"concreterp/internal/infrastructure/http/v1/dto"
	"concreterp/internal/infrastructure/storage/postgres"
)

// FIFOService is the costing engine as used over HTTP.
type FIFOService interface {
	Allocate(ctx context.Context, req fifo.AllocationRequest) (*fifo.AllocationResult, error)
	Valuate(ctx context.Context, materialID, plantID id.ID) (*fifo.Valuation, error)
	CostForRemisionMaterial(ctx context.Context, remisionMaterialID id.ID) (*fifo.AllocationResult, error)
	AutoAllocateRemision(ctx context.Context, remisionID id.ID, userID string) (*fifo.RemisionAllocationReport, error)
}

// AllocationHistory reads the audit trail of re-allocated lines.
type AllocationHistory interface {
	AllocationHistory(ctx context.Context, remisionMaterialID id.ID, limit int) ([]postgres.AuditEntry, error)
}

// FIFOHandler handles FIFO costing requests.
type FIFOHandler struct {
	*BaseHandler
	service FIFOService
	history AllocationHistory
}

// NewFIFOHandler creates a new FIFO handler.
func NewFIFOHandler(base *BaseHandler, service FIFOService, history AllocationHistory) *FIFOHandler {
	return &FIFOHandler{BaseHandler: base, service: service, history: history}
}

// Allocate handles POST /fifo/allocations
func (h *FIFOHandler) Allocate(c *gin.Context) {
	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Allocate(c.Request.Context(), req.ToDomain(h.GetUserID(c)))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Valuate handles GET /fifo/valuation
func (h *FIFOHandler) Valuate(c *gin.Context) {
	v, ok := h.valuation(c)
	if !ok {
		return
	}
	h.OK(c, v)
}

// ExportValuation handles GET /fifo/valuation/export
func (h *FIFOHandler) ExportValuation(c *gin.Context) {
	v, ok := h.valuation(c)
	if !ok {
		return
	}
	data, err := export.Valuation(v)
	if err != nil {
		h.Error(c, apperror.NewInternal(err))
		return
	}
	h.Attachment(c, fmt.Sprintf("valuation-%s.xlsx", v.MaterialID), export.ContentType, data)
}

func (h *FIFOHandler) valuation(c *gin.Context) (*fifo.Valuation, bool) {
	var q dto.MaterialPlantQuery
	if !h.BindQuery(c, &q) {
		return nil, false
	}
	materialID, plantID, err := q.IDs()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return nil, false
	}

	v, err := h.service.Valuate(c.Request.Context(), materialID, plantID)
	if err != nil {
		h.Error(c, err)
		return nil, false
	}
	return v, true
}

// RemisionMaterialCost handles GET /fifo/remision-materials/:id/cost
func (h *FIFOHandler) RemisionMaterialCost(c *gin.Context) {
	lineID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.CostForRemisionMaterial(c.Request.Context(), lineID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// AutoAllocateRemision handles POST /fifo/remisiones/:id/auto-allocate
func (h *FIFOHandler) AutoAllocateRemision(c *gin.Context) {
	remisionID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	report, err := h.service.AutoAllocateRemision(c.Request.Context(), remisionID, h.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

// RemisionMaterialHistory handles GET /fifo/remision-materials/:id/history
func (h *FIFOHandler) RemisionMaterialHistory(c *gin.Context) {
	lineID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var q dto.HistoryQuery
	if !h.BindQuery(c, &q) {
		return
	}
	entries, err := h.history.AllocationHistory(c.Request.Context(), lineID, q.LimitOrDefault())
	if err != nil {
		h.Error(c, apperror.NewPersistence("read", "allocation_history", lineID, err))
		return
	}
	h.OK(c, dto.HistoryResponse{Entries: entries})
}
