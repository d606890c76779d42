package dto

import (
	"github.com/shopspring/decimal"

	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
	"concreterp/internal/domain/inventory/fifo"
	"concreterp/internal/infrastructure/storage/postgres"
)

// AllocateRequest asks to cost out one remision material line.
type AllocateRequest struct {
	RemisionID         id.ID           `json:"remision_id"`
	RemisionMaterialID id.ID           `json:"remision_material_id" binding:"required"`
	MaterialID         id.ID           `json:"material_id" binding:"required"`
	PlantID            id.ID           `json:"plant_id" binding:"required"`
	QuantityKg         decimal.Decimal `json:"quantity_kg" binding:"decimal_gt0"`
	ConsumptionDate    types.Date      `json:"consumption_date" binding:"required"`
}

// ToDomain converts the request for fifo.Service.Allocate.
func (r AllocateRequest) ToDomain(userID string) fifo.AllocationRequest {
	return fifo.AllocationRequest{
		RemisionID:         r.RemisionID,
		RemisionMaterialID: r.RemisionMaterialID,
		MaterialID:         r.MaterialID,
		PlantID:            r.PlantID,
		QuantityKg:         r.QuantityKg,
		ConsumptionDate:    r.ConsumptionDate.Time,
		UserID:             userID,
	}
}

const defaultHistoryLimit = 20

// HistoryQuery pages the audit trail of a line.
type HistoryQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// LimitOrDefault returns Limit, or the default page size when unset.
func (q HistoryQuery) LimitOrDefault() int {
	if q.Limit == 0 {
		return defaultHistoryLimit
	}
	return q.Limit
}

// HistoryResponse lists audit entries, newest first.
type HistoryResponse struct {
	Entries []postgres.AuditEntry `json:"entries"`
}
