// Package fifo implements first-in-first-out costing of material consumption
// against receipt cost layers (material entries).
package fifo

import (
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/batch"
	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
)

// Entry is one receipt of a material at a plant, i.e. one cost layer.
type Entry struct {
	ID               id.ID               `db:"id"`
	EntryNumber      string              `db:"entry_number"`
	MaterialID       id.ID               `db:"material_id"`
	PlantID          id.ID               `db:"plant_id"`
	EntryDate        time.Time           `db:"entry_date"`
	CreatedAt        time.Time           `db:"created_at"`
	RemainingKg      decimal.NullDecimal `db:"remaining_quantity_kg"`
	UnitPrice        decimal.NullDecimal `db:"unit_price"`
	ReceivedQtyKg    decimal.NullDecimal `db:"received_qty_kg"`
	QuantityReceived decimal.NullDecimal `db:"quantity_received"`
}

// Remaining resolves the unconsumed quantity, see ResolveRemaining.
func (e Entry) Remaining() (types.Kg, bool) {
	return ResolveRemaining(e.RemainingKg, e.ReceivedQtyKg, e.QuantityReceived)
}

// Allocation links part of one consumption line to one cost layer.
type Allocation struct {
	ID                 id.ID           `db:"id"`
	RemisionID         id.ID           `db:"remision_id"`
	RemisionMaterialID id.ID           `db:"remision_material_id"`
	EntryID            id.ID           `db:"entry_id"`
	MaterialID         id.ID           `db:"material_id"`
	PlantID            id.ID           `db:"plant_id"`
	QuantityConsumedKg decimal.Decimal `db:"quantity_consumed_kg"`
	UnitPrice          decimal.Decimal `db:"unit_price"`
	TotalCost          decimal.Decimal `db:"total_cost"`
	ConsumptionDate    time.Time       `db:"consumption_date"`
	CreatedBy          string          `db:"created_by"`
	CreatedAt          time.Time       `db:"created_at"`
}

// AllocationRequest asks to cost out one remision material line.
type AllocationRequest struct {
	RemisionID         id.ID
	RemisionMaterialID id.ID
	MaterialID         id.ID
	PlantID            id.ID
	QuantityKg         types.Kg
	ConsumptionDate    time.Time
	UserID             string
}

// Validate checks the preconditions of Allocate.
func (r AllocationRequest) Validate() error {
	if !r.QuantityKg.IsPositive() {
		return apperror.NewInvalidArgument("quantity_kg", "quantity to consume must be greater than zero").
			WithDetail("quantity_kg", r.QuantityKg.String())
	}
	if id.IsNil(r.RemisionMaterialID) {
		return apperror.NewInvalidArgument("remision_material_id", "remision material id is required")
	}
	if id.IsNil(r.MaterialID) || id.IsNil(r.PlantID) {
		return apperror.NewInvalidArgument("material_id", "material and plant are required")
	}
	if r.ConsumptionDate.IsZero() {
		return apperror.NewInvalidArgument("consumption_date", "consumption date is required")
	}
	return nil
}

// LayerAllocation is the per-layer breakdown returned to callers.
type LayerAllocation struct {
	EntryID        id.ID           `json:"entry_id"`
	EntryNumber    string          `json:"entry_number"`
	QuantityKg     decimal.Decimal `json:"quantity_kg"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Cost           decimal.Decimal `json:"cost"`
	RemainingAfter decimal.Decimal `json:"remaining_after,omitempty"`
}

// AllocationResult is the outcome of a successful allocation or a cost lookup.
type AllocationResult struct {
	TotalCost        types.Money       `json:"total_cost"`
	WeightedUnitCost types.Money       `json:"weighted_unit_cost"`
	Allocations      []LayerAllocation `json:"allocations"`
}

// ValuationLayer is one layer with stock left.
type ValuationLayer struct {
	EntryID     id.ID           `json:"entry_id"`
	EntryNumber string          `json:"entry_number"`
	EntryDate   time.Time       `json:"entry_date"`
	RemainingKg decimal.Decimal `json:"remaining_quantity_kg"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LayerValue  decimal.Decimal `json:"layer_value"`
}

// Valuation is the value of all unconsumed stock of a material at a plant.
type Valuation struct {
	MaterialID id.ID            `json:"material_id"`
	PlantID    id.ID            `json:"plant_id"`
	TotalKg    types.Kg         `json:"total_kg"`
	TotalValue types.Money      `json:"total_value"`
	Layers     []ValuationLayer `json:"layers"`
}

// AllocationView is a stored allocation joined with its entry number.
type AllocationView struct {
	EntryID            id.ID           `db:"entry_id"`
	EntryNumber        *string         `db:"entry_number"`
	QuantityConsumedKg decimal.Decimal `db:"quantity_consumed_kg"`
	UnitPrice          decimal.Decimal `db:"unit_price"`
	TotalCost          decimal.Decimal `db:"total_cost"`
}

// Remision is the production record header needed for allocation.
type Remision struct {
	ID      id.ID     `db:"id"`
	PlantID id.ID     `db:"plant_id"`
	Fecha   time.Time `db:"fecha"`
}

// RemisionMaterialLine is a consumption line eligible for allocation.
type RemisionMaterialLine struct {
	ID           id.ID           `db:"id"`
	MaterialID   id.ID           `db:"material_id"`
	CantidadReal decimal.Decimal `db:"cantidad_real"`
}

// LineAllocation is one successfully costed line of a remision.
type LineAllocation struct {
	RemisionMaterialID id.ID       `json:"remision_material_id"`
	MaterialID         id.ID       `json:"material_id"`
	TotalCost          types.Money `json:"total_cost"`
}

// RemisionAllocationReport summarises AutoAllocateRemision.
type RemisionAllocationReport struct {
	RemisionID         id.ID             `json:"remision_id"`
	Success            bool              `json:"success"`
	AllocationsCreated int               `json:"allocations_created"`
	Errors             []batch.ItemError `json:"errors"`
	AllocationResults  []LineAllocation  `json:"allocation_results"`
}
