package fifo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/id"
)

// Repository defines persistence operations for cost layers and allocations.
// Mutating methods are expected to run inside the caller's transaction.
type Repository interface {
	// LockEligibleEntries returns layers of material at plant dated on or before asOf
	// whose remaining quantity is unset or at least the quantity epsilon,
	// ordered by entry_date, entry_time, created_at and locked for update.
	LockEligibleEntries(ctx context.Context, materialID, plantID id.ID, asOf time.Time) ([]Entry, error)

	// ListValuationEntries returns layers whose remaining quantity is unset or positive, oldest first.
	ListValuationEntries(ctx context.Context, materialID, plantID id.ID) ([]Entry, error)

	// SetEntryRemaining stores the remaining quantity of a layer.
	SetEntryRemaining(ctx context.Context, entryID id.ID, remaining decimal.Decimal) error

	// AddEntryRemaining returns quantity to a layer.
	AddEntryRemaining(ctx context.Context, entryID id.ID, delta decimal.Decimal) error

	// FindEffectivePrice returns the price-list entry effective on date, if any.
	FindEffectivePrice(ctx context.Context, materialID, plantID id.ID, date time.Time) (decimal.Decimal, bool, error)

	ListAllocations(ctx context.Context, remisionMaterialID id.ID) ([]Allocation, error)
	DeleteAllocations(ctx context.Context, remisionMaterialID id.ID) error
	InsertAllocations(ctx context.Context, allocations []Allocation) error

	// ListAllocationViews returns stored allocations with entry numbers, oldest first.
	ListAllocationViews(ctx context.Context, remisionMaterialID id.ID) ([]AllocationView, error)

	// UpdateRemisionMaterialCost writes the FIFO cost back onto the consumption line.
	UpdateRemisionMaterialCost(ctx context.Context, remisionMaterialID id.ID, weightedUnitCost, totalCost decimal.Decimal, allocatedAt time.Time) error

	GetRemision(ctx context.Context, remisionID id.ID) (*Remision, error)

	// ListAllocatableLines returns lines with a material reference and positive real quantity.
	ListAllocatableLines(ctx context.Context, remisionID id.ID) ([]RemisionMaterialLine, error)
}

// Auditor keeps a record of allocation sets that were replaced by a re-run.
type Auditor interface {
	RecordReplacedAllocations(ctx context.Context, remisionMaterialID id.ID, replaced []Allocation) error
}

// Observer receives allocation outcomes for metrics.
type Observer interface {
	AllocationSucceeded(quantityKg decimal.Decimal, layers int)
	AllocationFailed(code string)
}

type noopObserver struct{}

func (noopObserver) AllocationSucceeded(decimal.Decimal, int) {}
func (noopObserver) AllocationFailed(string)                  {}
