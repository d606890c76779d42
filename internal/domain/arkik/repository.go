package arkik

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/id"
)

// MaterialResolver maps Arkik material codes to plant materials.
type MaterialResolver interface {
	// ResolveMaterials returns the materials of plant whose codes are in codes,
	// keyed by code. Unknown codes are absent from the map.
	ResolveMaterials(ctx context.Context, plantID id.ID, codes []string) (map[string]PlantMaterial, error)
}

// SessionStore persists import sessions and their status-processing output.
type SessionStore interface {
	InsertImportSession(ctx context.Context, s *ImportSession) error
	CompleteImportSession(ctx context.Context, sessionID id.ID, processed, successful int, at time.Time) error
	InsertWasteMaterials(ctx context.Context, items []WasteMaterial) error
	InsertReassignments(ctx context.Context, items []RemisionReassignment) error
	ListWasteMaterials(ctx context.Context, sessionID id.ID) ([]WasteMaterial, error)
}

// ConsumptionLine is the adjustable part of an existing remision material line.
type ConsumptionLine struct {
	ID           id.ID               `db:"id"`
	CantidadReal decimal.Decimal     `db:"cantidad_real"`
	Ajuste       decimal.NullDecimal `db:"ajuste"`
}

// TransferRepository backs material transfer application.
type TransferRepository interface {
	MaterialResolver

	// ListPendingReassignments returns reassignments of the session not applied yet, oldest first.
	ListPendingReassignments(ctx context.Context, plantID, sessionID id.ID) ([]RemisionReassignment, error)

	// FindRemisionID looks up a persisted remision by number within a plant.
	FindRemisionID(ctx context.Context, remisionNumber string, plantID id.ID) (id.ID, bool, error)

	// LockConsumptionLine returns the line of material on remision, locked for update.
	LockConsumptionLine(ctx context.Context, remisionID, materialID id.ID) (*ConsumptionLine, bool, error)
	UpdateConsumptionLine(ctx context.Context, lineID id.ID, cantidadReal, ajuste decimal.Decimal) error
	InsertConsumptionLines(ctx context.Context, lines []RemisionMaterialRecord) error

	MarkReassignmentApplied(ctx context.Context, reassignmentID id.ID, at time.Time) error
}

// OrderRepository backs order creation from suggestions.
type OrderRepository interface {
	MaterialResolver

	PlantCode(ctx context.Context, plantID id.ID) (string, error)

	// RecipeCodes returns the stored recipe code for each known id.
	RecipeCodes(ctx context.Context, recipeIDs []id.ID) (map[id.ID]string, error)

	InsertOrder(ctx context.Context, o *Order) error
	InsertOrderItems(ctx context.Context, items []OrderItem) error
	InsertRemisiones(ctx context.Context, rems []RemisionRecord) error
	InsertRemisionMaterials(ctx context.Context, lines []RemisionMaterialRecord) error
}

// BalanceKey identifies a client balance to recalculate. A nil SiteID is the
// client's general balance.
type BalanceKey struct {
	ClientID id.ID `json:"client_id"`
	SiteID   id.ID `json:"site_id"`
}

// EventPublisher enqueues follow-up work for the background worker.
type EventPublisher interface {
	RequestBalanceRecalculation(ctx context.Context, keys []BalanceKey) error
	RequestPendingTransfers(ctx context.Context, plantID, sessionID id.ID) error
}
