package arkik

import (
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/id"
)

// OrderSuggestion groups staging rows that should become one order.
type OrderSuggestion struct {
	GroupKey            string            `json:"group_key"`
	ClientID            id.ID             `json:"client_id"`
	ConstructionSiteID  id.ID             `json:"construction_site_id"`
	ObraName            string            `json:"obra_name"`
	ComentariosExternos []string          `json:"comentarios_externos"`
	Remisiones          []StagingRemision `json:"remisiones"`
	TotalVolume         decimal.Decimal   `json:"total_volume"`
	SuggestedName       string            `json:"suggested_name,omitempty"`
}

// Order columns written for an auto-generated order.
type Order struct {
	ID                  id.ID           `db:"id"`
	QuoteID             id.ID           `db:"quote_id"`
	ClientID            id.ID           `db:"client_id"`
	ConstructionSite    string          `db:"construction_site"`
	ConstructionSiteID  id.ID           `db:"construction_site_id"`
	OrderNumber         string          `db:"order_number"`
	RequiresInvoice     bool            `db:"requires_invoice"`
	DeliveryDate        time.Time       `db:"delivery_date"`
	DeliveryTime        string          `db:"delivery_time"`
	SpecialRequirements *string         `db:"special_requirements"`
	TotalAmount         decimal.Decimal `db:"total_amount"`
	PreliminaryAmount   decimal.Decimal `db:"preliminary_amount"`
	FinalAmount         decimal.Decimal `db:"final_amount"`
	CreditStatus        string          `db:"credit_status"`
	OrderStatus         string          `db:"order_status"`
	CreatedBy           string          `db:"created_by"`
	PlantID             id.ID           `db:"plant_id"`
	AutoGenerated       bool            `db:"auto_generated"`
	Elemento            *string         `db:"elemento"`
	CreatedAt           time.Time       `db:"created_at"`
}

// OrderItem is one recipe line of an order.
type OrderItem struct {
	ID                      id.ID           `db:"id"`
	OrderID                 id.ID           `db:"order_id"`
	QuoteDetailID           id.ID           `db:"quote_detail_id"`
	ProductType             string          `db:"product_type"`
	Volume                  decimal.Decimal `db:"volume"`
	UnitPrice               decimal.Decimal `db:"unit_price"`
	TotalPrice              decimal.Decimal `db:"total_price"`
	HasPumpService          bool            `db:"has_pump_service"`
	RecipeID                id.ID           `db:"recipe_id"`
	ConcreteVolumeDelivered decimal.Decimal `db:"concrete_volume_delivered"`
}

// RemisionRecord is a remision row created from a staging row.
type RemisionRecord struct {
	ID               id.ID           `db:"id"`
	OrderID          id.ID           `db:"order_id"`
	RemisionNumber   string          `db:"remision_number"`
	Fecha            time.Time       `db:"fecha"`
	HoraCarga        string          `db:"hora_carga"`
	VolumenFabricado decimal.Decimal `db:"volumen_fabricado"`
	Conductor        *string         `db:"conductor"`
	Unidad           *string         `db:"unidad"`
	TipoRemision     string          `db:"tipo_remision"`
	RecipeID         id.ID           `db:"recipe_id"`
	PlantID          id.ID           `db:"plant_id"`
}

// RemisionMaterialRecord is a consumption line of a remision.
type RemisionMaterialRecord struct {
	ID              id.ID           `db:"id"`
	RemisionID      id.ID           `db:"remision_id"`
	MaterialID      id.ID           `db:"material_id"`
	MaterialType    string          `db:"material_type"`
	CantidadReal    decimal.Decimal `db:"cantidad_real"`
	CantidadTeorica decimal.Decimal `db:"cantidad_teorica"`
	Ajuste          decimal.Decimal `db:"ajuste"`
}

// OrderCreationResult aggregates CreateOrdersFromSuggestions.
type OrderCreationResult struct {
	OrdersCreated      int      `json:"orders_created"`
	RemisionesCreated  int      `json:"remisiones_created"`
	MaterialsProcessed int      `json:"materials_processed"`
	OrderItemsCreated  int      `json:"order_items_created"`
	OrderNumbers       []string `json:"order_numbers"`
	Errors             []string `json:"errors"`
}

// Fixed column values of auto-generated orders.
const (
	DefaultDeliveryTime = "08:00:00"
	CreditApproved      = "approved"
	OrderCreated        = "created"
	TipoConcreto        = "CONCRETO"
)
