// Package arkik reconciles production-system (Arkik) exports with the ERP:
// status processing, waste and reassignment bookkeeping, deferred material
// transfers and order creation from grouped import suggestions.
package arkik

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
)

// RemisionStatus is the normalized Arkik status of a staging row.
type RemisionStatus string

const (
	StatusTerminado           RemisionStatus = "terminado"
	StatusTerminadoIncompleto RemisionStatus = "terminado_incompleto"
	StatusCancelado           RemisionStatus = "cancelado"
	StatusPendiente           RemisionStatus = "pendiente"
)

// Action is what status processing does with a staging row.
type Action string

const (
	ActionProceedNormal      Action = "proceed_normal"
	ActionReassignToExisting Action = "reassign_to_existing"
	ActionMarkAsWaste        Action = "mark_as_waste"
)

// WasteReason classifies a waste record.
type WasteReason string

const (
	WasteCancelled    WasteReason = "cancelled"
	WasteIncomplete   WasteReason = "incomplete"
	WasteQualityIssue WasteReason = "quality_issue"
	WasteOther        WasteReason = "other"
)

// Materials maps an Arkik material code to a quantity.
type Materials map[string]decimal.Decimal

// Clone returns an independent copy.
func (m Materials) Clone() Materials {
	out := make(Materials, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Codes returns the material codes in lexical order.
func (m Materials) Codes() []string {
	codes := make([]string, 0, len(m))
	for k := range m {
		codes = append(codes, k)
	}
	sort.Strings(codes)
	return codes
}

// Get returns the quantity of code or zero.
func (m Materials) Get(code string) decimal.Decimal {
	if v, ok := m[code]; ok {
		return v
	}
	return decimal.Zero
}

// StagingRemision is one validated row of an Arkik export.
type StagingRemision struct {
	ID                  id.ID               `json:"id"`
	SessionID           id.ID               `json:"session_id"`
	RowNumber           int                 `json:"row_number"`
	OrdenOriginal       string              `json:"orden_original,omitempty"`
	Fecha               types.Date          `json:"fecha"`
	HoraCarga           string              `json:"hora_carga,omitempty"`
	RemisionNumber      string              `json:"remision_number"`
	Estatus             string              `json:"estatus"`
	VolumenFabricado    decimal.Decimal     `json:"volumen_fabricado"`
	ClienteCodigo       string              `json:"cliente_codigo,omitempty"`
	ClienteName         string              `json:"cliente_name"`
	ObraName            string              `json:"obra_name"`
	ComentariosExternos string              `json:"comentarios_externos,omitempty"`
	ProductDescription  string              `json:"product_description,omitempty"`
	RecipeCode          string              `json:"recipe_code,omitempty"`
	Placas              string              `json:"placas,omitempty"`
	Conductor           string              `json:"conductor,omitempty"`
	ClientID            id.ID               `json:"client_id"`
	ConstructionSiteID  id.ID               `json:"construction_site_id"`
	RecipeID            id.ID               `json:"recipe_id"`
	QuoteID             id.ID               `json:"quote_id"`
	QuoteDetailID       id.ID               `json:"quote_detail_id"`
	UnitPrice           decimal.NullDecimal `json:"unit_price"`
	MaterialsTeorico    Materials           `json:"materials_teorico"`
	MaterialsReal       Materials           `json:"materials_real"`
	MaterialsRetrabajo  Materials           `json:"materials_retrabajo,omitempty"`
	MaterialsManual     Materials           `json:"materials_manual,omitempty"`

	// Status processing outcome.
	StatusAction         Action `json:"status_processing_action,omitempty"`
	ReassignmentTarget   string `json:"target_remision_for_reassignment,omitempty"`
	IsExcludedFromImport bool   `json:"is_excluded_from_import,omitempty"`
	WasteReason          string `json:"waste_reason,omitempty"`
	StatusNotes          string `json:"status_processing_notes,omitempty"`
}

// clone copies the row including its material maps.
func (r StagingRemision) clone() StagingRemision {
	r.MaterialsTeorico = r.MaterialsTeorico.Clone()
	r.MaterialsReal = r.MaterialsReal.Clone()
	if r.MaterialsRetrabajo != nil {
		r.MaterialsRetrabajo = r.MaterialsRetrabajo.Clone()
	}
	if r.MaterialsManual != nil {
		r.MaterialsManual = r.MaterialsManual.Clone()
	}
	return r
}

// StatusDecision is an explicit instruction for one staging row.
type StatusDecision struct {
	RemisionID           id.ID     `json:"remision_id"`
	RemisionNumber       string    `json:"remision_number"`
	OriginalStatus       string    `json:"original_status"`
	Action               Action    `json:"action"`
	TargetRemisionNumber string    `json:"target_remision_number,omitempty"`
	MaterialsToTransfer  Materials `json:"materials_to_transfer,omitempty"`
	WasteReason          string    `json:"waste_reason,omitempty"`
	Notes                string    `json:"notes,omitempty"`
}

// WasteMaterial records material of an excluded remision written off as waste.
type WasteMaterial struct {
	ID                id.ID           `json:"id" db:"id"`
	SessionID         id.ID           `json:"session_id" db:"session_id"`
	RemisionNumber    string          `json:"remision_number" db:"remision_number"`
	MaterialCode      string          `json:"material_code" db:"material_code"`
	MaterialName      *string         `json:"material_name,omitempty" db:"material_name"`
	TheoreticalAmount decimal.Decimal `json:"theoretical_amount" db:"theoretical_amount"`
	ActualAmount      decimal.Decimal `json:"actual_amount" db:"actual_amount"`
	WasteAmount       decimal.Decimal `json:"waste_amount" db:"waste_amount"`
	WasteReason       WasteReason     `json:"waste_reason" db:"waste_reason"`
	PlantID           id.ID           `json:"plant_id" db:"plant_id"`
	Fecha             time.Time       `json:"fecha" db:"fecha"`
	Notes             *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// RemisionReassignment is a planned transfer of material from a source
// remision to a target remision identified by number.
type RemisionReassignment struct {
	ID                   id.ID      `json:"id" db:"id"`
	SessionID            id.ID      `json:"session_id" db:"session_id"`
	PlantID              id.ID      `json:"plant_id" db:"plant_id"`
	SourceRemisionID     id.ID      `json:"source_remision_id" db:"source_remision_id"`
	SourceRemisionNumber string     `json:"source_remision_number" db:"source_remision_number"`
	TargetRemisionID     id.ID      `json:"target_remision_id" db:"target_remision_id"`
	TargetRemisionNumber string     `json:"target_remision_number" db:"target_remision_number"`
	MaterialsToTransfer  Materials  `json:"materials_to_transfer" db:"materials_to_transfer"`
	Reason               string     `json:"reason" db:"reason"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	AppliedAt            *time.Time `json:"applied_at,omitempty" db:"applied_at"`
}

// StatusProcessingResult summarises ApplyDecisions.
type StatusProcessingResult struct {
	TotalRemisiones      int                    `json:"total_remisiones"`
	ProcessedRemisiones  int                    `json:"processed_remisiones"`
	NormalRemisiones     int                    `json:"normal_remisiones"`
	ReassignedRemisiones int                    `json:"reassigned_remisiones"`
	WasteRemisiones      int                    `json:"waste_remisiones"`
	ExcludedRemisiones   int                    `json:"excluded_remisiones"`
	Decisions            []StatusDecision       `json:"decisions"`
	WasteMaterials       []WasteMaterial        `json:"waste_materials"`
	Reassignments        []RemisionReassignment `json:"reassignments"`
}

// Import session states.
const (
	SessionValidating = "validating"
	SessionCompleted  = "completed"
)

// ImportSessionMeta describes an uploaded Arkik file.
type ImportSessionMeta struct {
	FileName         string         `json:"file_name"`
	PlantID          id.ID          `json:"plant_id"`
	TotalRows        int            `json:"total_rows"`
	ErrorSummary     map[string]any `json:"error_summary,omitempty"`
	ValidationErrors []any          `json:"validation_errors,omitempty"`
	CreatedBy        string         `json:"-"`
}

// ImportSession is a stored import run.
type ImportSession struct {
	ID               id.ID          `json:"id" db:"id"`
	FileName         string         `json:"file_name" db:"file_name"`
	PlantID          id.ID          `json:"plant_id" db:"plant_id"`
	Status           string         `json:"status" db:"status"`
	TotalRows        int            `json:"total_rows" db:"total_rows"`
	ProcessedRows    int            `json:"processed_rows" db:"processed_rows"`
	SuccessfulRows   int            `json:"successful_rows" db:"successful_rows"`
	ErrorSummary     map[string]any `json:"error_summary" db:"error_summary"`
	ValidationErrors []any          `json:"validation_errors" db:"validation_errors"`
	CreatedBy        string         `json:"created_by" db:"created_by"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// PlantMaterial is a material resolved from its code within a plant.
type PlantMaterial struct {
	ID   id.ID  `db:"id"`
	Code string `db:"material_code"`
	Name string `db:"material_name"`
}
