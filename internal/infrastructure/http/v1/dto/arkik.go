package dto

import (
	"concreterp/internal/core/batch"
	"concreterp/internal/core/id"
	"concreterp/internal/domain/arkik"
)

// --- Import sessions ---

// CreateSessionRequest registers an uploaded Arkik file.
type CreateSessionRequest struct {
	FileName         string         `json:"file_name" binding:"required"`
	PlantID          id.ID          `json:"plant_id" binding:"required"`
	TotalRows        int            `json:"total_rows" binding:"min=0"`
	ErrorSummary     map[string]any `json:"error_summary"`
	ValidationErrors []any          `json:"validation_errors"`
}

// ToDomain converts the request into session metadata.
func (r CreateSessionRequest) ToDomain(userID string) arkik.ImportSessionMeta {
	return arkik.ImportSessionMeta{
		FileName:         r.FileName,
		PlantID:          r.PlantID,
		TotalRows:        r.TotalRows,
		ErrorSummary:     r.ErrorSummary,
		ValidationErrors: r.ValidationErrors,
		CreatedBy:        userID,
	}
}

// CompleteSessionRequest closes a session with its row counts.
type CompleteSessionRequest struct {
	ProcessedRows  int `json:"processed_rows" binding:"min=0"`
	SuccessfulRows int `json:"successful_rows" binding:"min=0,ltefield=ProcessedRows"`
}

// --- Status processing ---

// AnalyzeStatusRequest carries the validated rows of an import.
type AnalyzeStatusRequest struct {
	Rows []arkik.StagingRemision `json:"rows" binding:"required,min=1"`
}

// AnalyzeStatusResponse buckets the rows by status and lists, for each
// incomplete or cancelled row, the finished rows that could absorb it.
type AnalyzeStatusResponse struct {
	Summary    arkik.StatusSummary                `json:"summary"`
	Candidates map[id.ID][]arkik.StagingRemision `json:"candidates"`
}

// ProcessStatusRequest carries the validated rows and the user's decisions.
type ProcessStatusRequest struct {
	PlantID   id.ID                   `json:"plant_id" binding:"required"`
	Rows      []arkik.StagingRemision `json:"rows" binding:"required,min=1"`
	Decisions []arkik.StatusDecision  `json:"decisions"`
}

// ProcessStatusResponse returns the summary and the updated rows.
type ProcessStatusResponse struct {
	Result *arkik.StatusProcessingResult `json:"result"`
	Rows   []arkik.StagingRemision       `json:"rows"`
}

// SaveWasteRequest stores waste records for a session.
type SaveWasteRequest struct {
	PlantID id.ID                 `json:"plant_id" binding:"required"`
	Items   []arkik.WasteMaterial `json:"items" binding:"required"`
}

// SaveReassignmentsRequest stores planned transfers for a session.
type SaveReassignmentsRequest struct {
	PlantID id.ID                        `json:"plant_id" binding:"required"`
	Items   []arkik.RemisionReassignment `json:"items" binding:"required"`
}

// SavedResponse reports how many records were written.
type SavedResponse struct {
	Saved int `json:"saved"`
}

// --- Orders and transfers ---

// CreateOrdersRequest turns grouped suggestions into orders.
type CreateOrdersRequest struct {
	PlantID       id.ID                   `json:"plant_id" binding:"required"`
	Suggestions   []arkik.OrderSuggestion `json:"suggestions" binding:"required,min=1"`
	ValidatedRows []arkik.StagingRemision `json:"validated_rows"`
}

// CreateOrdersResponse combines order creation with the transfer run that
// follows it. TransfersDeferred is set when that run was queued instead.
type CreateOrdersResponse struct {
	Orders            *arkik.OrderCreationResult           `json:"orders"`
	Transfers         *batch.Result[arkik.AppliedTransfer] `json:"transfers,omitempty"`
	TransfersDeferred bool                                 `json:"transfers_deferred,omitempty"`
}

// ApplyTransfersRequest names the plant whose pending transfers are applied.
type ApplyTransfersRequest struct {
	PlantID id.ID `json:"plant_id" binding:"required"`
}
