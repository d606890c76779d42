// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"concreterp/internal/core/id"
)

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// MaterialPlantQuery selects one material at one plant.
type MaterialPlantQuery struct {
	MaterialID string `form:"material_id" binding:"required,uuid"`
	PlantID    string `form:"plant_id" binding:"required,uuid"`
}

// IDs parses both identifiers. Binding has already checked the format.
func (q MaterialPlantQuery) IDs() (materialID, plantID id.ID, err error) {
	if materialID, err = id.Parse(q.MaterialID); err != nil {
		return
	}
	plantID, err = id.Parse(q.PlantID)
	return
}
