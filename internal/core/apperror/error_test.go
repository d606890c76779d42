package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_WrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewPersistence("insert", "material_lot", "lot-1", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "PERSISTENCE_FAILURE: insert material_lot failed (caused by: connection reset)", err.Error())
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
	assert.Equal(t, "lot-1", err.Details["id"])
}

func TestAsAppError_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("allocate: %w", NewInsufficientInventory("m", "p", "100", "40", "60"))

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	assert.Equal(t, "60", appErr.Details["shortfall_kg"])
	assert.True(t, IsInsufficientInventory(wrapped))
	assert.False(t, IsNotFound(wrapped))

	_, ok = AsAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, HasCode(nil, CodeInternal))
}

func TestWithDetail(t *testing.T) {
	err := NewValidation("bad request").WithDetail("field", "quantity_kg")
	assert.Equal(t, map[string]any{"field": "quantity_kg"}, err.Details)
	assert.Equal(t, "VALIDATION_ERROR: bad request", err.Error())
}
