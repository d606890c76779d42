package fifo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
)

func TestAutoAllocateRemision_ContinuesAfterLineFailure(t *testing.T) {
	f := newFixture()
	f.twoLayers()
	remID := id.New()
	f.repo.remisions[remID] = Remision{ID: remID, PlantID: f.plant, Fecha: mustDate("2024-01-06")}

	noStock := RemisionMaterialLine{ID: id.New(), MaterialID: id.New(), CantidadReal: types.MustDecimal("5")}
	stocked := RemisionMaterialLine{ID: id.New(), MaterialID: f.material, CantidadReal: types.MustDecimal("120")}
	f.repo.lines[remID] = []RemisionMaterialLine{noStock, stocked}

	report, err := f.svc.AutoAllocateRemision(context.Background(), remID, "user-1")
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, 1, report.AllocationsCreated)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, noStock.ID.String(), report.Errors[0].Key)
	assert.Contains(t, report.Errors[0].Error, "No available inventory")

	require.Len(t, report.AllocationResults, 1)
	assert.Equal(t, stocked.ID, report.AllocationResults[0].RemisionMaterialID)
	assertDecimal(t, "1240", report.AllocationResults[0].TotalCost)
	assert.Len(t, f.repo.allocationsFor(stocked.ID), 2)
}

func TestAutoAllocateRemision_AllLinesSucceed(t *testing.T) {
	f := newFixture()
	f.twoLayers()
	remID := id.New()
	f.repo.remisions[remID] = Remision{ID: remID, PlantID: f.plant, Fecha: mustDate("2024-01-06")}
	f.repo.lines[remID] = []RemisionMaterialLine{
		{ID: id.New(), MaterialID: f.material, CantidadReal: types.MustDecimal("30")},
		{ID: id.New(), MaterialID: f.material, CantidadReal: types.MustDecimal("40")},
	}

	report, err := f.svc.AutoAllocateRemision(context.Background(), remID, "user-1")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.AllocationsCreated)
	assert.Empty(t, report.Errors)
	assertDecimal(t, "300", report.AllocationResults[0].TotalCost)
	assertDecimal(t, "400", report.AllocationResults[1].TotalCost)
}

func TestAutoAllocateRemision_UnknownRemision(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AutoAllocateRemision(context.Background(), id.New(), "user-1")
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}
