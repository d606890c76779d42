package fifo_repo

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concreterp/internal/core/id"
)

func TestEligibleEntriesQuery_SQL(t *testing.T) {
	repo := New(nil)
	asOf := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	sql, args, err := repo.eligibleEntriesQuery(id.New(), id.New(), asOf).ToSql()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "SELECT id, entry_number, material_id, plant_id, entry_date, created_at, remaining_quantity_kg"))
	assert.Contains(t, sql, "FROM material_entries WHERE material_id = $1 AND plant_id = $2 AND entry_date <= $3")
	assert.Contains(t, sql, "(remaining_quantity_kg IS NULL OR remaining_quantity_kg >= $4)")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY entry_date, entry_time NULLS FIRST, created_at FOR UPDATE"))
	assert.Len(t, args, 4)
}

func TestValuationEntriesQuery_NoLock(t *testing.T) {
	sql, args, err := New(nil).valuationEntriesQuery(id.New(), id.New()).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "(remaining_quantity_kg IS NULL OR remaining_quantity_kg > $3)")
	assert.NotContains(t, sql, "FOR UPDATE")
	assert.NotContains(t, sql, "entry_date <=")
	assert.Len(t, args, 3)
}

func TestEffectivePriceQuery_SQL(t *testing.T) {
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	sql, args, err := New(nil).effectivePriceQuery(id.New(), id.New(), date).ToSql()
	require.NoError(t, err)

	want := "SELECT price_per_unit FROM material_prices " +
		"WHERE material_id = $1 AND plant_id = $2 AND effective_date <= $3 " +
		"AND (end_date IS NULL OR end_date >= $4) " +
		"ORDER BY effective_date DESC LIMIT 1"
	assert.Equal(t, want, sql)
	assert.Equal(t, date, args[2])
	assert.Equal(t, date, args[3])
}

func TestAllocationViewsQuery_JoinsEntryNumber(t *testing.T) {
	sql, args, err := New(nil).allocationViewsQuery(id.New()).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "SELECT a.entry_id, e.entry_number, a.quantity_consumed_kg, a.unit_price, a.total_cost "+
		"FROM material_consumption_allocations a LEFT JOIN material_entries e ON e.id = a.entry_id "+
		"WHERE a.remision_material_id = $1 ORDER BY a.created_at", sql)
	assert.Len(t, args, 1)
}

func TestAllocatableLinesQuery_SQL(t *testing.T) {
	sql, _, err := New(nil).allocatableLinesQuery(id.New()).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, material_id, cantidad_real FROM remision_materiales "+
		"WHERE remision_id = $1 AND material_id IS NOT NULL AND cantidad_real > $2 ORDER BY created_at, id", sql)
}

func TestAllocationColumns(t *testing.T) {
	assert.Equal(t, []string{
		"id", "remision_id", "remision_material_id", "entry_id", "material_id", "plant_id",
		"quantity_consumed_kg", "unit_price", "total_cost", "consumption_date", "created_by", "created_at",
	}, allocationColumns)
}
