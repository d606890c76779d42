// Package fifo_repo provides the PostgreSQL implementation of fifo.Repository.
// All statements run on the querier of the transaction in context.
package fifo_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
	"concreterp/internal/domain/inventory/fifo"
	"concreterp/internal/infrastructure/storage/postgres"
)

const (
	entriesTable     = "material_entries"
	allocationsTable = "material_consumption_allocations"
	linesTable       = "remision_materiales"
	remisionesTable  = "remisiones"
	pricesTable      = "material_prices"
)

var (
	entryColumns      = postgres.ExtractDBColumns[fifo.Entry]()
	allocationColumns = postgres.ExtractDBColumns[fifo.Allocation]()
)

// Repo implements fifo.Repository.
type Repo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ fifo.Repository = (*Repo)(nil)

// New creates a FIFO repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{txm: txm, builder: postgres.Builder()}
}

func (r *Repo) eligibleEntriesQuery(materialID, plantID id.ID, asOf time.Time) squirrel.SelectBuilder {
	return r.builder.Select(entryColumns...).
		From(entriesTable).
		Where(squirrel.Eq{"material_id": materialID, "plant_id": plantID}).
		Where(squirrel.LtOrEq{"entry_date": asOf}).
		Where(squirrel.Or{
			squirrel.Eq{"remaining_quantity_kg": nil},
			squirrel.GtOrEq{"remaining_quantity_kg": types.QuantityEpsilon},
		}).
		OrderBy("entry_date", "entry_time NULLS FIRST", "created_at").
		Suffix("FOR UPDATE")
}

func (r *Repo) LockEligibleEntries(ctx context.Context, materialID, plantID id.ID, asOf time.Time) ([]fifo.Entry, error) {
	return r.selectEntries(ctx, r.eligibleEntriesQuery(materialID, plantID, asOf))
}

func (r *Repo) valuationEntriesQuery(materialID, plantID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(entryColumns...).
		From(entriesTable).
		Where(squirrel.Eq{"material_id": materialID, "plant_id": plantID}).
		Where(squirrel.Or{
			squirrel.Eq{"remaining_quantity_kg": nil},
			squirrel.Gt{"remaining_quantity_kg": 0},
		}).
		OrderBy("entry_date", "entry_time NULLS FIRST", "created_at")
}

func (r *Repo) ListValuationEntries(ctx context.Context, materialID, plantID id.ID) ([]fifo.Entry, error) {
	return r.selectEntries(ctx, r.valuationEntriesQuery(materialID, plantID))
}

func (r *Repo) selectEntries(ctx context.Context, q squirrel.SelectBuilder) ([]fifo.Entry, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entries query: %w", err)
	}
	var entries []fifo.Entry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	return entries, nil
}

func (r *Repo) SetEntryRemaining(ctx context.Context, entryID id.ID, remaining decimal.Decimal) error {
	return r.exec(ctx, "set entry remaining", r.builder.Update(entriesTable).
		Set("remaining_quantity_kg", remaining).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entryID}))
}

// AddEntryRemaining adds delta to the stored remaining; an unset remaining
// is left for ResolveRemaining to derive.
func (r *Repo) AddEntryRemaining(ctx context.Context, entryID id.ID, delta decimal.Decimal) error {
	return r.exec(ctx, "restore entry remaining", r.builder.Update(entriesTable).
		Set("remaining_quantity_kg", squirrel.Expr("remaining_quantity_kg + ?", delta)).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entryID}).
		Where(squirrel.NotEq{"remaining_quantity_kg": nil}))
}

func (r *Repo) effectivePriceQuery(materialID, plantID id.ID, date time.Time) squirrel.SelectBuilder {
	return r.builder.Select("price_per_unit").
		From(pricesTable).
		Where(squirrel.Eq{"material_id": materialID, "plant_id": plantID}).
		Where(squirrel.LtOrEq{"effective_date": date}).
		Where(squirrel.Or{
			squirrel.Eq{"end_date": nil},
			squirrel.GtOrEq{"end_date": date},
		}).
		OrderBy("effective_date DESC").
		Limit(1)
}

func (r *Repo) FindEffectivePrice(ctx context.Context, materialID, plantID id.ID, date time.Time) (decimal.Decimal, bool, error) {
	sql, args, err := r.effectivePriceQuery(materialID, plantID, date).ToSql()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("build price query: %w", err)
	}
	var price decimal.Decimal
	err = r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query effective price: %w", err)
	}
	return price, true, nil
}

func (r *Repo) ListAllocations(ctx context.Context, remisionMaterialID id.ID) ([]fifo.Allocation, error) {
	sql, args, err := r.builder.Select(allocationColumns...).
		From(allocationsTable).
		Where(squirrel.Eq{"remision_material_id": remisionMaterialID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build allocations query: %w", err)
	}
	var allocations []fifo.Allocation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &allocations, sql, args...); err != nil {
		return nil, fmt.Errorf("select allocations: %w", err)
	}
	return allocations, nil
}

func (r *Repo) DeleteAllocations(ctx context.Context, remisionMaterialID id.ID) error {
	return r.exec(ctx, "delete allocations", r.builder.Delete(allocationsTable).
		Where(squirrel.Eq{"remision_material_id": remisionMaterialID}))
}

func (r *Repo) InsertAllocations(ctx context.Context, allocations []fifo.Allocation) error {
	if err := postgres.BulkInsert(ctx, r.txm.GetQuerier(ctx), allocationsTable, allocationColumns, allocations); err != nil {
		return fmt.Errorf("insert allocations: %w", err)
	}
	return nil
}

func (r *Repo) allocationViewsQuery(remisionMaterialID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(
		"a.entry_id", "e.entry_number", "a.quantity_consumed_kg", "a.unit_price", "a.total_cost",
	).
		From(allocationsTable + " a").
		LeftJoin(entriesTable + " e ON e.id = a.entry_id").
		Where(squirrel.Eq{"a.remision_material_id": remisionMaterialID}).
		OrderBy("a.created_at")
}

func (r *Repo) ListAllocationViews(ctx context.Context, remisionMaterialID id.ID) ([]fifo.AllocationView, error) {
	sql, args, err := r.allocationViewsQuery(remisionMaterialID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build allocation views query: %w", err)
	}
	var views []fifo.AllocationView
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &views, sql, args...); err != nil {
		return nil, fmt.Errorf("select allocation views: %w", err)
	}
	return views, nil
}

func (r *Repo) UpdateRemisionMaterialCost(ctx context.Context, remisionMaterialID id.ID, weightedUnitCost, totalCost decimal.Decimal, allocatedAt time.Time) error {
	return r.exec(ctx, "update remision material cost", r.builder.Update(linesTable).
		Set("unit_cost_weighted", weightedUnitCost).
		Set("total_cost_fifo", totalCost).
		Set("fifo_allocated_at", allocatedAt).
		Where(squirrel.Eq{"id": remisionMaterialID}))
}

func (r *Repo) GetRemision(ctx context.Context, remisionID id.ID) (*fifo.Remision, error) {
	sql, args, err := r.builder.Select("id", "plant_id", "fecha").
		From(remisionesTable).
		Where(squirrel.Eq{"id": remisionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build remision query: %w", err)
	}
	var rem fifo.Remision
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rem, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("remision", remisionID.String())
		}
		return nil, fmt.Errorf("get remision: %w", err)
	}
	return &rem, nil
}

func (r *Repo) allocatableLinesQuery(remisionID id.ID) squirrel.SelectBuilder {
	return r.builder.Select("id", "material_id", "cantidad_real").
		From(linesTable).
		Where(squirrel.Eq{"remision_id": remisionID}).
		Where(squirrel.NotEq{"material_id": nil}).
		Where(squirrel.Gt{"cantidad_real": 0}).
		OrderBy("created_at", "id")
}

func (r *Repo) ListAllocatableLines(ctx context.Context, remisionID id.ID) ([]fifo.RemisionMaterialLine, error) {
	sql, args, err := r.allocatableLinesQuery(remisionID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lines query: %w", err)
	}
	var lines []fifo.RemisionMaterialLine
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("select remision lines: %w", err)
	}
	return lines, nil
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func (r *Repo) exec(ctx context.Context, op string, q sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
