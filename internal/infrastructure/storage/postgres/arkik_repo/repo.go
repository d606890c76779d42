// Package arkik_repo provides PostgreSQL implementations of the arkik
// repositories. Statements run on the querier of the transaction in context.
package arkik_repo

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
	"concreterp/internal/domain/arkik"
	"concreterp/internal/infrastructure/storage/postgres"
)

const (
	sessionsTable      = "arkik_import_sessions"
	wasteTable         = "waste_materials"
	reassignmentsTable = "remision_reassignments"
	materialsTable     = "materials"
	plantsTable        = "plants"
	recipesTable       = "recipes"
	ordersTable        = "orders"
	orderItemsTable    = "order_items"
	remisionesTable    = "remisiones"
	linesTable         = "remision_materiales"
)

var (
	sessionColumns      = postgres.ExtractDBColumns[arkik.ImportSession]()
	wasteColumns        = postgres.ExtractDBColumns[arkik.WasteMaterial]()
	reassignmentColumns = postgres.ExtractDBColumns[arkik.RemisionReassignment]()
	orderColumns        = postgres.ExtractDBColumns[arkik.Order]()
	orderItemColumns    = postgres.ExtractDBColumns[arkik.OrderItem]()
	remisionColumns     = postgres.ExtractDBColumns[arkik.RemisionRecord]()
	lineColumns         = postgres.ExtractDBColumns[arkik.RemisionMaterialRecord]()
)

// Repo implements the session, transfer and order repositories of arkik.
type Repo struct {
	txm       *postgres.TxManager
	builder   squirrel.StatementBuilderType
	materials MaterialResolver
}

// MaterialResolver resolves material codes, typically from a cache.
type MaterialResolver interface {
	ResolveMaterials(ctx context.Context, plantID id.ID, codes []string) (map[string]arkik.PlantMaterial, error)
}

var (
	_ arkik.SessionStore       = (*Repo)(nil)
	_ arkik.TransferRepository = (*Repo)(nil)
	_ arkik.OrderRepository    = (*Repo)(nil)
)

// New creates an arkik repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{txm: txm, builder: postgres.Builder()}
}

// UseMaterialCache routes ResolveMaterials through m.
func (r *Repo) UseMaterialCache(m MaterialResolver) {
	r.materials = m
}

func (r *Repo) querier(ctx context.Context) postgres.Querier {
	return r.txm.GetQuerier(ctx)
}

func (r *Repo) insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmts, err := postgres.BuildBulkInserts(table, columns, rows)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := r.exec(ctx, "insert "+table, stmt); err != nil {
			return err
		}
	}
	return nil
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func (r *Repo) exec(ctx context.Context, op string, q sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// --- Sessions ---

func (r *Repo) InsertImportSession(ctx context.Context, s *arkik.ImportSession) error {
	return r.insert(ctx, sessionsTable, sessionColumns,
		postgres.StructRows([]*arkik.ImportSession{s}, sessionColumns))
}

func (r *Repo) CompleteImportSession(ctx context.Context, sessionID id.ID, processed, successful int, at time.Time) error {
	return r.exec(ctx, "complete import session", r.builder.Update(sessionsTable).
		Set("status", arkik.SessionCompleted).
		Set("processed_rows", processed).
		Set("successful_rows", successful).
		Set("completed_at", at).
		Where(squirrel.Eq{"id": sessionID}))
}

func (r *Repo) InsertWasteMaterials(ctx context.Context, items []arkik.WasteMaterial) error {
	return r.insert(ctx, wasteTable, wasteColumns, postgres.StructRows(items, wasteColumns))
}

func (r *Repo) InsertReassignments(ctx context.Context, items []arkik.RemisionReassignment) error {
	return r.insert(ctx, reassignmentsTable, reassignmentColumns, postgres.StructRows(items, reassignmentColumns))
}

func (r *Repo) ListWasteMaterials(ctx context.Context, sessionID id.ID) ([]arkik.WasteMaterial, error) {
	sql, args, err := r.builder.Select(wasteColumns...).
		From(wasteTable).
		Where(squirrel.Eq{"session_id": sessionID}).
		OrderBy("remision_number", "material_code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build waste query: %w", err)
	}
	var items []arkik.WasteMaterial
	if err := pgxscan.Select(ctx, r.querier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select waste materials: %w", err)
	}
	return items, nil
}

// GetImportSession loads a session by id.
func (r *Repo) GetImportSession(ctx context.Context, sessionID id.ID) (*arkik.ImportSession, error) {
	sql, args, err := r.builder.Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session query: %w", err)
	}
	var s arkik.ImportSession
	if err := pgxscan.Get(ctx, r.querier(ctx), &s, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("arkik_import_session", sessionID.String())
		}
		return nil, fmt.Errorf("get import session: %w", err)
	}
	return &s, nil
}

// --- Materials ---

func (r *Repo) materialsQuery(plantID id.ID, codes []string) squirrel.SelectBuilder {
	return r.builder.Select("id", "material_code", "material_name").
		From(materialsTable).
		Where(squirrel.Eq{"plant_id": plantID, "material_code": codes}).
		Where(squirrel.Eq{"is_active": true})
}

func (r *Repo) plantMaterialsQuery(plantID id.ID) squirrel.SelectBuilder {
	return r.builder.Select("id", "material_code", "material_name").
		From(materialsTable).
		Where(squirrel.Eq{"plant_id": plantID, "is_active": true}).
		OrderBy("material_code")
}

// PlantMaterials lists every active material of a plant.
func (r *Repo) PlantMaterials(ctx context.Context, plantID id.ID) ([]arkik.PlantMaterial, error) {
	sql, args, err := r.plantMaterialsQuery(plantID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build plant materials query: %w", err)
	}
	var materials []arkik.PlantMaterial
	if err := pgxscan.Select(ctx, r.querier(ctx), &materials, sql, args...); err != nil {
		return nil, fmt.Errorf("select plant materials: %w", err)
	}
	return materials, nil
}

func (r *Repo) ResolveMaterials(ctx context.Context, plantID id.ID, codes []string) (map[string]arkik.PlantMaterial, error) {
	if r.materials != nil {
		return r.materials.ResolveMaterials(ctx, plantID, codes)
	}
	out := make(map[string]arkik.PlantMaterial, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	sql, args, err := r.materialsQuery(plantID, codes).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build materials query: %w", err)
	}
	var materials []arkik.PlantMaterial
	if err := pgxscan.Select(ctx, r.querier(ctx), &materials, sql, args...); err != nil {
		return nil, fmt.Errorf("select materials: %w", err)
	}
	for _, m := range materials {
		out[m.Code] = m
	}
	return out, nil
}

// --- Transfers ---

// A reassignment may reference a target that did not exist yet, stored as NULL.
func (r *Repo) pendingReassignmentsQuery(plantID, sessionID id.ID) squirrel.SelectBuilder {
	cols := make([]string, 0, len(reassignmentColumns))
	for _, c := range reassignmentColumns {
		switch c {
		case "source_remision_id", "target_remision_id":
			cols = append(cols, fmt.Sprintf("COALESCE(%s, '%s'::uuid) AS %s", c, id.ID{}.String(), c))
		default:
			cols = append(cols, c)
		}
	}
	return r.builder.Select(cols...).
		From(reassignmentsTable).
		Where(squirrel.Eq{"plant_id": plantID, "session_id": sessionID}).
		Where(squirrel.Eq{"applied_at": nil}).
		OrderBy("created_at", "id")
}

func (r *Repo) ListPendingReassignments(ctx context.Context, plantID, sessionID id.ID) ([]arkik.RemisionReassignment, error) {
	sql, args, err := r.pendingReassignmentsQuery(plantID, sessionID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reassignments query: %w", err)
	}
	var items []arkik.RemisionReassignment
	if err := pgxscan.Select(ctx, r.querier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select pending reassignments: %w", err)
	}
	return items, nil
}

func (r *Repo) FindRemisionID(ctx context.Context, remisionNumber string, plantID id.ID) (id.ID, bool, error) {
	sql, args, err := r.builder.Select("id").
		From(remisionesTable).
		Where(squirrel.Eq{"remision_number": remisionNumber, "plant_id": plantID}).
		Limit(1).
		ToSql()
	if err != nil {
		return id.ID{}, false, fmt.Errorf("build remision lookup: %w", err)
	}
	var remisionID id.ID
	err = r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&remisionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, fmt.Errorf("find remision %s: %w", remisionNumber, err)
	}
	return remisionID, true, nil
}

func (r *Repo) consumptionLineQuery(remisionID, materialID id.ID) squirrel.SelectBuilder {
	return r.builder.Select("id", "cantidad_real", "ajuste").
		From(linesTable).
		Where(squirrel.Eq{"remision_id": remisionID, "material_id": materialID}).
		OrderBy("created_at").
		Limit(1).
		Suffix("FOR UPDATE")
}

func (r *Repo) LockConsumptionLine(ctx context.Context, remisionID, materialID id.ID) (*arkik.ConsumptionLine, bool, error) {
	sql, args, err := r.consumptionLineQuery(remisionID, materialID).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build consumption line query: %w", err)
	}
	var line arkik.ConsumptionLine
	if err := pgxscan.Get(ctx, r.querier(ctx), &line, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock consumption line: %w", err)
	}
	return &line, true, nil
}

func (r *Repo) UpdateConsumptionLine(ctx context.Context, lineID id.ID, cantidadReal, ajuste decimal.Decimal) error {
	return r.exec(ctx, "update consumption line", r.builder.Update(linesTable).
		Set("cantidad_real", cantidadReal).
		Set("ajuste", ajuste).
		Where(squirrel.Eq{"id": lineID}))
}

func (r *Repo) InsertConsumptionLines(ctx context.Context, lines []arkik.RemisionMaterialRecord) error {
	return r.insert(ctx, linesTable, lineColumns, postgres.StructRows(lines, lineColumns))
}

func (r *Repo) MarkReassignmentApplied(ctx context.Context, reassignmentID id.ID, at time.Time) error {
	return r.exec(ctx, "mark reassignment applied", r.builder.Update(reassignmentsTable).
		Set("applied_at", at).
		Where(squirrel.Eq{"id": reassignmentID}))
}

// --- Orders ---

func (r *Repo) PlantCode(ctx context.Context, plantID id.ID) (string, error) {
	var code string
	err := r.querier(ctx).QueryRow(ctx, `SELECT code FROM `+plantsTable+` WHERE id = $1`, plantID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperror.NewNotFound("plant", plantID.String())
	}
	if err != nil {
		return "", fmt.Errorf("get plant code: %w", err)
	}
	return code, nil
}

func (r *Repo) RecipeCodes(ctx context.Context, recipeIDs []id.ID) (map[id.ID]string, error) {
	out := make(map[id.ID]string, len(recipeIDs))
	if len(recipeIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ID   id.ID  `db:"id"`
		Code string `db:"recipe_code"`
	}
	err := pgxscan.Select(ctx, r.querier(ctx), &rows,
		`SELECT id, recipe_code FROM `+recipesTable+` WHERE id = ANY($1)`, recipeIDs)
	if err != nil {
		return nil, fmt.Errorf("select recipe codes: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = row.Code
	}
	return out, nil
}

func (r *Repo) InsertOrder(ctx context.Context, o *arkik.Order) error {
	return r.insert(ctx, ordersTable, orderColumns, postgres.StructRows([]*arkik.Order{o}, orderColumns))
}

func (r *Repo) InsertOrderItems(ctx context.Context, items []arkik.OrderItem) error {
	return r.insert(ctx, orderItemsTable, orderItemColumns, postgres.StructRows(items, orderItemColumns))
}

func (r *Repo) InsertRemisiones(ctx context.Context, rems []arkik.RemisionRecord) error {
	return r.insert(ctx, remisionesTable, remisionColumns, postgres.StructRows(rems, remisionColumns))
}

func (r *Repo) InsertRemisionMaterials(ctx context.Context, lines []arkik.RemisionMaterialRecord) error {
	return r.insert(ctx, linesTable, lineColumns, postgres.StructRows(lines, lineColumns))
}

// --- Balances ---

// RecalculateBalance runs update_client_balance for one client/site pair.
// A nil site recalculates the client's general balance.
func (r *Repo) RecalculateBalance(ctx context.Context, key arkik.BalanceKey) error {
	var site any
	if !id.IsNil(key.SiteID) {
		site = key.SiteID
	}
	if _, err := r.querier(ctx).Exec(ctx, `SELECT update_client_balance($1, $2)`, key.ClientID, site); err != nil {
		return fmt.Errorf("update client balance %s: %w", key.ClientID, err)
	}
	return nil
}
