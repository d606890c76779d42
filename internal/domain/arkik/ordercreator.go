package arkik

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"concreterp/internal/core/apperror"
	appctx "concreterp/internal/core/context"
	"concreterp/internal/core/id"
	"concreterp/internal/core/numerator"
	"concreterp/internal/core/tx"
	"concreterp/internal/core/types"
	"concreterp/pkg/logger"
)

var tracer = otel.Tracer("concreterp/arkik")

// OrderObserver receives order creation outcomes for metrics.
type OrderObserver interface {
	OrderCreated(remisiones int)
	OrderFailed()
}

type noopOrderObserver struct{}

func (noopOrderObserver) OrderCreated(int) {}
func (noopOrderObserver) OrderFailed()     {}

// OrderCreator turns grouped import suggestions into orders, order items,
// remisiones and their material lines.
type OrderCreator struct {
	repo      OrderRepository
	numbers   numerator.Generator
	txManager tx.SavepointManager
	events    EventPublisher
	observer  OrderObserver
	now       func() time.Time
}

// OrderCreatorOption configures an OrderCreator.
type OrderCreatorOption func(*OrderCreator)

// WithOrderObserver sets the metrics observer.
func WithOrderObserver(o OrderObserver) OrderCreatorOption {
	return func(c *OrderCreator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithOrderClock overrides the time source used for order dates.
func WithOrderClock(now func() time.Time) OrderCreatorOption {
	return func(c *OrderCreator) { c.now = now }
}

// NewOrderCreator creates an order creator. events may be nil to disable
// balance recalculation requests.
func NewOrderCreator(repo OrderRepository, numbers numerator.Generator, txManager tx.SavepointManager, events EventPublisher, opts ...OrderCreatorOption) *OrderCreator {
	c := &OrderCreator{
		repo:      repo,
		numbers:   numbers,
		txManager: txManager,
		events:    events,
		observer:  noopOrderObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type orderOutcome struct {
	number     string
	items      int
	remisiones int
	materials  int
	warnings   []string
	balances   []BalanceKey
}

// CreateOrdersFromSuggestions creates one order per suggestion that does not
// already reference an existing order.
//
// Suggestions are processed independently, each in its own transaction; a
// failing suggestion is reported in Errors and the rest continue. Only a
// missing plant fails the whole call.
func (c *OrderCreator) CreateOrdersFromSuggestions(ctx context.Context, suggestions []OrderSuggestion, plantID id.ID, validatedRows []StagingRemision) (*OrderCreationResult, error) {
	ctx, span := tracer.Start(ctx, "arkik.CreateOrdersFromSuggestions", trace.WithAttributes(
		attribute.String("plant_id", plantID.String()),
		attribute.Int("suggestions", len(suggestions)),
	))
	defer span.End()

	plantCode, err := c.repo.PlantCode(ctx, plantID)
	if err != nil {
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, apperror.NewPersistence("select", "plants", plantID, err)
	}

	rows := make(map[string]StagingRemision, len(validatedRows))
	for _, r := range validatedRows {
		if r.IsExcludedFromImport {
			continue
		}
		rows[r.RemisionNumber] = r
	}

	materials, err := c.repo.ResolveMaterials(ctx, plantID, collectMaterialCodes(validatedRows))
	if err != nil {
		logger.Warn(ctx, "failed to load plant materials, material lines will be skipped",
			"plant_id", plantID,
			"error", err,
		)
		materials = map[string]PlantMaterial{}
	}

	res := &OrderCreationResult{OrderNumbers: []string{}, Errors: []string{}}
	var balances []BalanceKey
	seen := make(map[BalanceKey]bool)

	for _, sug := range suggestions {
		if len(sug.Remisiones) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("order %s: suggestion has no remisiones", sug.GroupKey))
			continue
		}
		if sug.Remisiones[0].OrdenOriginal != "" {
			continue
		}

		var out *orderOutcome
		err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			var txErr error
			out, txErr = c.createOrder(ctx, sug, plantID, plantCode, rows, materials)
			return txErr
		})
		if err != nil {
			c.observer.OrderFailed()
			logger.Error(ctx, "order creation from suggestion failed",
				"group_key", sug.GroupKey,
				"error", err,
			)
			res.Errors = append(res.Errors, fmt.Sprintf("order %s: %s", sug.GroupKey, errorMessage(err)))
			continue
		}

		c.observer.OrderCreated(out.remisiones)
		res.OrdersCreated++
		res.OrderItemsCreated += out.items
		res.RemisionesCreated += out.remisiones
		res.MaterialsProcessed += out.materials
		res.OrderNumbers = append(res.OrderNumbers, out.number)
		res.Errors = append(res.Errors, out.warnings...)
		for _, k := range out.balances {
			if !seen[k] {
				seen[k] = true
				balances = append(balances, k)
			}
		}
	}

	if len(balances) > 0 && c.events != nil {
		err := c.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			return c.events.RequestBalanceRecalculation(ctx, balances)
		})
		if err != nil {
			logger.Error(ctx, "failed to request client balance recalculation",
				"balances", len(balances),
				"error", err,
			)
			res.Errors = append(res.Errors, fmt.Sprintf("balance recalculation: %s", errorMessage(err)))
		}
	}

	logger.Info(ctx, "orders created from arkik suggestions",
		"plant_id", plantID,
		"orders", res.OrdersCreated,
		"remisiones", res.RemisionesCreated,
		"materials", res.MaterialsProcessed,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (c *OrderCreator) createOrder(ctx context.Context, sug OrderSuggestion, plantID id.ID, plantCode string, rows map[string]StagingRemision, materials map[string]PlantMaterial) (*orderOutcome, error) {
	first := sug.Remisiones[0]
	if err := validateForOrder(first); err != nil {
		return nil, err
	}

	number, err := c.numbers.NextOrderNumber(ctx, plantCode, c.now())
	if err != nil {
		return nil, apperror.NewPersistence("reserve", "order_number", plantCode, err)
	}

	unitPrice := first.UnitPrice.Decimal
	volume := sug.TotalVolume
	if !volume.IsPositive() {
		volume = decimal.Zero
		for _, r := range sug.Remisiones {
			volume = volume.Add(r.VolumenFabricado)
		}
	}
	total := types.RoundMoney(volume.Mul(unitPrice))
	earliest := earliestRemision(sug.Remisiones)

	order := &Order{
		ID:                 id.New(),
		QuoteID:            first.QuoteID,
		ClientID:           first.ClientID,
		ConstructionSite:   first.ObraName,
		ConstructionSiteID: first.ConstructionSiteID,
		OrderNumber:        number,
		RequiresInvoice:    true,
		DeliveryDate:       types.DateOnly(earliest.Fecha.Time),
		DeliveryTime:       horaOrDefault(earliest.HoraCarga),
		TotalAmount:        total,
		PreliminaryAmount:  total,
		FinalAmount:        total,
		CreditStatus:       CreditApproved,
		OrderStatus:        OrderCreated,
		CreatedBy:          appctx.GetUserID(ctx),
		PlantID:            plantID,
		AutoGenerated:      true,
		CreatedAt:          c.now().UTC(),
	}
	if comments := nonEmpty(sug.ComentariosExternos); len(comments) > 0 {
		joined := strings.Join(comments, ", ")
		order.SpecialRequirements = &joined
		order.Elemento = &comments[0]
	}

	if err := c.repo.InsertOrder(ctx, order); err != nil {
		return nil, apperror.NewPersistence("insert", "orders", order.ID, err)
	}

	out := &orderOutcome{
		number: number,
		balances: []BalanceKey{
			{ClientID: first.ClientID},
			{ClientID: first.ClientID, SiteID: first.ConstructionSiteID},
		},
	}

	items := c.buildOrderItems(ctx, order.ID, sug.Remisiones)
	if len(items) > 0 {
		if err := c.repo.InsertOrderItems(ctx, items); err != nil {
			return nil, apperror.NewPersistence("insert", "order_items", order.ID, err)
		}
		out.items = len(items)
	}

	var (
		rems  []RemisionRecord
		lines []RemisionMaterialRecord
	)
	for _, s := range sug.Remisiones {
		full, ok := rows[s.RemisionNumber]
		if !ok {
			continue
		}
		rec := RemisionRecord{
			ID:               id.New(),
			OrderID:          order.ID,
			RemisionNumber:   full.RemisionNumber,
			Fecha:            types.DateOnly(full.Fecha.Time),
			HoraCarga:        horaOrDefault(full.HoraCarga),
			VolumenFabricado: full.VolumenFabricado,
			Conductor:        optional(full.Conductor),
			Unidad:           optional(full.Placas),
			TipoRemision:     TipoConcreto,
			RecipeID:         full.RecipeID,
			PlantID:          plantID,
		}
		rems = append(rems, rec)
		lines = append(lines, c.buildMaterialLines(ctx, rec.ID, full, materials)...)
	}

	if len(rems) > 0 {
		if err := c.repo.InsertRemisiones(ctx, rems); err != nil {
			return nil, apperror.NewPersistence("insert", "remisiones", order.ID, err)
		}
		out.remisiones = len(rems)
	}

	if len(lines) > 0 {
		err := c.txManager.RunInSavepoint(ctx, func(ctx context.Context) error {
			return c.repo.InsertRemisionMaterials(ctx, lines)
		})
		if err != nil {
			logger.Error(ctx, "failed to create remision materials", "order_number", number, "error", err)
			out.warnings = append(out.warnings, fmt.Sprintf("order %s: creating materials: %v", number, err))
		} else {
			out.materials = len(lines)
		}
	}

	logger.Debug(ctx, "order created from suggestion",
		"group_key", sug.GroupKey,
		"order_number", number,
		"items", out.items,
		"remisiones", out.remisiones,
	)
	return out, nil
}

func validateForOrder(first StagingRemision) error {
	switch {
	case id.IsNil(first.ClientID):
		return apperror.NewValidation(fmt.Sprintf("client_id missing for remision %s", first.RemisionNumber))
	case id.IsNil(first.RecipeID):
		return apperror.NewValidation(fmt.Sprintf("recipe_id missing for remision %s", first.RemisionNumber))
	case id.IsNil(first.ConstructionSiteID):
		return apperror.NewValidation(fmt.Sprintf(
			"construction_site_id missing for remision %s, site %q must be created first",
			first.RemisionNumber, first.ObraName))
	case id.IsNil(first.QuoteID):
		return apperror.NewValidation(fmt.Sprintf(
			"no quote found for recipe %s of client %s", first.RecipeCode, first.ClienteName))
	case !first.UnitPrice.Valid || !first.UnitPrice.Decimal.IsPositive():
		return apperror.NewValidation(fmt.Sprintf("no unit price found for recipe %s", first.RecipeCode))
	}
	return nil
}

// buildOrderItems creates one item per distinct recipe with volumes summed,
// in order of first appearance.
func (c *OrderCreator) buildOrderItems(ctx context.Context, orderID id.ID, rems []StagingRemision) []OrderItem {
	var (
		order  []id.ID
		byID   = make(map[id.ID]*OrderItem)
		parsed = make(map[id.ID]string)
	)
	for _, r := range rems {
		if id.IsNil(r.RecipeID) || r.RecipeCode == "" {
			continue
		}
		if it, ok := byID[r.RecipeID]; ok {
			it.Volume = it.Volume.Add(r.VolumenFabricado)
			if id.IsNil(it.QuoteDetailID) {
				it.QuoteDetailID = r.QuoteDetailID
			}
			continue
		}
		price := decimal.Zero
		if r.UnitPrice.Valid {
			price = r.UnitPrice.Decimal
		}
		order = append(order, r.RecipeID)
		parsed[r.RecipeID] = r.RecipeCode
		byID[r.RecipeID] = &OrderItem{
			OrderID:       orderID,
			QuoteDetailID: r.QuoteDetailID,
			Volume:        r.VolumenFabricado,
			UnitPrice:     price,
			RecipeID:      r.RecipeID,
		}
	}
	if len(order) == 0 {
		return nil
	}

	codes, err := c.repo.RecipeCodes(ctx, order)
	if err != nil {
		logger.Warn(ctx, "could not load recipe codes, using imported codes", "error", err)
		codes = map[id.ID]string{}
	}

	items := make([]OrderItem, 0, len(order))
	for _, rid := range order {
		it := byID[rid]
		it.ID = id.New()
		it.ProductType = parsed[rid]
		if code, ok := codes[rid]; ok && code != "" {
			it.ProductType = code
		}
		it.TotalPrice = types.RoundMoney(it.Volume.Mul(it.UnitPrice))
		it.ConcreteVolumeDelivered = it.Volume
		items = append(items, *it)
	}
	return items
}

// buildMaterialLines creates one consumption line per material code found in
// any measure of the row. Retrabajo and manual quantities count as real
// consumption and are tracked as ajuste.
func (c *OrderCreator) buildMaterialLines(ctx context.Context, remisionID id.ID, row StagingRemision, materials map[string]PlantMaterial) []RemisionMaterialRecord {
	codes := make(map[string]struct{})
	for _, m := range []Materials{row.MaterialsTeorico, row.MaterialsReal, row.MaterialsRetrabajo, row.MaterialsManual} {
		for code := range m {
			codes[code] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(codes))
	for code := range codes {
		sorted = append(sorted, code)
	}
	sort.Strings(sorted)

	var out []RemisionMaterialRecord
	for _, code := range sorted {
		m, ok := materials[code]
		if !ok {
			logger.Warn(ctx, "material code not found in plant, skipping line",
				"code", code,
				"remision_number", row.RemisionNumber,
			)
			continue
		}
		ajuste := row.MaterialsRetrabajo.Get(code).Add(row.MaterialsManual.Get(code))
		out = append(out, RemisionMaterialRecord{
			ID:              id.New(),
			RemisionID:      remisionID,
			MaterialID:      m.ID,
			MaterialType:    m.Name,
			CantidadReal:    row.MaterialsReal.Get(code).Add(ajuste),
			CantidadTeorica: row.MaterialsTeorico.Get(code),
			Ajuste:          ajuste,
		})
	}
	return out
}

func collectMaterialCodes(rows []StagingRemision) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		for _, m := range []Materials{r.MaterialsTeorico, r.MaterialsReal, r.MaterialsRetrabajo, r.MaterialsManual} {
			for code := range m {
				set[code] = struct{}{}
			}
		}
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func earliestRemision(rems []StagingRemision) StagingRemision {
	best := rems[0]
	for _, r := range rems[1:] {
		if r.Fecha.Before(best.Fecha.Time) ||
			(r.Fecha.Equal(best.Fecha.Time) && horaOrDefault(r.HoraCarga) < horaOrDefault(best.HoraCarga)) {
			best = r
		}
	}
	return best
}

func horaOrDefault(h string) string {
	if h == "" {
		return DefaultDeliveryTime
	}
	return h
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func errorMessage(err error) string {
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
