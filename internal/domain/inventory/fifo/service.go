package fifo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/lock"
	"concreterp/internal/core/tx"
	"concreterp/internal/core/types"
	"concreterp/pkg/logger"
)

var tracer = otel.Tracer("concreterp/fifo")

// DefaultLockTTL bounds how long one allocation may hold the material lock.
const DefaultLockTTL = 30 * time.Second

// Service allocates consumption to cost layers and values stock.
type Service struct {
	repo      Repository
	txManager tx.Manager
	locker    lock.Locker
	auditor   Auditor
	observer  Observer
	lockTTL   time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocker serializes allocations per material and plant across processes.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithAuditor records allocation sets replaced by re-allocation.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithObserver reports allocation outcomes.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new FIFO costing service.
func NewService(repo Repository, txManager tx.Manager, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		txManager: txManager,
		locker:    lock.Noop{},
		observer:  noopObserver{},
		lockTTL:   DefaultLockTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LockKey is the distributed lock key guarding the layers of one material at one plant.
func LockKey(materialID, plantID id.ID) string {
	return fmt.Sprintf("fifo:%s:%s", plantID, materialID)
}

// Allocate costs out one consumption line against the oldest available layers.
//
// Existing allocations of the line are reversed first, so calling Allocate
// again for the same line replaces the previous result. Everything runs in a
// single transaction with the candidate layers locked; on any error nothing
// is changed.
func (s *Service) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	if err := req.Validate(); err != nil {
		s.observer.AllocationFailed(apperror.CodeInvalidArgument)
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "fifo.Allocate", trace.WithAttributes(
		attribute.String("material_id", req.MaterialID.String()),
		attribute.String("plant_id", req.PlantID.String()),
		attribute.String("quantity_kg", req.QuantityKg.String()),
	))
	defer span.End()

	key := LockKey(req.MaterialID, req.PlantID)
	release, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if err != nil {
		s.observer.AllocationFailed(apperror.CodeLockNotObtained)
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, apperror.NewLockNotObtained(key)
		}
		return nil, apperror.NewInternal(fmt.Errorf("obtain lock %s: %w", key, err))
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Warn(ctx, "failed to release fifo lock", "key", key, "error", rerr)
		}
	}()

	var result *AllocationResult
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		result, txErr = s.allocate(ctx, req)
		return txErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.observer.AllocationFailed(errorCode(err))
		return nil, err
	}

	s.observer.AllocationSucceeded(req.QuantityKg, len(result.Allocations))
	logger.Info(ctx, "fifo allocation completed",
		"remision_material_id", req.RemisionMaterialID,
		"material_id", req.MaterialID,
		"plant_id", req.PlantID,
		"quantity_kg", req.QuantityKg.String(),
		"total_cost", result.TotalCost.String(),
		"layers", len(result.Allocations),
	)
	return result, nil
}

func (s *Service) allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	if err := s.resetAllocations(ctx, req.RemisionMaterialID); err != nil {
		return nil, err
	}

	entries, err := s.repo.LockEligibleEntries(ctx, req.MaterialID, req.PlantID, req.ConsumptionDate)
	if err != nil {
		return nil, apperror.NewPersistence("select", "material_entries", req.MaterialID, err)
	}
	if len(entries) == 0 {
		appErr := apperror.NewInsufficientInventory(req.MaterialID.String(), req.PlantID.String(),
			req.QuantityKg.String(), "0.000", req.QuantityKg.String())
		appErr.Message = fmt.Sprintf("No available inventory for material %s at plant %s as of %s",
			req.MaterialID, req.PlantID, types.FormatDate(req.ConsumptionDate))
		return nil, appErr
	}

	remaining, err := s.initializeRemaining(ctx, entries)
	if err != nil {
		return nil, err
	}

	available := types.SumDecimals(remaining...)
	if available.LessThan(req.QuantityKg) {
		return nil, apperror.NewInsufficientInventory(req.MaterialID.String(), req.PlantID.String(),
			req.QuantityKg.String(), available.StringFixed(types.KgScale),
			req.QuantityKg.Sub(available).StringFixed(types.KgScale))
	}

	var (
		toAllocate  = req.QuantityKg
		allocations = make([]Allocation, 0, len(entries))
		layers      = make([]LayerAllocation, 0, len(entries))
		fallback    *decimal.Decimal
		createdAt   = s.now().UTC()
	)

	for i, entry := range entries {
		if !toAllocate.IsPositive() {
			break
		}
		entryRemaining := remaining[i]
		if !entryRemaining.IsPositive() {
			continue
		}

		price := entry.UnitPrice.Decimal
		if !entry.UnitPrice.Valid || price.IsZero() {
			if fallback == nil {
				p, err := s.fallbackPrice(ctx, req)
				if err != nil {
					return nil, err
				}
				fallback = &p
			}
			price = *fallback
		}

		qty := decimal.Min(toAllocate, entryRemaining)
		cost := types.RoundMoney(qty.Mul(price))
		after := entryRemaining.Sub(qty)

		allocations = append(allocations, Allocation{
			ID:                 id.New(),
			RemisionID:         req.RemisionID,
			RemisionMaterialID: req.RemisionMaterialID,
			EntryID:            entry.ID,
			MaterialID:         req.MaterialID,
			PlantID:            req.PlantID,
			QuantityConsumedKg: qty,
			UnitPrice:          price,
			TotalCost:          cost,
			ConsumptionDate:    req.ConsumptionDate,
			CreatedBy:          req.UserID,
			CreatedAt:          createdAt,
		})
		layers = append(layers, LayerAllocation{
			EntryID:        entry.ID,
			EntryNumber:    entry.EntryNumber,
			QuantityKg:     qty,
			UnitPrice:      price,
			Cost:           cost,
			RemainingAfter: after,
		})
		toAllocate = toAllocate.Sub(qty)
	}

	if types.ExceedsEpsilon(toAllocate) {
		return nil, apperror.NewAllocationIncomplete(toAllocate.StringFixed(types.KgScale))
	}

	if err := s.repo.InsertAllocations(ctx, allocations); err != nil {
		return nil, apperror.NewPersistence("insert", "material_consumption_allocations", req.RemisionMaterialID, err)
	}
	for _, l := range layers {
		if err := s.repo.SetEntryRemaining(ctx, l.EntryID, l.RemainingAfter); err != nil {
			return nil, apperror.NewPersistence("update", "material_entries", l.EntryID, err)
		}
	}

	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.TotalCost)
	}
	weighted := types.RoundUnitCost(total.Div(req.QuantityKg))

	if err := s.repo.UpdateRemisionMaterialCost(ctx, req.RemisionMaterialID, weighted, total, createdAt); err != nil {
		return nil, apperror.NewPersistence("update", "remision_materiales", req.RemisionMaterialID, err)
	}

	return &AllocationResult{
		TotalCost:        types.RoundMoney(total),
		WeightedUnitCost: weighted,
		Allocations:      layers,
	}, nil
}

// resetAllocations returns previously consumed quantities to their layers and
// deletes the old allocation rows.
func (s *Service) resetAllocations(ctx context.Context, remisionMaterialID id.ID) error {
	existing, err := s.repo.ListAllocations(ctx, remisionMaterialID)
	if err != nil {
		return apperror.NewPersistence("select", "material_consumption_allocations", remisionMaterialID, err)
	}
	if len(existing) == 0 {
		return nil
	}

	restore := make(map[id.ID]decimal.Decimal, len(existing))
	order := make([]id.ID, 0, len(existing))
	for _, a := range existing {
		if _, ok := restore[a.EntryID]; !ok {
			order = append(order, a.EntryID)
		}
		restore[a.EntryID] = restore[a.EntryID].Add(a.QuantityConsumedKg)
	}
	for _, entryID := range order {
		if err := s.repo.AddEntryRemaining(ctx, entryID, restore[entryID]); err != nil {
			return apperror.NewPersistence("restore", "material_entries", entryID, err)
		}
	}

	if err := s.repo.DeleteAllocations(ctx, remisionMaterialID); err != nil {
		return apperror.NewPersistence("delete", "material_consumption_allocations", remisionMaterialID, err)
	}

	if s.auditor != nil {
		if err := s.auditor.RecordReplacedAllocations(ctx, remisionMaterialID, existing); err != nil {
			return apperror.NewPersistence("insert", "sys_audit", remisionMaterialID, err)
		}
	}

	logger.Debug(ctx, "reversed previous fifo allocations",
		"remision_material_id", remisionMaterialID,
		"allocations", len(existing),
		"entries", len(order),
	)
	return nil
}

// initializeRemaining resolves every layer's remaining quantity and persists
// the ones that were still unset.
func (s *Service) initializeRemaining(ctx context.Context, entries []Entry) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(entries))
	for i, e := range entries {
		qty, derived := e.Remaining()
		out[i] = qty
		if !derived {
			continue
		}
		if err := s.repo.SetEntryRemaining(ctx, e.ID, qty); err != nil {
			return nil, apperror.NewPersistence("initialize", "material_entries", e.ID, err)
		}
	}
	return out, nil
}

func (s *Service) fallbackPrice(ctx context.Context, req AllocationRequest) (decimal.Decimal, error) {
	price, found, err := s.repo.FindEffectivePrice(ctx, req.MaterialID, req.PlantID, req.ConsumptionDate)
	if err != nil {
		return decimal.Zero, apperror.NewPersistence("select", "material_prices", req.MaterialID, err)
	}
	if !found {
		logger.Warn(ctx, "no entry or list price, allocating at zero cost",
			"material_id", req.MaterialID,
			"plant_id", req.PlantID,
			"date", types.FormatDate(req.ConsumptionDate),
		)
		return decimal.Zero, nil
	}
	return price, nil
}

// Valuate sums the value of every layer that still holds stock.
func (s *Service) Valuate(ctx context.Context, materialID, plantID id.ID) (*Valuation, error) {
	ctx, span := tracer.Start(ctx, "fifo.Valuate")
	defer span.End()

	val := &Valuation{
		MaterialID: materialID,
		PlantID:    plantID,
		TotalKg:    decimal.Zero,
		TotalValue: decimal.Zero,
		Layers:     []ValuationLayer{},
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		entries, err := s.repo.ListValuationEntries(ctx, materialID, plantID)
		if err != nil {
			return apperror.NewPersistence("select", "material_entries", materialID, err)
		}
		remaining, err := s.initializeRemaining(ctx, entries)
		if err != nil {
			return err
		}

		for i, e := range entries {
			price := decimal.Zero
			if e.UnitPrice.Valid {
				price = e.UnitPrice.Decimal
			}
			layerValue := types.RoundMoney(remaining[i].Mul(price))
			val.Layers = append(val.Layers, ValuationLayer{
				EntryID:     e.ID,
				EntryNumber: e.EntryNumber,
				EntryDate:   e.EntryDate,
				RemainingKg: remaining[i],
				UnitPrice:   price,
				LayerValue:  layerValue,
			})
			val.TotalKg = val.TotalKg.Add(remaining[i])
			val.TotalValue = val.TotalValue.Add(layerValue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	val.TotalValue = types.RoundMoney(val.TotalValue)
	return val, nil
}

// CostForRemisionMaterial reads back the stored allocation breakdown of a line.
func (s *Service) CostForRemisionMaterial(ctx context.Context, remisionMaterialID id.ID) (*AllocationResult, error) {
	read := s.txManager.RunInTransaction
	if ro, ok := s.txManager.(tx.ReadOnlyManager); ok {
		read = ro.ReadOnly
	}
	var views []AllocationView
	err := read(ctx, func(ctx context.Context) error {
		var err error
		views, err = s.repo.ListAllocationViews(ctx, remisionMaterialID)
		return err
	})
	if err != nil {
		return nil, apperror.NewPersistence("select", "material_consumption_allocations", remisionMaterialID, err)
	}

	result := &AllocationResult{
		TotalCost:        decimal.Zero,
		WeightedUnitCost: decimal.Zero,
		Allocations:      make([]LayerAllocation, 0, len(views)),
	}
	qty := decimal.Zero
	for _, v := range views {
		number := "N/A"
		if v.EntryNumber != nil && *v.EntryNumber != "" {
			number = *v.EntryNumber
		}
		result.Allocations = append(result.Allocations, LayerAllocation{
			EntryID:     v.EntryID,
			EntryNumber: number,
			QuantityKg:  v.QuantityConsumedKg,
			UnitPrice:   v.UnitPrice,
			Cost:        v.TotalCost,
		})
		result.TotalCost = result.TotalCost.Add(v.TotalCost)
		qty = qty.Add(v.QuantityConsumedKg)
	}
	result.TotalCost = types.RoundMoney(result.TotalCost)
	if qty.IsPositive() {
		result.WeightedUnitCost = types.RoundUnitCost(result.TotalCost.Div(qty))
	}
	return result, nil
}

func errorCode(err error) string {
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.Code
	}
	return apperror.CodeInternal
}
