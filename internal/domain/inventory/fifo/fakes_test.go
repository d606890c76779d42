package fifo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/lock"
	"concreterp/internal/core/types"
)

type listPrice struct {
	materialID id.ID
	plantID    id.ID
	price      decimal.Decimal
	effective  time.Time
	end        *time.Time
}

type lineCost struct {
	weighted    decimal.Decimal
	total       decimal.Decimal
	allocatedAt time.Time
}

type repoState struct {
	entries     map[id.ID]Entry
	allocations []Allocation
	costs       map[id.ID]lineCost
}

// memRepo is an in-memory Repository. State is snapshotted by memTx so a
// failed transaction leaves it untouched.
type memRepo struct {
	state     repoState
	prices    []listPrice
	remisions map[id.ID]Remision
	lines     map[id.ID][]RemisionMaterialLine

	failSetRemaining map[id.ID]bool
	priceLookups     int
	seq              int
}

func newMemRepo() *memRepo {
	return &memRepo{
		state: repoState{
			entries: map[id.ID]Entry{},
			costs:   map[id.ID]lineCost{},
		},
		remisions:        map[id.ID]Remision{},
		lines:            map[id.ID][]RemisionMaterialLine{},
		failSetRemaining: map[id.ID]bool{},
	}
}

func (r *memRepo) snapshot() repoState {
	s := repoState{
		entries:     make(map[id.ID]Entry, len(r.state.entries)),
		allocations: append([]Allocation(nil), r.state.allocations...),
		costs:       make(map[id.ID]lineCost, len(r.state.costs)),
	}
	for k, v := range r.state.entries {
		s.entries[k] = v
	}
	for k, v := range r.state.costs {
		s.costs[k] = v
	}
	return s
}

type entrySpec struct {
	number    string
	date      string
	qty       string
	price     string
	remaining string
}

// addEntry registers a layer; empty price or remaining mean NULL.
func (r *memRepo) addEntry(materialID, plantID id.ID, spec entrySpec) id.ID {
	r.seq++
	e := Entry{
		ID:            id.New(),
		EntryNumber:   spec.number,
		MaterialID:    materialID,
		PlantID:       plantID,
		EntryDate:     mustDate(spec.date),
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, r.seq, 0, time.UTC),
		ReceivedQtyKg: decimal.NewNullDecimal(types.MustDecimal(spec.qty)),
	}
	if spec.price != "" {
		e.UnitPrice = decimal.NewNullDecimal(types.MustDecimal(spec.price))
	}
	if spec.remaining != "" {
		e.RemainingKg = decimal.NewNullDecimal(types.MustDecimal(spec.remaining))
	}
	r.state.entries[e.ID] = e
	return e.ID
}

func (r *memRepo) remaining(entryID id.ID) decimal.NullDecimal {
	return r.state.entries[entryID].RemainingKg
}

func (r *memRepo) allocationsFor(rmID id.ID) []Allocation {
	var out []Allocation
	for _, a := range r.state.allocations {
		if a.RemisionMaterialID == rmID {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepo) sortedEntries(keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range r.state.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *memRepo) LockEligibleEntries(_ context.Context, materialID, plantID id.ID, asOf time.Time) ([]Entry, error) {
	return r.sortedEntries(func(e Entry) bool {
		return e.MaterialID == materialID && e.PlantID == plantID &&
			!e.EntryDate.After(asOf) &&
			(!e.RemainingKg.Valid || e.RemainingKg.Decimal.GreaterThanOrEqual(types.QuantityEpsilon))
	}), nil
}

func (r *memRepo) ListValuationEntries(_ context.Context, materialID, plantID id.ID) ([]Entry, error) {
	return r.sortedEntries(func(e Entry) bool {
		return e.MaterialID == materialID && e.PlantID == plantID &&
			(!e.RemainingKg.Valid || e.RemainingKg.Decimal.IsPositive())
	}), nil
}

func (r *memRepo) SetEntryRemaining(_ context.Context, entryID id.ID, remaining decimal.Decimal) error {
	if r.failSetRemaining[entryID] {
		return errors.New("connection reset")
	}
	e := r.state.entries[entryID]
	e.RemainingKg = decimal.NewNullDecimal(remaining)
	r.state.entries[entryID] = e
	return nil
}

func (r *memRepo) AddEntryRemaining(_ context.Context, entryID id.ID, delta decimal.Decimal) error {
	e := r.state.entries[entryID]
	e.RemainingKg = decimal.NewNullDecimal(e.RemainingKg.Decimal.Add(delta))
	r.state.entries[entryID] = e
	return nil
}

func (r *memRepo) FindEffectivePrice(_ context.Context, materialID, plantID id.ID, date time.Time) (decimal.Decimal, bool, error) {
	r.priceLookups++
	var best *listPrice
	for i := range r.prices {
		p := &r.prices[i]
		if p.materialID != materialID || p.plantID != plantID || p.effective.After(date) {
			continue
		}
		if p.end != nil && p.end.Before(date) {
			continue
		}
		if best == nil || p.effective.After(best.effective) {
			best = p
		}
	}
	if best == nil {
		return decimal.Zero, false, nil
	}
	return best.price, true, nil
}

func (r *memRepo) ListAllocations(_ context.Context, rmID id.ID) ([]Allocation, error) {
	return r.allocationsFor(rmID), nil
}

func (r *memRepo) DeleteAllocations(_ context.Context, rmID id.ID) error {
	kept := r.state.allocations[:0:0]
	for _, a := range r.state.allocations {
		if a.RemisionMaterialID != rmID {
			kept = append(kept, a)
		}
	}
	r.state.allocations = kept
	return nil
}

func (r *memRepo) InsertAllocations(_ context.Context, allocations []Allocation) error {
	r.state.allocations = append(r.state.allocations, allocations...)
	return nil
}

func (r *memRepo) ListAllocationViews(_ context.Context, rmID id.ID) ([]AllocationView, error) {
	var out []AllocationView
	for _, a := range r.allocationsFor(rmID) {
		v := AllocationView{
			EntryID:            a.EntryID,
			QuantityConsumedKg: a.QuantityConsumedKg,
			UnitPrice:          a.UnitPrice,
			TotalCost:          a.TotalCost,
		}
		if e, ok := r.state.entries[a.EntryID]; ok {
			n := e.EntryNumber
			v.EntryNumber = &n
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *memRepo) UpdateRemisionMaterialCost(_ context.Context, rmID id.ID, weighted, total decimal.Decimal, at time.Time) error {
	r.state.costs[rmID] = lineCost{weighted: weighted, total: total, allocatedAt: at}
	return nil
}

func (r *memRepo) GetRemision(_ context.Context, remisionID id.ID) (*Remision, error) {
	rem, ok := r.remisions[remisionID]
	if !ok {
		return nil, apperror.NewNotFound("remision", remisionID)
	}
	return &rem, nil
}

func (r *memRepo) ListAllocatableLines(_ context.Context, remisionID id.ID) ([]RemisionMaterialLine, error) {
	return r.lines[remisionID], nil
}

// memTx restores the repository snapshot when fn fails.
type memTx struct {
	repo      *memRepo
	depth     int
	commits   int
	readOnlys int
}

func (m *memTx) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	m.readOnlys++
	return fn(ctx)
}

func (m *memTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.depth > 0 {
		return fn(ctx)
	}
	snap := m.repo.snapshot()
	m.depth++
	err := fn(ctx)
	m.depth--
	if err != nil {
		m.repo.state = snap
		return err
	}
	m.commits++
	return nil
}

type recordingAuditor struct {
	calls map[id.ID][]Allocation
}

func (a *recordingAuditor) RecordReplacedAllocations(_ context.Context, rmID id.ID, replaced []Allocation) error {
	if a.calls == nil {
		a.calls = map[id.ID][]Allocation{}
	}
	a.calls[rmID] = append([]Allocation(nil), replaced...)
	return nil
}

type countingObserver struct {
	succeeded int
	failed    []string
}

func (o *countingObserver) AllocationSucceeded(decimal.Decimal, int) { o.succeeded++ }
func (o *countingObserver) AllocationFailed(code string)             { o.failed = append(o.failed, code) }

type busyLocker struct {
	keys []string
}

func (l *busyLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.keys = append(l.keys, key)
	return nil, lock.ErrNotObtained
}

type countingLocker struct {
	obtained int
	released int
}

func (l *countingLocker) Obtain(context.Context, string, time.Duration) (func(context.Context) error, error) {
	l.obtained++
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func mustDate(s string) time.Time {
	d, err := types.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
