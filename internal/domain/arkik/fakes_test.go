package arkik

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/numerator"
)

type storeState struct {
	orders        []Order
	items         []OrderItem
	remisiones    []RemisionRecord
	lines         []RemisionMaterialRecord
	reassignments []RemisionReassignment
	waste         []WasteMaterial
	sessions      map[id.ID]ImportSession
}

func (s storeState) clone() storeState {
	c := storeState{
		orders:        append([]Order(nil), s.orders...),
		items:         append([]OrderItem(nil), s.items...),
		remisiones:    append([]RemisionRecord(nil), s.remisiones...),
		lines:         append([]RemisionMaterialRecord(nil), s.lines...),
		reassignments: append([]RemisionReassignment(nil), s.reassignments...),
		waste:         append([]WasteMaterial(nil), s.waste...),
		sessions:      make(map[id.ID]ImportSession, len(s.sessions)),
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// memStore implements every Arkik repository interface in memory.
type memStore struct {
	state storeState

	plantCodes  map[id.ID]string
	materials   map[id.ID]map[string]PlantMaterial
	recipeCodes map[id.ID]string

	failMaterials     error
	failReassignments error
	failComplete      error

	// insertChunk mimics a repository that writes large lists in several
	// statements: failing inserts still write their first chunk.
	insertChunk int
	failWaste   error
}

func newMemStore() *memStore {
	return &memStore{
		state:       storeState{sessions: map[id.ID]ImportSession{}},
		plantCodes:  map[id.ID]string{},
		materials:   map[id.ID]map[string]PlantMaterial{},
		recipeCodes: map[id.ID]string{},
	}
}

func (m *memStore) addMaterial(plantID id.ID, code, name string) PlantMaterial {
	if m.materials[plantID] == nil {
		m.materials[plantID] = map[string]PlantMaterial{}
	}
	pm := PlantMaterial{ID: id.New(), Code: code, Name: name}
	m.materials[plantID][code] = pm
	return pm
}

func (m *memStore) addRemision(plantID id.ID, number string) id.ID {
	r := RemisionRecord{ID: id.New(), RemisionNumber: number, PlantID: plantID, TipoRemision: TipoConcreto}
	m.state.remisiones = append(m.state.remisiones, r)
	return r.ID
}

func (m *memStore) linesOf(remisionID id.ID) map[id.ID]RemisionMaterialRecord {
	out := map[id.ID]RemisionMaterialRecord{}
	for _, l := range m.state.lines {
		if l.RemisionID == remisionID {
			out[l.MaterialID] = l
		}
	}
	return out
}

func (m *memStore) ResolveMaterials(_ context.Context, plantID id.ID, codes []string) (map[string]PlantMaterial, error) {
	out := map[string]PlantMaterial{}
	for _, c := range codes {
		if pm, ok := m.materials[plantID][c]; ok {
			out[c] = pm
		}
	}
	return out, nil
}

func (m *memStore) InsertImportSession(_ context.Context, s *ImportSession) error {
	m.state.sessions[s.ID] = *s
	return nil
}

func (m *memStore) CompleteImportSession(_ context.Context, sessionID id.ID, processed, successful int, at time.Time) error {
	if m.failComplete != nil {
		return m.failComplete
	}
	s, ok := m.state.sessions[sessionID]
	if !ok {
		return apperror.NewNotFound("arkik_import_session", sessionID)
	}
	s.Status = SessionCompleted
	s.ProcessedRows = processed
	s.SuccessfulRows = successful
	s.CompletedAt = &at
	m.state.sessions[sessionID] = s
	return nil
}

func (m *memStore) InsertWasteMaterials(_ context.Context, items []WasteMaterial) error {
	if m.failWaste != nil {
		m.state.waste = append(m.state.waste, items[:min(m.insertChunk, len(items))]...)
		return m.failWaste
	}
	m.state.waste = append(m.state.waste, items...)
	return nil
}

func (m *memStore) InsertReassignments(_ context.Context, items []RemisionReassignment) error {
	if m.failReassignments != nil {
		m.state.reassignments = append(m.state.reassignments, items[:min(m.insertChunk, len(items))]...)
		return m.failReassignments
	}
	m.state.reassignments = append(m.state.reassignments, items...)
	return nil
}

func (m *memStore) ListWasteMaterials(_ context.Context, sessionID id.ID) ([]WasteMaterial, error) {
	var out []WasteMaterial
	for _, w := range m.state.waste {
		if w.SessionID == sessionID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memStore) ListPendingReassignments(_ context.Context, plantID, sessionID id.ID) ([]RemisionReassignment, error) {
	var out []RemisionReassignment
	for _, r := range m.state.reassignments {
		if r.PlantID == plantID && r.SessionID == sessionID && r.AppliedAt == nil {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) FindRemisionID(_ context.Context, number string, plantID id.ID) (id.ID, bool, error) {
	for _, r := range m.state.remisiones {
		if r.RemisionNumber == number && r.PlantID == plantID {
			return r.ID, true, nil
		}
	}
	return id.ID{}, false, nil
}

func (m *memStore) LockConsumptionLine(_ context.Context, remisionID, materialID id.ID) (*ConsumptionLine, bool, error) {
	for _, l := range m.state.lines {
		if l.RemisionID == remisionID && l.MaterialID == materialID {
			line := &ConsumptionLine{ID: l.ID, CantidadReal: l.CantidadReal}
			if !l.Ajuste.IsZero() {
				line.Ajuste = decimal.NewNullDecimal(l.Ajuste)
			}
			return line, true, nil
		}
	}
	return nil, false, nil
}

func (m *memStore) UpdateConsumptionLine(_ context.Context, lineID id.ID, cantidadReal, ajuste decimal.Decimal) error {
	for i := range m.state.lines {
		if m.state.lines[i].ID == lineID {
			m.state.lines[i].CantidadReal = cantidadReal
			m.state.lines[i].Ajuste = ajuste
			return nil
		}
	}
	return errors.New("line not found")
}

func (m *memStore) InsertConsumptionLines(_ context.Context, lines []RemisionMaterialRecord) error {
	m.state.lines = append(m.state.lines, lines...)
	return nil
}

func (m *memStore) MarkReassignmentApplied(_ context.Context, reassignmentID id.ID, at time.Time) error {
	for i := range m.state.reassignments {
		if m.state.reassignments[i].ID == reassignmentID {
			t := at
			m.state.reassignments[i].AppliedAt = &t
			return nil
		}
	}
	return errors.New("reassignment not found")
}

func (m *memStore) PlantCode(_ context.Context, plantID id.ID) (string, error) {
	code, ok := m.plantCodes[plantID]
	if !ok {
		return "", apperror.NewNotFound("plant", plantID)
	}
	return code, nil
}

func (m *memStore) RecipeCodes(_ context.Context, recipeIDs []id.ID) (map[id.ID]string, error) {
	out := map[id.ID]string{}
	for _, rid := range recipeIDs {
		if c, ok := m.recipeCodes[rid]; ok {
			out[rid] = c
		}
	}
	return out, nil
}

func (m *memStore) InsertOrder(_ context.Context, o *Order) error {
	m.state.orders = append(m.state.orders, *o)
	return nil
}

func (m *memStore) InsertOrderItems(_ context.Context, items []OrderItem) error {
	m.state.items = append(m.state.items, items...)
	return nil
}

func (m *memStore) InsertRemisiones(_ context.Context, rems []RemisionRecord) error {
	m.state.remisiones = append(m.state.remisiones, rems...)
	return nil
}

func (m *memStore) InsertRemisionMaterials(_ context.Context, lines []RemisionMaterialRecord) error {
	m.state.lines = append(m.state.lines, lines...)
	if m.failMaterials != nil {
		return m.failMaterials
	}
	return nil
}

// memTx rolls the store back to a snapshot when fn fails.
type memTx struct {
	store  *memStore
	depth  int
	opened int
}

func (t *memTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.depth > 0 {
		return fn(ctx)
	}
	t.opened++
	return t.guard(ctx, fn)
}

func (t *memTx) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.guard(ctx, fn)
}

func (t *memTx) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.store.state.clone()
	t.depth++
	err := fn(ctx)
	t.depth--
	if err != nil {
		t.store.state = snap
	}
	return err
}

// seqNumbers is an in-memory numerator.Generator.
type seqNumbers struct {
	mu   sync.Mutex
	last map[string]int64
}

func (g *seqNumbers) NextOrderNumber(_ context.Context, plantCode string, day time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = map[string]int64{}
	}
	prefix := numerator.DayPrefix(plantCode, day)
	g.last[prefix]++
	return numerator.Format(plantCode, day, g.last[prefix]), nil
}

type recordingEvents struct {
	balances  []BalanceKey
	transfers [][2]id.ID
	err       error
}

func (e *recordingEvents) RequestBalanceRecalculation(_ context.Context, keys []BalanceKey) error {
	if e.err != nil {
		return e.err
	}
	e.balances = append(e.balances, keys...)
	return nil
}

func (e *recordingEvents) RequestPendingTransfers(_ context.Context, plantID, sessionID id.ID) error {
	e.transfers = append(e.transfers, [2]id.ID{plantID, sessionID})
	return nil
}
