package arkik

import (
	"context"
	"time"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/tx"
	"concreterp/pkg/logger"
)

// Persistence stores import sessions, waste records and planned reassignments.
// Every save is a single all-or-nothing bulk write.
type Persistence struct {
	store     SessionStore
	txManager tx.Manager
	now       func() time.Time
}

// NewPersistence creates the Arkik persistence service.
func NewPersistence(store SessionStore, txManager tx.Manager) *Persistence {
	return &Persistence{store: store, txManager: txManager, now: time.Now}
}

// SaveImportSession registers a new import in validating state.
func (p *Persistence) SaveImportSession(ctx context.Context, meta ImportSessionMeta) (id.ID, error) {
	if id.IsNil(meta.PlantID) {
		return id.ID{}, apperror.NewInvalidArgument("plant_id", "plant is required")
	}
	s := &ImportSession{
		ID:               id.New(),
		FileName:         meta.FileName,
		PlantID:          meta.PlantID,
		Status:           SessionValidating,
		TotalRows:        meta.TotalRows,
		ErrorSummary:     meta.ErrorSummary,
		ValidationErrors: meta.ValidationErrors,
		CreatedBy:        meta.CreatedBy,
		CreatedAt:        p.now().UTC(),
	}
	if s.ErrorSummary == nil {
		s.ErrorSummary = map[string]any{}
	}
	if s.ValidationErrors == nil {
		s.ValidationErrors = []any{}
	}
	if err := p.store.InsertImportSession(ctx, s); err != nil {
		return id.ID{}, apperror.NewPersistence("insert", "arkik_import_sessions", s.ID, err)
	}
	logger.Info(ctx, "arkik import session created", "session_id", s.ID, "plant_id", s.PlantID, "rows", s.TotalRows)
	return s.ID, nil
}

// CompleteImportSession marks a session finished with its row counts.
func (p *Persistence) CompleteImportSession(ctx context.Context, sessionID id.ID, processed, successful int) error {
	if err := p.store.CompleteImportSession(ctx, sessionID, processed, successful, p.now().UTC()); err != nil {
		if apperror.IsAppError(err) {
			return err
		}
		return apperror.NewPersistence("update", "arkik_import_sessions", sessionID, err)
	}
	return nil
}

// SaveWasteMaterials stores waste records in one transaction. An empty list
// is a no-op.
func (p *Persistence) SaveWasteMaterials(ctx context.Context, items []WasteMaterial) error {
	if len(items) == 0 {
		return nil
	}
	return p.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return p.insertWaste(ctx, items)
	})
}

func (p *Persistence) insertWaste(ctx context.Context, items []WasteMaterial) error {
	now := p.now().UTC()
	for i := range items {
		if id.IsNil(items[i].ID) {
			items[i].ID = id.New()
		}
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
	}
	if err := p.store.InsertWasteMaterials(ctx, items); err != nil {
		return apperror.NewPersistence("insert", "waste_materials", items[0].SessionID, err)
	}
	logger.Info(ctx, "waste materials saved", "session_id", items[0].SessionID, "count", len(items))
	return nil
}

// SaveRemisionReassignments stores planned transfers for a session in one
// transaction without touching any remision.
func (p *Persistence) SaveRemisionReassignments(ctx context.Context, items []RemisionReassignment, sessionID, plantID id.ID) error {
	if len(items) == 0 {
		return nil
	}
	return p.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return p.insertReassignments(ctx, items, sessionID, plantID)
	})
}

func (p *Persistence) insertReassignments(ctx context.Context, items []RemisionReassignment, sessionID, plantID id.ID) error {
	now := p.now().UTC()
	for i := range items {
		if id.IsNil(items[i].ID) {
			items[i].ID = id.New()
		}
		items[i].SessionID = sessionID
		items[i].PlantID = plantID
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
		if items[i].MaterialsToTransfer == nil {
			items[i].MaterialsToTransfer = Materials{}
		}
	}
	if err := p.store.InsertReassignments(ctx, items); err != nil {
		return apperror.NewPersistence("insert", "remision_reassignments", sessionID, err)
	}
	logger.Info(ctx, "remision reassignments saved", "session_id", sessionID, "count", len(items))
	return nil
}

// SaveStatusProcessing stores the waste records and reassignments produced by
// ApplyDecisions in one transaction.
func (p *Persistence) SaveStatusProcessing(ctx context.Context, res *StatusProcessingResult, sessionID, plantID id.ID) error {
	return p.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := p.SaveWasteMaterials(ctx, res.WasteMaterials); err != nil {
			return err
		}
		return p.SaveRemisionReassignments(ctx, res.Reassignments, sessionID, plantID)
	})
}

// WasteMaterials lists the waste recorded for a session.
func (p *Persistence) WasteMaterials(ctx context.Context, sessionID id.ID) ([]WasteMaterial, error) {
	items, err := p.store.ListWasteMaterials(ctx, sessionID)
	if err != nil {
		return nil, apperror.NewPersistence("select", "waste_materials", sessionID, err)
	}
	return items, nil
}
