package arkik

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/batch"
	"concreterp/internal/core/id"
	"concreterp/internal/core/tx"
	"concreterp/pkg/logger"
)

// AppliedTransfer reports one reassignment applied to its target remision.
type AppliedTransfer struct {
	ReassignmentID       id.ID    `json:"reassignment_id"`
	SourceRemisionNumber string   `json:"source_remision_number"`
	TargetRemisionNumber string   `json:"target_remision_number"`
	TargetRemisionID     id.ID    `json:"target_remision_id"`
	LinesUpdated         int      `json:"lines_updated"`
	LinesCreated         int      `json:"lines_created"`
	UnresolvedCodes      []string `json:"unresolved_codes,omitempty"`
}

// TransferObserver receives transfer outcomes for metrics.
type TransferObserver interface {
	TransferApplied(linesTouched int)
	TransferSkipped()
}

type noopTransferObserver struct{}

func (noopTransferObserver) TransferApplied(int) {}
func (noopTransferObserver) TransferSkipped()    {}

// TransferService applies planned material reassignments to persisted remisiones.
type TransferService struct {
	repo      TransferRepository
	txManager tx.Manager
	observer  TransferObserver
	now       func() time.Time
}

// NewTransferService creates a transfer service. observer may be nil.
func NewTransferService(repo TransferRepository, txManager tx.Manager, observer TransferObserver) *TransferService {
	if observer == nil {
		observer = noopTransferObserver{}
	}
	return &TransferService{repo: repo, txManager: txManager, observer: observer, now: time.Now}
}

// ApplyPendingTransfers applies every not yet applied reassignment of a
// session. Reassignments whose target remision does not exist are skipped
// and stay pending for a later run.
func (s *TransferService) ApplyPendingTransfers(ctx context.Context, plantID, sessionID id.ID) (*batch.Result[AppliedTransfer], error) {
	pending, err := s.repo.ListPendingReassignments(ctx, plantID, sessionID)
	if err != nil {
		return nil, apperror.NewPersistence("select", "remision_reassignments", sessionID, err)
	}
	logger.Info(ctx, "applying pending material transfers",
		"plant_id", plantID,
		"session_id", sessionID,
		"pending", len(pending),
	)
	return s.ApplyTransfers(ctx, plantID, pending), nil
}

// ApplyTransfers applies the given reassignments immediately, each in its
// own transaction. Stored reassignments (non-nil ID) are marked applied.
func (s *TransferService) ApplyTransfers(ctx context.Context, plantID id.ID, items []RemisionReassignment) *batch.Result[AppliedTransfer] {
	res := batch.NewResult[AppliedTransfer]()
	for _, r := range items {
		if r.AppliedAt != nil {
			continue
		}
		out, err := s.applyOne(ctx, plantID, r)
		switch {
		case err != nil:
			logger.Error(ctx, "material transfer failed",
				"source", r.SourceRemisionNumber,
				"target", r.TargetRemisionNumber,
				"error", err,
			)
			res.Fail(r.SourceRemisionNumber, r.TargetRemisionNumber, err)
		case out == nil:
			logger.Warn(ctx, "target remision not found, transfer left pending",
				"source", r.SourceRemisionNumber,
				"target", r.TargetRemisionNumber,
				"plant_id", plantID,
			)
			s.observer.TransferSkipped()
			res.Skip(r.SourceRemisionNumber, r.TargetRemisionNumber,
				fmt.Sprintf("target remision %s not found", r.TargetRemisionNumber))
		default:
			s.observer.TransferApplied(out.LinesUpdated + out.LinesCreated)
			res.Add(*out)
		}
	}
	return res
}

// applyOne returns nil, nil when the target remision does not exist.
func (s *TransferService) applyOne(ctx context.Context, plantID id.ID, r RemisionReassignment) (*AppliedTransfer, error) {
	var out *AppliedTransfer
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		targetID, found, err := s.repo.FindRemisionID(ctx, r.TargetRemisionNumber, plantID)
		if err != nil {
			return apperror.NewPersistence("select", "remisiones", r.TargetRemisionNumber, err)
		}
		if !found {
			return nil
		}

		applied, err := s.applyMaterials(ctx, plantID, targetID, r.MaterialsToTransfer)
		if err != nil {
			return err
		}
		applied.ReassignmentID = r.ID
		applied.SourceRemisionNumber = r.SourceRemisionNumber
		applied.TargetRemisionNumber = r.TargetRemisionNumber

		if !id.IsNil(r.ID) {
			if err := s.repo.MarkReassignmentApplied(ctx, r.ID, s.now().UTC()); err != nil {
				return apperror.NewPersistence("update", "remision_reassignments", r.ID, err)
			}
		}
		out = applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyMaterials adds each transferred quantity to the target's consumption.
// Existing lines grow in both cantidad_real and ajuste; missing lines are
// created as pure adjustments.
func (s *TransferService) applyMaterials(ctx context.Context, plantID, targetID id.ID, materials Materials) (*AppliedTransfer, error) {
	out := &AppliedTransfer{TargetRemisionID: targetID}
	codes := materials.Codes()
	if len(codes) == 0 {
		return out, nil
	}

	resolved, err := s.repo.ResolveMaterials(ctx, plantID, codes)
	if err != nil {
		return nil, apperror.NewPersistence("select", "materials", plantID, err)
	}

	var inserts []RemisionMaterialRecord
	for _, code := range codes {
		qty := materials[code]
		m, ok := resolved[code]
		if !ok {
			logger.Warn(ctx, "transfer material code not found in plant, skipping",
				"code", code,
				"plant_id", plantID,
			)
			out.UnresolvedCodes = append(out.UnresolvedCodes, code)
			continue
		}
		if !qty.IsPositive() {
			continue
		}

		line, exists, err := s.repo.LockConsumptionLine(ctx, targetID, m.ID)
		if err != nil {
			return nil, apperror.NewPersistence("select", "remision_materiales", targetID, err)
		}
		if exists {
			cantidad := line.CantidadReal.Add(qty)
			ajuste := decimal.Zero
			if line.Ajuste.Valid {
				ajuste = line.Ajuste.Decimal
			}
			if err := s.repo.UpdateConsumptionLine(ctx, line.ID, cantidad, ajuste.Add(qty)); err != nil {
				return nil, apperror.NewPersistence("update", "remision_materiales", line.ID, err)
			}
			out.LinesUpdated++
			continue
		}
		inserts = append(inserts, RemisionMaterialRecord{
			ID:              id.New(),
			RemisionID:      targetID,
			MaterialID:      m.ID,
			MaterialType:    m.Name,
			CantidadReal:    qty,
			CantidadTeorica: decimal.Zero,
			Ajuste:          qty,
		})
	}

	if len(inserts) > 0 {
		if err := s.repo.InsertConsumptionLines(ctx, inserts); err != nil {
			return nil, apperror.NewPersistence("insert", "remision_materiales", targetID, err)
		}
		out.LinesCreated = len(inserts)
	}
	return out, nil
}
