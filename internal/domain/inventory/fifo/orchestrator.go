package fifo

import (
	"context"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/batch"
	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
	"concreterp/pkg/logger"
)

// AutoAllocateRemision allocates every consumption line of a remision.
//
// Lines are processed sequentially and independently: a failure is recorded
// against its line and the remaining lines are still allocated. Only a
// missing remision fails the whole call.
func (s *Service) AutoAllocateRemision(ctx context.Context, remisionID id.ID, userID string) (*RemisionAllocationReport, error) {
	ctx, span := tracer.Start(ctx, "fifo.AutoAllocateRemision")
	defer span.End()

	rem, err := s.repo.GetRemision(ctx, remisionID)
	if err != nil {
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, apperror.NewPersistence("select", "remisiones", remisionID, err)
	}

	lines, err := s.repo.ListAllocatableLines(ctx, remisionID)
	if err != nil {
		return nil, apperror.NewPersistence("select", "remision_materiales", remisionID, err)
	}

	res := batch.NewResult[LineAllocation]()
	for _, line := range lines {
		out, err := s.Allocate(ctx, AllocationRequest{
			RemisionID:         rem.ID,
			RemisionMaterialID: line.ID,
			MaterialID:         line.MaterialID,
			PlantID:            rem.PlantID,
			QuantityKg:         line.CantidadReal,
			ConsumptionDate:    types.DateOnly(rem.Fecha),
			UserID:             userID,
		})
		if err != nil {
			logger.Warn(ctx, "fifo allocation failed for remision line",
				"remision_id", remisionID,
				"remision_material_id", line.ID,
				"material_id", line.MaterialID,
				"error", err,
			)
			res.Fail(line.ID.String(), line.MaterialID.String(), err)
			continue
		}
		res.Add(LineAllocation{
			RemisionMaterialID: line.ID,
			MaterialID:         line.MaterialID,
			TotalCost:          out.TotalCost,
		})
	}

	report := &RemisionAllocationReport{
		RemisionID:         remisionID,
		Success:            res.OK(),
		AllocationsCreated: len(res.Succeeded),
		Errors:             res.Failed,
		AllocationResults:  res.Succeeded,
	}

	logger.Info(ctx, "remision auto-allocation finished",
		"remision_id", remisionID,
		"lines", len(lines),
		"allocated", report.AllocationsCreated,
		"failed", len(report.Errors),
	)
	return report, nil
}
