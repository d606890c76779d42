package arkik

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concreterp/internal/core/id"
)

type countingTransferObserver struct {
	applied, skipped, lines int
}

func (o *countingTransferObserver) TransferApplied(lines int) {
	o.applied++
	o.lines += lines
}

func (o *countingTransferObserver) TransferSkipped() { o.skipped++ }

type transferFixture struct {
	store     *memStore
	svc       *TransferService
	observer  *countingTransferObserver
	plantID   id.ID
	sessionID id.ID
	targetID  id.ID
	cem       PlantMaterial
	grava     PlantMaterial
}

func newTransferFixture() *transferFixture {
	f := &transferFixture{
		store:     newMemStore(),
		observer:  &countingTransferObserver{},
		plantID:   id.New(),
		sessionID: id.New(),
	}
	f.cem = f.store.addMaterial(f.plantID, "CEM", "Cemento CPC 30R")
	f.grava = f.store.addMaterial(f.plantID, "GRAVA", "Grava 20mm")
	f.store.addMaterial(f.plantID, "ARENA", "Arena")
	f.targetID = f.store.addRemision(f.plantID, "11")
	f.store.state.lines = append(f.store.state.lines, RemisionMaterialRecord{
		ID:              id.New(),
		RemisionID:      f.targetID,
		MaterialID:      f.cem.ID,
		CantidadReal:    dec("100"),
		CantidadTeorica: dec("98"),
	})
	f.svc = NewTransferService(f.store, &memTx{store: f.store}, f.observer)
	f.svc.now = func() time.Time { return time.Date(2024, 1, 7, 10, 0, 0, 0, time.UTC) }
	return f
}

func (f *transferFixture) plan(target string, m Materials) RemisionReassignment {
	r := RemisionReassignment{
		ID:                   id.New(),
		SessionID:            f.sessionID,
		PlantID:              f.plantID,
		SourceRemisionNumber: "10",
		TargetRemisionNumber: target,
		MaterialsToTransfer:  m,
		CreatedAt:            time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC),
	}
	f.store.state.reassignments = append(f.store.state.reassignments, r)
	return r
}

func TestApplyPendingTransfers_UpdatesAndCreatesLines(t *testing.T) {
	f := newTransferFixture()
	planned := f.plan("11", Materials{"CEM": dec("10"), "GRAVA": dec("5"), "ARENA": dec("0"), "XX": dec("1")})

	res, err := f.svc.ApplyPendingTransfers(context.Background(), f.plantID, f.sessionID)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Len(t, res.Succeeded, 1)

	applied := res.Succeeded[0]
	assert.Equal(t, planned.ID, applied.ReassignmentID)
	assert.Equal(t, f.targetID, applied.TargetRemisionID)
	assert.Equal(t, 1, applied.LinesUpdated)
	assert.Equal(t, 1, applied.LinesCreated)
	assert.Equal(t, []string{"XX"}, applied.UnresolvedCodes)

	lines := f.store.linesOf(f.targetID)
	require.Len(t, lines, 2)
	cem := lines[f.cem.ID]
	assert.True(t, dec("110").Equal(cem.CantidadReal))
	assert.True(t, dec("10").Equal(cem.Ajuste))
	assert.True(t, dec("98").Equal(cem.CantidadTeorica))

	grava := lines[f.grava.ID]
	assert.True(t, dec("5").Equal(grava.CantidadReal))
	assert.True(t, dec("5").Equal(grava.Ajuste))
	assert.True(t, grava.CantidadTeorica.IsZero())
	assert.Equal(t, "Grava 20mm", grava.MaterialType)

	require.NotNil(t, f.store.state.reassignments[0].AppliedAt)
	assert.Equal(t, 1, f.observer.applied)
	assert.Equal(t, 2, f.observer.lines)
}

func TestApplyPendingTransfers_RunsOnce(t *testing.T) {
	f := newTransferFixture()
	f.plan("11", Materials{"CEM": dec("10")})
	ctx := context.Background()

	_, err := f.svc.ApplyPendingTransfers(ctx, f.plantID, f.sessionID)
	require.NoError(t, err)
	res, err := f.svc.ApplyPendingTransfers(ctx, f.plantID, f.sessionID)
	require.NoError(t, err)

	assert.Empty(t, res.Succeeded)
	assert.True(t, dec("110").Equal(f.store.linesOf(f.targetID)[f.cem.ID].CantidadReal))
}

func TestApplyPendingTransfers_AccumulatesExistingAjuste(t *testing.T) {
	f := newTransferFixture()
	f.store.state.lines[0].Ajuste = dec("3")
	f.plan("11", Materials{"CEM": dec("2.5")})

	_, err := f.svc.ApplyPendingTransfers(context.Background(), f.plantID, f.sessionID)
	require.NoError(t, err)

	cem := f.store.linesOf(f.targetID)[f.cem.ID]
	assert.True(t, dec("102.5").Equal(cem.CantidadReal))
	assert.True(t, dec("5.5").Equal(cem.Ajuste))
}

func TestApplyPendingTransfers_MissingTargetStaysPending(t *testing.T) {
	f := newTransferFixture()
	f.plan("404", Materials{"CEM": dec("10")})

	res, err := f.svc.ApplyPendingTransfers(context.Background(), f.plantID, f.sessionID)
	require.NoError(t, err)

	assert.Empty(t, res.Succeeded)
	assert.False(t, res.OK())
	assert.Empty(t, res.Errors())
	require.Len(t, res.Failed, 1)
	assert.True(t, res.Failed[0].Skipped)
	assert.Equal(t, "target remision 404 not found", res.Failed[0].Error)

	assert.Nil(t, f.store.state.reassignments[0].AppliedAt)
	assert.Equal(t, 1, f.observer.skipped)
	assert.True(t, dec("100").Equal(f.store.linesOf(f.targetID)[f.cem.ID].CantidadReal))
}

func TestApplyPendingTransfers_OtherSessionUntouched(t *testing.T) {
	f := newTransferFixture()
	f.plan("11", Materials{"CEM": dec("10")})

	res, err := f.svc.ApplyPendingTransfers(context.Background(), f.plantID, id.New())
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Nil(t, f.store.state.reassignments[0].AppliedAt)
}

func TestApplyTransfers_Immediate(t *testing.T) {
	f := newTransferFixture()
	applied := time.Now()

	res := f.svc.ApplyTransfers(context.Background(), f.plantID, []RemisionReassignment{
		{SourceRemisionNumber: "10", TargetRemisionNumber: "11", MaterialsToTransfer: Materials{"CEM": dec("4")}},
		{SourceRemisionNumber: "12", TargetRemisionNumber: "11", MaterialsToTransfer: Materials{"CEM": dec("50")}, AppliedAt: &applied},
	})

	require.True(t, res.OK())
	require.Len(t, res.Succeeded, 1)
	assert.True(t, id.IsNil(res.Succeeded[0].ReassignmentID))
	assert.True(t, dec("104").Equal(f.store.linesOf(f.targetID)[f.cem.ID].CantidadReal))
}
