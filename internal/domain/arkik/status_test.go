package arkik

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
	"concreterp/internal/core/types"
)

func dec(s string) decimal.Decimal { return types.MustDecimal(s) }

func day(s string) types.Date {
	d, err := types.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return types.NewDate(d)
}

func stagingRow(number, status, fecha string) StagingRemision {
	return StagingRemision{
		ID:               id.New(),
		RemisionNumber:   number,
		Estatus:          status,
		Fecha:            day(fecha),
		ClienteName:      "Constructora Norte",
		ObraName:         "Torre A",
		RecipeCode:       "250-20-B",
		VolumenFabricado: dec("7.5"),
		MaterialsTeorico: Materials{"CEM": dec("300"), "ARENA": dec("800")},
		MaterialsReal:    Materials{"CEM": dec("310"), "ARENA": dec("790")},
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want RemisionStatus
	}{
		{"Terminado", StatusTerminado},
		{"  TERMINADO  ", StatusTerminado},
		{"Terminado Incompleto", StatusTerminadoIncompleto},
		{"terminado (incompleto)", StatusTerminadoIncompleto},
		{"Cancelado", StatusCancelado},
		{"CANCELÁDO", StatusCancelado},
		{"Pendiente", StatusPendiente},
		{"En tránsito", StatusPendiente},
		{"", StatusPendiente},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStatus(tt.raw))
		})
	}
}

func TestAnalyzeStatuses(t *testing.T) {
	rows := []StagingRemision{
		stagingRow("1", "Terminado", "2024-01-06"),
		stagingRow("2", "Terminado incompleto", "2024-01-06"),
		stagingRow("3", "Cancelado", "2024-01-06"),
		stagingRow("4", "???", "2024-01-06"),
		stagingRow("5", "terminado", "2024-01-06"),
	}
	sum := AnalyzeStatuses(rows)
	assert.Len(t, sum.Terminados, 2)
	assert.Len(t, sum.Incompletos, 1)
	assert.Len(t, sum.Cancelados, 1)
	assert.Len(t, sum.Pendientes, 1)
}

func TestDefaultAction(t *testing.T) {
	assert.Equal(t, ActionProceedNormal, DefaultAction("Terminado"))
	assert.Equal(t, ActionMarkAsWaste, DefaultAction("Terminado incompleto"))
	assert.Equal(t, ActionMarkAsWaste, DefaultAction("Cancelado"))
	assert.Equal(t, ActionProceedNormal, DefaultAction("Pendiente"))
}

func TestFindReassignmentCandidates(t *testing.T) {
	source := stagingRow("100", "Cancelado", "2024-01-06")

	good := stagingRow("101", "Terminado", "2024-01-08")
	noRecipe := stagingRow("102", "Terminado", "2024-01-05")
	noRecipe.RecipeCode = ""
	tooFar := stagingRow("103", "Terminado", "2024-01-09")
	otherSite := stagingRow("104", "Terminado", "2024-01-06")
	otherSite.ObraName = "Torre B"
	otherRecipe := stagingRow("105", "Terminado", "2024-01-06")
	otherRecipe.RecipeCode = "300-20-B"
	notFinished := stagingRow("106", "Terminado incompleto", "2024-01-06")

	all := []StagingRemision{source, good, noRecipe, tooFar, otherSite, otherRecipe, notFinished}
	got := FindReassignmentCandidates(source, all)

	var numbers []string
	for _, c := range got {
		numbers = append(numbers, c.RemisionNumber)
	}
	assert.Equal(t, []string{"101", "102"}, numbers)

	orphan := stagingRow("107", "Cancelado", "2024-01-06")
	orphan.ClienteName = "Otro Cliente"
	detected := DetectReassignments([]StagingRemision{source, orphan}, append(all, orphan))
	assert.Len(t, detected, 1)
	assert.Len(t, detected[source.ID], 2)
}

func TestValidateDecisions(t *testing.T) {
	a := stagingRow("1", "Cancelado", "2024-01-06")
	b := stagingRow("2", "Terminado", "2024-01-06")
	rows := []StagingRemision{a, b}

	errs := ValidateDecisions(rows, []StatusDecision{
		{RemisionID: a.ID, RemisionNumber: "1", Action: ActionReassignToExisting, TargetRemisionNumber: "2"},
		{RemisionID: b.ID, RemisionNumber: "2", Action: ActionProceedNormal},
	})
	assert.Empty(t, errs)

	errs = ValidateDecisions(rows, []StatusDecision{
		{RemisionID: id.New(), RemisionNumber: "9", Action: ActionProceedNormal},
		{RemisionID: a.ID, RemisionNumber: "1", Action: ActionReassignToExisting},
		{RemisionID: a.ID, RemisionNumber: "1", Action: ActionReassignToExisting, TargetRemisionNumber: "77"},
		{RemisionID: a.ID, RemisionNumber: "1", Action: ActionReassignToExisting, TargetRemisionNumber: "1"},
		{RemisionID: a.ID, RemisionNumber: "1", Action: ActionMarkAsWaste},
	})
	assert.Equal(t, []string{
		"Remision 9 not found",
		"Target remision required for reassignment of 1",
		"Target remision 77 not found",
		"Remision 1 cannot be reassigned to itself",
		"Waste reason required for 1",
	}, errs)
}

func TestApplyDecisions_DefaultsByStatus(t *testing.T) {
	sessionID, plantID := id.New(), id.New()
	p := NewStatusProcessor(sessionID, plantID)
	p.now = func() time.Time { return time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC) }

	ok := stagingRow("1", "Terminado", "2024-01-06")
	cancelled := stagingRow("2", "Cancelado", "2024-01-06")
	incomplete := stagingRow("3", "Terminado incompleto", "2024-01-06")

	res, rows, err := p.ApplyDecisions([]StagingRemision{ok, cancelled, incomplete}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalRemisiones)
	assert.Equal(t, 3, res.ProcessedRemisiones)
	assert.Equal(t, 1, res.NormalRemisiones)
	assert.Equal(t, 2, res.WasteRemisiones)
	assert.Equal(t, 2, res.ExcludedRemisiones)
	require.Len(t, res.WasteMaterials, 4)

	w := res.WasteMaterials[0]
	assert.Equal(t, "2", w.RemisionNumber)
	assert.Equal(t, "ARENA", w.MaterialCode)
	assert.True(t, dec("790").Equal(w.WasteAmount))
	assert.True(t, dec("790").Equal(w.ActualAmount))
	assert.True(t, dec("800").Equal(w.TheoreticalAmount))
	assert.Equal(t, WasteCancelled, w.WasteReason)
	assert.Equal(t, sessionID, w.SessionID)
	assert.Equal(t, plantID, w.PlantID)
	assert.Equal(t, WasteIncomplete, res.WasteMaterials[2].WasteReason)

	assert.False(t, rows[0].IsExcludedFromImport)
	assert.Equal(t, ActionProceedNormal, rows[0].StatusAction)
	assert.True(t, rows[1].IsExcludedFromImport)
	assert.Equal(t, ActionMarkAsWaste, rows[1].StatusAction)
}

func TestApplyDecisions_Reassignment(t *testing.T) {
	p := NewStatusProcessor(id.New(), id.New())
	source := stagingRow("10", "Terminado incompleto", "2024-01-06")
	target := stagingRow("11", "Terminado", "2024-01-06")
	target.MaterialsReal = Materials{"CEM": dec("100")}
	input := []StagingRemision{source, target}

	res, rows, err := p.ApplyDecisions(input, []StatusDecision{{
		RemisionID:           source.ID,
		RemisionNumber:       "10",
		Action:               ActionReassignToExisting,
		TargetRemisionNumber: "11",
	}})
	require.NoError(t, err)

	require.Len(t, res.Reassignments, 1)
	r := res.Reassignments[0]
	assert.Equal(t, "10", r.SourceRemisionNumber)
	assert.Equal(t, "11", r.TargetRemisionNumber)
	assert.Equal(t, target.ID, r.TargetRemisionID)
	assert.Equal(t, "Status processing reassignment", r.Reason)
	assert.True(t, dec("310").Equal(r.MaterialsToTransfer["CEM"]))

	assert.True(t, rows[0].IsExcludedFromImport)
	assert.True(t, rows[0].VolumenFabricado.IsZero())
	assert.Equal(t, "11", rows[0].ReassignmentTarget)
	assert.True(t, dec("410").Equal(rows[1].MaterialsReal["CEM"]))
	assert.True(t, dec("790").Equal(rows[1].MaterialsReal["ARENA"]))
	assert.Equal(t, 1, res.ReassignedRemisiones)
	assert.Equal(t, 1, res.NormalRemisiones)
	assert.Empty(t, res.WasteMaterials)

	// Inputs are left untouched.
	assert.True(t, dec("100").Equal(input[1].MaterialsReal["CEM"]))
	assert.False(t, input[0].IsExcludedFromImport)
}

func TestApplyDecisions_ExplicitTransferMap(t *testing.T) {
	p := NewStatusProcessor(id.New(), id.New())
	source := stagingRow("10", "Cancelado", "2024-01-06")
	target := stagingRow("11", "Terminado", "2024-01-06")

	res, rows, err := p.ApplyDecisions([]StagingRemision{source, target}, []StatusDecision{{
		RemisionID:           source.ID,
		Action:               ActionReassignToExisting,
		TargetRemisionNumber: "11",
		MaterialsToTransfer:  Materials{"ADITIVO": dec("2.5")},
		Notes:                "moved to next truck",
	}})
	require.NoError(t, err)

	assert.Equal(t, "moved to next truck", res.Reassignments[0].Reason)
	assert.True(t, dec("2.5").Equal(rows[1].MaterialsReal["ADITIVO"]))
	assert.True(t, dec("310").Equal(rows[1].MaterialsReal["CEM"]))
}

func TestApplyDecisions_UnknownTarget(t *testing.T) {
	p := NewStatusProcessor(id.New(), id.New())
	source := stagingRow("10", "Cancelado", "2024-01-06")

	_, _, err := p.ApplyDecisions([]StagingRemision{source}, []StatusDecision{{
		RemisionID:           source.ID,
		Action:               ActionReassignToExisting,
		TargetRemisionNumber: "404",
	}})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}
