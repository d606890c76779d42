package arkik

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"concreterp/internal/core/apperror"
	"concreterp/internal/core/id"
)

// reassignmentWindow is how far apart in time a reassignment target may be.
const reassignmentWindow = 48 * time.Hour

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeStatus maps a free-text Arkik status onto a RemisionStatus.
// Unknown values are treated as pending.
func NormalizeStatus(raw string) RemisionStatus {
	s, _, err := transform.String(stripAccents, strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		s = strings.ToLower(strings.TrimSpace(raw))
	}
	switch {
	case strings.Contains(s, "terminado") && strings.Contains(s, "incompleto"):
		return StatusTerminadoIncompleto
	case strings.Contains(s, "terminado"):
		return StatusTerminado
	case strings.Contains(s, "cancelado"):
		return StatusCancelado
	default:
		return StatusPendiente
	}
}

// StatusSummary groups staging rows by normalized status.
type StatusSummary struct {
	Terminados  []StagingRemision `json:"terminados"`
	Incompletos []StagingRemision `json:"incompletos"`
	Cancelados  []StagingRemision `json:"cancelados"`
	Pendientes  []StagingRemision `json:"pendientes"`
}

// AnalyzeStatuses buckets rows by status.
func AnalyzeStatuses(rows []StagingRemision) StatusSummary {
	var sum StatusSummary
	for _, r := range rows {
		switch NormalizeStatus(r.Estatus) {
		case StatusTerminado:
			sum.Terminados = append(sum.Terminados, r)
		case StatusTerminadoIncompleto:
			sum.Incompletos = append(sum.Incompletos, r)
		case StatusCancelado:
			sum.Cancelados = append(sum.Cancelados, r)
		default:
			sum.Pendientes = append(sum.Pendientes, r)
		}
	}
	return sum
}

// FindReassignmentCandidates returns finished rows of the same client and
// site within two days of source that could absorb its materials. When both
// rows carry a recipe code the codes must match.
func FindReassignmentCandidates(source StagingRemision, all []StagingRemision) []StagingRemision {
	var out []StagingRemision
	for _, c := range all {
		if c.ID == source.ID {
			continue
		}
		if NormalizeStatus(c.Estatus) != StatusTerminado {
			continue
		}
		if c.ClienteName != source.ClienteName || c.ObraName != source.ObraName {
			continue
		}
		diff := c.Fecha.Sub(source.Fecha.Time)
		if diff < 0 {
			diff = -diff
		}
		if diff > reassignmentWindow {
			continue
		}
		if c.RecipeCode != "" && source.RecipeCode != "" && c.RecipeCode != source.RecipeCode {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DetectReassignments maps each problem row id to its candidates, omitting rows without any.
func DetectReassignments(problems, all []StagingRemision) map[id.ID][]StagingRemision {
	out := make(map[id.ID][]StagingRemision)
	for _, p := range problems {
		if c := FindReassignmentCandidates(p, all); len(c) > 0 {
			out[p.ID] = c
		}
	}
	return out
}

// DefaultAction is applied to rows without an explicit decision.
func DefaultAction(estatus string) Action {
	switch NormalizeStatus(estatus) {
	case StatusTerminadoIncompleto, StatusCancelado:
		return ActionMarkAsWaste
	default:
		return ActionProceedNormal
	}
}

func wasteReasonFor(estatus string) WasteReason {
	switch NormalizeStatus(estatus) {
	case StatusCancelado:
		return WasteCancelled
	case StatusTerminadoIncompleto:
		return WasteIncomplete
	default:
		return WasteOther
	}
}

// ValidateDecisions checks decisions against the rows they refer to and
// returns one message per problem.
func ValidateDecisions(rows []StagingRemision, decisions []StatusDecision) []string {
	byID := make(map[id.ID]StagingRemision, len(rows))
	numbers := make(map[string]id.ID, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
		numbers[r.RemisionNumber] = r.ID
	}

	var errs []string
	for _, d := range decisions {
		if _, ok := byID[d.RemisionID]; !ok {
			errs = append(errs, fmt.Sprintf("Remision %s not found", d.RemisionNumber))
			continue
		}
		switch d.Action {
		case ActionReassignToExisting:
			if d.TargetRemisionNumber == "" {
				errs = append(errs, fmt.Sprintf("Target remision required for reassignment of %s", d.RemisionNumber))
				break
			}
			targetID, ok := numbers[d.TargetRemisionNumber]
			if !ok {
				errs = append(errs, fmt.Sprintf("Target remision %s not found", d.TargetRemisionNumber))
			} else if targetID == d.RemisionID {
				errs = append(errs, fmt.Sprintf("Remision %s cannot be reassigned to itself", d.RemisionNumber))
			}
		case ActionMarkAsWaste:
			if d.WasteReason == "" {
				errs = append(errs, fmt.Sprintf("Waste reason required for %s", d.RemisionNumber))
			}
		case ActionProceedNormal:
		default:
			errs = append(errs, fmt.Sprintf("Unknown action %q for %s", d.Action, d.RemisionNumber))
		}
	}
	return errs
}

// StatusProcessor applies status decisions for one import session.
type StatusProcessor struct {
	sessionID id.ID
	plantID   id.ID
	now       func() time.Time
}

// NewStatusProcessor creates a processor for a session at a plant.
func NewStatusProcessor(sessionID, plantID id.ID) *StatusProcessor {
	return &StatusProcessor{sessionID: sessionID, plantID: plantID, now: time.Now}
}

// ApplyDecisions processes every row, using the explicit decision when one
// exists and DefaultAction otherwise.
//
// The input rows are not modified; the returned rows carry the outcome
// (exclusion flags, zeroed volume of reassigned sources, materials added to
// reassignment targets).
func (p *StatusProcessor) ApplyDecisions(rows []StagingRemision, decisions []StatusDecision) (*StatusProcessingResult, []StagingRemision, error) {
	out := make([]StagingRemision, len(rows))
	byNumber := make(map[string]int, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
		byNumber[r.RemisionNumber] = i
	}

	decided := make(map[id.ID]StatusDecision, len(decisions))
	for _, d := range decisions {
		decided[d.RemisionID] = d
	}

	res := &StatusProcessingResult{
		TotalRemisiones: len(rows),
		Decisions:       decisions,
		WasteMaterials:  []WasteMaterial{},
		Reassignments:   []RemisionReassignment{},
	}
	if res.Decisions == nil {
		res.Decisions = []StatusDecision{}
	}

	for i := range out {
		d, ok := decided[out[i].ID]
		if !ok {
			d = StatusDecision{
				RemisionID:     out[i].ID,
				RemisionNumber: out[i].RemisionNumber,
				OriginalStatus: out[i].Estatus,
				Action:         DefaultAction(out[i].Estatus),
				Notes:          "Auto-applied based on status",
			}
		}

		switch d.Action {
		case ActionReassignToExisting:
			if err := p.reassign(out, i, byNumber, d, res); err != nil {
				return nil, nil, err
			}
		case ActionMarkAsWaste:
			p.markWaste(&out[i], d, res)
		default:
			out[i].StatusAction = ActionProceedNormal
			res.NormalRemisiones++
		}
		res.ProcessedRemisiones++
	}

	for _, r := range out {
		if r.IsExcludedFromImport {
			res.ExcludedRemisiones++
		}
	}
	return res, out, nil
}

func (p *StatusProcessor) reassign(rows []StagingRemision, src int, byNumber map[string]int, d StatusDecision, res *StatusProcessingResult) error {
	source := &rows[src]
	if d.TargetRemisionNumber == "" {
		return apperror.NewValidation(fmt.Sprintf("Target remision number required for reassignment of %s", source.RemisionNumber))
	}
	ti, ok := byNumber[d.TargetRemisionNumber]
	if !ok {
		return apperror.NewValidation(fmt.Sprintf("Target remision %s not found", d.TargetRemisionNumber))
	}
	if ti == src {
		return apperror.NewValidation(fmt.Sprintf("Remision %s cannot be reassigned to itself", source.RemisionNumber))
	}
	target := &rows[ti]

	transfer := d.MaterialsToTransfer
	if len(transfer) == 0 {
		transfer = source.MaterialsReal
	}
	transfer = transfer.Clone()

	reason := d.Notes
	if reason == "" {
		reason = "Status processing reassignment"
	}

	if target.MaterialsReal == nil {
		target.MaterialsReal = Materials{}
	}
	for code, qty := range transfer {
		target.MaterialsReal[code] = target.MaterialsReal.Get(code).Add(qty)
	}

	source.IsExcludedFromImport = true
	source.StatusAction = ActionReassignToExisting
	source.ReassignmentTarget = d.TargetRemisionNumber
	source.VolumenFabricado = decimal.Zero

	res.Reassignments = append(res.Reassignments, RemisionReassignment{
		ID:                   id.New(),
		SessionID:            p.sessionID,
		PlantID:              p.plantID,
		SourceRemisionID:     source.ID,
		SourceRemisionNumber: source.RemisionNumber,
		TargetRemisionID:     target.ID,
		TargetRemisionNumber: target.RemisionNumber,
		MaterialsToTransfer:  transfer,
		Reason:               reason,
		CreatedAt:            p.now().UTC(),
	})
	res.ReassignedRemisiones++
	return nil
}

func (p *StatusProcessor) markWaste(r *StagingRemision, d StatusDecision, res *StatusProcessingResult) {
	now := p.now().UTC()
	reason := wasteReasonFor(r.Estatus)
	for _, code := range r.MaterialsReal.Codes() {
		actual := r.MaterialsReal[code]
		res.WasteMaterials = append(res.WasteMaterials, WasteMaterial{
			ID:                id.New(),
			SessionID:         p.sessionID,
			RemisionNumber:    r.RemisionNumber,
			MaterialCode:      code,
			TheoreticalAmount: r.MaterialsTeorico.Get(code),
			ActualAmount:      actual,
			WasteAmount:       actual,
			WasteReason:       reason,
			PlantID:           p.plantID,
			Fecha:             r.Fecha.Time,
			CreatedAt:         now,
		})
	}

	r.IsExcludedFromImport = true
	r.StatusAction = ActionMarkAsWaste
	r.WasteReason = d.WasteReason
	r.StatusNotes = d.Notes
	res.WasteRemisiones++
}
