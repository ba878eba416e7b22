package refdata

import (
	"context"
	"fmt"
	"sort"

	"github.com/Zia971/opcopilotV4/internal/alerts"
	"github.com/Zia971/opcopilotV4/internal/catalog"
	"github.com/Zia971/opcopilotV4/internal/closure"
	"github.com/Zia971/opcopilotV4/internal/domain"
)

// Snapshot is one immutable load of the reference dataset. Readers may hold
// it across a reload; the store swaps in a new snapshot instead of mutating.
type Snapshot struct {
	Catalog *catalog.Catalog
	// Diagnostics lists the entries skipped or repaired while decoding.
	Diagnostics []string

	operations []domain.Operation
	byID       map[int64]int
	phases     map[int64][]domain.Phase
	rem        map[int64][]domain.REMEntry
	amendments map[int64][]domain.Amendment
	notices    map[int64][]domain.FormalNotice
	utilities  map[int64][]domain.UtilityStep
	lots       map[int64][]domain.FinalAccountLot
	claims     map[int64][]domain.Claim
	kpis       *domain.KPIs
	activity   domain.MonthlyActivity
	alerts     []domain.Alert
}

// EmptySnapshot has no templates and no records.
func EmptySnapshot() *Snapshot {
	s := &Snapshot{Catalog: catalog.Empty()}
	s.init()
	return s
}

func (s *Snapshot) init() {
	s.byID = map[int64]int{}
	s.phases = map[int64][]domain.Phase{}
	s.rem = map[int64][]domain.REMEntry{}
	s.amendments = map[int64][]domain.Amendment{}
	s.notices = map[int64][]domain.FormalNotice{}
	s.utilities = map[int64][]domain.UtilityStep{}
	s.lots = map[int64][]domain.FinalAccountLot{}
	s.claims = map[int64][]domain.Claim{}
}

func (s *Snapshot) diag(format string, args ...any) {
	s.Diagnostics = append(s.Diagnostics, fmt.Sprintf(format, args...))
}

// decodeRecords fills s from the demo dataset document.
func (s *Snapshot) decodeRecords(ds rawDataset) {
	for _, ro := range ds.Operations {
		op, diags := ro.operation()
		s.Diagnostics = append(s.Diagnostics, diags...)
		if _, dup := s.byID[op.ID]; dup {
			s.diag("operation %d: duplicate id, skipped", op.ID)
			continue
		}
		s.byID[op.ID] = len(s.operations)
		s.operations = append(s.operations, op)
	}

	for key, list := range ds.Phases {
		id, ok := s.key("phases_demo", key)
		if !ok {
			continue
		}
		for i, rp := range list {
			st, err := domain.ParsePhaseStatus(rp.Statut)
			if err != nil {
				s.diag("phases_demo %s[%d]: %v, using %s", key, i, err, domain.PhaseNonDemarree)
				st = domain.PhaseNonDemarree
			}
			end := rp.DateFin.Time
			if end.Before(rp.DateDebut.Time) {
				s.diag("phases_demo %s[%d]: end before start, clamped", key, i)
				end = rp.DateDebut.Time
			}
			s.phases[id] = append(s.phases[id], domain.Phase{
				OperationID:  id,
				Sequence:     i + 1,
				Nom:          rp.Nom,
				PlannedStart: rp.DateDebut.Time,
				PlannedEnd:   end,
				Statut:       st,
				Responsable:  rp.Responsable,
				EstCritique:  rp.EstCritique,
				Frein:        rp.Frein,
			})
		}
	}

	for key, list := range ds.REM {
		if id, ok := s.key("rem_demo", key); ok {
			for _, r := range list {
				r.OperationID = id
				s.rem[id] = append(s.rem[id], r)
			}
		}
	}

	for key, list := range ds.Amendments {
		if id, ok := s.key("avenants_demo", key); ok {
			for _, ra := range list {
				s.amendments[id] = append(s.amendments[id], domain.Amendment{
					OperationID:  id,
					Numero:       ra.Numero,
					Date:         ra.Date.Time,
					Motif:        ra.Motif,
					Description:  ra.Description,
					ImpactBudget: ra.ImpactBudget,
					ImpactDelai:  ra.ImpactDelai,
					Statut:       ra.Statut,
				})
			}
		}
	}

	for key, list := range ds.Notices {
		id, ok := s.key("med_demo", key)
		if !ok {
			continue
		}
		for i, rn := range list {
			n := domain.FormalNotice{
				ID:              rn.ID,
				OperationID:     id,
				Reference:       rn.Reference,
				Destinataire:    rn.Destinataire,
				Motifs:          rn.Motifs,
				Details:         rn.Details,
				DateEnvoi:       rn.DateEnvoi.Time,
				DelaiConformite: rn.DelaiConformite,
				Statut:          rn.Statut,
			}
			if rn.Type != "" {
				typ, err := domain.ParseNoticeType(rn.Type)
				if err != nil {
					s.diag("med_demo %s[%d]: %v", key, i, err)
				}
				n.Type = typ
			}
			if n.ID == "" {
				n.ID = fmt.Sprintf("%s-%d", key, i+1)
			}
			s.notices[id] = append(s.notices[id], n)
		}
	}

	for key, providers := range ds.Utilities {
		id, ok := s.key("concessionnaires_demo", key)
		if !ok {
			continue
		}
		for name, rp := range providers {
			prov, err := domain.ParseProvider(name)
			if err != nil {
				s.diag("concessionnaires_demo %s: %v", key, err)
				continue
			}
			for i, e := range rp.Etapes {
				s.utilities[id] = append(s.utilities[id], domain.UtilityStep{
					OperationID: id,
					Provider:    prov,
					Sequence:    i + 1,
					Nom:         e.Nom,
					Statut:      domain.NormalizeStepStatus(e.Statut),
					Date:        e.Date.ptr(),
				})
			}
		}
		sortUtilities(s.utilities[id])
	}

	for key, fa := range ds.DGD {
		if id, ok := s.key("dgd_demo", key); ok {
			for _, l := range fa.Lots {
				l.OperationID = id
				s.lots[id] = append(s.lots[id], l)
			}
		}
	}

	for key, list := range ds.Claims {
		id, ok := s.key("gpa_demo", key)
		if !ok {
			continue
		}
		for i, rc := range list {
			c := domain.Claim{
				ID:                rc.ID,
				OperationID:       id,
				Date:              rc.Date.Time,
				Logement:          rc.Logement,
				Type:              rc.Type,
				Description:       rc.Description,
				Urgence:           rc.Urgence,
				Statut:            rc.Statut,
				DelaiIntervention: rc.DelaiIntervention,
			}
			if c.ID == "" {
				c.ID = fmt.Sprintf("%s-%d", key, i+1)
			}
			s.claims[id] = append(s.claims[id], c)
		}
	}

	s.kpis = ds.KPIs
	s.activity = ds.Activity
	for _, ra := range ds.Alerts {
		a := domain.Alert{
			Severity:      domain.ParseAlertType(ra.Type),
			Operation:     ra.Operation,
			Message:       ra.Message,
			ActionRequise: ra.ActionRequise,
			Source:        alerts.SourceReference,
		}
		for _, op := range s.operations {
			if op.Nom == ra.Operation {
				a.OperationID = op.ID
				break
			}
		}
		s.alerts = append(s.alerts, a)
	}
}

func (s *Snapshot) key(section, key string) (int64, bool) {
	id, err := operationKey(key)
	if err != nil {
		s.diag("%s: %v", section, err)
		return 0, false
	}
	return id, true
}

func sortUtilities(steps []domain.UtilityStep) {
	rank := map[domain.Provider]int{}
	for i, p := range domain.AllProviders() {
		rank[p] = i
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Provider != steps[j].Provider {
			return rank[steps[i].Provider] < rank[steps[j].Provider]
		}
		return steps[i].Sequence < steps[j].Sequence
	})
}

// Counts summarizes the snapshot for diagnostics.
func (s *Snapshot) Counts() map[string]int {
	return map[string]int{
		"templates":  s.Catalog.Len(),
		"operations": len(s.operations),
		"phases":     countOf(s.phases),
		"rem":        countOf(s.rem),
		"amendments": countOf(s.amendments),
		"notices":    countOf(s.notices),
		"utilities":  countOf(s.utilities),
		"lots":       countOf(s.lots),
		"claims":     countOf(s.claims),
		"alerts":     len(s.alerts),
	}
}

func countOf[T any](m map[int64][]T) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

func (s *Snapshot) ListOperations(ctx context.Context) ([]domain.Operation, error) {
	return append([]domain.Operation(nil), s.operations...), nil
}

func (s *Snapshot) GetOperation(ctx context.Context, id int64) (domain.Operation, error) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Operation{}, fmt.Errorf("%w: %d", domain.ErrMissingOperation, id)
	}
	return s.operations[i], nil
}

func (s *Snapshot) ListPhases(ctx context.Context, id int64) ([]domain.Phase, error) {
	return clone(s.phases[id]), nil
}

func (s *Snapshot) ListREM(ctx context.Context, id int64) ([]domain.REMEntry, error) {
	return clone(s.rem[id]), nil
}

func (s *Snapshot) ListAmendments(ctx context.Context, id int64) ([]domain.Amendment, error) {
	return clone(s.amendments[id]), nil
}

func (s *Snapshot) ListFinalAccountLots(ctx context.Context, id int64) ([]domain.FinalAccountLot, error) {
	return clone(s.lots[id]), nil
}

// ListFinalAccountSteps returns the demonstration state of the validation
// chain for operations that have a final account.
func (s *Snapshot) ListFinalAccountSteps(ctx context.Context, id int64) ([]domain.WorkflowStep, error) {
	if len(s.lots[id]) == 0 {
		return nil, nil
	}
	steps := []domain.WorkflowStep{
		{Sequence: 1, Nom: "Saisie quantités", Responsable: "ACO", Statut: domain.WorkflowDone},
		{Sequence: 2, Nom: "Validation entreprise", Responsable: "Entreprise", Statut: domain.WorkflowDone},
		{Sequence: 3, Nom: "Vérification MOE", Responsable: "MOE", Statut: domain.WorkflowOngoing},
		{Sequence: 4, Nom: "Validation SPIC", Responsable: "SPIC", Statut: domain.WorkflowTodo},
		{Sequence: 5, Nom: "Génération décompte", Responsable: "Système", Statut: domain.WorkflowTodo},
	}
	return steps, nil
}

func (s *Snapshot) ListNotices(ctx context.Context, id int64) ([]domain.FormalNotice, error) {
	return clone(s.notices[id]), nil
}

func (s *Snapshot) ListUtilitySteps(ctx context.Context, id int64) ([]domain.UtilityStep, error) {
	return clone(s.utilities[id]), nil
}

func (s *Snapshot) ListClaims(ctx context.Context, id int64) ([]domain.Claim, error) {
	return clone(s.claims[id]), nil
}

func (s *Snapshot) ListClosureItems(ctx context.Context, id int64) ([]domain.ChecklistItem, error) {
	if _, ok := s.byID[id]; !ok {
		return nil, nil
	}
	return closure.DemoChecklist(), nil
}

// KPIs returns the pre-computed dashboard figures, or nil when the dataset
// carries none.
func (s *Snapshot) KPIs(ctx context.Context) (*domain.KPIs, error) {
	if s.kpis == nil {
		return nil, nil
	}
	k := *s.kpis
	return &k, nil
}

func (s *Snapshot) MonthlyActivity(ctx context.Context) (domain.MonthlyActivity, error) {
	return s.activity, nil
}

func (s *Snapshot) ReferenceAlerts(ctx context.Context) ([]domain.Alert, error) {
	return clone(s.alerts), nil
}

func clone[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	return append([]T(nil), in...)
}
