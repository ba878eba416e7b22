package ledger

import (
	"fmt"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

// Settle returns the final amount of a lot and its deviation from the
// initial contract, in percent.
func Settle(initial, plusMinus, penalties float64) (final, deviationPct float64, err error) {
	final = initial + plusMinus - penalties
	deviationPct, err = Ratio(plusMinus, initial)
	if err != nil {
		return final, 0, fmt.Errorf("settle lot with zero initial amount: %w", err)
	}
	return final, deviationPct, nil
}

type LotView struct {
	domain.FinalAccountLot
	MontantFinal     float64  `json:"montant_final"`
	EcartPourcentage *float64 `json:"ecart_pourcentage,omitempty"`
}

type FinalAccountSummary struct {
	Summary
	Lots             []LotView             `json:"lots"`
	MontantInitial   float64               `json:"montant_initial"`
	PlusMoinsValues  float64               `json:"plus_moins_values"`
	Penalites        float64               `json:"penalites"`
	MontantFinal     float64               `json:"montant_final"`
	EcartPourcentage *float64              `json:"ecart_pourcentage,omitempty"`
	Workflow         []domain.WorkflowStep `json:"workflow"`
	PendingSteps     int                   `json:"etapes_en_attente"`
}

// SettleFinalAccount reduces the lots of the final account. An empty account
// is neutral. When lots exist but the initial total is zero the summary is
// still returned, without percentage, alongside ErrDivisionUndefined.
func SettleFinalAccount(lots []domain.FinalAccountLot, workflow []domain.WorkflowStep) (FinalAccountSummary, error) {
	s := FinalAccountSummary{Lots: make([]LotView, 0, len(lots)), Workflow: NormalizeWorkflow(workflow)}
	for _, st := range s.Workflow {
		if st.Statut != domain.WorkflowDone {
			s.PendingSteps++
		}
	}

	pairs := make([]pair, 0, len(lots))
	var quantities float64
	for _, l := range lots {
		final := l.FinalAmount()
		view := LotView{FinalAccountLot: l, MontantFinal: final, EcartPourcentage: ratioPtr(l.PlusMoinsValue, l.MarcheInitial)}
		s.Lots = append(s.Lots, view)
		s.MontantInitial += l.MarcheInitial
		s.PlusMoinsValues += l.PlusMoinsValue
		s.Penalites += l.Penalites
		s.MontantFinal += final
		quantities += l.QuantitesReelles
		pairs = append(pairs, pair{projected: l.MarcheInitial, realized: final})
	}
	s.Summary = reduce(pairs)
	if len(lots) == 0 {
		return s, nil
	}
	s.RealizationPercentage = ptr(quantities / float64(len(lots)))

	_, pct, err := Settle(s.MontantInitial, s.PlusMoinsValues, s.Penalites)
	if err != nil {
		return s, err
	}
	s.EcartPourcentage = &pct
	return s, nil
}

// DefaultWorkflow is the validation chain of a final account.
func DefaultWorkflow() []domain.WorkflowStep {
	return []domain.WorkflowStep{
		{Sequence: 1, Nom: "Saisie quantités", Responsable: "ACO", Statut: domain.WorkflowOngoing},
		{Sequence: 2, Nom: "Validation entreprise", Responsable: "Entreprise", Statut: domain.WorkflowTodo},
		{Sequence: 3, Nom: "Vérification MOE", Responsable: "MOE", Statut: domain.WorkflowTodo},
		{Sequence: 4, Nom: "Validation SPIC", Responsable: "SPIC", Statut: domain.WorkflowTodo},
		{Sequence: 5, Nom: "Génération décompte", Responsable: "Système", Statut: domain.WorkflowTodo},
	}
}

// NormalizeWorkflow returns steps, or the default chain when none were
// recorded.
func NormalizeWorkflow(steps []domain.WorkflowStep) []domain.WorkflowStep {
	if len(steps) == 0 {
		return DefaultWorkflow()
	}
	return append([]domain.WorkflowStep(nil), steps...)
}

// AdvanceWorkflow marks the ongoing step done and opens the next one. Steps
// are completed in order.
func AdvanceWorkflow(steps []domain.WorkflowStep) ([]domain.WorkflowStep, error) {
	out := NormalizeWorkflow(steps)
	for i := range out {
		if out[i].Statut == domain.WorkflowDone {
			continue
		}
		out[i].Statut = domain.WorkflowDone
		if i+1 < len(out) {
			out[i+1].Statut = domain.WorkflowOngoing
		}
		return out, nil
	}
	return out, fmt.Errorf("final account workflow already complete")
}
