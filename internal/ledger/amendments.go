package ledger

import (
	"fmt"
	"sort"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	DefaultAmendmentBudgetBaseline = 25000
	DefaultAmendmentDelayBaseline  = 550

	CodeAmendmentPending = "amendment.pending"
)

// AmendmentPolicy holds the reference values the cumulative impacts are
// compared against.
type AmendmentPolicy struct {
	BudgetBaseline float64
	DelayBaseline  float64
}

func DefaultAmendmentPolicy() AmendmentPolicy {
	return AmendmentPolicy{BudgetBaseline: DefaultAmendmentBudgetBaseline, DelayBaseline: DefaultAmendmentDelayBaseline}
}

type AmendmentSummary struct {
	Count           int                `json:"count"`
	BudgetImpact    float64            `json:"impact_budget_total"`
	DelayImpact     int                `json:"impact_delai_total"`
	BudgetImpactPct *float64           `json:"impact_budget_pct,omitempty"`
	DelayImpactPct  *float64           `json:"impact_delai_pct,omitempty"`
	ByStatut        map[string]int     `json:"par_statut"`
	Pending         int                `json:"en_attente_validation"`
	Amendments      []domain.Amendment `json:"avenants"`
}

func (s AmendmentSummary) Signals() []Signal {
	if s.Pending == 0 {
		return nil
	}
	return []Signal{{
		Severity: domain.SeverityInfo,
		Code:     CodeAmendmentPending,
		Title:    "Avenants à valider",
		Message:  fmt.Sprintf("%d avenant(s) en attente de validation", s.Pending),
		Action:   "Valider les avenants",
		Value:    float64(s.Pending),
	}}
}

// SummarizeAmendments accumulates budget and delay impacts. The percentages
// are informational and left nil when the baseline is zero.
func SummarizeAmendments(records []domain.Amendment, p AmendmentPolicy) AmendmentSummary {
	s := AmendmentSummary{
		Count:      len(records),
		ByStatut:   map[string]int{},
		Amendments: append([]domain.Amendment(nil), records...),
	}
	sort.SliceStable(s.Amendments, func(i, j int) bool { return s.Amendments[i].Numero < s.Amendments[j].Numero })
	for _, a := range records {
		s.BudgetImpact += a.ImpactBudget
		s.DelayImpact += a.ImpactDelai
		s.ByStatut[a.Statut]++
		if a.Statut == domain.AmendmentBrouillon || a.Statut == domain.AmendmentEnValidation {
			s.Pending++
		}
	}
	if len(records) > 0 {
		s.BudgetImpactPct = ratioPtr(s.BudgetImpact, p.BudgetBaseline)
		s.DelayImpactPct = ratioPtr(float64(s.DelayImpact), p.DelayBaseline)
	}
	return s
}

// NextAmendmentNumber returns the number the next amendment should carry.
func NextAmendmentNumber(records []domain.Amendment) int {
	n := 0
	for _, a := range records {
		if a.Numero > n {
			n = a.Numero
		}
	}
	return n + 1
}
