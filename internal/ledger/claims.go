package ledger

import (
	"fmt"
	"sort"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const CodeClaimUrgent = "claim.urgent"

type ClaimSummary struct {
	Count        int            `json:"count"`
	ByType       map[string]int `json:"par_type"`
	ByStatut     map[string]int `json:"par_statut"`
	Open         int            `json:"ouvertes"`
	OpenUrgent   int            `json:"urgentes_ouvertes"`
	AverageDelai *float64       `json:"delai_moyen,omitempty"`
	Claims       []domain.Claim `json:"reclamations"`
}

func (s ClaimSummary) Signals() []Signal {
	if s.OpenUrgent == 0 {
		return nil
	}
	return []Signal{{
		Severity: domain.SeverityWarning,
		Code:     CodeClaimUrgent,
		Title:    "Réclamation GPA urgente",
		Message:  fmt.Sprintf("%d réclamation(s) urgente(s) non résolue(s)", s.OpenUrgent),
		Action:   "Planifier l'intervention",
		Value:    float64(s.OpenUrgent),
	}}
}

// SummarizeClaims reduces the completion-warranty claims of an operation.
func SummarizeClaims(claims []domain.Claim) ClaimSummary {
	s := ClaimSummary{
		Count:    len(claims),
		ByType:   map[string]int{},
		ByStatut: map[string]int{},
		Claims:   append([]domain.Claim(nil), claims...),
	}
	var delai int
	for _, c := range claims {
		s.ByType[c.Type]++
		s.ByStatut[c.Statut]++
		delai += c.DelaiIntervention
		if c.Statut != domain.ClaimResolue {
			s.Open++
			if c.Urgence == domain.UrgenceUrgente {
				s.OpenUrgent++
			}
		}
	}
	if len(claims) > 0 {
		s.AverageDelai = ptr(float64(delai) / float64(len(claims)))
	}
	sort.SliceStable(s.Claims, func(i, j int) bool { return s.Claims[i].Date.After(s.Claims[j].Date) })
	return s
}
