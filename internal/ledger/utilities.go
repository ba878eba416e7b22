package ledger

import (
	"sort"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

type ProviderProgress struct {
	Provider   domain.Provider      `json:"provider"`
	Steps      []domain.UtilityStep `json:"etapes"`
	Validated  int                  `json:"validees"`
	Total      int                  `json:"total"`
	Percentage *float64             `json:"pourcentage,omitempty"`
	Next       *domain.UtilityStep  `json:"prochaine_etape,omitempty"`
}

type UtilitySummary struct {
	Providers []ProviderProgress `json:"concessionnaires"`
	Pending   int                `json:"etapes_en_attente"`
}

// SummarizeUtilities groups connection steps per provider, in the fixed
// provider order, normalizing unknown step statuses to EN_ATTENTE.
func SummarizeUtilities(steps []domain.UtilityStep) UtilitySummary {
	grouped := map[domain.Provider][]domain.UtilityStep{}
	for _, st := range steps {
		st.Statut = domain.NormalizeStepStatus(st.Statut)
		grouped[st.Provider] = append(grouped[st.Provider], st)
	}
	var s UtilitySummary
	for _, prov := range domain.AllProviders() {
		list, ok := grouped[prov]
		if !ok {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
		pp := ProviderProgress{Provider: prov, Steps: list, Total: len(list)}
		for i := range list {
			if list[i].Statut == domain.StepValidee {
				pp.Validated++
				continue
			}
			s.Pending++
			if pp.Next == nil {
				next := list[i]
				pp.Next = &next
			}
		}
		pp.Percentage = ratioPtr(float64(pp.Validated), float64(pp.Total))
		s.Providers = append(s.Providers, pp)
	}
	return s
}
