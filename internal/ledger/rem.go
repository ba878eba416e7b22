package ledger

import (
	"fmt"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	DefaultREMDeviationThreshold = 2000
	DefaultRealizationThreshold  = 95

	CodeREMCorrelation = "rem.correlation"
	CodeREMDeviation   = "rem.deviation"
	CodeREMOnTrack     = "rem.on_track"
	CodeREMLag         = "rem.lag"
)

type REMPolicy struct {
	DeviationThreshold   float64
	RealizationThreshold float64
}

func DefaultREMPolicy() REMPolicy {
	return REMPolicy{DeviationThreshold: DefaultREMDeviationThreshold, RealizationThreshold: DefaultRealizationThreshold}
}

type REMRow struct {
	domain.REMEntry
	EcartREM      float64 `json:"ecart_rem"`
	EcartDepenses float64 `json:"ecart_depenses"`
}

type REMSummary struct {
	Rent        Summary  `json:"rem"`
	Works       Summary  `json:"travaux"`
	Rows        []REMRow `json:"rows"`
	Inspected   string   `json:"trimestre_inspecte,omitempty"`
	Correlation *Signal  `json:"correlation,omitempty"`
	Realization *Signal  `json:"realization,omitempty"`
}

// Signals returns the classifications in display order.
func (s REMSummary) Signals() []Signal {
	var out []Signal
	if s.Correlation != nil {
		out = append(out, *s.Correlation)
	}
	if s.Realization != nil {
		out = append(out, *s.Realization)
	}
	return out
}

// AggregateREM reduces quarterly REM entries. Variances are recomputed from
// the projected/realized pairs. The realization check looks at the
// second-to-last quarter when there are several, the latest one being
// treated as still open.
func AggregateREM(records []domain.REMEntry, p REMPolicy) REMSummary {
	rent := make([]pair, 0, len(records))
	works := make([]pair, 0, len(records))
	rows := make([]REMRow, 0, len(records))
	for _, r := range records {
		rent = append(rent, pair{projected: r.REMProjetee, realized: r.REMRealisee})
		works = append(works, pair{projected: r.DepensesProjetees, realized: r.DepensesFacturees})
		rows = append(rows, REMRow{REMEntry: r, EcartREM: r.REMVariance(), EcartDepenses: r.SpendVariance()})
	}
	s := REMSummary{Rent: reduce(rent), Works: reduce(works), Rows: rows}
	if len(records) == 0 {
		return s
	}

	inspected := records[0]
	if len(records) > 1 {
		inspected = records[len(records)-2]
	}
	s.Inspected = inspected.Trimestre
	s.Rent.RealizationPercentage = ptr(inspected.AvancementREM)
	s.Works.RealizationPercentage = ptr(inspected.AvancementTravaux)

	avg := s.Rent.AverageAbsoluteVariance
	if avg < p.DeviationThreshold {
		s.Correlation = &Signal{
			Severity: domain.SeverityInfo,
			Code:     CodeREMCorrelation,
			Title:    "Corrélation REM/Travaux",
			Message:  fmt.Sprintf("Cohérence globale respectée, écart moyen %.0f €", avg),
			Value:    avg,
		}
	} else {
		s.Correlation = &Signal{
			Severity: domain.SeverityWarning,
			Code:     CodeREMDeviation,
			Title:    "Écart détecté",
			Message:  fmt.Sprintf("Écart REM moyen de %.0f €", avg),
			Action:   "Surveillance requise",
			Value:    avg,
		}
	}

	if inspected.AvancementREM < p.RealizationThreshold {
		s.Realization = &Signal{
			Severity: domain.SeverityWarning,
			Code:     CodeREMLag,
			Title:    "Retard REM",
			Message:  fmt.Sprintf("%s : %.0f%% réalisé seulement", inspected.Trimestre, inspected.AvancementREM),
			Action:   "Relancer la saisie REM",
			Value:    inspected.AvancementREM,
		}
	} else {
		s.Realization = &Signal{
			Severity: domain.SeverityInfo,
			Code:     CodeREMOnTrack,
			Title:    "REM dans les temps",
			Message:  fmt.Sprintf("%s : %.0f%% réalisé", inspected.Trimestre, inspected.AvancementREM),
			Value:    inspected.AvancementREM,
		}
	}
	return s
}
