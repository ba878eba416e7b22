// Package alerts merges the signals produced for a set of operations into one
// ranked list.
package alerts

import (
	"fmt"
	"sort"

	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

const (
	SourceTimeline   = "timeline"
	SourceLedger     = "ledger"
	SourceValidation = "validation"
	SourceReference  = "reference"
)

// OperationSignals is everything known about one operation that can raise an
// alert.
type OperationSignals struct {
	OperationID        int64
	Operation          string
	Phases             []timeline.PhaseView
	Ledger             []ledger.Signal
	PendingValidations int
}

// Compose turns per-operation signals into alerts ordered critical, warning,
// info, and by operation name within a tier. Input order breaks remaining
// ties.
func Compose(ops []OperationSignals) []domain.Alert {
	var out []domain.Alert
	for _, op := range ops {
		out = append(out, fromOperation(op)...)
	}
	Sort(out)
	return out
}

// Merge appends extra alerts to composed ones and reorders the whole list.
func Merge(composed, extra []domain.Alert) []domain.Alert {
	out := make([]domain.Alert, 0, len(composed)+len(extra))
	out = append(out, composed...)
	out = append(out, extra...)
	Sort(out)
	return out
}

func Sort(list []domain.Alert) {
	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := list[i].Severity.Rank(), list[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return list[i].Operation < list[j].Operation
	})
}

func fromOperation(op OperationSignals) []domain.Alert {
	var out []domain.Alert
	for _, p := range timeline.DelayFocused(op.Phases) {
		sev := domain.SeverityWarning
		if p.EffectiveStatus == domain.PhaseCritique {
			sev = domain.SeverityCritical
		}
		msg := fmt.Sprintf("Phase %s en retard", p.Nom)
		if p.DaysLate > 0 {
			msg = fmt.Sprintf("Phase %s en retard de %d jours", p.Nom, p.DaysLate)
		}
		if p.Frein != "" {
			msg += " (" + p.Frein + ")"
		}
		out = append(out, domain.Alert{
			Severity:      sev,
			OperationID:   op.OperationID,
			Operation:     op.Operation,
			Message:       msg,
			ActionRequise: "Débloquer avec " + responsable(p.Responsable),
			Source:        SourceTimeline,
		})
	}
	for _, s := range op.Ledger {
		out = append(out, domain.Alert{
			Severity:      s.Severity,
			OperationID:   op.OperationID,
			Operation:     op.Operation,
			Message:       s.Title + " : " + s.Message,
			ActionRequise: s.Action,
			Source:        SourceLedger,
		})
	}
	if op.PendingValidations > 0 {
		out = append(out, domain.Alert{
			Severity:      domain.SeverityInfo,
			OperationID:   op.OperationID,
			Operation:     op.Operation,
			Message:       fmt.Sprintf("%d validation(s) requise(s)", op.PendingValidations),
			ActionRequise: "Valider",
			Source:        SourceValidation,
		})
	}
	return out
}

func responsable(r string) string {
	if r == "" {
		return "le responsable"
	}
	return r
}
