package timeline

import (
	"sort"
	"time"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

type Resolution struct {
	Status  domain.PhaseStatus
	Delayed bool
	// Blocker marks the phase as an active brake on the operation.
	Blocker bool
}

// ResolveEffectiveStatus derives the status shown for p at now. An explicit
// VALIDEE or EN_COURS always wins; past its planned end any other phase is
// RETARD, or CRITIQUE when the phase is critical. Only a phase past its
// planned end is flagged delayed; before that the recorded status is shown
// as-is, even a recorded RETARD.
func ResolveEffectiveStatus(p domain.Phase, now time.Time) Resolution {
	switch p.Statut {
	case domain.PhaseValidee, domain.PhaseEnCours:
		return Resolution{Status: p.Statut, Blocker: p.Frein != ""}
	}
	if now.After(p.PlannedEnd) {
		status := domain.PhaseRetard
		if p.EstCritique {
			status = domain.PhaseCritique
		}
		return Resolution{Status: status, Delayed: true, Blocker: true}
	}
	status := p.Statut
	if status == "" {
		status = domain.PhaseNonDemarree
	}
	return Resolution{Status: status, Blocker: p.Frein != ""}
}

type PhaseView struct {
	domain.Phase
	EffectiveStatus domain.PhaseStatus `json:"statut_effectif"`
	Delayed         bool               `json:"en_retard"`
	Blocker         bool               `json:"frein_actif"`
	DaysLate        int                `json:"jours_retard,omitempty"`
}

const (
	SourceRecorded = "recorded"
	SourceTemplate = "template"
	SourceNone     = "none"
)

type Timeline struct {
	OperationID      int64       `json:"operation_id"`
	Source           string      `json:"source" enum:"recorded,template,none"`
	Phases           []PhaseView `json:"phases"`
	ActiveBlockers   int         `json:"freins_actifs"`
	CriticalBlockers int         `json:"freins_critiques"`
	Validated        int         `json:"phases_validees"`
	PendingApproval  int         `json:"validations_requises"`
	Warning          string      `json:"warning,omitempty"`
}

// Annotate resolves every phase at now and rolls blockers up to the operation.
func Annotate(operationID int64, source string, phases []domain.Phase, now time.Time) Timeline {
	tl := Timeline{OperationID: operationID, Source: source, Phases: make([]PhaseView, 0, len(phases))}
	for _, p := range phases {
		res := ResolveEffectiveStatus(p, now)
		view := PhaseView{Phase: p, EffectiveStatus: res.Status, Delayed: res.Delayed, Blocker: res.Blocker}
		if res.Delayed {
			view.DaysLate = int(now.Sub(p.PlannedEnd).Hours() / 24)
		}
		if res.Blocker {
			tl.ActiveBlockers++
		}
		if res.Blocker && res.Status == domain.PhaseCritique {
			tl.CriticalBlockers++
		}
		switch res.Status {
		case domain.PhaseValidee:
			tl.Validated++
		case domain.PhaseValidationRequise:
			tl.PendingApproval++
		}
		tl.Phases = append(tl.Phases, view)
	}
	return tl
}

// AllValidated reports whether every phase of the timeline is VALIDEE.
func (t Timeline) AllValidated() bool {
	return len(t.Phases) > 0 && t.Validated == len(t.Phases)
}

// DelayFocused returns the delayed phases with CRITIQUE first, then by
// sequence.
func DelayFocused(phases []PhaseView) []PhaseView {
	var out []PhaseView
	for _, p := range phases {
		if p.Delayed {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci := out[i].EffectiveStatus == domain.PhaseCritique
		cj := out[j].EffectiveStatus == domain.PhaseCritique
		if ci != cj {
			return ci
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// DueWithin counts phases not yet validated whose planned end falls in
// [now, now+window].
func DueWithin(phases []PhaseView, now time.Time, window time.Duration) int {
	limit := now.Add(window)
	n := 0
	for _, p := range phases {
		if p.EffectiveStatus == domain.PhaseValidee {
			continue
		}
		if !p.PlannedEnd.Before(now) && !p.PlannedEnd.After(limit) {
			n++
		}
	}
	return n
}
