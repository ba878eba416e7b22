// Package timeline turns recorded phases or a catalog template into a dated
// phase sequence and derives the effective status of each phase.
package timeline

import (
	"time"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	DefaultStagingOffsetDays = 20
	DemoMaxPhases            = 8
)

// DemoRotation is the status cycle used for synthesized phases in demo mode.
var DemoRotation = []domain.PhaseStatus{
	domain.PhaseValidee,
	domain.PhaseEnCours,
	domain.PhaseEnAttente,
	domain.PhaseNonDemarree,
}

// Policy controls how templates are turned into dated phases.
type Policy struct {
	// MaxPhases caps the number of blueprints used; 0 keeps them all.
	MaxPhases         int
	StagingOffsetDays int
	Demo              bool
}

func DefaultPolicy() Policy {
	return Policy{StagingOffsetDays: DefaultStagingOffsetDays}
}

func PolicyFromConfig(cfg config.EngineConfig) Policy {
	return Policy{
		MaxPhases:         cfg.MaxPhases,
		StagingOffsetDays: cfg.StagingOffsetDays,
		Demo:              cfg.Mode == config.ModeDemo,
	}
}

// TemplateLookup resolves an operation type to its template.
type TemplateLookup interface {
	Lookup(domain.OperationType) (domain.Template, error)
}

type Materializer struct {
	Catalog TemplateLookup
	Policy  Policy
}

// Materialize returns the phase sequence of an operation. Recorded phases are
// authoritative and come back as-is; otherwise the template for typ is laid
// out from ref, one phase every StagingOffsetDays.
func (m Materializer) Materialize(operationID int64, typ domain.OperationType, recorded []domain.Phase, ref time.Time) ([]domain.Phase, error) {
	if len(recorded) > 0 {
		return append([]domain.Phase(nil), recorded...), nil
	}
	if m.Catalog == nil {
		return nil, domain.ErrUnknownOperationType
	}
	tpl, err := m.Catalog.Lookup(typ)
	if err != nil {
		return nil, err
	}
	blueprints := tpl.Phases
	if m.Policy.MaxPhases > 0 && len(blueprints) > m.Policy.MaxPhases {
		blueprints = blueprints[:m.Policy.MaxPhases]
	}
	phases := make([]domain.Phase, 0, len(blueprints))
	for i, bp := range blueprints {
		start := ref.AddDate(0, 0, i*m.Policy.StagingOffsetDays)
		duration := bp.DureeJours
		if duration < 0 {
			duration = 0
		}
		phases = append(phases, domain.Phase{
			OperationID:  operationID,
			Sequence:     i + 1,
			Nom:          bp.Nom,
			PlannedStart: start,
			PlannedEnd:   start.AddDate(0, 0, duration),
			Statut:       m.initialStatus(i),
			Responsable:  bp.ResponsableType,
			EstCritique:  bp.EstCritique,
		})
	}
	return phases, nil
}

func (m Materializer) initialStatus(i int) domain.PhaseStatus {
	if m.Policy.Demo {
		return DemoRotation[i%len(DemoRotation)]
	}
	return domain.PhaseNonDemarree
}
