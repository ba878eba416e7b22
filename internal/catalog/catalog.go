// Package catalog holds the phase templates keyed by operation type.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	DefaultDurationDays = 30
	DefaultResponsable  = "ACO"
)

// Catalog is immutable once built; share it freely between goroutines.
type Catalog struct {
	templates map[domain.OperationType]domain.Template
	order     []domain.OperationType
}

// New copies templates into a catalog. Later entries win on duplicate types.
func New(templates []domain.Template) *Catalog {
	c := &Catalog{templates: make(map[domain.OperationType]domain.Template, len(templates))}
	for _, t := range templates {
		if _, seen := c.templates[t.Type]; !seen {
			c.order = append(c.order, t.Type)
		}
		t.Phases = append([]domain.Blueprint(nil), t.Phases...)
		if t.NbPhases == 0 {
			t.NbPhases = len(t.Phases)
		}
		c.templates[t.Type] = t
	}
	sortTypes(c.order)
	return c
}

// Empty returns a catalog with no templates.
func Empty() *Catalog {
	return New(nil)
}

// Lookup returns the template for typ. The blueprint slice is a copy.
func (c *Catalog) Lookup(typ domain.OperationType) (domain.Template, error) {
	if c == nil {
		return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrUnknownOperationType, typ)
	}
	t, ok := c.templates[typ]
	if !ok {
		return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrUnknownOperationType, typ)
	}
	t.Phases = append([]domain.Blueprint(nil), t.Phases...)
	return t, nil
}

// Types lists the catalogued operation types in enumeration order.
func (c *Catalog) Types() []domain.OperationType {
	if c == nil {
		return nil
	}
	return append([]domain.OperationType(nil), c.order...)
}

// All returns every template in enumeration order.
func (c *Catalog) All() []domain.Template {
	out := make([]domain.Template, 0, c.Len())
	for _, typ := range c.Types() {
		t, _ := c.Lookup(typ)
		out = append(out, t)
	}
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.templates)
}

type rawBlueprint struct {
	Nom             string  `json:"nom"`
	DureeJours      *int    `json:"duree_jours"`
	ResponsableType *string `json:"responsable_type"`
	EstCritique     *bool   `json:"est_critique"`
}

type rawTemplate struct {
	Description string         `json:"description"`
	NbPhases    int            `json:"nb_phases"`
	Phases      []rawBlueprint `json:"phases"`
}

// Defaults fills blueprint fields a template leaves out.
type Defaults struct {
	DurationDays int
	Responsable  string
}

// Parse decodes a templates_phases.json document: an object mapping each
// operation type to its description and ordered phase list. Missing blueprint
// fields take the package defaults.
func Parse(data []byte) (*Catalog, error) {
	return ParseWith(data, Defaults{DurationDays: DefaultDurationDays, Responsable: DefaultResponsable})
}

// ParseWith is Parse with explicit blueprint defaults.
func ParseWith(data []byte, d Defaults) (*Catalog, error) {
	if d.DurationDays <= 0 {
		d.DurationDays = DefaultDurationDays
	}
	if d.Responsable == "" {
		d.Responsable = DefaultResponsable
	}
	var raw map[string]rawTemplate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: templates: %v", domain.ErrMalformedReferenceData, err)
	}
	templates := make([]domain.Template, 0, len(raw))
	for key, rt := range raw {
		typ := domain.OperationType(strings.ToUpper(strings.TrimSpace(key)))
		if typ == "" {
			return nil, fmt.Errorf("%w: templates: empty operation type key", domain.ErrMalformedReferenceData)
		}
		t := domain.Template{Type: typ, Description: rt.Description, NbPhases: rt.NbPhases}
		for i, rb := range rt.Phases {
			bp, err := rb.blueprint(d)
			if err != nil {
				return nil, fmt.Errorf("%w: templates: %s phase %d: %v", domain.ErrMalformedReferenceData, typ, i, err)
			}
			t.Phases = append(t.Phases, bp)
		}
		templates = append(templates, t)
	}
	return New(templates), nil
}

func (rb rawBlueprint) blueprint(d Defaults) (domain.Blueprint, error) {
	bp := domain.Blueprint{
		Nom:             strings.TrimSpace(rb.Nom),
		DureeJours:      d.DurationDays,
		ResponsableType: d.Responsable,
	}
	if bp.Nom == "" {
		return bp, fmt.Errorf("nom is required")
	}
	if rb.DureeJours != nil {
		if *rb.DureeJours < 0 {
			return bp, fmt.Errorf("duree_jours must be >= 0")
		}
		bp.DureeJours = *rb.DureeJours
	}
	if rb.ResponsableType != nil && strings.TrimSpace(*rb.ResponsableType) != "" {
		bp.ResponsableType = strings.TrimSpace(*rb.ResponsableType)
	}
	if rb.EstCritique != nil {
		bp.EstCritique = *rb.EstCritique
	}
	return bp, nil
}

func sortTypes(types []domain.OperationType) {
	rank := make(map[domain.OperationType]int)
	for i, t := range domain.AllOperationTypes() {
		rank[t] = i
	}
	sort.SliceStable(types, func(i, j int) bool {
		ri, iok := rank[types[i]]
		rj, jok := rank[types[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return types[i] < types[j]
		}
	})
}
