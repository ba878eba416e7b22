// Package closure decides whether an operation may be closed.
package closure

import "github.com/Zia971/opcopilotV4/internal/domain"

const (
	ItemPhases      = "phases_validees"
	ItemArchives    = "documents_archives"
	ItemSoldes      = "soldes_financiers"
	ItemRetenue     = "retenue_garantie"
	ItemBilan       = "bilan_operation"
	ItemLessons     = "lessons_learned"
	roleACO         = "ACO"
	roleFinancier   = "Financier"
	demoResolvedCap = 2
)

// DefaultChecklist returns the six closure items, all unresolved.
func DefaultChecklist() []domain.ChecklistItem {
	return []domain.ChecklistItem{
		{Key: ItemPhases, Label: "Toutes phases validées", Responsable: roleACO},
		{Key: ItemArchives, Label: "Documents archivés", Responsable: roleACO},
		{Key: ItemSoldes, Label: "Soldes financiers validés", Responsable: roleFinancier},
		{Key: ItemRetenue, Label: "Retenue de garantie levée", Responsable: roleFinancier},
		{Key: ItemBilan, Label: "Bilan opération rédigé", Responsable: roleACO},
		{Key: ItemLessons, Label: "Lessons learned documentées", Responsable: roleACO},
	}
}

// DemoChecklist is the checklist shown for reference operations, with the
// first two items resolved.
func DemoChecklist() []domain.ChecklistItem {
	items := DefaultChecklist()
	for i := 0; i < demoResolvedCap; i++ {
		items[i].Resolved = true
	}
	return items
}

type Result struct {
	CanClose   bool                   `json:"can_close"`
	Unresolved []domain.ChecklistItem `json:"unresolved"`
	Resolved   int                    `json:"resolved"`
	Total      int                    `json:"total"`
}

// UnresolvedLabels returns the labels of the items still blocking closure.
func (r Result) UnresolvedLabels() []string {
	out := make([]string, 0, len(r.Unresolved))
	for _, it := range r.Unresolved {
		out = append(out, it.Label)
	}
	return out
}

// CanClose is true only when every item is resolved.
func CanClose(items []domain.ChecklistItem) Result {
	res := Result{Total: len(items), Unresolved: []domain.ChecklistItem{}}
	for _, it := range items {
		if it.Resolved {
			res.Resolved++
			continue
		}
		res.Unresolved = append(res.Unresolved, it)
	}
	res.CanClose = len(res.Unresolved) == 0
	return res
}

// Merge overlays recorded item states on the default checklist so that
// missing rows read as unresolved. Unknown recorded keys are appended.
func Merge(recorded []domain.ChecklistItem) []domain.ChecklistItem {
	items := DefaultChecklist()
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.Key] = i
	}
	for _, r := range recorded {
		if i, ok := index[r.Key]; ok {
			items[i].Resolved = r.Resolved
			if r.Responsable != "" {
				items[i].Responsable = r.Responsable
			}
			continue
		}
		items = append(items, r)
	}
	return items
}

// Known reports whether key names a checklist item.
func Known(key string) bool {
	for _, it := range DefaultChecklist() {
		if it.Key == key {
			return true
		}
	}
	return false
}
