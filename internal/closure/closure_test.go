package closure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/closure"
	"github.com/Zia971/opcopilotV4/internal/domain"
)

func TestDefaultChecklist(t *testing.T) {
	items := closure.DefaultChecklist()
	require.Len(t, items, 6)
	res := closure.CanClose(items)
	assert.False(t, res.CanClose)
	assert.Len(t, res.Unresolved, 6)
	assert.Equal(t, "Toutes phases validées", res.UnresolvedLabels()[0])
}

func TestCanCloseRequiresEveryItem(t *testing.T) {
	items := closure.DefaultChecklist()
	for i := range items {
		items[i].Resolved = true
	}
	assert.True(t, closure.CanClose(items).CanClose)

	for i := range items {
		items[i].Resolved = false
		res := closure.CanClose(items)
		assert.False(t, res.CanClose, "item %s", items[i].Key)
		require.Len(t, res.Unresolved, 1)
		assert.Equal(t, items[i].Key, res.Unresolved[0].Key)
		assert.Equal(t, 5, res.Resolved)
		items[i].Resolved = true
	}
}

func TestDemoChecklist(t *testing.T) {
	res := closure.CanClose(closure.DemoChecklist())
	assert.Equal(t, 2, res.Resolved)
	assert.Len(t, res.Unresolved, 4)
}

func TestMerge(t *testing.T) {
	items := closure.Merge([]domain.ChecklistItem{
		{Key: closure.ItemArchives, Resolved: true},
		{Key: "visite_finale", Label: "Visite finale", Responsable: "ACO", Resolved: true},
	})
	require.Len(t, items, 7)
	assert.True(t, items[1].Resolved)
	assert.Equal(t, "Documents archivés", items[1].Label)
	assert.Equal(t, "visite_finale", items[6].Key)
	assert.True(t, closure.Known(closure.ItemBilan))
	assert.False(t, closure.Known("visite_finale"))
}
