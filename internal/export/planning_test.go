package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

func TestPlanningWorkbook(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	op := domain.Operation{ID: 1, Nom: "RÉSIDENCE LES JARDINS", Type: domain.TypeOPP, Commune: "Les Abymes"}
	phases := []domain.Phase{
		{OperationID: 1, Sequence: 1, Nom: "Montage", PlannedStart: now.AddDate(0, -3, 0), PlannedEnd: now.AddDate(0, -2, 0), Statut: domain.PhaseValidee, Responsable: "ACO"},
		{OperationID: 1, Sequence: 2, Nom: "Études", PlannedStart: now.AddDate(0, -2, 0), PlannedEnd: now.AddDate(0, 0, -10), Statut: domain.PhaseEnAttente, Responsable: "MOE", EstCritique: true, Frein: "Permis"},
	}
	tl := timeline.Annotate(1, timeline.SourceRecorded, phases, now)

	f, name, err := Planning(op, tl, now)
	require.NoError(t, err)
	assert.Equal(t, "Planning_RÉSIDENCE_LES_JARDINS_20240601.xlsx", name)

	var buf bytes.Buffer
	require.NoError(t, WritePlanning(&buf, f))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	header, err := book.GetCellValue(SheetName, "B4")
	require.NoError(t, err)
	assert.Equal(t, "Phase", header)

	name2, _ := book.GetCellValue(SheetName, "B6")
	assert.Equal(t, "Études", name2)
	effective, _ := book.GetCellValue(SheetName, "F6")
	assert.Equal(t, "Critique", effective)
	late, _ := book.GetCellValue(SheetName, "J6")
	assert.Equal(t, "10", late)
	start, _ := book.GetCellValue(SheetName, "C5")
	assert.Equal(t, "01/03/2024", start)
}

func TestFilenameFallsBackToID(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Planning_operation_7_20240102.xlsx", Filename(domain.Operation{ID: 7, Nom: "///"}, at))
}
