package alerts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/alerts"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

func TestComposeOrdering(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	late := timeline.Annotate(1, timeline.SourceRecorded, []domain.Phase{
		{Sequence: 1, Nom: "DCE", PlannedEnd: now.AddDate(0, 0, -3), Statut: domain.PhaseEnAttente, Responsable: "MOE"},
		{Sequence: 2, Nom: "PC", PlannedEnd: now.AddDate(0, 0, -10), Statut: domain.PhaseNonDemarree, EstCritique: true},
	}, now)

	got := alerts.Compose([]alerts.OperationSignals{
		{OperationID: 2, Operation: "Zeta", Ledger: []ledger.Signal{{Severity: domain.SeverityInfo, Title: "REM", Message: "ok"}}},
		{OperationID: 1, Operation: "Beta", Phases: late.Phases, PendingValidations: 2},
		{OperationID: 3, Operation: "Alpha", Ledger: []ledger.Signal{{Severity: domain.SeverityWarning, Title: "Écart", Message: "x", Action: "Surveiller"}}},
	})
	require.Len(t, got, 5)

	assert.Equal(t, domain.SeverityCritical, got[0].Severity)
	assert.Equal(t, "Beta", got[0].Operation)
	assert.Contains(t, got[0].Message, "PC")

	assert.Equal(t, domain.SeverityWarning, got[1].Severity)
	assert.Equal(t, "Alpha", got[1].Operation)
	assert.Equal(t, domain.SeverityWarning, got[2].Severity)
	assert.Equal(t, "Beta", got[2].Operation)
	assert.Equal(t, "Débloquer avec MOE", got[2].ActionRequise)

	assert.Equal(t, "Beta", got[3].Operation)
	assert.Equal(t, alerts.SourceValidation, got[3].Source)
	assert.Equal(t, "Zeta", got[4].Operation)

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Severity.Rank(), got[i].Severity.Rank())
	}
}

func TestComposeOmitsQuietOperations(t *testing.T) {
	rem := ledger.AggregateREM(nil, ledger.DefaultREMPolicy())
	got := alerts.Compose([]alerts.OperationSignals{{OperationID: 1, Operation: "Calme", Ledger: rem.Signals()}})
	assert.Empty(t, got)
}

func TestMergeKeepsStableOrder(t *testing.T) {
	composed := []domain.Alert{{Severity: domain.SeverityWarning, Operation: "A", Message: "first"}}
	extra := []domain.Alert{
		{Severity: domain.SeverityWarning, Operation: "A", Message: "second"},
		{Severity: domain.SeverityCritical, Operation: "B", Message: "urgent"},
	}
	got := alerts.Merge(composed, extra)
	require.Len(t, got, 3)
	assert.Equal(t, "urgent", got[0].Message)
	assert.Equal(t, "first", got[1].Message)
	assert.Equal(t, "second", got[2].Message)
}
