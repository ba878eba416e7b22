package timeline_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/catalog"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

var ref = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return ref.AddDate(0, 0, n) }

func testCatalog(n int) *catalog.Catalog {
	tpl := domain.Template{Type: domain.TypeOPP, Description: "test"}
	for i := 0; i < n; i++ {
		tpl.Phases = append(tpl.Phases, domain.Blueprint{
			Nom:             "Phase " + string(rune('A'+i)),
			DureeJours:      10 + i,
			ResponsableType: "ACO",
			EstCritique:     i%3 == 0,
		})
	}
	return catalog.New([]domain.Template{tpl})
}

func TestMaterializeRecordedPhasesUnchanged(t *testing.T) {
	recorded := []domain.Phase{
		{OperationID: 1, Sequence: 1, Nom: "ESQ", PlannedStart: day(0), PlannedEnd: day(5), Statut: domain.PhaseRetard},
		{OperationID: 1, Sequence: 2, Nom: "APS", PlannedStart: day(5), PlannedEnd: day(9), Statut: domain.PhaseEnCours},
	}
	m := timeline.Materializer{Catalog: testCatalog(3), Policy: timeline.DefaultPolicy()}
	got, err := m.Materialize(1, domain.TypeOPP, recorded, day(100))
	require.NoError(t, err)
	if diff := cmp.Diff(recorded, got); diff != "" {
		t.Fatalf("recorded phases changed (-want +got):\n%s", diff)
	}
}

func TestMaterializeTemplateDates(t *testing.T) {
	m := timeline.Materializer{Catalog: testCatalog(5), Policy: timeline.DefaultPolicy()}
	got, err := m.Materialize(7, domain.TypeOPP, nil, ref)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, p := range got {
		wantStart := ref.AddDate(0, 0, i*timeline.DefaultStagingOffsetDays)
		assert.Equal(t, wantStart, p.PlannedStart, "phase %d start", i)
		assert.Equal(t, wantStart.AddDate(0, 0, 10+i), p.PlannedEnd, "phase %d end", i)
		assert.False(t, p.PlannedEnd.Before(p.PlannedStart))
		assert.Equal(t, domain.PhaseNonDemarree, p.Statut)
		assert.Equal(t, i+1, p.Sequence)
		assert.Equal(t, int64(7), p.OperationID)
		assert.Equal(t, i%3 == 0, p.EstCritique)
	}
}

func TestMaterializeDemoPolicy(t *testing.T) {
	m := timeline.Materializer{
		Catalog: testCatalog(12),
		Policy:  timeline.Policy{MaxPhases: timeline.DemoMaxPhases, StagingOffsetDays: 20, Demo: true},
	}
	got, err := m.Materialize(1, domain.TypeOPP, nil, ref)
	require.NoError(t, err)
	require.Len(t, got, 8)
	for i, p := range got {
		assert.Equal(t, timeline.DemoRotation[i%4], p.Statut)
	}
}

func TestMaterializeUncapped(t *testing.T) {
	m := timeline.Materializer{Catalog: testCatalog(12), Policy: timeline.DefaultPolicy()}
	got, err := m.Materialize(1, domain.TypeOPP, nil, ref)
	require.NoError(t, err)
	assert.Len(t, got, 12)
}

func TestMaterializeUnknownType(t *testing.T) {
	m := timeline.Materializer{Catalog: testCatalog(2), Policy: timeline.DefaultPolicy()}
	_, err := m.Materialize(1, domain.TypeVEFA, nil, ref)
	assert.True(t, errors.Is(err, domain.ErrUnknownOperationType))

	_, err = timeline.Materializer{}.Materialize(1, domain.TypeOPP, nil, ref)
	assert.True(t, errors.Is(err, domain.ErrUnknownOperationType))
}

func TestResolveValidatedNeverDelayed(t *testing.T) {
	for _, critical := range []bool{false, true} {
		for _, offset := range []int{-400, -1, 0, 1, 400} {
			p := domain.Phase{PlannedStart: day(-500), PlannedEnd: day(0), Statut: domain.PhaseValidee, EstCritique: critical}
			res := timeline.ResolveEffectiveStatus(p, day(offset))
			assert.Equal(t, domain.PhaseValidee, res.Status)
			assert.False(t, res.Delayed)
		}
	}
}

func TestResolveRules(t *testing.T) {
	cases := []struct {
		name    string
		phase   domain.Phase
		now     time.Time
		want    domain.PhaseStatus
		delayed bool
		blocker bool
	}{
		{"in progress past end", domain.Phase{PlannedEnd: day(0), Statut: domain.PhaseEnCours}, day(10), domain.PhaseEnCours, false, false},
		{"pending past end", domain.Phase{PlannedEnd: day(0), Statut: domain.PhaseEnAttente}, day(1), domain.PhaseRetard, true, true},
		{"critical past end", domain.Phase{PlannedEnd: day(0), Statut: domain.PhaseNonDemarree, EstCritique: true}, day(1), domain.PhaseCritique, true, true},
		{"at end is not late", domain.Phase{PlannedEnd: day(0), Statut: domain.PhaseEnAttente}, day(0), domain.PhaseEnAttente, false, false},
		{"before end keeps status", domain.Phase{PlannedEnd: day(5), Statut: domain.PhaseValidationRequise}, day(1), domain.PhaseValidationRequise, false, false},
		{"recorded blocker", domain.Phase{PlannedEnd: day(5), Statut: domain.PhaseEnRevision, Frein: "permis"}, day(1), domain.PhaseEnRevision, false, true},
		{"empty status", domain.Phase{PlannedEnd: day(5)}, day(1), domain.PhaseNonDemarree, false, false},
		{"recorded delay before end", domain.Phase{PlannedEnd: day(5), Statut: domain.PhaseRetard}, day(1), domain.PhaseRetard, false, false},
		{"recorded critical before end with brake", domain.Phase{PlannedEnd: day(5), Statut: domain.PhaseCritique, Frein: "recours"}, day(1), domain.PhaseCritique, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := timeline.ResolveEffectiveStatus(tc.phase, tc.now)
			assert.Equal(t, tc.want, res.Status)
			assert.Equal(t, tc.delayed, res.Delayed)
			assert.Equal(t, tc.blocker, res.Blocker)
		})
	}
}

func TestAnnotateRollsUpBlockers(t *testing.T) {
	phases := []domain.Phase{
		{Sequence: 1, Nom: "A", PlannedEnd: day(-30), Statut: domain.PhaseValidee},
		{Sequence: 2, Nom: "B", PlannedEnd: day(-10), Statut: domain.PhaseEnAttente},
		{Sequence: 3, Nom: "C", PlannedEnd: day(-5), Statut: domain.PhaseNonDemarree, EstCritique: true},
		{Sequence: 4, Nom: "D", PlannedEnd: day(3), Statut: domain.PhaseValidationRequise},
	}
	tl := timeline.Annotate(9, timeline.SourceRecorded, phases, ref)
	assert.Equal(t, 2, tl.ActiveBlockers)
	assert.Equal(t, 1, tl.CriticalBlockers)
	assert.Equal(t, 1, tl.Validated)
	assert.Equal(t, 1, tl.PendingApproval)
	assert.Equal(t, 10, tl.Phases[1].DaysLate)
	assert.False(t, tl.AllValidated())

	focused := timeline.DelayFocused(tl.Phases)
	require.Len(t, focused, 2)
	assert.Equal(t, "C", focused[0].Nom)
	assert.Equal(t, "B", focused[1].Nom)

	assert.Equal(t, 1, timeline.DueWithin(tl.Phases, ref, 7*24*time.Hour))
}

func TestAnnotateIgnoresRecordedDelayBeforeEnd(t *testing.T) {
	phases := []domain.Phase{
		{Sequence: 1, Nom: "A", PlannedEnd: day(20), Statut: domain.PhaseRetard},
		{Sequence: 2, Nom: "B", PlannedEnd: day(-2), Statut: domain.PhaseEnAttente},
	}
	tl := timeline.Annotate(9, timeline.SourceRecorded, phases, ref)
	assert.Equal(t, domain.PhaseRetard, tl.Phases[0].EffectiveStatus)
	assert.False(t, tl.Phases[0].Delayed)
	assert.Zero(t, tl.Phases[0].DaysLate)
	assert.Equal(t, 1, tl.ActiveBlockers)

	focused := timeline.DelayFocused(tl.Phases)
	require.Len(t, focused, 1)
	assert.Equal(t, "B", focused[0].Nom)
}
