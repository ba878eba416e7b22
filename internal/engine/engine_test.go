package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/migrate"
	"github.com/Zia971/opcopilotV4/internal/refdata"
	"github.com/Zia971/opcopilotV4/internal/repo"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

var fixedNow = time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

func referenceStore(t *testing.T) *refdata.Store {
	t.Helper()
	snap, err := refdata.Load(refdata.Source{}, nil)
	require.NoError(t, err)
	return refdata.NewStore(snap)
}

func referenceEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng := engine.New(nil, referenceStore(t), config.Default(), nil)
	eng.Now = func() time.Time { return fixedNow }
	return eng
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, referenceStore(t), config.Default(), nil)
	eng.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) createOPP(t *testing.T) domain.Operation {
	t.Helper()
	op, err := env.Engine.CreateOperation(env.Ctx, engine.OperationCreate{
		Nom:     "Résidence Test",
		Type:    "OPP",
		Commune: "Le Gosier",
		OPP:     &domain.OPPDetails{NbLLS: 12, TypeLogement: "Collectif"},
		ActorID: "tester",
	})
	require.NoError(t, err)
	return op
}

func TestReferenceTimelineUsesRecordedPhases(t *testing.T) {
	eng := referenceEngine(t)
	tl, err := eng.Timeline(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, timeline.SourceRecorded, tl.Source)
	require.Len(t, tl.Phases, 8)
	assert.Equal(t, domain.PhaseCritique, tl.Phases[4].EffectiveStatus)
	assert.Equal(t, domain.PhaseEnCours, tl.Phases[6].EffectiveStatus)
	assert.Equal(t, domain.PhaseNonDemarree, tl.Phases[7].EffectiveStatus)
	assert.Equal(t, 2, tl.CriticalBlockers)
	assert.Equal(t, 4, tl.Validated)
}

func TestReferenceTimelineFromTemplate(t *testing.T) {
	eng := referenceEngine(t)
	tl, err := eng.Timeline(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, timeline.SourceTemplate, tl.Source)
	require.Len(t, tl.Phases, 9)
	for _, p := range tl.Phases {
		assert.Equal(t, domain.PhaseNonDemarree, p.Statut)
		assert.False(t, p.PlannedEnd.Before(p.PlannedStart))
	}
}

func TestTimelineWithoutTemplateWarns(t *testing.T) {
	_, demo := refdata.EmbeddedDocuments()
	snap, err := refdata.Parse(nil, demo, refdata.Source{}.Defaults)
	require.NoError(t, err)
	eng := engine.New(nil, refdata.NewStore(snap), config.Default(), nil)
	eng.Now = func() time.Time { return fixedNow }

	tl, err := eng.Timeline(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, timeline.SourceNone, tl.Source)
	assert.Empty(t, tl.Phases)
	assert.NotEmpty(t, tl.Warning)

	_, err = eng.Timeline(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrMissingOperation)
}

func TestReferenceDashboard(t *testing.T) {
	eng := referenceEngine(t)
	d, err := eng.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.KPISourceReference, d.KPISource)
	assert.Equal(t, 23, d.KPIs.OperationsActives)
	assert.Len(t, d.Activity.Mois, 12)
	require.NotEmpty(t, d.Alerts)
	assert.Equal(t, domain.SeverityCritical, d.Alerts[0].Severity)
	for i := 1; i < len(d.Alerts); i++ {
		assert.LessOrEqual(t, d.Alerts[i-1].Severity.Rank(), d.Alerts[i].Severity.Rank())
	}
	for _, a := range d.Alerts {
		assert.NotEqual(t, int64(5), a.OperationID, "closed operations raise no alert")
	}
}

func TestPortfolioFilters(t *testing.T) {
	eng := referenceEngine(t)
	ctx := context.Background()

	p, err := eng.Portfolio(ctx, engine.PortfolioFilter{Type: "opp"})
	require.NoError(t, err)
	require.Equal(t, 2, p.Total)
	assert.Equal(t, int64(1), p.Operations[0].ID)
	assert.Equal(t, "yellow", p.Operations[0].ProgressBucket)
	assert.Equal(t, "green", p.Operations[1].ProgressBucket)
	assert.Len(t, p.QuickAccess, 4)
	assert.Equal(t, 2, p.Operations[0].FreinsActifs)

	p, err = eng.Portfolio(ctx, engine.PortfolioFilter{Commune: "pointe-à-pitre"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)
	assert.Len(t, p.Communes, 4)

	p, err = eng.Portfolio(ctx, engine.PortfolioFilter{Statut: "CLOTUREE"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Total)

	_, err = eng.Portfolio(ctx, engine.PortfolioFilter{Type: "CHATEAU"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReferenceLedgers(t *testing.T) {
	eng := referenceEngine(t)
	ctx := context.Background()

	fa, err := eng.FinalAccount(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, fa.Lots, 3)
	assert.InDelta(t, 2672100, fa.MontantFinal, 0.001)
	assert.Empty(t, fa.Diagnostic)
	require.NotNil(t, fa.EcartPourcentage)

	empty, err := eng.FinalAccount(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, empty.Lots)
	assert.Nil(t, empty.EcartPourcentage)

	rem, err := eng.REM(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "T3 2024", rem.Inspected)
	require.NotNil(t, rem.Realization)
	assert.Equal(t, domain.SeverityWarning, rem.Realization.Severity)

	claims, err := eng.Claims(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, claims.OpenUrgent)

	_, err = eng.Notices(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrMissingOperation)
}

func TestReferenceClosure(t *testing.T) {
	eng := referenceEngine(t)
	view, err := eng.Closure(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, view.CanClose)
	assert.Equal(t, 6, view.Total)
	assert.Equal(t, 2, view.Resolved)
	assert.Equal(t, 2, view.Balance.PhasesEnRetard)
	assert.Equal(t, 2, view.Balance.Avenants)
	assert.InDelta(t, 18500, view.Balance.AvenantsTotal, 0.001)
}

func TestReferenceSourceIsReadOnly(t *testing.T) {
	eng := referenceEngine(t)
	_, err := eng.CloseOperation(context.Background(), 1, "tester")
	assert.ErrorIs(t, err, domain.ErrReadOnly)
	_, err = eng.AddClaim(context.Background(), engine.ClaimInput{OperationID: 4, Logement: "A1", Type: "Plomberie", Description: "x"})
	assert.ErrorIs(t, err, domain.ErrReadOnly)
}

func TestCreateOperation(t *testing.T) {
	env := newTestEnv(t)
	op := env.createOPP(t)
	assert.Equal(t, domain.OperationEnMontage, op.Statut)
	assert.Zero(t, op.Avancement)
	require.NotNil(t, op.Details.OPP)

	tl, err := env.Engine.Timeline(env.Ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, timeline.SourceRecorded, tl.Source)
	assert.Len(t, tl.Phases, 14)
	for _, p := range tl.Phases {
		assert.Equal(t, domain.PhaseNonDemarree, p.Statut)
	}
	assert.True(t, op.DateFinPrevue.Equal(tl.Phases[13].PlannedEnd))

	view, err := env.Engine.Closure(env.Ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, view.Total)
	assert.Zero(t, view.Resolved)

	evts, err := env.Engine.EventLog(env.Ctx, repo.EventFilter{OperationID: op.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "operation.created", evts[0].Type)
	assert.Equal(t, "tester", evts[0].ActorID)
}

func TestCreateOperationStoresUntouchedPhasesInDemoMode(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default()
	config.DemoOverrides(cfg)
	eng := engine.New(conn, referenceStore(t), cfg, nil)
	eng.Now = func() time.Time { return fixedNow }
	env := testEnv{Engine: eng, Ctx: context.Background()}

	op := env.createOPP(t)
	stored, err := eng.Repo.ListPhases(env.Ctx, op.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 14)
	for _, p := range stored {
		assert.Equal(t, domain.PhaseNonDemarree, p.Statut, p.Nom)
	}
	assert.Zero(t, op.Avancement)
}

func TestCreateOperationValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOperation(env.Ctx, engine.OperationCreate{Nom: "X", Type: "CHATEAU", Commune: "Y"})
	assert.ErrorIs(t, err, domain.ErrUnknownOperationType)

	_, err = env.Engine.CreateOperation(env.Ctx, engine.OperationCreate{Nom: "X", Type: "OPP", Commune: "Y", VEFA: &domain.VEFADetails{Promoteur: "P"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.CreateOperation(env.Ctx, engine.OperationCreate{Type: "OPP", Commune: "Y"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestOperationStatusIsForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	op := env.createOPP(t)

	updated, err := env.Engine.UpdateOperationStatus(env.Ctx, op.ID, "EN_COURS", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationEnCours, updated.Statut)

	_, err = env.Engine.UpdateOperationStatus(env.Ctx, op.ID, "EN_MONTAGE", "tester")
	var te domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.OperationEnCours, te.From)

	_, err = env.Engine.UpdateOperationStatus(env.Ctx, op.ID, "CLOTUREE", "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdatePhaseRecomputesProgress(t *testing.T) {
	env := newTestEnv(t)
	op := env.createOPP(t)

	validee := "VALIDEE"
	view, err := env.Engine.UpdatePhase(env.Ctx, op.ID, 1, engine.PhaseUpdate{Statut: &validee})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseValidee, view.EffectiveStatus)

	got, err := env.Engine.Operation(env.Ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 100/14, got.Avancement)

	frein := "Permis refusé"
	view, err = env.Engine.UpdatePhase(env.Ctx, op.ID, 2, engine.PhaseUpdate{Frein: &frein})
	require.NoError(t, err)
	assert.True(t, view.Blocker)

	early := fixedNow.AddDate(-5, 0, 0)
	_, err = env.Engine.UpdatePhase(env.Ctx, op.ID, 2, engine.PhaseUpdate{PlannedEnd: &early})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.UpdatePhase(env.Ctx, op.ID, 99, engine.PhaseUpdate{Statut: &validee})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAmendmentsAndNoticesQueueIntents(t *testing.T) {
	env := newTestEnv(t)
	op := env.createOPP(t)

	a1, err := env.Engine.AddAmendment(env.Ctx, engine.AmendmentInput{OperationID: op.ID, Motif: "Plus-value travaux", ImpactBudget: 12000, ImpactDelai: 10})
	require.NoError(t, err)
	a2, err := env.Engine.AddAmendment(env.Ctx, engine.AmendmentInput{OperationID: op.ID, Motif: "Autre"})
	require.NoError(t, err)
	assert.Equal(t, 1, a1.Numero)
	assert.Equal(t, 2, a2.Numero)
	assert.Equal(t, domain.AmendmentBrouillon, a2.Statut)

	sum, err := env.Engine.Amendments(env.Ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pending)

	_, err = env.Engine.AddFormalNotice(env.Ctx, engine.NoticeInput{OperationID: op.ID, Type: "MOE", Destinataire: "Cabinet", Motifs: []string{"Documents manquants"}, DelaiConformite: 90})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	n, err := env.Engine.AddFormalNotice(env.Ctx, engine.NoticeInput{OperationID: op.ID, Type: "MED_MOE", Destinataire: "Cabinet", Motifs: []string{"Documents manquants"}})
	require.NoError(t, err)
	assert.Equal(t, 15, n.DelaiConformite)
	assert.Equal(t, "MED-MOE-1-20241201", n.Reference)

	reminded, err := env.Engine.RemindNotices(env.Ctx, op.ID, "tester")
	require.NoError(t, err)
	require.Len(t, reminded, 1)
	assert.Equal(t, domain.NoticeRelancee, reminded[0].Statut)

	pending, err := env.Engine.Repo.PendingIntents(env.Ctx, 0, 0)
	require.NoError(t, err)
	kinds := map[string]int{}
	for _, it := range pending {
		kinds[it.Kind]++
	}
	assert.Equal(t, map[string]int{
		"amendment.validation_requested": 2,
		"notice.generate":                1,
		"notice.reminder_scheduled":      2,
	}, kinds)
}

func TestFinalAccountWorkflow(t *testing.T) {
	env := newTestEnv(t)
	op := env.createOPP(t)

	lot, err := env.Engine.AddFinalAccountLot(env.Ctx, engine.LotInput{OperationID: op.ID, Nom: "Gros oeuvre", MarcheInitial: 100000, QuantitesReelles: 100, PlusMoinsValue: 5000, Penalites: 2000})
	require.NoError(t, err)
	assert.InDelta(t, 103000, lot.MontantFinal, 0.001)

	fa, err := env.Engine.FinalAccount(env.Ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, fa.PendingSteps)

	for i := 0; i < 5; i++ {
		_, err := env.Engine.AdvanceFinalAccountStep(env.Ctx, op.ID, "tester")
		require.NoError(t, err)
	}
	_, err = env.Engine.AdvanceFinalAccountStep(env.Ctx, op.ID, "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	zero, err := env.Engine.AddFinalAccountLot(env.Ctx, engine.LotInput{OperationID: op.ID, Nom: "Avenant", MarcheInitial: 0})
	require.NoError(t, err)
	assert.Nil(t, zero.EcartPourcentage)
}

func TestCloseOperationRunsGate(t *testing.T) {
	env := newTestEnv(t)
	op := env.createOPP(t)

	_, err := env.Engine.CloseOperation(env.Ctx, op.ID, "tester")
	var blocked domain.ClosureBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Len(t, blocked.Unresolved, 6)
	assert.ErrorIs(t, err, domain.ErrClosureBlocked)

	view, err := env.Engine.Closure(env.Ctx, op.ID)
	require.NoError(t, err)
	for _, it := range view.Checklist {
		view, err = env.Engine.SetClosureItem(env.Ctx, op.ID, it.Key, true, "tester")
		require.NoError(t, err)
	}
	assert.True(t, view.CanClose)

	_, err = env.Engine.SetClosureItem(env.Ctx, op.ID, "nope", true, "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	closed, err := env.Engine.CloseOperation(env.Ctx, op.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationCloturee, closed.Statut)
	assert.Equal(t, 100, closed.Avancement)

	_, err = env.Engine.CloseOperation(env.Ctx, op.ID, "tester")
	var te domain.TransitionError
	assert.True(t, errors.As(err, &te))

	pending, err := env.Engine.Repo.PendingIntents(env.Ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "operation.final_report", pending[0].Kind)
}

func TestImportReferenceData(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.ImportReferenceData(env.Ctx, nil, "tester")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, res.Imported)
	assert.Equal(t, 8, res.Counts["phases"])
	assert.Equal(t, 3, res.Counts["claims"])

	again, err := env.Engine.ImportReferenceData(env.Ctx, nil, "tester")
	require.NoError(t, err)
	assert.Empty(t, again.Imported)
	assert.Len(t, again.Skipped, 5)

	tl, err := env.Engine.Timeline(env.Ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, timeline.SourceRecorded, tl.Source)
	assert.Len(t, tl.Phases, 8)

	fa, err := env.Engine.FinalAccount(env.Ctx, 4)
	require.NoError(t, err)
	assert.InDelta(t, 2672100, fa.MontantFinal, 0.001)

	d, err := env.Engine.Dashboard(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.KPISourceComputed, d.KPISource)
	assert.Equal(t, 4, d.KPIs.OperationsActives)
	assert.Equal(t, 1, d.KPIs.OperationsCloturees)
	assert.InDelta(t, 43500+45000+40500+12000+37000+36800, d.KPIs.REMRealisee, 0.001)

	ref, err := env.Engine.WithSource(engine.SourceReference)
	require.NoError(t, err)
	d, err = ref.Dashboard(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.KPISourceReference, d.KPISource)
}
