package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/migrate"
	"github.com/Zia971/opcopilotV4/internal/repo"
)

func setup(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}, conn
}

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func seedOperation(t *testing.T, r repo.Repo) int64 {
	t.Helper()
	ctx := context.Background()
	start := day("2024-01-15")
	id, err := r.InsertOperation(ctx, nil, domain.Operation{
		Nom:             "RÉSIDENCE LES JARDINS",
		Type:            domain.TypeOPP,
		Commune:         "Les Abymes",
		BudgetTotal:     2500000,
		ACOResponsable:  "Marie-Claire ADMIN",
		Statut:          domain.OperationEnMontage,
		DateCreation:    day("2024-01-10"),
		DateFinPrevue:   day("2026-01-15"),
		DateDebutPrevue: &start,
		Details:         domain.OperationDetails{OPP: &domain.OPPDetails{NbLLS: 25, REMTotale: 180000}},
	})
	require.NoError(t, err)
	return id
}

func TestOperationRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)
	id := seedOperation(t, r)

	op, err := r.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "RÉSIDENCE LES JARDINS", op.Nom)
	require.NotNil(t, op.Details.OPP)
	assert.Equal(t, 25, op.Details.OPP.NbLLS)
	require.NotNil(t, op.DateDebutPrevue)
	assert.True(t, op.DateDebutPrevue.Equal(day("2024-01-15")))
	assert.Nil(t, op.Details.VEFA)

	avancement := 40
	require.NoError(t, r.UpdateOperation(ctx, nil, id, domain.OperationEnCours, &avancement))
	op, err = r.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationEnCours, op.Statut)
	assert.Equal(t, 40, op.Avancement)

	_, err = r.GetOperation(ctx, id+100)
	assert.True(t, errors.Is(err, domain.ErrMissingOperation))
	assert.ErrorIs(t, r.UpdateOperation(ctx, nil, id+100, domain.OperationEnCours, nil), repo.ErrNotFound)

	n, err := r.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPhasesOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)
	id := seedOperation(t, r)

	require.NoError(t, r.InsertPhases(ctx, nil, []domain.Phase{
		{OperationID: id, Sequence: 2, Nom: "Études", PlannedStart: day("2024-02-01"), PlannedEnd: day("2024-03-01"), Statut: domain.PhaseNonDemarree, Responsable: "ACO"},
		{OperationID: id, Sequence: 1, Nom: "Montage", PlannedStart: day("2024-01-01"), PlannedEnd: day("2024-02-01"), Statut: domain.PhaseValidee, Responsable: "ACO", EstCritique: true},
	}))
	phases, err := r.ListPhases(ctx, id)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "Montage", phases[0].Nom)
	assert.True(t, phases[0].EstCritique)
	assert.Empty(t, phases[1].Frein)

	p := phases[1]
	p.Statut = domain.PhaseRetard
	p.Frein = "Dossier incomplet"
	require.NoError(t, r.UpdatePhase(ctx, nil, p))
	got, err := r.GetPhaseTx(ctx, nil, id, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRetard, got.Statut)
	assert.Equal(t, "Dossier incomplet", got.Frein)

	_, err = r.GetPhaseTx(ctx, nil, id, 9)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestREMUpsertKeepsQuarterOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)
	id := seedOperation(t, r)

	for _, q := range []string{"T1 2024", "T2 2024", "T3 2024"} {
		require.NoError(t, r.UpsertREM(ctx, nil, domain.REMEntry{OperationID: id, Trimestre: q, REMProjetee: 1000, REMRealisee: 900}))
	}
	require.NoError(t, r.UpsertREM(ctx, nil, domain.REMEntry{OperationID: id, Trimestre: "T1 2024", REMProjetee: 1000, REMRealisee: 1000}))

	entries, err := r.ListREM(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "T1 2024", entries[0].Trimestre)
	assert.Equal(t, 1000.0, entries[0].REMRealisee)
	assert.Equal(t, "T3 2024", entries[2].Trimestre)

	act, err := r.MonthlyActivity(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1 2024", "T2 2024", "T3 2024"}, act.Mois)
	assert.Equal(t, []float64{1000, 900, 900}, act.REMMensuelle)
	assert.Equal(t, []int{1, 1, 1}, act.OperationsActives)
}

func TestLedgerRecords(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)
	id := seedOperation(t, r)

	require.NoError(t, r.InsertAmendment(ctx, nil, domain.Amendment{OperationID: id, Numero: 2, Date: day("2024-05-01"), Motif: "Autre", ImpactBudget: 1000, Statut: domain.AmendmentBrouillon}))
	require.NoError(t, r.InsertAmendment(ctx, nil, domain.Amendment{OperationID: id, Numero: 1, Date: day("2024-04-01"), Motif: "Plus-value travaux", ImpactBudget: 5000, ImpactDelai: 10, Statut: domain.AmendmentValide}))
	amendments, err := r.ListAmendments(ctx, id)
	require.NoError(t, err)
	require.Len(t, amendments, 2)
	assert.Equal(t, 1, amendments[0].Numero)
	assert.Error(t, r.InsertAmendment(ctx, nil, domain.Amendment{OperationID: id, Numero: 1, Date: day("2024-04-01"), Motif: "Autre", Statut: domain.AmendmentBrouillon}))

	require.NoError(t, r.InsertFinalAccountLot(ctx, nil, domain.FinalAccountLot{OperationID: id, Nom: "Gros oeuvre", MarcheInitial: 100000, QuantitesReelles: 98, PlusMoinsValue: 5000, Penalites: 2000}))
	lots, err := r.ListFinalAccountLots(ctx, id)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 103000.0, lots[0].FinalAmount())

	steps := []domain.WorkflowStep{{Sequence: 1, Nom: "Projet", Responsable: "Entreprise", Statut: domain.WorkflowOngoing}}
	require.NoError(t, r.ReplaceFinalAccountSteps(ctx, nil, id, steps))
	require.NoError(t, r.ReplaceFinalAccountSteps(ctx, nil, id, steps))
	got, err := r.ListFinalAccountSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, steps, got)

	require.NoError(t, r.InsertNotice(ctx, nil, domain.FormalNotice{ID: "n1", OperationID: id, Reference: "MED-MOE-1-20240301", Type: domain.NoticeMOE,
		Destinataire: "Cabinet", Motifs: []string{"Documents manquants"}, DateEnvoi: day("2024-03-01"), DelaiConformite: 15, Statut: domain.NoticeEnvoyee}))
	assert.Error(t, r.InsertNotice(ctx, nil, domain.FormalNotice{ID: "n2", OperationID: id, Reference: "x", Destinataire: "y", DateEnvoi: day("2024-03-01"), DelaiConformite: 90, Statut: domain.NoticeEnvoyee}))
	require.NoError(t, r.UpdateNoticeStatus(ctx, nil, "n1", domain.NoticeRelancee))
	notices, err := r.ListNotices(ctx, id)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, []string{"Documents manquants"}, notices[0].Motifs)
	assert.Equal(t, domain.NoticeRelancee, notices[0].Statut)
	assert.Equal(t, domain.NoticeMOE, notices[0].Type)

	when := day("2024-06-01")
	require.NoError(t, r.UpsertUtilityStep(ctx, nil, domain.UtilityStep{OperationID: id, Provider: domain.ProviderFibre, Sequence: 1, Nom: "Étude", Statut: domain.StepEnAttente}))
	require.NoError(t, r.UpsertUtilityStep(ctx, nil, domain.UtilityStep{OperationID: id, Provider: domain.ProviderEDF, Sequence: 1, Nom: "Demande", Statut: domain.StepEnCours}))
	require.NoError(t, r.UpsertUtilityStep(ctx, nil, domain.UtilityStep{OperationID: id, Provider: domain.ProviderEDF, Sequence: 1, Nom: "Demande", Statut: domain.StepValidee, Date: &when}))
	utilities, err := r.ListUtilitySteps(ctx, id)
	require.NoError(t, err)
	require.Len(t, utilities, 2)
	assert.Equal(t, domain.ProviderEDF, utilities[0].Provider)
	assert.Equal(t, domain.StepValidee, utilities[0].Statut)
	require.NotNil(t, utilities[0].Date)
	assert.Nil(t, utilities[1].Date)

	require.NoError(t, r.InsertClaim(ctx, nil, domain.Claim{ID: "c1", OperationID: id, Date: day("2024-07-01"), Logement: "A12", Type: "Plomberie", Description: "Fuite", Statut: domain.ClaimOuverte}))
	claims, err := r.ListClaims(ctx, id)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Empty(t, claims[0].Urgence)
}

func TestClosureItemsAndEvents(t *testing.T) {
	ctx := context.Background()
	r, conn := setup(t)
	id := seedOperation(t, r)

	require.NoError(t, r.UpsertClosureItem(ctx, nil, id, 1, domain.ChecklistItem{Key: "b", Label: "B", Responsable: "ACO"}))
	require.NoError(t, r.UpsertClosureItem(ctx, nil, id, 0, domain.ChecklistItem{Key: "a", Label: "A", Responsable: "ACO"}))
	require.NoError(t, r.UpsertClosureItem(ctx, nil, id, 5, domain.ChecklistItem{Key: "b", Resolved: true}))
	items, err := r.ListClosureItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, domain.ChecklistItem{Key: "b", Label: "B", Responsable: "ACO", Resolved: true}, items[1])

	for i, typ := range []string{"phase.updated", "rem.recorded", "phase.updated"} {
		_, err := conn.ExecContext(ctx, `INSERT INTO events(ts,type,operation_id,entity_kind,actor_id) VALUES (?,?,?,?,?)`,
			"2024-01-0"+string(rune('1'+i))+"T00:00:00Z", typ, id, "operation", "cli")
		require.NoError(t, err)
	}
	evts, err := r.LatestEvents(ctx, repo.EventFilter{OperationID: id, Type: "phase.updated"})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Greater(t, evts[0].ID, evts[1].ID)

	evts, err = r.LatestEvents(ctx, repo.EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestIntentDeliveryBookkeeping(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	require.NoError(t, r.InsertIntent(ctx, nil, domain.Intent{ID: "i1", Kind: "notice.generate", OperationID: 1, Payload: map[string]any{"reference": "MED"}, CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertIntent(ctx, nil, domain.Intent{ID: "i2", Kind: "notice.generate", OperationID: 1, CreatedAt: "2024-01-02T00:00:00Z"}))

	pending, err := r.PendingIntents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "i1", pending[0].ID)
	assert.Equal(t, "MED", pending[0].Payload["reference"])

	require.NoError(t, r.MarkIntentDelivered(ctx, "i1", "2024-01-03T00:00:00Z"))
	require.NoError(t, r.MarkIntentFailed(ctx, "i2", "connection refused"))
	assert.ErrorIs(t, r.MarkIntentFailed(ctx, "missing", "x"), repo.ErrNotFound)

	pending, err = r.PendingIntents(ctx, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)

	it, err := r.GetIntent(ctx, "i2")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Attempts)
	assert.Equal(t, "connection refused", it.LastError)
	assert.Nil(t, it.DeliveredAt)
}
