package refdata_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Zia971/opcopilotV4/internal/catalog"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/refdata"
)

const oneOperation = `{"operations_demo":[{"id":9,"nom":"MAISON RELAIS","type_operation":"AMO","commune":"Lamentin","statut":"EN_COURS","date_creation":"2024-01-02T10:00:00"}]}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadEmbedded(t *testing.T) {
	ctx := context.Background()
	snap, err := refdata.Load(refdata.Source{}, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Diagnostics)
	assert.Equal(t, 5, snap.Catalog.Len())

	ops, err := snap.ListOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 5)

	op, err := snap.GetOperation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeOPP, op.Type)
	require.NotNil(t, op.Details.OPP)
	assert.Equal(t, 25, op.Details.OPP.NbLLS)

	vefa, err := snap.GetOperation(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, vefa.Details.VEFA)
	assert.Equal(t, "Caraïbes Promotion", vefa.Details.VEFA.Promoteur)

	phases, err := snap.ListPhases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, phases, 8)
	assert.Equal(t, 1, phases[0].Sequence)
	assert.Equal(t, "Dossier LBU incomplet", phases[4].Frein)

	steps, err := snap.ListUtilitySteps(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, domain.ProviderEDF, steps[0].Provider)
	assert.Equal(t, domain.ProviderFibre, steps[len(steps)-1].Provider)
	for _, st := range steps {
		if st.Nom == "Branchement" {
			assert.Equal(t, domain.StepEnAttente, st.Statut)
		}
	}

	notices, err := snap.ListNotices(ctx, 1)
	require.NoError(t, err)
	require.Len(t, notices, 2)
	assert.Equal(t, domain.NoticeMOE, notices[0].Type)

	alerts, err := snap.ReferenceAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, int64(1), alerts[0].OperationID)

	kpis, err := snap.KPIs(ctx)
	require.NoError(t, err)
	require.NotNil(t, kpis)
	assert.Equal(t, 23, kpis.OperationsActives)
}

func TestSnapshotMissingOperation(t *testing.T) {
	snap := refdata.EmptySnapshot()
	_, err := snap.GetOperation(context.Background(), 42)
	assert.True(t, errors.Is(err, domain.ErrMissingOperation))
	phases, err := snap.ListPhases(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, phases)
}

func TestSnapshotCopiesSlices(t *testing.T) {
	snap, err := refdata.Load(refdata.Source{}, nil)
	require.NoError(t, err)
	phases, _ := snap.ListPhases(context.Background(), 1)
	phases[0].Nom = "changed"
	again, _ := snap.ListPhases(context.Background(), 1)
	assert.NotEqual(t, "changed", again[0].Nom)
}

func TestLoadDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	tpl := filepath.Join(dir, "templates.json")
	writeFile(t, tpl, "{")
	src := refdata.Source{Templates: tpl, DemoData: filepath.Join(dir, "missing.json")}

	snap, err := refdata.Load(src, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedReferenceData))
	require.NotNil(t, snap)
	assert.Zero(t, snap.Catalog.Len())
	ops, _ := snap.ListOperations(context.Background())
	assert.Empty(t, ops)
}

func TestLoadKeepsValidDocument(t *testing.T) {
	dir := t.TempDir()
	demo := filepath.Join(dir, "demo.json")
	writeFile(t, demo, `{"operations_demo": 12}`)

	snap, err := refdata.Load(refdata.Source{DemoData: demo}, nil)
	assert.True(t, errors.Is(err, domain.ErrMalformedReferenceData))
	assert.Equal(t, 5, snap.Catalog.Len())
}

func TestParseDiagnostics(t *testing.T) {
	doc := `{
	  "operations_demo": [{"id": 1, "nom": "A", "type_operation": "OPP", "statut": "PERDU"}],
	  "phases_demo": {
	    "op_1": [{"nom": "x"}],
	    "operation_1": [{"nom": "ESQ", "date_debut_prevue": "2024-02-10", "date_fin_prevue": "2024-02-01", "statut": "bof"}]
	  }
	}`
	snap, err := refdata.Parse(nil, []byte(doc), catalog.Defaults{})
	require.NoError(t, err)
	assert.Len(t, snap.Diagnostics, 4)

	op, err := snap.GetOperation(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationEnMontage, op.Statut)

	phases, _ := snap.ListPhases(context.Background(), 1)
	require.Len(t, phases, 1)
	assert.Equal(t, domain.PhaseNonDemarree, phases[0].Statut)
	assert.Equal(t, phases[0].PlannedStart, phases[0].PlannedEnd)
}

func TestStoreReload(t *testing.T) {
	dir := t.TempDir()
	demo := filepath.Join(dir, "demo.json")
	writeFile(t, demo, oneOperation)

	store, err := refdata.Open(refdata.Source{DemoData: demo}, nil)
	require.NoError(t, err)
	first := store.Current()
	assert.Equal(t, uint64(1), store.Version())

	writeFile(t, demo, "not json")
	require.Error(t, store.Reload())
	assert.Same(t, first, store.Current())

	writeFile(t, demo, `{"operations_demo":[]}`)
	require.NoError(t, store.Reload())
	assert.NotSame(t, first, store.Current())
	assert.Equal(t, uint64(2), store.Version())
	ops, _ := store.Current().ListOperations(context.Background())
	assert.Empty(t, ops)

	ops, _ = first.ListOperations(context.Background())
	assert.Len(t, ops, 1)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	demo := filepath.Join(dir, "demo.json")
	writeFile(t, demo, `{"operations_demo":[]}`)

	store, err := refdata.Open(refdata.Source{DemoData: demo}, nil)
	require.NoError(t, err)
	w, err := refdata.NewWatcher(store, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeFile(t, demo, oneOperation)
	require.Eventually(t, func() bool {
		ops, _ := store.Current().ListOperations(context.Background())
		return len(ops) == 1
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
}
