package opcopilotsdk

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/migrate"
	"github.com/Zia971/opcopilotV4/internal/refdata"
	"github.com/Zia971/opcopilotV4/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	snap, err := refdata.Load(refdata.Source{}, nil)
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: engine.New(conn, refdata.NewStore(snap), config.Default(), nil)})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New(ts.URL)
	c.ActorID = "sdk-test"
	return c
}

func TestCreateAndCloseOperation(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	op, err := c.CreateOperation(ctx, NewOperation{
		Nom:     "Cité Bergevin",
		Type:    "MANDAT_ETUDES",
		Commune: "Pointe-à-Pitre",
	})
	require.NoError(t, err)
	assert.Equal(t, "EN_MONTAGE", op.Statut)

	tl, err := c.Timeline(ctx, op.ID, false)
	require.NoError(t, err)
	assert.NotEmpty(t, tl.Phases)

	_, err = c.CloseOperation(ctx, op.ID)
	require.Error(t, err)
	assert.True(t, IsClosureBlocked(err))

	cl, err := c.Closure(ctx, op.ID)
	require.NoError(t, err)
	for _, it := range cl.Checklist {
		cl, err = c.SetClosureItem(ctx, op.ID, it.Key, true)
		require.NoError(t, err)
	}
	assert.True(t, cl.CanClose)

	closed, err := c.CloseOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "CLOTUREE", closed.Statut)
	assert.Equal(t, 100, closed.Avancement)
}

func TestReadsFromReferenceSource(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	c.Source = "reference"

	d, err := c.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reference", d.KPISource)
	assert.Equal(t, 23, d.KPIs.OperationsActives)

	p, err := c.Portfolio(ctx, PortfolioFilter{Type: "OPP"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)

	alerts, err := c.Alerts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, "critical", alerts[0].Severity)

	_, err = c.Operation(ctx, 404)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}
