package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	return out
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestImportThenPortfolio(t *testing.T) {
	ws := t.TempDir()
	res := decodeOut[engine.ImportResult](t, mustExecute(t, "-w", ws, "--json", "data", "import"))
	assert.Len(t, res.Imported, 5)

	p := decodeOut[engine.Portfolio](t, mustExecute(t, "-w", ws, "--json", "portfolio", "--type", "OPP"))
	assert.Equal(t, 2, p.Total)

	again := decodeOut[engine.ImportResult](t, mustExecute(t, "-w", ws, "--json", "data", "import"))
	assert.Empty(t, again.Imported)
	assert.Len(t, again.Skipped, 5)
}

func TestOperationLifecycle(t *testing.T) {
	ws := t.TempDir()
	op := decodeOut[domain.Operation](t, mustExecute(t, "-w", ws, "--json", "--actor-id", "paul",
		"operation", "create", "--nom", "Les Flamboyants", "--type", "VEFA", "--commune", "Baie-Mahault", "--promoteur", "Promo Sud"))
	require.Equal(t, int64(1), op.ID)

	tl := decodeOut[timeline.Timeline](t, mustExecute(t, "-w", ws, "--json", "operation", "timeline", "1"))
	assert.Len(t, tl.Phases, 9)

	_, err := execute(t, "-w", ws, "closure", "close", "1")
	var blocked domain.ClosureBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Len(t, blocked.Unresolved, 6)

	view := decodeOut[engine.ClosureView](t, mustExecute(t, "-w", ws, "--json", "closure", "show", "1"))
	for _, it := range view.Checklist {
		mustExecute(t, "-w", ws, "--json", "closure", "set", "1", it.Key)
	}
	closed := decodeOut[domain.Operation](t, mustExecute(t, "-w", ws, "--json", "closure", "close", "1"))
	assert.Equal(t, domain.OperationCloturee, closed.Statut)

	evts := decodeOut[[]domain.Event](t, mustExecute(t, "-w", ws, "--json", "log", "tail", "--operation", "1", "-n", "1"))
	require.Len(t, evts, 1)
	assert.Equal(t, "operation.closed", evts[0].Type)
}

func TestReferenceSourceLeavesWorkspaceAlone(t *testing.T) {
	ws := t.TempDir()
	tl := decodeOut[timeline.Timeline](t, mustExecute(t, "-w", ws, "--source", "reference", "--json", "operation", "timeline", "1"))
	assert.Equal(t, timeline.SourceRecorded, tl.Source)
	assert.Len(t, tl.Phases, 8)
	assert.False(t, db.Exists(ws))

	_, err := execute(t, "-w", ws, "--source", "reference", "operation", "status", "1", "EN_RECEPTION")
	assert.ErrorIs(t, err, domain.ErrReadOnly)
}

func TestPlanningExport(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(ws, "planning.xlsx")
	mustExecute(t, "-w", ws, "--source", "reference", "operation", "export", "1", "-o", out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestConfigInitAndValidate(t *testing.T) {
	ws := t.TempDir()
	mustExecute(t, "-w", ws, "config", "init")
	_, err := execute(t, "-w", ws, "config", "init")
	assert.Error(t, err)

	res := decodeOut[map[string]any](t, mustExecute(t, "-w", ws, "--json", "config", "validate"))
	assert.Equal(t, true, res["ok"])

	require.NoError(t, os.WriteFile(filepath.Join(ws, "opcopilot.yml"), []byte("engine:\n  mode: turbo\n"), 0o644))
	res = decodeOut[map[string]any](t, mustExecute(t, "-w", ws, "--json", "config", "validate"))
	assert.Equal(t, false, res["ok"])
}

func TestCatalogShow(t *testing.T) {
	tpl := decodeOut[domain.Template](t, mustExecute(t, "-w", t.TempDir(), "--json", "catalog", "show", "opp"))
	assert.Equal(t, domain.TypeOPP, tpl.Type)
	assert.Len(t, tpl.Phases, tpl.NbPhases)
}

func TestDataCheck(t *testing.T) {
	res := decodeOut[map[string]any](t, mustExecute(t, "-w", t.TempDir(), "--json", "data", "check"))
	assert.Equal(t, true, res["ok"])
	counts, ok := res["counts"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, counts)
}
