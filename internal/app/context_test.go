package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
)

func TestOpenWorkspaceMigratesDatabase(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: ws, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.True(t, db.Exists(ws))
	assert.Equal(t, engine.SourceWorkspace, a.Engine.Source)
	assert.Equal(t, config.ModeProduction, a.Config.Engine.Mode)

	ops, err := a.Engine.Portfolio(context.Background(), engine.PortfolioFilter{})
	require.NoError(t, err)
	assert.Zero(t, ops.Total)
}

func TestOpenReferenceLeavesWorkspaceUntouched(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: ws, Source: "Reference", Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Nil(t, a.DB)
	assert.False(t, db.Exists(ws))
	assert.Equal(t, engine.SourceReference, a.Engine.Source)
	_, err = a.Engine.CloseOperation(context.Background(), 1, "tester")
	assert.ErrorIs(t, err, domain.ErrReadOnly)
}

func TestOpenReadsConfigAndDemoPreset(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  quick_access_size: 2\n"), 0o644))

	a, err := Open(context.Background(), Options{Workspace: ws, ConfigPath: path, Demo: true, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Equal(t, 2, a.Config.Engine.QuickAccessSize)
	assert.True(t, a.Config.Demo())
	assert.Equal(t, 8, a.Config.Engine.MaxPhases)
}

func TestOpenRejectsUnknownSource(t *testing.T) {
	_, err := Open(context.Background(), Options{Workspace: t.TempDir(), Source: "cloud", Logger: zap.NewNop()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("engine:\n  mode: fast\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws, Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestBackgroundWithoutWatchOrWebhooks(t *testing.T) {
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := a.Background(ctx)
	require.NoError(t, err)
	stop()
}
