package events_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/events"
	"github.com/Zia971/opcopilotV4/internal/migrate"
)

func TestAppendStoresNullOperationAndPayload(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	w := events.Writer{DB: conn, Now: func() time.Time { return fixed }}

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, events.ReferenceImported, 0, "reference", "", "marie", events.EventPayload{"imported": 5}))
	require.NoError(t, tx.Commit())

	var (
		ts, typ, actor, payload string
		opID, entityID          sql.NullString
	)
	row := conn.QueryRow(`SELECT ts, type, operation_id, entity_id, actor_id, payload_json FROM events`)
	require.NoError(t, row.Scan(&ts, &typ, &opID, &entityID, &actor, &payload))
	assert.Equal(t, "2024-03-01T09:00:00Z", ts)
	assert.Equal(t, events.ReferenceImported, typ)
	assert.False(t, opID.Valid)
	assert.False(t, entityID.Valid)
	assert.Equal(t, "marie", actor)
	assert.JSONEq(t, `{"imported":5}`, payload)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, events.Writer{DB: conn}.Append(ctx, tx, events.ReferenceImported, 0, "reference", "", "marie", nil))
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Zero(t, n)
}
