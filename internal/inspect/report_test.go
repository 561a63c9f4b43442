package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/journal"
	"github.com/mattjoyce/conduit/internal/storage"
)

func newJournal(t *testing.T) *journal.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return journal.NewStore(db)
}

func TestBuildReportRendersSessionAndCommands(t *testing.T) {
	t.Parallel()
	store := newJournal(t)
	ctx := context.Background()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SessionStarted(ctx, bridge.SessionRecord{ID: "a1b2c3d4-e5f6", Executable: "/opt/worker", StartedAt: start}))
	require.NoError(t, store.LogCommand(ctx, "a1b2c3d4-e5f6", "say hello"))
	require.NoError(t, store.LogCommand(ctx, "a1b2c3d4-e5f6", "time set day"))
	require.NoError(t, store.SessionStopped(ctx, bridge.SessionRecord{
		ID: "a1b2c3d4-e5f6", Executable: "/opt/worker", StartedAt: start,
		StoppedAt: start.Add(90 * time.Second), Messages: 12, Dropped: 3, Reason: "restart",
	}))

	out, err := BuildReport(ctx, store, "a1b2")
	require.NoError(t, err)
	assert.Contains(t, out, "Session ID  : a1b2c3d4-e5f6")
	assert.Contains(t, out, "Status      : restart")
	assert.Contains(t, out, "(1m30s)")
	assert.Contains(t, out, "Dropped     : 3")
	assert.Contains(t, out, "say hello")
	assert.Contains(t, out, "time set day")
}

func TestBuildReportOpenSession(t *testing.T) {
	t.Parallel()
	store := newJournal(t)
	ctx := context.Background()
	require.NoError(t, store.SessionStarted(ctx, bridge.SessionRecord{ID: "live", Executable: "/w", StartedAt: time.Now()}))

	out, err := BuildReport(ctx, store, "live")
	require.NoError(t, err)
	assert.Contains(t, out, "Status      : open")
	assert.Contains(t, out, "Commands    : <none>")
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	store := newJournal(t)
	ctx := context.Background()
	require.NoError(t, store.SessionStarted(ctx, bridge.SessionRecord{ID: "s-9", Executable: "/w", StartedAt: time.Now()}))

	out, err := BuildJSONReport(ctx, store, "s-9")
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "s-9", report.SessionID)
	assert.Equal(t, "open", report.Status)
	assert.NotNil(t, report.Commands)
}

func TestBuildReportErrors(t *testing.T) {
	t.Parallel()
	store := newJournal(t)
	ctx := context.Background()

	_, err := BuildReport(ctx, store, " ")
	assert.Error(t, err)

	_, err = BuildReport(ctx, store, "missing")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}
