package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundctl/pkg/services/state"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(&Config{
		DBPath:         filepath.Join(t.TempDir(), "groundctl.db"),
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		AutoInitialize: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestSchemaInitialized(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.VerifySchema())
	require.NoError(t, svc.Health())
}

func TestPersistAndLoadSnapshot(t *testing.T) {
	svc := newService(t)

	none, err := svc.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, none, "empty database has no snapshot")

	tree := map[string]any{
		"vehicles": map[string]any{
			"V001": map[string]any{"status": "idle", "battery": 100.0},
		},
	}
	entry := state.AuditEntry{
		Timestamp: time.Now(),
		Key:       "vehicles.V001",
		NewValue:  "idle",
	}
	require.NoError(t, svc.Persist(tree, entry))

	got, err := svc.LoadSnapshot()
	require.NoError(t, err)
	vehicles := got["vehicles"].(map[string]any)
	v001 := vehicles["V001"].(map[string]any)
	assert.Equal(t, "idle", v001["status"])
	assert.Equal(t, 100.0, v001["battery"])

	n, err := svc.AuditCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSnapshotRowIsReplacedNotAppended(t *testing.T) {
	svc := newService(t)

	for i := 0; i < 3; i++ {
		tree := map[string]any{"system": map[string]any{"event_count": float64(i)}}
		require.NoError(t, svc.Persist(tree, state.AuditEntry{
			Timestamp: time.Now(),
			Key:       "system.event_count",
			NewValue:  i,
		}))
	}

	got, err := svc.LoadSnapshot()
	require.NoError(t, err)
	system := got["system"].(map[string]any)
	assert.Equal(t, 2.0, system["event_count"], "latest write wins")

	n, err := svc.AuditCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "audit keeps every write")
}

func TestStoreWritesFlowThroughPersister(t *testing.T) {
	svc := newService(t)

	st := state.New()
	st.EnablePersistence(svc)
	st.Set("missions.M-1.status", "executing")

	got, err := svc.LoadSnapshot()
	require.NoError(t, err)
	missions := got["missions"].(map[string]any)
	m1 := missions["M-1"].(map[string]any)
	assert.Equal(t, "executing", m1["status"])
}
