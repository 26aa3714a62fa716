package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetNested(t *testing.T) {
	s := New()

	s.Set("vehicles.V001.status", "idle")
	assert.Equal(t, "idle", s.Get("vehicles.V001.status", nil))

	// Missing paths fall back to the default.
	assert.Equal(t, "none", s.Get("vehicles.V999.status", "none"))
	assert.Nil(t, s.Get("no.such.key", nil))

	// A leaf is not traversable.
	assert.Equal(t, 0, s.Get("vehicles.V001.status.deeper", 0))
}

func TestSetCreatesIntermediateMaps(t *testing.T) {
	s := New()
	s.Set("a.b.c.d", 42)
	assert.Equal(t, 42, s.Get("a.b.c.d", nil))

	b, ok := s.Get("a.b", nil).(map[string]any)
	require.True(t, ok)
	assert.Contains(t, b, "c")
}

func TestUpdateShallowMerge(t *testing.T) {
	s := New()
	s.Set("missions.M1", map[string]any{"status": "created", "progress": 0.0})

	s.Update("missions.M1", map[string]any{"status": "executing"})

	m := s.Get("missions.M1", nil).(map[string]any)
	assert.Equal(t, "executing", m["status"])
	assert.Equal(t, 0.0, m["progress"], "untouched keys survive the merge")

	// Updating a missing key creates the map.
	s.Update("missions.M2", map[string]any{"status": "created"})
	assert.Equal(t, "created", s.Get("missions.M2.status", nil))
}

func TestDelete(t *testing.T) {
	s := New()
	s.Set("geofences.GF1.active", true)
	s.Delete("geofences.GF1.active")
	assert.Nil(t, s.Get("geofences.GF1.active", nil))

	// Deleting through a missing path is a no-op.
	s.Delete("geofences.GF9.active")
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	s.Set("vehicles.V001", map[string]any{"battery": 87.5})

	snap := s.Snapshot()
	snap["vehicles"].(map[string]any)["V001"].(map[string]any)["battery"] = 1.0

	assert.Equal(t, 87.5, s.Get("vehicles.V001.battery", nil))
}

func TestAuditHistoryBound(t *testing.T) {
	s := New()
	for i := 0; i < auditCapacity+25; i++ {
		s.Set("counter", i)
	}

	hist := s.History()
	require.Len(t, hist, auditCapacity)
	// Oldest surviving entry is write #25.
	assert.Equal(t, 25, hist[0].NewValue)
	assert.Equal(t, 24, hist[0].OldValue)
	assert.Equal(t, auditCapacity+24, hist[len(hist)-1].NewValue)
}

type capturingPersister struct {
	mu      sync.Mutex
	calls   int
	lastKey string
}

func (p *capturingPersister) Persist(tree map[string]any, entry AuditEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastKey = entry.Key
	if _, ok := tree["system"]; !ok {
		return fmt.Errorf("tree missing system subtree")
	}
	return nil
}

func TestPersistenceHook(t *testing.T) {
	s := New()
	p := &capturingPersister{}

	s.Set("before.hook", 1)
	s.EnablePersistence(p)
	s.Set("after.hook", 2)
	s.Update("after.hook2", map[string]any{"x": 1})

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 2, p.calls, "only sets after enabling persist")
	assert.Equal(t, "after.hook2", p.lastKey)
}

func TestConcurrentWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Set(fmt.Sprintf("writers.w%d", w), i)
				s.Get("writers", nil)
			}
		}(w)
	}
	wg.Wait()

	writers := s.Get("writers", nil).(map[string]any)
	assert.Len(t, writers, 8)
	for _, v := range writers {
		assert.Equal(t, 99, v)
	}
}
