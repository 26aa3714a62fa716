package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundctl/pkg/services/router"
	"groundctl/pkg/shared"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	ids      []string
}

func (f *fakePublisher) PublishWithDedup(subject string, data []byte, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.ids = append(f.ids, msgID)
	return nil
}

func (f *fakePublisher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func TestExportMapsEventToSubject(t *testing.T) {
	pub := &fakePublisher{}
	rt := router.New()
	b := New(pub, rt, nil, DefaultConfig())
	require.NoError(t, b.Start())
	rt.Start()
	defer rt.Stop()

	rt.Publish(shared.NewEvent(shared.EventMissionCreated, shared.PriorityMedium, "test", nil))
	require.True(t, rt.Drain(2*time.Second))

	require.Eventually(t, func() bool { return b.Exported() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"groundctl.events.mission.created"}, pub.seen())
}

func TestStartTwiceExportsOnce(t *testing.T) {
	pub := &fakePublisher{}
	rt := router.New()
	b := New(pub, rt, nil, DefaultConfig())
	require.NoError(t, b.Start())
	require.NoError(t, b.Start())
	rt.Start()
	defer rt.Stop()

	rt.Publish(shared.NewEvent(shared.EventMissionCreated, shared.PriorityMedium, "test", nil))
	require.True(t, rt.Drain(2*time.Second))

	require.Eventually(t, func() bool { return b.Exported() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"groundctl.events.mission.created"}, pub.seen())
}

func TestCriticalEventFansOutToAlerts(t *testing.T) {
	pub := &fakePublisher{}
	rt := router.New()
	b := New(pub, rt, nil, DefaultConfig())
	require.NoError(t, b.Start())
	rt.Start()
	defer rt.Stop()

	rt.Publish(shared.NewEvent(shared.EventGeofenceBreach, shared.PriorityCritical, "test",
		map[string]any{"zone_id": "NFZ"}))
	require.True(t, rt.Drain(2*time.Second))

	require.Eventually(t, func() bool { return len(pub.seen()) == 2 }, 2*time.Second, 10*time.Millisecond)
	subjects := pub.seen()
	assert.Contains(t, subjects, "groundctl.events.geofence.breach")
	assert.Contains(t, subjects, "groundctl.alerts.geofence.breach")
}

func TestLocationUpdatesThrottled(t *testing.T) {
	pub := &fakePublisher{}
	rt := router.New()
	b := New(pub, rt, nil, Config{LocationRatePerSec: 1, LocationBurst: 2})
	require.NoError(t, b.Start())
	rt.Start()
	defer rt.Stop()

	for i := 0; i < 10; i++ {
		rt.Publish(shared.NewEvent(shared.EventVehicleLocationUpdate, shared.PriorityLow, "test",
			map[string]any{"vehicle_id": "V001"}))
	}
	require.True(t, rt.Drain(2*time.Second))

	require.Eventually(t, func() bool {
		return b.Exported()+b.Throttled() == 10
	}, 2*time.Second, 10*time.Millisecond)

	// The burst passes, the flood does not.
	assert.LessOrEqual(t, b.Exported(), 3)
	assert.GreaterOrEqual(t, b.Throttled(), 7)
}

func TestHandleCommandInjectsRouterEvent(t *testing.T) {
	rt := router.New()
	b := New(&fakePublisher{}, rt, nil, DefaultConfig())

	got := make(chan *shared.Event, 1)
	rt.Subscribe(shared.EventCommandReceived, router.HandlerFunc(func(ev *shared.Event) error {
		got <- ev
		return nil
	}))
	rt.Start()
	defer rt.Stop()

	b.handleCommand(&nats.Msg{
		Subject: shared.CommandSubject("V001"),
		Data:    []byte(`{"action":"rtl"}`),
	})

	select {
	case ev := <-got:
		assert.Equal(t, shared.PriorityHigh, ev.Priority)
		assert.Equal(t, "V001", ev.Data["vehicle_id"])
		cmd, ok := ev.Data["command"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "rtl", cmd["action"])
	case <-time.After(2 * time.Second):
		t.Fatal("no command event")
	}
}

func TestHandleCommandNonJSONBody(t *testing.T) {
	rt := router.New()
	b := New(&fakePublisher{}, rt, nil, DefaultConfig())

	got := make(chan *shared.Event, 1)
	rt.Subscribe(shared.EventCommandReceived, router.HandlerFunc(func(ev *shared.Event) error {
		got <- ev
		return nil
	}))
	rt.Start()
	defer rt.Stop()

	b.handleCommand(&nats.Msg{Subject: "groundctl.commands.V002", Data: []byte("LAND NOW")})

	select {
	case ev := <-got:
		cmd := ev.Data["command"].(map[string]any)
		assert.Equal(t, "LAND NOW", cmd["raw"])
	case <-time.After(2 * time.Second):
		t.Fatal("no command event")
	}
}
