package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundctl/pkg/shared"
)

type recorder struct {
	mu     sync.Mutex
	events []*shared.Event
}

func (r *recorder) Handle(event *shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []*shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*shared.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPriorityOrdering(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.Subscribe(Wildcard, rec)

	// Publish in deliberately scrambled priority order while the dispatch
	// loop is not yet running, so everything sorts in the queue.
	priorities := []shared.EventPriority{
		shared.PriorityInfo,
		shared.PriorityLow,
		shared.PriorityCritical,
		shared.PriorityMedium,
		shared.PriorityHigh,
		shared.PriorityCritical,
		shared.PriorityLow,
	}
	for i, p := range priorities {
		ev := shared.NewEvent("test.event", p, "test", map[string]any{"n": i})
		r.Publish(ev)
	}

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return rec.len() == len(priorities) },
		2*time.Second, 10*time.Millisecond)

	got := rec.snapshot()
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Priority, got[i].Priority,
			"dispatch order must be non-decreasing in priority rank")
	}

	// FIFO tie-break: the two criticals keep publish order (n=2 before n=5).
	assert.Equal(t, 2, int(got[0].Data["n"].(int)))
	assert.Equal(t, 5, int(got[1].Data["n"].(int)))
}

func TestWildcardAndExactHandlers(t *testing.T) {
	r := New()
	exact := &recorder{}
	wild := &recorder{}
	r.Subscribe("vehicle.registered", exact)
	r.Subscribe(Wildcard, wild)

	r.Start()
	defer r.Stop()

	r.Publish(shared.NewEvent("vehicle.registered", shared.PriorityHigh, "test", nil))
	r.Publish(shared.NewEvent("mission.created", shared.PriorityMedium, "test", nil))

	require.Eventually(t, func() bool { return wild.len() == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, exact.len())
}

func TestHandlerFailureIsContained(t *testing.T) {
	r := New()

	var mu sync.Mutex
	var observed []error
	r.OnError(func(err error) {
		mu.Lock()
		observed = append(observed, err)
		mu.Unlock()
	})

	r.Subscribe("boom", HandlerFunc(func(*shared.Event) error {
		return errors.New("handler exploded")
	}))
	r.Subscribe("boom", HandlerFunc(func(*shared.Event) error {
		panic("handler panicked")
	}))
	after := &recorder{}
	r.Subscribe("boom", after)

	r.Start()
	defer r.Stop()

	ev := shared.NewEvent("boom", shared.PriorityHigh, "test", nil)
	r.Publish(ev)

	require.Eventually(t, func() bool { return after.len() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Processed flips even though two of three handlers failed.
	assert.Eventually(t, func() bool { return ev.Processed },
		2*time.Second, 10*time.Millisecond)
}

func TestHistoryBound(t *testing.T) {
	r := New()
	for i := 0; i < historyCapacity+10; i++ {
		r.Publish(shared.NewEvent("fill", shared.PriorityInfo, "test", map[string]any{"n": i}))
	}

	recent := r.Recent(0)
	assert.Len(t, recent, historyCapacity)
	assert.Equal(t, historyCapacity+10, r.HistoryCount())

	// Oldest entries were evicted; the first retained event is n=10.
	assert.Equal(t, 10, recent[0].Data["n"].(int))

	last3 := r.Recent(3)
	require.Len(t, last3, 3)
	assert.Equal(t, historyCapacity+9, last3[2].Data["n"].(int))
}

func TestDispatchedCountTrailsPublished(t *testing.T) {
	r := New()
	r.Subscribe(Wildcard, &recorder{})

	// Nothing dispatches before Start, however much is published.
	for i := 0; i < 5; i++ {
		r.Publish(shared.NewEvent("queued", shared.PriorityMedium, "test", nil))
	}
	assert.Equal(t, 5, r.HistoryCount())
	assert.Equal(t, 0, r.DispatchedCount())

	r.Start()
	defer r.Stop()
	require.True(t, r.Drain(2*time.Second))

	require.Eventually(t, func() bool { return r.DispatchedCount() == 5 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, r.HistoryCount(), r.DispatchedCount())
}

func TestStopHaltsDispatch(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.Subscribe(Wildcard, rec)

	r.Start()
	r.Publish(shared.NewEvent("before", shared.PriorityHigh, "test", nil))
	require.Eventually(t, func() bool { return rec.len() == 1 },
		2*time.Second, 10*time.Millisecond)
	r.Stop()

	r.Publish(shared.NewEvent("after", shared.PriorityHigh, "test", nil))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.len(), "no dispatch while stopped")

	// Queued events flush on restart.
	r.Start()
	defer r.Stop()
	require.Eventually(t, func() bool { return rec.len() == 2 },
		2*time.Second, 10*time.Millisecond)
}
