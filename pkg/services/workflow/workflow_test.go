package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundctl/pkg/services/router"
	"groundctl/pkg/services/state"
	"groundctl/pkg/shared"
)

func newCoordinator() (*Coordinator, *state.Store, *router.Router) {
	st := state.New()
	rt := router.New()
	return NewCoordinator(st, rt), st, rt
}

func noopStep(name string) *Step {
	return &Step{
		Name: name,
		Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
			return name + " ok", nil
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	c, st, rt := newCoordinator()
	rt.Start()
	defer rt.Stop()

	var order []string
	mkStep := func(name string) *Step {
		return &Step{
			Name: name,
			Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
				order = append(order, name)
				return name + " done", nil
			},
		}
	}

	wf := c.Create("happy_path", []*Step{mkStep("one"), mkStep("two"), mkStep("three")},
		map[string]any{"seed": 1})
	assert.Equal(t, StatusCreated, wf.Status)

	res, err := c.Execute(context.Background(), wf.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, []string{"one", "two", "three"}, order)
	assert.Equal(t, StatusCompleted, wf.Status)
	require.NotNil(t, wf.CompletedAt)

	// Results land in the shared context under <step>_result.
	assert.Equal(t, "one done", res.Context["one_result"])
	assert.Equal(t, "three done", res.Context["three_result"])
	assert.Equal(t, 1, res.Context["seed"])

	// Summary mirrored into the state store.
	assert.Equal(t, "completed", st.Get("workflows."+wf.ID+".status", nil))
}

func TestStepResultsVisibleToLaterSteps(t *testing.T) {
	c, _, rt := newCoordinator()
	rt.Start()
	defer rt.Stop()

	first := &Step{
		Name: "produce",
		Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
			return 42, nil
		},
	}
	second := &Step{
		Name: "consume",
		Run: func(ctx context.Context, wfctx map[string]any) (any, error) {
			v, ok := wfctx["produce_result"].(int)
			if !ok {
				return nil, errors.New("missing upstream result")
			}
			return v * 2, nil
		},
	}

	wf := c.Create("chained", []*Step{first, second}, nil)
	res, err := c.Execute(context.Background(), wf.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 84, res.Context["consume_result"])
}

func TestRollbackRunsInReverseOrder(t *testing.T) {
	c, _, rt := newCoordinator()
	rt.Start()
	defer rt.Stop()

	var rolled []string
	step4Ran := false

	steps := []*Step{
		{
			Name: "step1",
			Run:  func(context.Context, map[string]any) (any, error) { return "ok", nil },
			Rollback: func(context.Context, map[string]any) error {
				rolled = append(rolled, "step1")
				return nil
			},
		},
		{
			Name: "step2",
			Run:  func(context.Context, map[string]any) (any, error) { return "ok", nil },
			Rollback: func(context.Context, map[string]any) error {
				rolled = append(rolled, "step2")
				return nil
			},
		},
		{
			Name: "step3",
			Run: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("step 3 always fails")
			},
		},
		{
			Name: "step4",
			Run: func(context.Context, map[string]any) (any, error) {
				step4Ran = true
				return "ok", nil
			},
		},
	}

	wf := c.Create("doomed", steps, nil)
	res, err := c.Execute(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "step 3 always fails")
	assert.False(t, step4Ran, "steps after the failure never run")
	assert.Equal(t, []string{"step2", "step1"}, rolled, "compensation order is reversed")
	assert.Equal(t, StatusRolledBack, wf.Status)

	require.Len(t, res.RolledBack, 2)
	assert.Equal(t, RollbackEntry{Step: "step2", Status: "rolled_back"}, res.RolledBack[0])
	assert.Equal(t, RollbackEntry{Step: "step1", Status: "rolled_back"}, res.RolledBack[1])
}

func TestRollbackFailureDoesNotAbortChain(t *testing.T) {
	c, _, rt := newCoordinator()
	rt.Start()
	defer rt.Stop()

	var rolled []string
	steps := []*Step{
		{
			Name: "first",
			Run:  func(context.Context, map[string]any) (any, error) { return "ok", nil },
			Rollback: func(context.Context, map[string]any) error {
				rolled = append(rolled, "first")
				return nil
			},
		},
		{
			Name: "second",
			Run:  func(context.Context, map[string]any) (any, error) { return "ok", nil },
			Rollback: func(context.Context, map[string]any) error {
				return errors.New("compensation broke")
			},
		},
		{
			Name: "third",
			Run: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("boom")
			},
		},
	}

	wf := c.Create("partial_rollback", steps, nil)
	res, err := c.Execute(context.Background(), wf.ID)
	require.NoError(t, err)

	require.Len(t, res.RolledBack, 2)
	assert.Equal(t, "rollback_failed", res.RolledBack[0].Status)
	assert.Contains(t, res.RolledBack[0].Err, "compensation broke")
	assert.Equal(t, "rolled_back", res.RolledBack[1].Status)
	assert.Equal(t, []string{"first"}, rolled)
	assert.Equal(t, StatusRolledBack, wf.Status)
}

func TestStepPanicTriggersRollback(t *testing.T) {
	c, _, rt := newCoordinator()
	rt.Start()
	defer rt.Stop()

	var rolled bool
	steps := []*Step{
		{
			Name:     "safe",
			Run:      func(context.Context, map[string]any) (any, error) { return "ok", nil },
			Rollback: func(context.Context, map[string]any) error { rolled = true; return nil },
		},
		{
			Name: "panicky",
			Run: func(context.Context, map[string]any) (any, error) {
				panic("unexpected")
			},
		},
	}

	wf := c.Create("panics", steps, nil)
	res, err := c.Execute(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "panicked")
	assert.True(t, rolled)
}

func TestStepCompletionEvents(t *testing.T) {
	c, _, rt := newCoordinator()

	var mu sync.Mutex
	var seen []string
	rt.Subscribe(shared.EventWorkflowStepCompleted, router.HandlerFunc(func(ev *shared.Event) error {
		mu.Lock()
		seen = append(seen, ev.Data["step"].(string))
		mu.Unlock()
		return nil
	}))
	rt.Start()
	defer rt.Stop()

	wf := c.Create("noisy", []*Step{noopStep("alpha"), noopStep("beta")}, nil)
	_, err := c.Execute(context.Background(), wf.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"alpha", "beta"}, seen)
	mu.Unlock()
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	c, _, _ := newCoordinator()
	_, err := c.Execute(context.Background(), "WF-NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow not found")
}

func TestConcurrentWorkflows(t *testing.T) {
	c, _, rt := newCoordinator()
	rt.Start()
	defer rt.Stop()

	var wg sync.WaitGroup
	results := make([]*RunResult, 4)
	for i := 0; i < 4; i++ {
		wf := c.Create("parallel", []*Step{noopStep("a"), noopStep("b")}, nil)
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := c.Execute(context.Background(), id)
			require.NoError(t, err)
			results[i] = res
		}(i, wf.ID)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Success)
	}
	assert.Equal(t, 0, c.ActiveCount())
}
