// Package workflow runs named step sequences against a shared context with
// compensating rollback: when a step fails, the compensations of the already
// completed steps run in reverse order, each failure recorded without
// aborting the rest of the chain.
package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"groundctl/pkg/services/router"
	"groundctl/pkg/services/state"
	"groundctl/pkg/shared"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused" // reserved, not driven by core logic
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Step statuses
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// StepFunc is a forward action. Its result lands in the shared context under
// "<step name>_result". The context.Context covers any I/O the step awaits;
// steps within one workflow never run concurrently with each other.
type StepFunc func(ctx context.Context, wfctx map[string]any) (any, error)

// RollbackFunc compensates a completed step during rollback.
type RollbackFunc func(ctx context.Context, wfctx map[string]any) error

// Step pairs a forward action with an optional compensation. Steps are built
// fresh per workflow invocation; they are not a persistent catalog.
type Step struct {
	Name     string
	Run      StepFunc
	Rollback RollbackFunc

	Status string
	Result any
	Err    string
}

type Workflow struct {
	ID          string
	Name        string
	Status      Status
	Steps       []*Step
	Context     map[string]any
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RollbackEntry reports the outcome of one compensation.
type RollbackEntry struct {
	Step   string `json:"step"`
	Status string `json:"status"` // rolled_back | rollback_failed
	Err    string `json:"error,omitempty"`
}

// RunResult is what Execute hands back. Step failures live here, not in the
// error return; Execute only errors when the workflow id is unknown.
type RunResult struct {
	Success    bool
	WorkflowID string
	Err        string
	Context    map[string]any
	RolledBack []RollbackEntry
}

type Coordinator struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	state     *state.Store
	router    *router.Router
}

func NewCoordinator(st *state.Store, rt *router.Router) *Coordinator {
	return &Coordinator{
		workflows: make(map[string]*Workflow),
		state:     st,
		router:    rt,
	}
}

// Create registers a workflow in status created and mirrors a summary into
// the state store.
func (c *Coordinator) Create(name string, steps []*Step, initial map[string]any) *Workflow {
	if initial == nil {
		initial = map[string]any{}
	}
	for _, s := range steps {
		s.Status = StepPending
	}

	wf := &Workflow{
		ID:        newWorkflowID(),
		Name:      name,
		Status:    StatusCreated,
		Steps:     steps,
		Context:   initial,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.workflows[wf.ID] = wf
	c.mu.Unlock()

	c.mirror(wf)
	log.Printf("[Workflow] Created: %s - %s (%d steps)", wf.ID, name, len(steps))
	return wf
}

// Get returns the workflow by id.
func (c *Coordinator) Get(id string) (*Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wf, ok := c.workflows[id]
	return wf, ok
}

// All returns every known workflow.
func (c *Coordinator) All() []*Workflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, wf)
	}
	return out
}

// ActiveCount reports how many workflows are currently running.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, wf := range c.workflows {
		if wf.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Execute runs the workflow's steps sequentially against the shared context.
// On any step failure the completed steps' compensations run in reverse
// order and the workflow ends rolled_back. Multiple workflows may execute
// concurrently; within one workflow, step N+1 never starts before step N's
// side effects are reflected in the context.
func (c *Coordinator) Execute(ctx context.Context, id string) (*RunResult, error) {
	c.mu.Lock()
	wf, ok := c.workflows[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}

	now := time.Now()
	wf.Status = StatusRunning
	wf.StartedAt = &now
	c.mirror(wf)

	var completed []*Step
	for _, step := range wf.Steps {
		log.Printf("[Workflow] %s: executing step %s", wf.ID, step.Name)
		step.Status = StepRunning

		result, err := runStep(ctx, step, wf.Context)
		if err != nil {
			step.Status = StepFailed
			step.Err = err.Error()
			wf.Status = StatusFailed
			log.Printf("[Workflow] %s: step %s failed: %v", wf.ID, step.Name, err)

			report := c.rollback(ctx, wf, completed)
			c.mirror(wf)
			return &RunResult{
				Success:    false,
				WorkflowID: wf.ID,
				Err:        err.Error(),
				Context:    wf.Context,
				RolledBack: report,
			}, nil
		}

		step.Status = StepCompleted
		step.Result = result
		wf.Context[step.Name+"_result"] = result
		completed = append(completed, step)

		c.router.Publish(shared.NewEvent(
			shared.EventWorkflowStepCompleted,
			shared.PriorityMedium,
			"workflow_coordinator",
			map[string]any{
				"workflow_id": wf.ID,
				"step":        step.Name,
				"result":      result,
			},
		))
	}

	done := time.Now()
	wf.Status = StatusCompleted
	wf.CompletedAt = &done
	c.mirror(wf)

	log.Printf("[Workflow] Completed: %s", wf.ID)
	return &RunResult{
		Success:    true,
		WorkflowID: wf.ID,
		Context:    wf.Context,
	}, nil
}

// runStep contains panics from step functions and reports them as errors.
func runStep(ctx context.Context, step *Step, wfctx map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, rec)
		}
	}()
	return step.Run(ctx, wfctx)
}

// rollback compensates completed steps in reverse order. A failing
// compensation is recorded and the chain continues.
func (c *Coordinator) rollback(ctx context.Context, wf *Workflow, completed []*Step) []RollbackEntry {
	log.Printf("[Workflow] Rolling back: %s", wf.ID)
	var report []RollbackEntry

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Rollback == nil {
			continue
		}
		if err := runRollback(ctx, step, wf.Context); err != nil {
			log.Printf("[Workflow] Rollback failed for %s: %v", step.Name, err)
			report = append(report, RollbackEntry{
				Step:   step.Name,
				Status: "rollback_failed",
				Err:    err.Error(),
			})
			continue
		}
		report = append(report, RollbackEntry{Step: step.Name, Status: "rolled_back"})
	}

	wf.Status = StatusRolledBack
	return report
}

func runRollback(ctx context.Context, step *Step, wfctx map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rollback of %s panicked: %v", step.Name, rec)
		}
	}()
	return step.Rollback(ctx, wfctx)
}

// mirror writes a serializable workflow summary into the state store; the
// step functions themselves cannot be mirrored.
func (c *Coordinator) mirror(wf *Workflow) {
	stepNames := make([]string, len(wf.Steps))
	for i, s := range wf.Steps {
		stepNames[i] = s.Name
	}
	c.state.Set("workflows."+wf.ID, map[string]any{
		"name":       wf.Name,
		"status":     string(wf.Status),
		"steps":      stepNames,
		"created_at": wf.CreatedAt.Format(time.RFC3339),
	})
}

func newWorkflowID() string {
	return "WF-" + strings.ToUpper(uuid.New().String()[:8])
}
