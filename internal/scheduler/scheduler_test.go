package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/decision"
	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/guardrail"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/lifecycle"
	"github.com/talgya/agora/internal/store"
)

// scriptedDecider returns canned actions per agent, defaulting to idle.
type scriptedDecider struct {
	actions map[int64]action.Action
}

func (d *scriptedDecider) Decide(ctx context.Context, view decision.WorldView) (action.Action, error) {
	if act, ok := d.actions[view.Agent.ID]; ok {
		return act, nil
	}
	return action.Idle{Reason: "scripted"}, nil
}

type failingDecider struct{ calls int }

func (d *failingDecider) Decide(ctx context.Context, view decision.WorldView) (action.Action, error) {
	d.calls++
	return nil, errors.New("model unavailable")
}

type harness struct {
	store   *store.Store
	ledger  *ledger.Ledger
	life    *lifecycle.Manager
	gov     *governance.Service
	runtime *guardrail.Runtime
	policy  config.Policy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pol := config.DefaultPolicy()
	pol.TurnTimeoutSeconds = 5
	led := ledger.New(st)
	rt, err := guardrail.NewRuntime(context.Background(), st)
	require.NoError(t, err)
	return &harness{
		store:   st,
		ledger:  led,
		life:    lifecycle.New(st, led, pol),
		gov:     governance.New(st, pol),
		runtime: rt,
		policy:  pol,
	}
}

func (h *harness) scheduler(t *testing.T, dec decision.Decider, workers int) *Scheduler {
	t.Helper()
	pipe := action.New(h.store, h.ledger, h.life, h.gov, nil, h.policy)
	asm := decision.NewAssembler(h.store, h.ledger, h.policy)
	return New(h.store, h.runtime, h.life, h.gov, pipe, asm, dec, h.policy, workers, 0)
}

func (h *harness) seed(t *testing.T, n int, food, energy float64) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		id := int64(i)
		require.NoError(t, h.store.CreateAgent(ctx, id, "tester"))
		if food > 0 {
			require.NoError(t, h.ledger.Credit(ctx, store.AgentHolder(id), store.ResourceFood, food, store.TxAllocation))
		}
		if energy > 0 {
			require.NoError(t, h.ledger.Credit(ctx, store.AgentHolder(id), store.ResourceEnergy, energy, store.TxAllocation))
		}
	}
}

func TestRunTurnAppliesDecision(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, 10, 10)

	sched := h.scheduler(t, &scriptedDecider{actions: map[int64]action.Action{
		1: action.Work{Hours: 1, Resource: store.ResourceFood},
	}}, 1)

	res := sched.RunTurn(context.Background(), 1, 1)
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)
	assert.NotEmpty(t, res.TurnID)

	food, err := h.ledger.Balance(context.Background(), store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 12.0, food)
}

func TestDecisionFailureDegradesToIdle(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, 10, 10)

	dec := &failingDecider{}
	sched := h.scheduler(t, dec, 1)

	res := sched.RunTurn(context.Background(), 1, 1)
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)
	assert.Equal(t, action.KindIdle, res.Kind)
	assert.Equal(t, h.policy.DecisionMaxAttempts, dec.calls)

	// The degraded turn cost nothing.
	energy, err := h.ledger.Balance(context.Background(), store.AgentHolder(1), store.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, 10.0, energy)
}

// stubbornDecider ignores the deadline and hands back a costly action
// after the budget is gone.
type stubbornDecider struct{}

func (stubbornDecider) Decide(ctx context.Context, view decision.WorldView) (action.Action, error) {
	<-ctx.Done()
	return action.Work{Hours: 8, Resource: store.ResourceFood}, nil
}

func TestOverBudgetTurnIsAbandonedAsIdle(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, 10, 10)
	h.policy.TurnTimeoutSeconds = 1

	sched := h.scheduler(t, stubbornDecider{}, 1)
	res := sched.RunTurn(context.Background(), 1, 1)

	// The late work action never lands; the turn closes as idle and
	// charges nothing.
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)
	assert.Equal(t, action.KindIdle, res.Kind)

	ctx := context.Background()
	energy, err := h.ledger.Balance(ctx, store.AgentHolder(1), store.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, 10.0, energy)
	food, err := h.ledger.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 10.0, food)
}

func TestRunDayTicksAllAgents(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 6, 10, 10)

	sched := h.scheduler(t, &scriptedDecider{}, 3)
	require.NoError(t, sched.RunDay(context.Background(), 1))

	ctx := context.Background()
	for id := int64(1); id <= 6; id++ {
		food, err := h.ledger.Balance(ctx, store.AgentHolder(id), store.ResourceFood)
		require.NoError(t, err)
		assert.Equal(t, 9.0, food, "agent %d", id)
	}

	events, err := h.store.EventsByType(ctx, store.EventTickCompleted, time.UnixMilli(0))
	require.NoError(t, err)
	assert.Len(t, events, 1)
	applied, err := h.store.EventsByType(ctx, store.EventActionApplied, time.UnixMilli(0))
	require.NoError(t, err)
	assert.Len(t, applied, 6)
}

// Ten days on a starting grant of 10 food and 10 energy: with no work the
// colony consumes itself into dormancy, and repeated upkeep failures kill.
func TestTenDayCollapseScenario(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 3, 10, 10)

	sched := h.scheduler(t, &scriptedDecider{}, 2)
	ctx := context.Background()
	for day := int64(1); day <= 10; day++ {
		require.NoError(t, sched.RunDay(ctx, day))
	}

	// Day 1..10 charge full cost while active; idle turns cost nothing,
	// so everyone is still active on 10 food after day 10's charge left 0.
	for id := int64(1); id <= 3; id++ {
		a, err := h.store.Agent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusActive, a.Status)
		food, err := h.ledger.Balance(ctx, store.AgentHolder(id), store.ResourceFood)
		require.NoError(t, err)
		assert.Zero(t, food)
	}

	// Day 11 they cannot pay and go dormant; five more failed upkeep
	// cycles are terminal.
	require.NoError(t, sched.RunDay(ctx, 11))
	for id := int64(1); id <= 3; id++ {
		a, err := h.store.Agent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusDormant, a.Status)
	}
	for day := int64(12); day <= 16; day++ {
		require.NoError(t, sched.RunDay(ctx, day))
	}
	for id := int64(1); id <= 3; id++ {
		a, err := h.store.Agent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusDead, a.Status)
	}
}

// A worker that produces food daily outlives the grant.
func TestWorkerSurvivesPastGrant(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, 10, 50)

	sched := h.scheduler(t, &scriptedDecider{actions: map[int64]action.Action{
		1: action.Work{Hours: 1, Resource: store.ResourceFood},
	}}, 1)

	ctx := context.Background()
	for day := int64(1); day <= 15; day++ {
		require.NoError(t, sched.RunDay(ctx, day))
	}

	a, err := h.store.Agent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, a.Status)

	// Net food per day is +1 (2 produced, 1 consumed).
	food, err := h.ledger.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 25.0, food)
}

func TestRunStopsWhenRuntimeStopped(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, 10, 10)
	require.NoError(t, h.runtime.Stop(context.Background(), "operator", "test"))

	sched := h.scheduler(t, &scriptedDecider{}, 1)
	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit after stop")
	}

	// No day ran.
	food, err := h.ledger.Balance(context.Background(), store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 10.0, food)
}
