package action

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/lifecycle"
	"github.com/talgya/agora/internal/store"
)

type world struct {
	store    *store.Store
	ledger   *ledger.Ledger
	life     *lifecycle.Manager
	gov      *governance.Service
	pipeline *Pipeline
	now      *time.Time
}

func newWorld(t *testing.T) *world {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.UnixMilli(1_700_000_000_000)
	st.SetClock(func() time.Time { return now })

	pol := config.DefaultPolicy()
	led := ledger.New(st)
	life := lifecycle.New(st, led, pol)
	gov := governance.New(st, pol)
	// nil climate keeps work yields deterministic
	return &world{
		store:    st,
		ledger:   led,
		life:     life,
		gov:      gov,
		pipeline: New(st, led, life, gov, nil, pol),
		now:      &now,
	}
}

func (w *world) agent(t *testing.T, id int64, food, energy float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.store.CreateAgent(ctx, id, "tester"))
	if food > 0 {
		require.NoError(t, w.ledger.Credit(ctx, store.AgentHolder(id), store.ResourceFood, food, store.TxAllocation))
	}
	if energy > 0 {
		require.NoError(t, w.ledger.Credit(ctx, store.AgentHolder(id), store.ResourceEnergy, energy, store.TxAllocation))
	}
}

func (w *world) energy(t *testing.T, id int64) float64 {
	t.Helper()
	got, err := w.ledger.Balance(context.Background(), store.AgentHolder(id), store.ResourceEnergy)
	require.NoError(t, err)
	return got
}

func TestForumPostChargesEnergy(t *testing.T) {
	w := newWorld(t)
	w.agent(t, 1, 10, 10)

	res := w.pipeline.Apply(context.Background(), 1, ForumPost{Content: "hello"}, "")
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)
	assert.Equal(t, 9.5, w.energy(t, 1))

	msgs, err := w.store.RecentForumMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestInvalidShapeCostsNothing(t *testing.T) {
	w := newWorld(t)
	w.agent(t, 1, 10, 10)
	ctx := context.Background()

	cases := []Action{
		ForumPost{Content: "   "},
		ForumReply{ParentID: 99, Content: "orphan"},
		DirectMessage{RecipientID: 1, Content: "to self"},
		DirectMessage{RecipientID: 42, Content: "to nobody"},
		Work{Hours: 0, Resource: store.ResourceFood},
		Work{Hours: 9, Resource: store.ResourceFood},
		Work{Hours: 2, Resource: "gold"},
		Trade{RecipientID: 1, Resource: store.ResourceFood, Amount: 1},
		Trade{RecipientID: 42, Resource: store.ResourceFood, Amount: 1},
		Trade{RecipientID: 2, Resource: store.ResourceFood, Amount: -1},
		SetName{Name: ""},
		Vote{ProposalID: 99, Choice: store.VoteYes},
		CreateProposal{Title: "", Type: governance.ProposalTypeLaw},
	}
	for _, act := range cases {
		res := w.pipeline.Apply(ctx, 1, act, "")
		assert.False(t, res.Applied, "%T should be rejected", act)
		require.Error(t, res.Err)
	}

	// Every rejection happened before the energy debit.
	assert.Equal(t, 10.0, w.energy(t, 1))

	events, err := w.store.EventsByType(ctx, store.EventInvalidAction, time.UnixMilli(0))
	require.NoError(t, err)
	assert.Len(t, events, len(cases))
}

func TestInsufficientEnergyRejected(t *testing.T) {
	w := newWorld(t)
	w.agent(t, 1, 10, 0.25) // below the 0.5 message cost

	res := w.pipeline.Apply(context.Background(), 1, ForumPost{Content: "hi"}, "")
	assert.False(t, res.Applied)
	require.ErrorIs(t, res.Err, ErrInsufficientEnergy)
	assert.Equal(t, 0.25, w.energy(t, 1))
}

func TestDormantAndDeadCannotAct(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	require.NoError(t, w.store.UpdateAgentStatus(ctx, 1, store.StatusDormant, 0))

	res := w.pipeline.Apply(ctx, 1, Idle{}, "")
	require.ErrorIs(t, res.Err, ErrAgentDormant)

	require.NoError(t, w.store.UpdateAgentStatus(ctx, 1, store.StatusDead, 0))
	res = w.pipeline.Apply(ctx, 1, Idle{}, "")
	require.ErrorIs(t, res.Err, lifecycle.ErrAgentDead)
}

func TestWorkYieldDiminishingReturns(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	w.agent(t, 2, 10, 10)

	// 1 hour at full efficiency: 2 * 1 * 1.0 = 2.
	res := w.pipeline.Apply(ctx, 1, Work{Hours: 1, Resource: store.ResourceFood}, "")
	require.NoError(t, res.Err)
	assert.Equal(t, 2.0, res.Detail["yield"])

	// 8 hours at the 50% floor: 2 * 8 * 0.5 = 8, not 16.
	res = w.pipeline.Apply(ctx, 2, Work{Hours: 8, Resource: store.ResourceFood}, "")
	require.NoError(t, res.Err)
	assert.Equal(t, 8.0, res.Detail["yield"])

	// Work energy cost scales with hours: 8 * 0.5 = 4.
	assert.Equal(t, 6.0, w.energy(t, 2))
}

func TestTradeMovesResources(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	w.agent(t, 2, 10, 10)

	res := w.pipeline.Apply(ctx, 1, Trade{RecipientID: 2, Resource: store.ResourceFood, Amount: 4}, "")
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)

	from, err := w.ledger.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	to, err := w.ledger.Balance(ctx, store.AgentHolder(2), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 6.0, from)
	assert.Equal(t, 14.0, to)
}

func TestOverdrawnTradeCostsNothing(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 1, 5)
	w.agent(t, 2, 0, 10)

	// More food than the sender holds: rejected before the energy debit.
	res := w.pipeline.Apply(ctx, 1, Trade{RecipientID: 2, Resource: store.ResourceFood, Amount: 10}, "")
	assert.False(t, res.Applied)
	require.ErrorIs(t, res.Err, ledger.ErrInsufficientFunds)
	assert.Equal(t, 5.0, w.energy(t, 1))

	food, err := w.ledger.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 1.0, food)
	got, err := w.ledger.Balance(ctx, store.AgentHolder(2), store.ResourceFood)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestEnergyTradeReservesItsOwnCost(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	w.agent(t, 2, 10, 10)

	// Sending the whole energy balance leaves nothing for the trade's own
	// cost, so the action is rejected with the balance intact.
	res := w.pipeline.Apply(ctx, 1, Trade{RecipientID: 2, Resource: store.ResourceEnergy, Amount: 10}, "")
	assert.False(t, res.Applied)
	require.ErrorIs(t, res.Err, ledger.ErrInsufficientFunds)
	assert.Equal(t, 10.0, w.energy(t, 1))
}

func TestLateVoteRefundsEnergy(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	w.agent(t, 2, 10, 10)

	id, err := w.gov.CreateProposal(ctx, 1, "test", "desc", governance.ProposalTypeLaw, nil, 0)
	require.NoError(t, err)
	prop, err := w.gov.Proposal(ctx, id)
	require.NoError(t, err)

	// A clock that jumps an hour per read: validation still sees the
	// proposal open, the vote upsert sees the deadline passed.
	tick := time.UnixMilli(prop.VotingClosesAt).Add(-90 * time.Minute)
	w.store.SetClock(func() time.Time {
		now := tick
		tick = tick.Add(time.Hour)
		return now
	})

	res := w.pipeline.Apply(ctx, 2, Vote{ProposalID: id, Choice: store.VoteYes}, "")
	assert.False(t, res.Applied)
	require.ErrorIs(t, res.Err, governance.ErrVotingClosed)

	// The vote cost was debited before the deadline recheck and must come
	// back.
	assert.Equal(t, 10.0, w.energy(t, 2))
}

func TestTradeRevivesDormantRecipient(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 20, 20)
	w.agent(t, 2, 0, 5)
	require.NoError(t, w.store.UpdateAgentStatus(ctx, 2, store.StatusDormant, 3))

	res := w.pipeline.Apply(ctx, 1, Trade{RecipientID: 2, Resource: store.ResourceFood, Amount: 3}, "")
	require.NoError(t, res.Err)
	assert.Equal(t, true, res.Detail["revived"])

	a, err := w.store.Agent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, a.Status)
	assert.Zero(t, a.StarvationCount)

	// The assistance is recorded as an awakening, not a trade.
	txs, err := w.ledger.Transactions(ctx, store.TxAwakening, time.UnixMilli(0))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 3.0, txs[0].Amount)
}

func TestTradeBelowRevivalThresholdLeavesDormant(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 20, 20)
	w.agent(t, 2, 0, 5)
	require.NoError(t, w.store.UpdateAgentStatus(ctx, 2, store.StatusDormant, 0))

	res := w.pipeline.Apply(ctx, 1, Trade{RecipientID: 2, Resource: store.ResourceFood, Amount: 1}, "")
	require.NoError(t, res.Err)
	assert.Equal(t, false, res.Detail["revived"])

	a, err := w.store.Agent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDormant, a.Status)
}

func TestExiledCannotVote(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	w.agent(t, 2, 10, 10)
	require.NoError(t, w.store.SetExiled(ctx, 2, true))

	id, err := w.gov.CreateProposal(ctx, 1, "test", "desc", governance.ProposalTypeLaw, nil, 0)
	require.NoError(t, err)

	res := w.pipeline.Apply(ctx, 2, Vote{ProposalID: id, Choice: store.VoteYes}, "")
	require.ErrorIs(t, res.Err, governance.ErrExiled)
	assert.Equal(t, 10.0, w.energy(t, 2))

	// Exile blocks voting only; other actions still work.
	res = w.pipeline.Apply(ctx, 2, ForumPost{Content: "still here"}, "")
	require.NoError(t, res.Err)
}

func TestSanctionRateLimit(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)
	until := w.now.Add(time.Hour).UnixMilli()
	require.NoError(t, w.store.SetSanctionedUntil(ctx, 1, until))

	// First action inside the window is allowed.
	res := w.pipeline.Apply(ctx, 1, ForumPost{Content: "one"}, "")
	require.NoError(t, res.Err)

	// Second hits the limit; idle remains exempt.
	res = w.pipeline.Apply(ctx, 1, ForumPost{Content: "two"}, "")
	require.ErrorIs(t, res.Err, ErrRateLimited)

	res = w.pipeline.Apply(ctx, 1, Idle{Reason: "sanctioned"}, "")
	require.NoError(t, res.Err)

	// Past the sanction expiry the limit lifts.
	*w.now = w.now.Add(2 * time.Hour)
	res = w.pipeline.Apply(ctx, 1, ForumPost{Content: "three"}, "")
	require.NoError(t, res.Err)
}

func TestSetName(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.agent(t, 1, 10, 10)

	res := w.pipeline.Apply(ctx, 1, SetName{Name: "Vera"}, "")
	require.NoError(t, res.Err)

	a, err := w.store.Agent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Vera", a.Name())
	assert.Equal(t, 9.75, w.energy(t, 1))
}

func TestProposalThenVoteThenResolve(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	for id := int64(1); id <= 6; id++ {
		w.agent(t, id, 10, 10)
	}

	res := w.pipeline.Apply(ctx, 1, CreateProposal{
		Title:       "Cap holdings",
		Description: "Nobody holds more than 50 food",
		Type:        governance.ProposalTypeLaw,
		Threshold:   50,
	}, "")
	require.NoError(t, res.Err)
	proposalID := res.Detail["proposal_id"].(int64)

	for id := int64(1); id <= 5; id++ {
		res := w.pipeline.Apply(ctx, id, Vote{ProposalID: proposalID, Choice: store.VoteYes}, "")
		require.NoError(t, res.Err)
	}

	*w.now = w.now.Add(25 * time.Hour)
	n, err := w.gov.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	laws, err := w.gov.ActiveLaws(ctx)
	require.NoError(t, err)
	require.Len(t, laws, 1)
	assert.Equal(t, 50.0, laws[0].Threshold)
}
