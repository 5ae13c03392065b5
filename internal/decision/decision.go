// Package decision turns world state into one chosen action per agent
// turn. The primary decider asks a language model; a deterministic
// rule-based decider serves as the fallback when no model is configured
// or the model misbehaves.
package decision

import (
	"context"
	"fmt"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/store"
)

// Decider chooses the next action for one agent.
type Decider interface {
	Decide(ctx context.Context, view WorldView) (action.Action, error)
}

// WorldView is everything an agent is allowed to see when deciding.
type WorldView struct {
	Agent       store.Agent
	Day         int64
	Balances    map[store.Resource]float64
	PoolFood    float64
	Forum       []store.Message
	Inbox       []store.Message
	Proposals   []store.Proposal
	Laws        []store.Law
	OtherAgents []store.Agent
}

// Assembler builds WorldViews from the store.
type Assembler struct {
	store  *store.Store
	ledger *ledger.Ledger
	policy config.Policy
}

// NewAssembler creates an Assembler.
func NewAssembler(st *store.Store, led *ledger.Ledger, pol config.Policy) *Assembler {
	return &Assembler{store: st, ledger: led, policy: pol}
}

// View assembles the decision context for one agent.
func (a *Assembler) View(ctx context.Context, agentID, day int64) (WorldView, error) {
	agent, err := a.store.Agent(ctx, agentID)
	if err != nil {
		return WorldView{}, fmt.Errorf("assemble view: %w", err)
	}

	balances, err := a.ledger.Balances(ctx, store.AgentHolder(agentID))
	if err != nil {
		return WorldView{}, err
	}
	poolFood, err := a.ledger.Balance(ctx, store.CommonPool(), store.ResourceFood)
	if err != nil {
		return WorldView{}, err
	}

	forum, err := a.store.RecentForumMessages(ctx, 20)
	if err != nil {
		return WorldView{}, err
	}
	inbox, err := a.store.InboxMessages(ctx, agentID, 10)
	if err != nil {
		return WorldView{}, err
	}

	var proposals []store.Proposal
	if err := a.store.DB().SelectContext(ctx, &proposals,
		`SELECT * FROM proposals WHERE status = ? ORDER BY id`, store.ProposalActive); err != nil {
		return WorldView{}, fmt.Errorf("open proposals: %w", err)
	}

	var laws []store.Law
	if err := a.store.DB().SelectContext(ctx, &laws,
		`SELECT * FROM laws WHERE active = 1 ORDER BY id`); err != nil {
		return WorldView{}, fmt.Errorf("active laws: %w", err)
	}

	others, err := a.store.AllAgents(ctx)
	if err != nil {
		return WorldView{}, err
	}
	peers := others[:0]
	for _, o := range others {
		if o.ID != agentID && o.Status != store.StatusDead {
			peers = append(peers, o)
		}
	}

	return WorldView{
		Agent:       agent,
		Day:         day,
		Balances:    balances,
		PoolFood:    poolFood,
		Forum:       forum,
		Inbox:       inbox,
		Proposals:   proposals,
		Laws:        laws,
		OtherAgents: peers,
	}, nil
}
