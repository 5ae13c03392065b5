package decision

import (
	"context"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/store"
)

// RuleDecider is a deterministic decider used when no model is configured.
// It keeps the colony alive: work when reserves are short, revive a
// dormant peer when affordable, vote on open proposals, otherwise idle.
type RuleDecider struct {
	policy config.Policy
}

// NewRuleDecider creates a RuleDecider.
func NewRuleDecider(pol config.Policy) *RuleDecider {
	return &RuleDecider{policy: pol}
}

// Decide picks the first applicable rule.
func (d *RuleDecider) Decide(ctx context.Context, view WorldView) (action.Action, error) {
	food := view.Balances[store.ResourceFood]
	energy := view.Balances[store.ResourceEnergy]

	// Keep several days of runway before anything else.
	reserve := d.policy.DailyFoodCost * 3
	if food < reserve && energy > d.policy.WorkEnergyPerHour*2 {
		return action.Work{Hours: 2, Resource: store.ResourceFood}, nil
	}
	if energy < d.policy.DailyEnergyCost*3 && food >= reserve {
		return action.Work{Hours: 2, Resource: store.ResourceEnergy}, nil
	}

	// Revive a dormant peer once reserves are comfortable.
	if food > reserve+d.policy.RevivalFoodMin {
		for _, o := range view.OtherAgents {
			if o.Status == store.StatusDormant {
				return action.Trade{
					RecipientID: o.ID,
					Resource:    store.ResourceFood,
					Amount:      d.policy.RevivalFoodMin,
				}, nil
			}
		}
	}

	// Participate in governance when eligible.
	if !view.Agent.Exiled && energy > d.policy.VoteEnergyCost+d.policy.DailyEnergyCost {
		for _, p := range view.Proposals {
			return action.Vote{ProposalID: p.ID, Choice: store.VoteYes}, nil
		}
	}

	return action.Idle{Reason: "reserves are sufficient"}, nil
}
