package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/lifecycle"
	"github.com/talgya/agora/internal/store"
)

// validate checks an action's shape and preconditions before any energy is
// charged, so a rejected action costs the agent nothing.
func (p *Pipeline) validate(ctx context.Context, agent store.Agent, act Action) error {
	switch a := act.(type) {
	case ForumPost:
		return checkContent(a.Content)

	case ForumReply:
		if err := checkContent(a.Content); err != nil {
			return err
		}
		ok, err := p.store.MessageExists(ctx, a.ParentID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reply parent %d does not exist: %w", a.ParentID, ErrInvalidActionShape)
		}
		return nil

	case DirectMessage:
		if err := checkContent(a.Content); err != nil {
			return err
		}
		if a.RecipientID == agent.ID {
			return fmt.Errorf("message to self: %w", ErrInvalidActionShape)
		}
		if _, err := p.store.Agent(ctx, a.RecipientID); errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("recipient %d does not exist: %w", a.RecipientID, ErrInvalidActionShape)
		} else if err != nil {
			return err
		}
		return nil

	case CreateProposal:
		if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Type) == "" {
			return fmt.Errorf("proposal needs a title and type: %w", ErrInvalidActionShape)
		}
		if a.Type == governance.ProposalTypeRepeal {
			if a.TargetLawID == nil {
				return fmt.Errorf("repeal proposal needs a target law: %w", ErrInvalidActionShape)
			}
			law, err := p.gov.Law(ctx, *a.TargetLawID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("law %d does not exist: %w", *a.TargetLawID, ErrInvalidActionShape)
			}
			if err != nil {
				return err
			}
			if !law.Active {
				return fmt.Errorf("law %d already repealed: %w", *a.TargetLawID, ErrInvalidActionShape)
			}
		}
		return nil

	case Vote:
		if agent.Exiled {
			return fmt.Errorf("agent %d: %w", agent.ID, governance.ErrExiled)
		}
		switch a.Choice {
		case store.VoteYes, store.VoteNo, store.VoteAbstain:
		default:
			return fmt.Errorf("unknown vote choice %q: %w", a.Choice, ErrInvalidActionShape)
		}
		prop, err := p.gov.Proposal(ctx, a.ProposalID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("proposal %d does not exist: %w", a.ProposalID, ErrInvalidActionShape)
		}
		if err != nil {
			return err
		}
		if prop.Status != store.ProposalActive || p.store.Now().UnixMilli() >= prop.VotingClosesAt {
			return fmt.Errorf("proposal %d: %w", a.ProposalID, governance.ErrVotingClosed)
		}
		return nil

	case Work:
		if a.Hours < 1 || a.Hours > p.policy.WorkMaxHours {
			return fmt.Errorf("work hours %d out of range [1,%d]: %w", a.Hours, p.policy.WorkMaxHours, ErrInvalidActionShape)
		}
		return checkResource(a.Resource)

	case Trade:
		if a.Amount <= 0 {
			return fmt.Errorf("trade amount %v not positive: %w", a.Amount, ErrInvalidActionShape)
		}
		if err := checkResource(a.Resource); err != nil {
			return err
		}
		if a.RecipientID == agent.ID {
			return fmt.Errorf("trade with self: %w", ErrInvalidActionShape)
		}
		recipient, err := p.store.Agent(ctx, a.RecipientID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("recipient %d does not exist: %w", a.RecipientID, ErrInvalidActionShape)
		}
		if err != nil {
			return err
		}
		if recipient.Status == store.StatusDead {
			return fmt.Errorf("recipient %d: %w", a.RecipientID, lifecycle.ErrAgentDead)
		}
		balance, err := p.ledger.Balance(ctx, store.AgentHolder(agent.ID), a.Resource)
		if err != nil {
			return err
		}
		need := a.Amount
		if a.Resource == store.ResourceEnergy {
			// The trade's own energy cost is debited first and must not
			// eat into the amount being sent.
			need += p.policy.TradeEnergyCost
		}
		if balance < need {
			return fmt.Errorf("trade %v %s against balance %v: %w", a.Amount, a.Resource, balance, ledger.ErrInsufficientFunds)
		}
		return nil

	case SetName:
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("empty name: %w", ErrInvalidActionShape)
		}
		if len(name) > p.policy.MaxNameLength {
			return fmt.Errorf("name longer than %d chars: %w", p.policy.MaxNameLength, ErrInvalidActionShape)
		}
		return nil

	case Idle:
		return nil
	}
	return fmt.Errorf("unhandled action: %w", ErrInvalidActionShape)
}

// execute applies an already-validated action's effect.
func (p *Pipeline) execute(ctx context.Context, agent store.Agent, act Action, turnID string) (map[string]any, error) {
	switch a := act.(type) {
	case ForumPost:
		id, err := p.store.CreateMessage(ctx, store.Message{
			AuthorID: agent.ID,
			Content:  a.Content,
			Type:     store.MsgForumPost,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": id}, nil

	case ForumReply:
		id, err := p.store.CreateMessage(ctx, store.Message{
			AuthorID: agent.ID,
			Content:  a.Content,
			Type:     store.MsgForumReply,
			ParentID: &a.ParentID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": id, "parent_id": a.ParentID}, nil

	case DirectMessage:
		id, err := p.store.CreateMessage(ctx, store.Message{
			AuthorID:    agent.ID,
			Content:     a.Content,
			Type:        store.MsgDirectMessage,
			RecipientID: &a.RecipientID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": id, "recipient_id": a.RecipientID}, nil

	case CreateProposal:
		id, err := p.gov.CreateProposal(ctx, agent.ID, a.Title, a.Description, a.Type, a.TargetLawID, a.Threshold)
		if err != nil {
			return nil, err
		}
		return map[string]any{"proposal_id": id}, nil

	case Vote:
		// The deadline may have passed between validation and here; the
		// upsert rechecks and the race resolves to a rejection.
		if err := p.gov.CastVote(ctx, agent.ID, a.ProposalID, a.Choice); err != nil {
			return nil, err
		}
		return map[string]any{"proposal_id": a.ProposalID, "choice": string(a.Choice)}, nil

	case Work:
		yield := p.workYield(a)
		err := p.ledger.Credit(ctx, store.AgentHolder(agent.ID), a.Resource, yield, store.TxWorkProduction)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"resource": string(a.Resource),
			"hours":    a.Hours,
			"yield":    yield,
		}, nil

	case Trade:
		return p.executeTrade(ctx, agent, a, turnID)

	case SetName:
		name := strings.TrimSpace(a.Name)
		if err := p.store.SetDisplayName(ctx, agent.ID, name); err != nil {
			return nil, err
		}
		return map[string]any{"name": name}, nil

	case Idle:
		return map[string]any{"reason": a.Reason}, nil
	}
	return nil, fmt.Errorf("unhandled action: %w", ErrInvalidActionShape)
}

// executeTrade transfers resources and, when the recipient is dormant,
// gives revival a chance to fire.
func (p *Pipeline) executeTrade(ctx context.Context, agent store.Agent, a Trade, turnID string) (map[string]any, error) {
	recipient, err := p.store.Agent(ctx, a.RecipientID)
	if err != nil {
		return nil, err
	}

	// Transfers into a dormant agent are assistance, not commerce.
	kind := store.TxTrade
	if recipient.Status == store.StatusDormant {
		kind = store.TxAwakening
	}

	err = p.ledger.Transfer(ctx, store.AgentHolder(agent.ID), store.AgentHolder(a.RecipientID), a.Resource, a.Amount, kind)
	if err != nil {
		return nil, err
	}

	detail := map[string]any{
		"recipient_id": a.RecipientID,
		"resource":     string(a.Resource),
		"amount":       a.Amount,
	}
	if recipient.Status == store.StatusDormant {
		revived, err := p.life.TryRevive(ctx, a.RecipientID, turnID)
		if err != nil {
			return nil, err
		}
		detail["revived"] = revived
	}
	return detail, nil
}

// workYield applies the diminishing-returns curve and climate richness.
func (p *Pipeline) workYield(a Work) float64 {
	mod := 1.0
	if p.climate != nil {
		mod = p.climate.Richness(a.Resource, p.store.Now())
	}
	return p.policy.WorkBaseRate * float64(a.Hours) * workEfficiency(a.Hours) * mod
}

// workEfficiency is flat at 100% for a single hour and steps down to a
// 50% floor by the eighth hour.
func workEfficiency(hours int) float64 {
	steps := [...]float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.55, 0.5, 0.5}
	if hours < 1 {
		return steps[0]
	}
	if hours > len(steps) {
		return steps[len(steps)-1]
	}
	return steps[hours-1]
}

func checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty content: %w", ErrInvalidActionShape)
	}
	return nil
}

func checkResource(r store.Resource) error {
	for _, known := range store.Resources {
		if r == known {
			return nil
		}
	}
	return fmt.Errorf("unknown resource %q: %w", r, ErrInvalidActionShape)
}
