package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/agora/internal/climate"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/lifecycle"
	"github.com/talgya/agora/internal/store"
)

// Validation errors. All of these downgrade the turn to an invalid_action
// event; none of them are fatal to the pipeline.
var (
	ErrInsufficientEnergy = errors.New("action: insufficient energy")
	ErrInvalidActionShape = errors.New("action: invalid action shape")
	ErrAgentDormant       = errors.New("action: dormant agents cannot act")
	ErrRateLimited        = errors.New("action: sanction rate limit reached")
)

// Result is the typed outcome of one applied or rejected action.
type Result struct {
	TurnID  string
	AgentID int64
	Kind    Kind
	Applied bool
	Err     error          // nil when Applied
	Detail  map[string]any // effect-specific payload
}

// Pipeline validates and executes proposed actions against world state.
type Pipeline struct {
	store   *store.Store
	ledger  *ledger.Ledger
	life    *lifecycle.Manager
	gov     *governance.Service
	climate *climate.Field
	policy  config.Policy
}

// New wires a Pipeline from its collaborators. climate may be nil, in
// which case work yields use a flat modifier of 1.
func New(st *store.Store, led *ledger.Ledger, life *lifecycle.Manager, gov *governance.Service, cl *climate.Field, pol config.Policy) *Pipeline {
	return &Pipeline{store: st, ledger: led, life: life, gov: gov, climate: cl, policy: pol}
}

// Apply runs one proposed action through the uniform processing order:
// actor liveness, sanction rate limit, shape validation, energy debit,
// effect, event. turnID correlates the emitted events; pass "" to have one
// generated.
func (p *Pipeline) Apply(ctx context.Context, agentID int64, act Action, turnID string) Result {
	if turnID == "" {
		turnID = uuid.NewString()
	}
	res := Result{TurnID: turnID, AgentID: agentID, Kind: act.Kind()}

	agent, err := p.store.Agent(ctx, agentID)
	if err != nil {
		return p.reject(ctx, res, err)
	}
	switch agent.Status {
	case store.StatusDead:
		return p.reject(ctx, res, fmt.Errorf("agent %d: %w", agentID, lifecycle.ErrAgentDead))
	case store.StatusDormant:
		// Dormant agents may only be the target of a trade, never an
		// initiator.
		return p.reject(ctx, res, fmt.Errorf("agent %d: %w", agentID, ErrAgentDormant))
	}

	if err := p.checkSanction(ctx, agent, act); err != nil {
		return p.reject(ctx, res, err)
	}
	if err := p.validate(ctx, agent, act); err != nil {
		return p.reject(ctx, res, err)
	}

	cost := p.energyCost(act)
	if cost > 0 {
		err := p.ledger.Debit(ctx, store.AgentHolder(agentID), store.ResourceEnergy, cost, store.TxConsumption)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return p.reject(ctx, res, fmt.Errorf("cost %v: %w", cost, ErrInsufficientEnergy))
		}
		if err != nil {
			return p.reject(ctx, res, err)
		}
	}

	detail, err := p.execute(ctx, agent, act, turnID)
	if err != nil {
		// The effect was rejected after the debit landed, which can
		// happen when world state moved between validation and execution.
		// Refund the cost so a rejected turn never charges the agent.
		if cost > 0 {
			if rerr := p.ledger.Credit(ctx, store.AgentHolder(agentID), store.ResourceEnergy, cost, store.TxRefund); rerr != nil {
				slog.Error("energy refund failed", "agent", agentID, "cost", cost, "error", rerr)
			}
		}
		return p.reject(ctx, res, err)
	}

	res.Applied = true
	res.Detail = detail

	payload := map[string]any{"kind": string(act.Kind())}
	for k, v := range detail {
		payload[k] = v
	}
	if err := p.store.AppendEvent(ctx, &agentID, turnID, store.EventActionApplied, payload); err != nil {
		slog.Error("action event append failed", "agent", agentID, "kind", act.Kind(), "error", err)
	}
	return res
}

// reject records the failed action and returns a non-applied Result. The
// agent is not penalized beyond not getting the intended effect.
func (p *Pipeline) reject(ctx context.Context, res Result, cause error) Result {
	res.Err = cause
	payload := map[string]any{
		"kind":   string(res.Kind),
		"reason": Reason(cause),
		"error":  cause.Error(),
	}
	if err := p.store.AppendEvent(ctx, &res.AgentID, res.TurnID, store.EventInvalidAction, payload); err != nil {
		slog.Error("invalid_action event append failed", "agent", res.AgentID, "error", err)
	}
	slog.Debug("action rejected", "agent", res.AgentID, "kind", res.Kind, "reason", Reason(cause))
	return res
}

// checkSanction enforces the rate limit a sanction places on an agent.
// Idle is always allowed.
func (p *Pipeline) checkSanction(ctx context.Context, agent store.Agent, act Action) error {
	if act.Kind() == KindIdle {
		return nil
	}
	now := p.store.Now()
	if !agent.Sanctioned(now) {
		return nil
	}
	n, err := p.store.CountAgentActionsSince(ctx, agent.ID, now.Add(-p.policy.SanctionWindow()))
	if err != nil {
		return err
	}
	if n >= p.policy.SanctionRateLimit {
		return fmt.Errorf("agent %d: %w", agent.ID, ErrRateLimited)
	}
	return nil
}

func (p *Pipeline) energyCost(act Action) float64 {
	switch a := act.(type) {
	case ForumPost, ForumReply, DirectMessage:
		return p.policy.MessageEnergyCost
	case CreateProposal:
		return p.policy.ProposalEnergyCost
	case Vote:
		return p.policy.VoteEnergyCost
	case Work:
		return float64(a.Hours) * p.policy.WorkEnergyPerHour
	case Trade:
		return p.policy.TradeEnergyCost
	case SetName:
		return p.policy.SetNameEnergyCost
	case Idle:
		return 0
	}
	return 0
}

// Reason maps an error to a short taxonomy name for event payloads.
func Reason(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrAgentDead):
		return "agent_dead"
	case errors.Is(err, ErrAgentDormant):
		return "agent_dormant"
	case errors.Is(err, ErrInsufficientEnergy):
		return "insufficient_energy"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, governance.ErrVotingClosed):
		return "voting_closed"
	case errors.Is(err, governance.ErrExiled):
		return "exiled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidActionShape):
		return "invalid_action_shape"
	default:
		return "internal_error"
	}
}
