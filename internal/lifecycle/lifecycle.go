// Package lifecycle owns agent status transitions: daily survival
// consumption, dormancy, starvation, permanent death, and revival.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/store"
)

// ErrAgentDead is returned for any operation that targets a dead agent as
// an actor or revival candidate. Dead is terminal.
var ErrAgentDead = errors.New("lifecycle: agent is dead")

// Manager applies lifecycle rules against the store and ledger.
type Manager struct {
	store  *store.Store
	ledger *ledger.Ledger
	policy config.Policy
}

// New creates a lifecycle Manager.
func New(st *store.Store, led *ledger.Ledger, pol config.Policy) *Manager {
	return &Manager{store: st, ledger: led, policy: pol}
}

// RunDailyTick sweeps every living agent through survival consumption for
// one simulated day. Replaying an already-processed day is a no-op, so the
// external trigger may fire more than once.
func (m *Manager) RunDailyTick(ctx context.Context, day int64) error {
	claimed, err := m.store.BeginTickRun(ctx, day)
	if err != nil {
		return fmt.Errorf("daily tick day %d: %w", day, err)
	}
	if !claimed {
		slog.Info("daily tick already processed", "day", day)
		return nil
	}

	var consumed, dormanted, upkeep, starved, died int

	// Snapshot both status sets before touching anything. An agent that
	// goes dormant during this sweep gets its first dormant cycle on the
	// next tick, not twice in one day.
	active, err := m.store.AgentsByStatus(ctx, store.StatusActive)
	if err != nil {
		return err
	}
	dormant, err := m.store.AgentsByStatus(ctx, store.StatusDormant)
	if err != nil {
		return err
	}

	for _, a := range active {
		switch err := m.consumeActive(ctx, a, day); {
		case err == nil:
			consumed++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			dormanted++
		default:
			// Storage failure for one agent must not corrupt the rest
			// of the sweep.
			slog.Error("daily consumption failed", "agent", a.ID, "error", err)
		}
	}

	for _, a := range dormant {
		switch outcome, err := m.consumeDormant(ctx, a, day); {
		case err != nil:
			slog.Error("dormant upkeep failed", "agent", a.ID, "error", err)
		case outcome == dormantDied:
			died++
		case outcome == dormantStarved:
			starved++
		default:
			upkeep++
		}
	}

	if err := m.store.CompleteTickRun(ctx, day); err != nil {
		return err
	}
	if err := m.store.AppendEvent(ctx, nil, "", store.EventTickCompleted, map[string]any{
		"day":       day,
		"consumed":  consumed,
		"dormanted": dormanted,
		"died":      died,
	}); err != nil {
		return err
	}

	slog.Info("daily tick complete",
		"day", day,
		"consumed", consumed,
		"went_dormant", dormanted,
		"dormant_upkeep", upkeep,
		"dormant_starved", starved,
		"died", died,
	)
	return nil
}

// consumeActive charges one active agent its full daily cost.
func (m *Manager) consumeActive(ctx context.Context, a store.Agent, day int64) error {
	costs := map[store.Resource]float64{
		store.ResourceFood:   m.policy.DailyFoodCost,
		store.ResourceEnergy: m.policy.DailyEnergyCost,
	}
	err := m.ledger.DebitAll(ctx, store.AgentHolder(a.ID), costs, store.TxConsumption)
	if err == nil {
		return m.store.AppendEvent(ctx, &a.ID, "", store.EventDailyConsumption, map[string]any{"day": day})
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		return err
	}

	// Cannot pay: the agent goes dormant with a fresh starvation counter.
	reason, rerr := m.shortfallReason(ctx, a.ID, costs)
	if rerr != nil {
		reason = "insufficient resources"
	}
	if serr := m.store.UpdateAgentStatus(ctx, a.ID, store.StatusDormant, 0); serr != nil {
		return serr
	}
	if eerr := m.store.AppendEvent(ctx, &a.ID, "", store.EventBecameDormant, map[string]any{
		"day":    day,
		"reason": reason,
	}); eerr != nil {
		return eerr
	}
	slog.Info("agent went dormant", "agent", a.ID, "day", day, "reason", reason)
	return err
}

// dormantOutcome distinguishes a paid upkeep cycle from a failed one so
// the tick summary does not conflate the two.
type dormantOutcome int

const (
	dormantPaid dormantOutcome = iota
	dormantStarved
	dormantDied
)

// consumeDormant charges a dormant agent the reduced upkeep.
func (m *Manager) consumeDormant(ctx context.Context, a store.Agent, day int64) (dormantOutcome, error) {
	costs := map[store.Resource]float64{
		store.ResourceFood:   m.policy.DormantFoodCost,
		store.ResourceEnergy: m.policy.DormantEnergyCost,
	}
	err := m.ledger.DebitAll(ctx, store.AgentHolder(a.ID), costs, store.TxConsumption)
	if err == nil {
		// A paid cycle breaks the consecutive-failure streak.
		if a.StarvationCount != 0 {
			return dormantPaid, m.store.SetStarvationCount(ctx, a.ID, 0)
		}
		return dormantPaid, nil
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		return dormantStarved, err
	}

	count := a.StarvationCount + 1
	if count < m.policy.StarvationLimit {
		return dormantStarved, m.store.SetStarvationCount(ctx, a.ID, count)
	}

	// Five consecutive failed cycles: terminal.
	if serr := m.store.UpdateAgentStatus(ctx, a.ID, store.StatusDead, count); serr != nil {
		return dormantStarved, serr
	}
	if eerr := m.store.AppendEvent(ctx, &a.ID, "", store.EventAgentDied, map[string]any{
		"day":              day,
		"starvation_count": count,
	}); eerr != nil {
		return dormantDied, eerr
	}
	slog.Warn("agent died of starvation", "agent", a.ID, "day", day)
	return dormantDied, nil
}

// TryRevive checks a dormant agent's balances after an inbound transfer
// and wakes it when both revival thresholds are met. Reviving a dead agent
// always fails with ErrAgentDead.
func (m *Manager) TryRevive(ctx context.Context, agentID int64, turnID string) (bool, error) {
	a, err := m.store.Agent(ctx, agentID)
	if err != nil {
		return false, err
	}
	switch a.Status {
	case store.StatusDead:
		return false, fmt.Errorf("revive agent %d: %w", agentID, ErrAgentDead)
	case store.StatusActive:
		return false, nil
	}

	balances, err := m.ledger.Balances(ctx, store.AgentHolder(agentID))
	if err != nil {
		return false, err
	}
	if balances[store.ResourceFood] < m.policy.RevivalFoodMin ||
		balances[store.ResourceEnergy] < m.policy.RevivalEnergyMin {
		return false, nil
	}

	if err := m.store.UpdateAgentStatus(ctx, agentID, store.StatusActive, 0); err != nil {
		return false, err
	}
	if err := m.store.AppendEvent(ctx, &agentID, turnID, store.EventAwakened, map[string]any{
		"food":   balances[store.ResourceFood],
		"energy": balances[store.ResourceEnergy],
	}); err != nil {
		return true, err
	}
	slog.Info("agent awakened", "agent", agentID)
	return true, nil
}

// shortfallReason names the resource that could not cover its cost.
func (m *Manager) shortfallReason(ctx context.Context, agentID int64, costs map[store.Resource]float64) (string, error) {
	balances, err := m.ledger.Balances(ctx, store.AgentHolder(agentID))
	if err != nil {
		return "", err
	}
	for _, r := range store.Resources {
		cost, ok := costs[r]
		if ok && balances[r] < cost {
			return "insufficient " + string(r), nil
		}
	}
	return "insufficient resources", nil
}
