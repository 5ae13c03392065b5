// Package scheduler drives the simulation loop: daily lifecycle ticks,
// one decision turn per active agent, and governance sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/decision"
	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/guardrail"
	"github.com/talgya/agora/internal/lifecycle"
	"github.com/talgya/agora/internal/store"
)

// Scheduler owns the main loop. Agents take turns concurrently inside a
// day; days advance strictly in order.
type Scheduler struct {
	store     *store.Store
	runtime   *guardrail.Runtime
	life      *lifecycle.Manager
	gov       *governance.Service
	pipeline  *action.Pipeline
	assembler *decision.Assembler
	decider   decision.Decider
	policy    config.Policy

	workers     int
	dayInterval time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler. workers bounds concurrent agent turns;
// dayInterval is the wall-clock pause between simulated days.
func New(st *store.Store, rt *guardrail.Runtime, life *lifecycle.Manager, gov *governance.Service,
	pipe *action.Pipeline, asm *decision.Assembler, dec decision.Decider,
	pol config.Policy, workers int, dayInterval time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:       st,
		runtime:     rt,
		life:        life,
		gov:         gov,
		pipeline:    pipe,
		assembler:   asm,
		decider:     dec,
		policy:      pol,
		workers:     workers,
		dayInterval: dayInterval,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run advances days until the context is canceled or the runtime stops.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.runtime.Running() {
			if !s.runtime.Active() {
				slog.Info("simulation stopped, scheduler exiting")
				return nil
			}
			// Paused: poll for resume.
			if err := s.sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		day, err := s.store.ConfigInt(ctx, store.KeyCurrentDay, 1)
		if err != nil {
			return err
		}
		if err := s.RunDay(ctx, day); err != nil {
			return fmt.Errorf("day %d: %w", day, err)
		}
		if err := s.store.SetConfig(ctx, store.KeyCurrentDay,
			fmt.Sprintf("%d", day+1), "scheduler", "day advanced"); err != nil {
			return err
		}

		if err := s.sleep(ctx, s.dayInterval); err != nil {
			return err
		}
	}
}

// RunDay executes one full simulated day: the lifecycle tick, one turn
// per active agent, then the governance sweep.
func (s *Scheduler) RunDay(ctx context.Context, day int64) error {
	started := time.Now()
	if err := s.life.RunDailyTick(ctx, day); err != nil {
		return fmt.Errorf("lifecycle tick: %w", err)
	}

	agents, err := s.store.AgentsByStatus(ctx, store.StatusActive)
	if err != nil {
		return err
	}

	ids := make(chan int64)
	var wg sync.WaitGroup
	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				s.RunTurn(ctx, id, day)
			}
		}()
	}
	for _, a := range agents {
		select {
		case <-ctx.Done():
		case ids <- a.ID:
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(ids)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	resolved, err := s.gov.ResolveDue(ctx)
	if err != nil {
		return fmt.Errorf("governance sweep: %w", err)
	}

	slog.Info("day complete",
		"day", day,
		"active_agents", len(agents),
		"proposals_resolved", resolved,
		"elapsed", time.Since(started),
	)
	return nil
}

// RunTurn runs one agent's turn end to end under a single wall-clock
// budget covering both the decision and its application. Decision failures
// degrade to an idle turn; only the pipeline result is authoritative.
func (s *Scheduler) RunTurn(ctx context.Context, agentID, day int64) action.Result {
	turnID := uuid.NewString()
	turnCtx, cancel := context.WithTimeout(ctx, s.policy.TurnTimeout())
	defer cancel()

	act := s.decide(turnCtx, agentID, day, turnID)

	applyCtx := turnCtx
	if turnCtx.Err() != nil && ctx.Err() == nil {
		// The decision consumed the whole budget. Abandon whatever it
		// produced and close the turn's bookkeeping under a short grace
		// deadline off the parent context.
		act = action.Idle{Reason: "turn budget exhausted"}
		var graceCancel context.CancelFunc
		applyCtx, graceCancel = context.WithTimeout(ctx, 5*time.Second)
		defer graceCancel()
	}

	res := s.pipeline.Apply(applyCtx, agentID, act, turnID)
	if res.Err != nil && !res.Applied {
		slog.Debug("turn rejected", "turn", turnID, "agent", agentID, "kind", res.Kind, "reason", action.Reason(res.Err))
	}
	return res
}

// decide asks the decider with bounded retries under the caller's turn
// deadline. Any terminal failure yields an Idle action so the turn still
// completes.
func (s *Scheduler) decide(ctx context.Context, agentID, day int64, turnID string) action.Action {
	act, err := backoff.Retry(ctx, func() (action.Action, error) {
		view, err := s.assembler.View(ctx, agentID, day)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return s.decider.Decide(ctx, view)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.policy.DecisionMaxAttempts)),
	)
	if err != nil {
		reason := "decision failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "decision timed out"
		}
		slog.Warn("turn degraded to idle", "turn", turnID, "agent", agentID, "error", err)
		return action.Idle{Reason: reason}
	}
	return act
}
