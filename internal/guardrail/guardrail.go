// Package guardrail holds the supervisory kill switch for the simulation.
// The guardrail watches operational signals and stops the world when any
// of them trips; only a human operator restarts it.
package guardrail

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/store"
)

// ActorGuardrail is the audit actor recorded for automated stops.
const ActorGuardrail = "guardrail"

// Runtime is the authoritative run state of the simulation. Flags are
// cached in-process for cheap reads; every write goes through the store so
// the state survives restarts and is audited.
type Runtime struct {
	store  *store.Store
	active atomic.Bool
	paused atomic.Bool
}

// NewRuntime loads the persisted run state.
func NewRuntime(ctx context.Context, st *store.Store) (*Runtime, error) {
	r := &Runtime{store: st}
	active, err := st.ConfigBool(ctx, store.KeySimulationActive, true)
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}
	paused, err := st.ConfigBool(ctx, store.KeySimulationPaused, false)
	if err != nil {
		return nil, fmt.Errorf("load pause state: %w", err)
	}
	r.active.Store(active)
	r.paused.Store(paused)
	return r, nil
}

// Running reports whether turns should be scheduled right now.
func (r *Runtime) Running() bool {
	return r.active.Load() && !r.paused.Load()
}

// Active reports whether the simulation has been stopped.
func (r *Runtime) Active() bool { return r.active.Load() }

// Paused reports whether the simulation is paused.
func (r *Runtime) Paused() bool { return r.paused.Load() }

// Stop halts the simulation permanently until an operator restarts it.
// Both flags move: active goes false and paused goes true, so a restart
// comes up paused until the operator clears it. The stop is persisted
// first; the in-process flags follow so a crashed write never leaves the
// world running against a stopped record.
func (r *Runtime) Stop(ctx context.Context, actor, reason string) error {
	if err := r.store.SetConfig(ctx, store.KeySimulationActive, "false", actor, reason); err != nil {
		return fmt.Errorf("persist stop: %w", err)
	}
	if err := r.store.SetConfig(ctx, store.KeySimulationPaused, "true", actor, reason); err != nil {
		return fmt.Errorf("persist pause on stop: %w", err)
	}
	r.active.Store(false)
	r.paused.Store(true)

	typ := store.EventConfigChanged
	if actor == ActorGuardrail {
		typ = store.EventGuardrailStop
	}
	if err := r.store.AppendEvent(ctx, nil, "", typ, map[string]any{
		"actor":  actor,
		"reason": reason,
	}); err != nil {
		slog.Error("stop event append failed", "error", err)
	}
	slog.Warn("simulation stopped", "actor", actor, "reason", reason)
	return nil
}

// SetPaused pauses or resumes turn scheduling without losing run state.
func (r *Runtime) SetPaused(ctx context.Context, paused bool, actor, reason string) error {
	v := "false"
	if paused {
		v = "true"
	}
	if err := r.store.SetConfig(ctx, store.KeySimulationPaused, v, actor, reason); err != nil {
		return fmt.Errorf("persist pause: %w", err)
	}
	r.paused.Store(paused)
	slog.Info("simulation pause state changed", "paused", paused, "actor", actor, "reason", reason)
	return nil
}

// Signal is one tripwire. Check returns trip=true with a human-readable
// reason when the signal fires.
type Signal struct {
	Name  string
	Check func(ctx context.Context) (trip bool, reason string, err error)
}

// Supervisor polls signals on an interval and stops the world when one
// trips. Signal errors are logged, never treated as trips: a flaky check
// must not kill the simulation.
type Supervisor struct {
	runtime  *Runtime
	signals  []Signal
	interval time.Duration
}

// NewSupervisor builds a Supervisor over the given signals.
func NewSupervisor(rt *Runtime, interval time.Duration, signals ...Signal) *Supervisor {
	return &Supervisor{runtime: rt, signals: signals, interval: interval}
}

// Run polls until the context is canceled or a signal trips. After a trip
// the supervisor exits; a stopped world needs no further watching.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if tripped, err := s.Evaluate(ctx); err != nil {
				return err
			} else if tripped {
				return nil
			}
		}
	}
}

// Evaluate runs every signal once. It reports whether any tripped and the
// world was stopped.
func (s *Supervisor) Evaluate(ctx context.Context) (bool, error) {
	if !s.runtime.Active() {
		return true, nil
	}
	for _, sig := range s.signals {
		trip, reason, err := sig.Check(ctx)
		if err != nil {
			slog.Error("guardrail signal check failed", "signal", sig.Name, "error", err)
			continue
		}
		if !trip {
			continue
		}
		if err := s.runtime.Stop(ctx, ActorGuardrail, fmt.Sprintf("%s: %s", sig.Name, reason)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// BudgetSignal trips when daily model spend reaches the budget. spend
// reports cumulative USD for the current day.
func BudgetSignal(spend func() float64, dailyBudgetUSD float64) Signal {
	return Signal{
		Name: "daily_budget",
		Check: func(ctx context.Context) (bool, string, error) {
			used := spend()
			if used < dailyBudgetUSD {
				return false, "", nil
			}
			return true, fmt.Sprintf("spent $%.2f of $%.2f daily budget", used, dailyBudgetUSD), nil
		},
	}
}

// FailureRateSignal trips when the share of rejected actions over the
// trailing window exceeds the policy limit. Quiet periods with fewer than
// minSample actions never trip.
func FailureRateSignal(st *store.Store, pol config.Policy, window time.Duration, minSample int) Signal {
	return Signal{
		Name: "action_failure_rate",
		Check: func(ctx context.Context) (bool, string, error) {
			since := st.Now().Add(-window)
			failed, err := st.CountEventsByType(ctx, store.EventInvalidAction, since)
			if err != nil {
				return false, "", err
			}
			applied, err := st.CountEventsByType(ctx, store.EventActionApplied, since)
			if err != nil {
				return false, "", err
			}
			total := failed + applied
			if total < minSample {
				return false, "", nil
			}
			rate := float64(failed) / float64(total)
			if rate <= pol.MaxFailureRate {
				return false, "", nil
			}
			return true, fmt.Sprintf("%.0f%% of %d actions rejected in %s", rate*100, total, window), nil
		},
	}
}

// DBSaturationSignal trips when the connection pool is nearly exhausted,
// which on this single-writer store means requests are piling up behind
// the write lock.
func DBSaturationSignal(stats func() sql.DBStats, pol config.Policy) Signal {
	return Signal{
		Name: "db_saturation",
		Check: func(ctx context.Context) (bool, string, error) {
			st := stats()
			if st.MaxOpenConnections == 0 {
				return false, "", nil
			}
			sat := float64(st.InUse) / float64(st.MaxOpenConnections)
			if st.WaitCount > 0 && st.WaitDuration > 30*time.Second && sat >= pol.MaxPoolSaturation {
				return true, fmt.Sprintf("pool %.0f%% saturated, %s cumulative wait", sat*100, st.WaitDuration), nil
			}
			return false, "", nil
		},
	}
}
