// Command agora runs the Agora autonomous agent society.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/climate"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/decision"
	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/guardrail"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/lifecycle"
	"github.com/talgya/agora/internal/scheduler"
	"github.com/talgya/agora/internal/store"
)

var personalities = []string{
	"pragmatic builder focused on food security",
	"idealist who believes in strong common institutions",
	"cautious trader who hoards a little too much",
	"gregarious organizer who lives on the forum",
	"skeptic of every proposal, votes no by default",
	"quiet worker who helps dormant neighbors",
	"ambitious legislator drafting laws constantly",
	"opportunist watching for arbitrage between agents",
	"communitarian who gives surplus to the pool",
	"loner who only speaks when resources run short",
	"reformer who wants every law revisited",
	"survivalist who optimizes energy above all",
}

func main() {
	root := &cobra.Command{
		Use:           "agora",
		Short:         "Agora is an autonomous agent society simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd(), seedCmd(), tickCmd(), statusCmd(), resumeCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads env + policy, configures slog, and opens the store.
func setup() (config.Env, config.Policy, *store.Store, error) {
	envCfg, err := config.ParseEnv()
	if err != nil {
		return config.Env{}, config.Policy{}, nil, err
	}

	level := slog.LevelInfo
	switch envCfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	policy, err := config.LoadPolicy(envCfg.PolicyPath)
	if err != nil {
		return envCfg, policy, nil, err
	}

	if dir := filepath.Dir(envCfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return envCfg, policy, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(envCfg.DBPath)
	if err != nil {
		return envCfg, policy, nil, err
	}
	return envCfg, policy, st, nil
}

func runCmd() *cobra.Command {
	var workers int
	var dayInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation loop until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			envCfg, policy, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			led := ledger.New(st)
			life := lifecycle.New(st, led, policy)
			gov := governance.New(st, policy)
			field := climate.NewField(42)
			pipe := action.New(st, led, life, gov, field, policy)
			asm := decision.NewAssembler(st, led, policy)

			client := decision.NewClient(envCfg.AnthropicKey)
			var decider decision.Decider
			if client.Enabled() {
				decider = decision.NewModelDecider(client)
				slog.Info("model decider enabled")
			} else {
				decider = decision.NewRuleDecider(policy)
				slog.Warn("ANTHROPIC_API_KEY not set, using rule-based decider")
			}

			rt, err := guardrail.NewRuntime(ctx, st)
			if err != nil {
				return err
			}
			if !rt.Active() {
				return fmt.Errorf("simulation is stopped; run `agora resume` to restart it")
			}

			spend := func() float64 {
				day, err := st.ConfigInt(context.Background(), store.KeyCurrentDay, 1)
				if err != nil {
					return 0
				}
				return client.DaySpend(day)
			}
			sup := guardrail.NewSupervisor(rt, 15*time.Second,
				guardrail.BudgetSignal(spend, envCfg.BudgetUSD),
				guardrail.FailureRateSignal(st, policy, time.Hour, 20),
				guardrail.DBSaturationSignal(st.DB().Stats, policy),
			)
			go func() {
				if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("guardrail supervisor exited", "error", err)
				}
			}()

			sched := scheduler.New(st, rt, life, gov, pipe, asm, decider, policy, workers, dayInterval)
			slog.Info("simulation starting", "db", envCfg.DBPath, "workers", workers, "day_interval", dayInterval)
			err = sched.Run(ctx)
			if err != nil && ctx.Err() != nil {
				slog.Info("shutting down", "reason", ctx.Err())
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent agent turns")
	cmd.Flags().DurationVar(&dayInterval, "day-interval", time.Minute, "wall-clock pause between simulated days")
	return cmd
}

func seedCmd() *cobra.Command {
	var food, energy, materials, poolFood float64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial agent population and grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			envCfg, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			existing, err := st.AllAgents(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return fmt.Errorf("world already seeded with %d agents", len(existing))
			}

			led := ledger.New(st)
			for i := range envCfg.AgentCount {
				id := int64(i + 1)
				personality := personalities[i%len(personalities)]
				if err := st.CreateAgent(ctx, id, personality); err != nil {
					return err
				}
				grants := map[store.Resource]float64{
					store.ResourceFood:      food,
					store.ResourceEnergy:    energy,
					store.ResourceMaterials: materials,
				}
				for _, r := range store.Resources {
					if grants[r] <= 0 {
						continue
					}
					if err := led.Credit(ctx, store.AgentHolder(id), r, grants[r], store.TxAllocation); err != nil {
						return err
					}
				}
			}
			if poolFood > 0 {
				if err := led.Credit(ctx, store.CommonPool(), store.ResourceFood, poolFood, store.TxAllocation); err != nil {
					return err
				}
			}

			slog.Info("world seeded", "agents", envCfg.AgentCount, "food", food, "energy", energy, "materials", materials)
			return nil
		},
	}

	cmd.Flags().Float64Var(&food, "food", 10, "starting food per agent")
	cmd.Flags().Float64Var(&energy, "energy", 10, "starting energy per agent")
	cmd.Flags().Float64Var(&materials, "materials", 5, "starting materials per agent")
	cmd.Flags().Float64Var(&poolFood, "pool-food", 50, "starting common pool food")
	return cmd
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one daily lifecycle tick and governance sweep, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, policy, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			day, err := st.ConfigInt(ctx, store.KeyCurrentDay, 1)
			if err != nil {
				return err
			}

			led := ledger.New(st)
			life := lifecycle.New(st, led, policy)
			if err := life.RunDailyTick(ctx, day); err != nil {
				return err
			}
			gov := governance.New(st, policy)
			resolved, err := gov.ResolveDue(ctx)
			if err != nil {
				return err
			}
			if err := st.SetConfig(ctx, store.KeyCurrentDay,
				fmt.Sprintf("%d", day+1), "operator", "manual tick"); err != nil {
				return err
			}

			slog.Info("tick complete", "day", day, "proposals_resolved", resolved)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a summary of the world state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			day, err := st.ConfigInt(ctx, store.KeyCurrentDay, 1)
			if err != nil {
				return err
			}
			active, err := st.ConfigBool(ctx, store.KeySimulationActive, true)
			if err != nil {
				return err
			}
			paused, err := st.ConfigBool(ctx, store.KeySimulationPaused, false)
			if err != nil {
				return err
			}

			agents, err := st.AllAgents(ctx)
			if err != nil {
				return err
			}
			counts := map[store.AgentStatus]int{}
			for _, a := range agents {
				counts[a.Status]++
			}

			led := ledger.New(st)
			pool, err := led.Balances(ctx, store.CommonPool())
			if err != nil {
				return err
			}

			fmt.Printf("day %d  active=%v paused=%v\n", day, active, paused)
			fmt.Printf("agents: %d active, %d dormant, %d dead\n",
				counts[store.StatusActive], counts[store.StatusDormant], counts[store.StatusDead])
			fmt.Printf("common pool: food=%.2f energy=%.2f materials=%.2f\n",
				pool[store.ResourceFood], pool[store.ResourceEnergy], pool[store.ResourceMaterials])

			events, err := st.RecentEvents(ctx, 10)
			if err != nil {
				return err
			}
			if len(events) > 0 {
				fmt.Println("recent events:")
				for _, e := range events {
					fmt.Printf("  [%d] %s %s\n", e.ID, e.Type, e.Payload)
				}
			}
			return nil
		},
	}
}

func resumeCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Restart a simulation stopped by the guardrail or an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if err := st.SetConfig(ctx, store.KeySimulationActive, "true", "operator", reason); err != nil {
				return err
			}
			if err := st.SetConfig(ctx, store.KeySimulationPaused, "false", "operator", reason); err != nil {
				return err
			}
			slog.Info("simulation resumed", "reason", reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator resume", "audit reason for the restart")
	return cmd
}
