// Package config carries the environment settings and the tunable policy
// knobs that govern survival costs, voting, and enforcement.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Env holds process-level settings read from environment variables.
type Env struct {
	DBPath       string  `env:"AGORA_DB" envDefault:"data/agora.db"`
	PolicyPath   string  `env:"AGORA_POLICY"`
	AnthropicKey string  `env:"ANTHROPIC_API_KEY"`
	AgentCount   int     `env:"AGORA_AGENTS" envDefault:"12"`
	LogLevel     string  `env:"AGORA_LOG_LEVEL" envDefault:"info"`
	BudgetUSD    float64 `env:"AGORA_DAILY_BUDGET_USD" envDefault:"10"`
}

// ParseEnv loads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Policy holds the simulation's tunable rules. Thresholds here are policy,
// not constants: the resolution and enforcement formulas read them at
// runtime so operators can adjust a live world.
type Policy struct {
	// Survival costs per daily tick.
	DailyFoodCost     float64 `yaml:"daily_food_cost"`
	DailyEnergyCost   float64 `yaml:"daily_energy_cost"`
	DormantFoodCost   float64 `yaml:"dormant_food_cost"`
	DormantEnergyCost float64 `yaml:"dormant_energy_cost"`

	// Lifecycle thresholds.
	StarvationLimit  int     `yaml:"starvation_limit"`
	RevivalFoodMin   float64 `yaml:"revival_food_min"`
	RevivalEnergyMin float64 `yaml:"revival_energy_min"`

	// Energy cost per action kind.
	MessageEnergyCost  float64 `yaml:"message_energy_cost"`
	ProposalEnergyCost float64 `yaml:"proposal_energy_cost"`
	VoteEnergyCost     float64 `yaml:"vote_energy_cost"`
	TradeEnergyCost    float64 `yaml:"trade_energy_cost"`
	SetNameEnergyCost  float64 `yaml:"set_name_energy_cost"`
	WorkEnergyPerHour  float64 `yaml:"work_energy_per_hour"`

	// Work production.
	WorkBaseRate float64 `yaml:"work_base_rate"`
	WorkMaxHours int     `yaml:"work_max_hours"`

	// Governance.
	VotingWindowHours int `yaml:"voting_window_hours"`
	VoteQuorum        int `yaml:"vote_quorum"`
	MaxNameLength     int `yaml:"max_name_length"`

	// Enforcement.
	SupportThreshold     int `yaml:"support_threshold"`
	SupportWindowHours   int `yaml:"support_window_hours"`
	SanctionDurationHours int `yaml:"sanction_duration_hours"`
	SanctionRateLimit    int `yaml:"sanction_rate_limit"`
	SanctionWindowMinutes int `yaml:"sanction_window_minutes"`

	// Guardrail trip thresholds.
	MaxFailureRate    float64 `yaml:"max_failure_rate"`
	MaxPoolSaturation float64 `yaml:"max_pool_saturation"`

	// Scheduling.
	TurnTimeoutSeconds  int `yaml:"turn_timeout_seconds"`
	DecisionMaxAttempts int `yaml:"decision_max_attempts"`
}

// VotingWindow is how long a proposal accepts votes after creation.
func (p Policy) VotingWindow() time.Duration {
	return time.Duration(p.VotingWindowHours) * time.Hour
}

// SupportWindow is the trailing window for enforcement support counting.
func (p Policy) SupportWindow() time.Duration {
	return time.Duration(p.SupportWindowHours) * time.Hour
}

// SanctionDuration is how long a sanction rate limit stays in force.
func (p Policy) SanctionDuration() time.Duration {
	return time.Duration(p.SanctionDurationHours) * time.Hour
}

// SanctionWindow is the scheduling window a sanction limits actions within.
func (p Policy) SanctionWindow() time.Duration {
	return time.Duration(p.SanctionWindowMinutes) * time.Minute
}

// TurnTimeout is the wall-clock budget for one agent turn.
func (p Policy) TurnTimeout() time.Duration {
	return time.Duration(p.TurnTimeoutSeconds) * time.Second
}

// DefaultPolicy returns the shipped policy values.
func DefaultPolicy() Policy {
	return Policy{
		DailyFoodCost:     1,
		DailyEnergyCost:   1,
		DormantFoodCost:   0.25,
		DormantEnergyCost: 0.25,

		StarvationLimit:  5,
		RevivalFoodMin:   3,
		RevivalEnergyMin: 3,

		MessageEnergyCost:  0.5,
		ProposalEnergyCost: 2,
		VoteEnergyCost:     0.5,
		TradeEnergyCost:    0.5,
		SetNameEnergyCost:  0.25,
		WorkEnergyPerHour:  0.5,

		WorkBaseRate: 2,
		WorkMaxHours: 8,

		VotingWindowHours: 24,
		VoteQuorum:        5,
		MaxNameLength:     48,

		SupportThreshold:      5,
		SupportWindowHours:    24,
		SanctionDurationHours: 24,
		SanctionRateLimit:     1,
		SanctionWindowMinutes: 60,

		MaxFailureRate:    0.5,
		MaxPoolSaturation: 0.9,

		TurnTimeoutSeconds:  120,
		DecisionMaxAttempts: 3,
	}
}

// LoadPolicy reads a policy file, filling unset fields with defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("policy.yaml: %w", err)
	}
	return p, nil
}
