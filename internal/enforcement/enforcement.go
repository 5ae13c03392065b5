// Package enforcement applies community-authorized sanctions, seizures,
// and exiles against agents alleged to have violated an active law.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/governance"
	"github.com/talgya/agora/internal/ledger"
	"github.com/talgya/agora/internal/store"
)

var (
	// ErrInsufficientSupport is returned when fewer than the threshold
	// number of distinct agents support the action inside the window.
	ErrInsufficientSupport = errors.New("enforcement: insufficient support")

	// ErrNoCitedLaw is returned when the cited law is missing or repealed.
	ErrNoCitedLaw = errors.New("enforcement: no cited active law")

	// ErrNothingToSeize is returned when the target holds no more than
	// the cited law's threshold.
	ErrNothingToSeize = errors.New("enforcement: target holds no excess")
)

// Service applies enforcement primitives against world state.
type Service struct {
	store  *store.Store
	ledger *ledger.Ledger
	gov    *governance.Service
	policy config.Policy
}

// New creates an enforcement Service.
func New(st *store.Store, led *ledger.Ledger, gov *governance.Service, pol config.Policy) *Service {
	return &Service{store: st, ledger: led, gov: gov, policy: pol}
}

// RegisterSupport records one agent's backing for a prospective action.
// Re-registering refreshes the supporter's place in the rolling window.
func (s *Service) RegisterSupport(ctx context.Context, typ store.EnforcementType, targetID, lawID, supporterID int64) error {
	_, err := s.store.DB().ExecContext(ctx,
		`INSERT INTO enforcement_support (action_type, target_id, law_id, supporter_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(action_type, target_id, law_id, supporter_id) DO UPDATE SET created_at = excluded.created_at`,
		typ, targetID, lawID, supporterID, s.store.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("register support: %w", err)
	}
	return nil
}

// SupportCount counts distinct supporters inside the trailing window
// ending at t.
func (s *Service) SupportCount(ctx context.Context, typ store.EnforcementType, targetID, lawID int64, t time.Time) (int, error) {
	var n int
	since := t.Add(-s.policy.SupportWindow())
	err := s.store.DB().GetContext(ctx, &n,
		`SELECT COUNT(DISTINCT supporter_id) FROM enforcement_support
		 WHERE action_type = ? AND target_id = ? AND law_id = ? AND created_at > ? AND created_at <= ?`,
		typ, targetID, lawID, since.UnixMilli(), t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("support count: %w", err)
	}
	return n, nil
}

// Sanction places a temporary rate limit on the target. Resources and
// status are untouched.
func (s *Service) Sanction(ctx context.Context, targetID, lawID int64) (store.EnforcementAction, error) {
	count, err := s.authorize(ctx, store.EnforceSanction, targetID, lawID)
	if err != nil {
		return store.EnforcementAction{}, err
	}

	until := s.store.Now().Add(s.policy.SanctionDuration()).UnixMilli()
	if err := s.store.SetSanctionedUntil(ctx, targetID, until); err != nil {
		return store.EnforcementAction{}, err
	}
	return s.record(ctx, store.EnforceSanction, targetID, lawID, count, map[string]any{
		"until": until,
	})
}

// Seize transfers the target's holdings above the cited law's threshold to
// the common pool. The amount is bounded by the law's threshold, never the
// full balance.
func (s *Service) Seize(ctx context.Context, targetID, lawID int64, resource store.Resource) (store.EnforcementAction, error) {
	count, err := s.authorize(ctx, store.EnforceSeizure, targetID, lawID)
	if err != nil {
		return store.EnforcementAction{}, err
	}

	law, err := s.gov.Law(ctx, lawID)
	if err != nil {
		return store.EnforcementAction{}, err
	}
	balance, err := s.ledger.Balance(ctx, store.AgentHolder(targetID), resource)
	if err != nil {
		return store.EnforcementAction{}, err
	}
	excess := balance - law.Threshold
	if excess <= 0 {
		return store.EnforcementAction{}, fmt.Errorf("agent %d holds %v %s against threshold %v: %w",
			targetID, balance, resource, law.Threshold, ErrNothingToSeize)
	}

	err = s.ledger.Transfer(ctx, store.AgentHolder(targetID), store.CommonPool(), resource, excess, store.TxSeizure)
	if err != nil {
		return store.EnforcementAction{}, err
	}
	return s.record(ctx, store.EnforceSeizure, targetID, lawID, count, map[string]any{
		"resource": string(resource),
		"amount":   excess,
	})
}

// Exile revokes the target's voting rights. Status and resource access are
// untouched.
func (s *Service) Exile(ctx context.Context, targetID, lawID int64) (store.EnforcementAction, error) {
	count, err := s.authorize(ctx, store.EnforceExile, targetID, lawID)
	if err != nil {
		return store.EnforcementAction{}, err
	}

	if err := s.store.SetExiled(ctx, targetID, true); err != nil {
		return store.EnforcementAction{}, err
	}
	return s.record(ctx, store.EnforceExile, targetID, lawID, count, nil)
}

// authorize checks both preconditions shared by every primitive: a cited
// active law and enough distinct support inside the window.
func (s *Service) authorize(ctx context.Context, typ store.EnforcementType, targetID, lawID int64) (int, error) {
	law, err := s.gov.Law(ctx, lawID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("law %d: %w", lawID, ErrNoCitedLaw)
	}
	if err != nil {
		return 0, err
	}
	if !law.Active {
		return 0, fmt.Errorf("law %d repealed: %w", lawID, ErrNoCitedLaw)
	}

	count, err := s.SupportCount(ctx, typ, targetID, lawID, s.store.Now())
	if err != nil {
		return 0, err
	}
	if count < s.policy.SupportThreshold {
		return 0, fmt.Errorf("%d of %d supporters: %w", count, s.policy.SupportThreshold, ErrInsufficientSupport)
	}
	return count, nil
}

// record inserts the EnforcementAction row and its event. Effects were
// already applied; enforcement is immediate and not reversible here.
func (s *Service) record(ctx context.Context, typ store.EnforcementType, targetID, lawID int64, supportCount int, extra map[string]any) (store.EnforcementAction, error) {
	now := s.store.Now().UnixMilli()
	res, err := s.store.DB().ExecContext(ctx,
		`INSERT INTO enforcement_actions (type, target_id, law_id, support_count, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		typ, targetID, lawID, supportCount, now)
	if err != nil {
		return store.EnforcementAction{}, fmt.Errorf("record enforcement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.EnforcementAction{}, err
	}

	payload := map[string]any{
		"type":          string(typ),
		"law_id":        lawID,
		"support_count": supportCount,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.store.AppendEvent(ctx, &targetID, "", store.EventEnforcementApplied, payload); err != nil {
		slog.Error("enforcement event append failed", "target", targetID, "type", typ, "error", err)
	}

	slog.Info("enforcement applied", "type", typ, "target", targetID, "law", lawID, "support", supportCount)
	return store.EnforcementAction{
		ID:           id,
		Type:         typ,
		TargetID:     targetID,
		LawID:        lawID,
		SupportCount: supportCount,
		AppliedAt:    now,
	}, nil
}
