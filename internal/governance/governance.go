// Package governance owns the proposal state machine, vote tallying, and
// the law registry derived from passed proposals.
package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/store"
)

// ErrVotingClosed is returned when a vote targets a proposal that is no
// longer accepting ballots.
var ErrVotingClosed = errors.New("governance: voting closed")

// ErrExiled is returned when an exiled agent attempts to vote.
var ErrExiled = errors.New("governance: agent is exiled")

// Proposal types with mechanical effects on passage. Other types (general
// motions, budget requests) resolve without side effects.
const (
	ProposalTypeLaw    = "law"
	ProposalTypeRepeal = "repeal"
)

// Service provides proposal, vote, and law operations.
type Service struct {
	store  *store.Store
	policy config.Policy
}

// New creates a governance Service.
func New(st *store.Store, pol config.Policy) *Service {
	return &Service{store: st, policy: pol}
}

// CreateProposal opens a new proposal in the active state. The voting
// deadline is fixed at creation and never moves. targetLaw is set only for
// repeal proposals; threshold is the resource ceiling a law-type proposal
// would legislate (the bound a later seizure may cite).
func (s *Service) CreateProposal(ctx context.Context, authorID int64, title, description, typ string, targetLaw *int64, threshold float64) (int64, error) {
	now := s.store.Now()
	closes := now.Add(s.policy.VotingWindow())
	res, err := s.store.DB().ExecContext(ctx,
		`INSERT INTO proposals (author_id, title, description, type, target_law_id, threshold, status, created_at, voting_closes_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		authorID, title, description, typ, targetLaw, threshold, store.ProposalActive,
		now.UnixMilli(), closes.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create proposal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("proposal id: %w", err)
	}
	slog.Info("proposal created", "proposal", id, "author", authorID, "type", typ, "closes_at", closes)
	return id, nil
}

// Proposal fetches one proposal by id.
func (s *Service) Proposal(ctx context.Context, id int64) (store.Proposal, error) {
	var p store.Proposal
	err := s.store.DB().GetContext(ctx, &p, `SELECT * FROM proposals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, fmt.Errorf("proposal %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Proposal{}, fmt.Errorf("get proposal %d: %w", id, err)
	}
	return p, nil
}

// OpenProposals lists proposals still accepting votes, oldest first.
func (s *Service) OpenProposals(ctx context.Context) ([]store.Proposal, error) {
	var out []store.Proposal
	err := s.store.DB().SelectContext(ctx, &out,
		`SELECT * FROM proposals WHERE status = ? ORDER BY id`, store.ProposalActive)
	if err != nil {
		return nil, fmt.Errorf("open proposals: %w", err)
	}
	return out, nil
}

// CastVote upserts the agent's ballot on a proposal. A later vote from the
// same agent replaces the earlier one, but only while the proposal is
// active and its deadline has not passed.
func (s *Service) CastVote(ctx context.Context, agentID, proposalID int64, choice store.VoteChoice) error {
	p, err := s.Proposal(ctx, proposalID)
	if err != nil {
		return err
	}
	now := s.store.Now()
	if p.Status != store.ProposalActive || now.UnixMilli() >= p.VotingClosesAt {
		return fmt.Errorf("proposal %d: %w", proposalID, ErrVotingClosed)
	}

	_, err = s.store.DB().ExecContext(ctx,
		`INSERT INTO votes (proposal_id, agent_id, choice, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(proposal_id, agent_id) DO UPDATE SET choice = excluded.choice, updated_at = excluded.updated_at`,
		proposalID, agentID, choice, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	return nil
}

// Tally recounts the vote rows for a proposal. Cached counters on the
// proposal row are never trusted without this reconciliation.
func (s *Service) Tally(ctx context.Context, proposalID int64) (yes, no, abstain int, err error) {
	rows := []struct {
		Choice store.VoteChoice `db:"choice"`
		N      int              `db:"n"`
	}{}
	err = s.store.DB().SelectContext(ctx, &rows,
		`SELECT choice, COUNT(*) AS n FROM votes WHERE proposal_id = ? GROUP BY choice`,
		proposalID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("tally proposal %d: %w", proposalID, err)
	}
	for _, r := range rows {
		switch r.Choice {
		case store.VoteYes:
			yes = r.N
		case store.VoteNo:
			no = r.N
		case store.VoteAbstain:
			abstain = r.N
		}
	}
	return yes, no, abstain, nil
}

// ResolveDue runs the resolution sweep: every active proposal whose
// deadline has passed is tallied and moved to a terminal state. The sweep
// is idempotent; already-resolved proposals are untouched.
func (s *Service) ResolveDue(ctx context.Context) (int, error) {
	now := s.store.Now()
	var due []store.Proposal
	err := s.store.DB().SelectContext(ctx, &due,
		`SELECT * FROM proposals WHERE status = ? AND voting_closes_at <= ? ORDER BY id`,
		store.ProposalActive, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("due proposals: %w", err)
	}

	resolved := 0
	for _, p := range due {
		if err := s.resolve(ctx, p); err != nil {
			slog.Error("proposal resolution failed", "proposal", p.ID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// resolve tallies one due proposal and applies the outcome.
//
// Policy (configurable, see config.Policy): participation below VoteQuorum
// expires the proposal; with quorum met it passes iff yes-votes strictly
// exceed no-votes, and fails otherwise (ties fail).
func (s *Service) resolve(ctx context.Context, p store.Proposal) error {
	yes, no, abstain, err := s.Tally(ctx, p.ID)
	if err != nil {
		return err
	}

	status := store.ProposalFailed
	total := yes + no + abstain
	switch {
	case total < s.policy.VoteQuorum:
		status = store.ProposalExpired
	case yes > no:
		status = store.ProposalPassed
	}

	now := s.store.Now().UnixMilli()
	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Guard on current status so a concurrent sweep resolves each
		// proposal exactly once.
		res, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, yes_count = ?, no_count = ?, abstain_count = ?, resolved_at = ?
			 WHERE id = ? AND status = ?`,
			status, yes, no, abstain, now, p.ID, store.ProposalActive)
		if err != nil {
			return fmt.Errorf("resolve proposal %d: %w", p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // already resolved elsewhere
		}

		if status == store.ProposalPassed {
			switch {
			case p.Type == ProposalTypeLaw:
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO laws (proposal_id, title, threshold, active, created_at) VALUES (?, ?, ?, 1, ?)
					 ON CONFLICT(proposal_id) DO NOTHING`,
					p.ID, p.Title, p.Threshold, now); err != nil {
					return fmt.Errorf("activate law for proposal %d: %w", p.ID, err)
				}
				if err := s.store.AppendEventTx(ctx, tx, nil, "", store.EventLawActivated, map[string]any{
					"proposal_id": p.ID,
					"title":       p.Title,
				}); err != nil {
					return err
				}
			case p.Type == ProposalTypeRepeal && p.TargetLawID != nil:
				if _, err := tx.ExecContext(ctx,
					`UPDATE laws SET active = 0, repealed_by = ? WHERE id = ? AND active = 1`,
					p.ID, *p.TargetLawID); err != nil {
					return fmt.Errorf("repeal law %d: %w", *p.TargetLawID, err)
				}
				if err := s.store.AppendEventTx(ctx, tx, nil, "", store.EventLawRepealed, map[string]any{
					"proposal_id": p.ID,
					"law_id":      *p.TargetLawID,
				}); err != nil {
					return err
				}
			}
		}

		return s.store.AppendEventTx(ctx, tx, nil, "", store.EventProposalResolved, map[string]any{
			"proposal_id": p.ID,
			"status":      string(status),
			"yes":         yes,
			"no":          no,
			"abstain":     abstain,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("proposal resolved",
		"proposal", p.ID,
		"status", status,
		"yes", yes,
		"no", no,
		"abstain", abstain,
	)
	return nil
}
