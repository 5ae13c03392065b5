// Package ledger owns resource balances for agents and the common pool.
// All mutations are additive or subtractive, assert non-negativity under
// the same transaction that applies them, and append an audit row.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/agora/internal/store"
)

// ErrInsufficientFunds is returned when a debit or transfer would take a
// balance below zero.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Ledger provides atomic balance operations over the store.
type Ledger struct {
	store *store.Store
}

// New creates a Ledger over the given store.
func New(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// Balance returns the current balance for one (holder, resource) pair.
// Holders with no row yet have a zero balance.
func (l *Ledger) Balance(ctx context.Context, h store.Holder, r store.Resource) (float64, error) {
	var amount float64
	err := l.store.DB().GetContext(ctx, &amount,
		`SELECT COALESCE(SUM(amount), 0) FROM balances
		 WHERE holder_kind = ? AND holder_id = ? AND resource = ?`,
		h.Kind, h.ID, r)
	if err != nil {
		return 0, fmt.Errorf("balance %s/%d/%s: %w", h.Kind, h.ID, r, err)
	}
	return amount, nil
}

// Balances returns all of a holder's balances keyed by resource.
func (l *Ledger) Balances(ctx context.Context, h store.Holder) (map[store.Resource]float64, error) {
	rows := []struct {
		Resource store.Resource `db:"resource"`
		Amount   float64        `db:"amount"`
	}{}
	err := l.store.DB().SelectContext(ctx, &rows,
		`SELECT resource, amount FROM balances WHERE holder_kind = ? AND holder_id = ?`,
		h.Kind, h.ID)
	if err != nil {
		return nil, fmt.Errorf("balances %s/%d: %w", h.Kind, h.ID, err)
	}
	out := make(map[store.Resource]float64, len(rows))
	for _, r := range rows {
		out[r.Resource] = r.Amount
	}
	return out, nil
}

// Credit adds amount to a holder's balance and records the audit row.
func (l *Ledger) Credit(ctx context.Context, h store.Holder, r store.Resource, amount float64, kind store.TransactionKind) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := creditTx(ctx, tx, h, r, amount); err != nil {
			return err
		}
		return l.auditTx(ctx, tx, store.CommonPool(), h, r, amount, kind)
	})
}

// Debit subtracts amount from a holder's balance. The non-negativity check
// and the subtraction happen in the same statement, so concurrent debits
// can never drive a balance negative.
func (l *Ledger) Debit(ctx context.Context, h store.Holder, r store.Resource, amount float64, kind store.TransactionKind) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := debitTx(ctx, tx, h, r, amount); err != nil {
			return err
		}
		return l.auditTx(ctx, tx, h, store.CommonPool(), r, amount, kind)
	})
}

// DebitAll subtracts every cost in one atomic unit. If any single debit
// would go negative, no balance changes.
func (l *Ledger) DebitAll(ctx context.Context, h store.Holder, costs map[store.Resource]float64, kind store.TransactionKind) error {
	for _, amount := range costs {
		if err := checkAmount(amount); err != nil {
			return err
		}
	}
	return l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Iterate in a fixed order so audit rows are deterministic.
		for _, r := range store.Resources {
			amount, ok := costs[r]
			if !ok {
				continue
			}
			if err := debitTx(ctx, tx, h, r, amount); err != nil {
				return err
			}
			if err := l.auditTx(ctx, tx, h, store.CommonPool(), r, amount, kind); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transfer moves amount from one holder to another as a single atomic unit.
// A failure after the debit is never observable: the whole transaction
// rolls back.
func (l *Ledger) Transfer(ctx context.Context, from, to store.Holder, r store.Resource, amount float64, kind store.TransactionKind) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("ledger: transfer to self")
	}
	return l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := debitTx(ctx, tx, from, r, amount); err != nil {
			return err
		}
		if err := creditTx(ctx, tx, to, r, amount); err != nil {
			return err
		}
		return l.auditTx(ctx, tx, from, to, r, amount, kind)
	})
}

// Transactions returns audit rows of one kind since the given time, oldest first.
func (l *Ledger) Transactions(ctx context.Context, kind store.TransactionKind, since time.Time) ([]store.Transaction, error) {
	var out []store.Transaction
	err := l.store.DB().SelectContext(ctx, &out,
		`SELECT * FROM transactions WHERE kind = ? AND created_at >= ? ORDER BY id`,
		kind, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("transactions (%s): %w", kind, err)
	}
	return out, nil
}

func checkAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: amount must be positive, got %v", amount)
	}
	return nil
}

func creditTx(ctx context.Context, tx *sqlx.Tx, h store.Holder, r store.Resource, amount float64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balances (holder_kind, holder_id, resource, amount) VALUES (?, ?, ?, ?)
		 ON CONFLICT(holder_kind, holder_id, resource) DO UPDATE SET amount = amount + excluded.amount`,
		h.Kind, h.ID, r, amount)
	if err != nil {
		return fmt.Errorf("credit %s/%d/%s: %w", h.Kind, h.ID, r, err)
	}
	return nil
}

func debitTx(ctx context.Context, tx *sqlx.Tx, h store.Holder, r store.Resource, amount float64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE balances SET amount = amount - ?
		 WHERE holder_kind = ? AND holder_id = ? AND resource = ? AND amount >= ?`,
		amount, h.Kind, h.ID, r, amount)
	if err != nil {
		return fmt.Errorf("debit %s/%d/%s: %w", h.Kind, h.ID, r, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("debit %s/%d/%s of %v: %w", h.Kind, h.ID, r, amount, ErrInsufficientFunds)
	}
	return nil
}

func (l *Ledger) auditTx(ctx context.Context, tx *sqlx.Tx, from, to store.Holder, r store.Resource, amount float64, kind store.TransactionKind) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (from_kind, from_id, to_kind, to_id, resource, amount, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		from.Kind, from.ID, to.Kind, to.ID, r, amount, kind, l.store.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}
