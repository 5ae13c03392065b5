package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/talgya/agora/internal/store"
)

// Law fetches one law by id.
func (s *Service) Law(ctx context.Context, id int64) (store.Law, error) {
	var l store.Law
	err := s.store.DB().GetContext(ctx, &l, `SELECT * FROM laws WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Law{}, fmt.Errorf("law %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Law{}, fmt.Errorf("get law %d: %w", id, err)
	}
	return l, nil
}

// ActiveLaws lists the currently enforceable laws, oldest first.
func (s *Service) ActiveLaws(ctx context.Context) ([]store.Law, error) {
	var out []store.Law
	err := s.store.DB().SelectContext(ctx, &out,
		`SELECT * FROM laws WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("active laws: %w", err)
	}
	return out, nil
}
