package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/store"
)

// Store is the SQLite-backed store.Store.
type Store struct {
	*Queries
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an initialized database.
func NewStore(database *sql.DB) *Store {
	return &Store{Queries: NewQueries(database), db: database}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics, and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapWriteError(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = mapWriteError(fmt.Errorf("commit transaction: %w", cerr))
		}
	}()

	return fn(NewQueries(tx))
}

// ClaimSummarization marks a round as being summarized if no live claim or
// summary exists for it.
func (s *Store) ClaimSummarization(ctx context.Context, roundID string, requireThreshold bool, staleBefore int64) (bool, error) {
	query := `
		UPDATE rounds SET summarizing = 1, summarizing_at = ?
		WHERE id = ?
		  AND (summarizing = 0 OR summarizing_at IS NULL OR summarizing_at < ?)
		  AND NOT EXISTS (SELECT 1 FROM summaries s WHERE s.round_id = rounds.id)
	`
	if requireThreshold {
		query += ` AND status = 'active' AND max_comments > 0 AND comment_count >= max_comments`
	}

	res, err := s.db.ExecContext(ctx, query, time.Now().Unix(), roundID, staleBefore)
	if err != nil {
		return false, mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}

// ReleaseSummarization clears the claim of a round that still has no summary.
func (s *Store) ReleaseSummarization(ctx context.Context, roundID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rounds SET summarizing = 0, summarizing_at = NULL
		WHERE id = ?
		  AND NOT EXISTS (SELECT 1 FROM summaries s WHERE s.round_id = rounds.id)
	`, roundID)
	return mapWriteError(err)
}
