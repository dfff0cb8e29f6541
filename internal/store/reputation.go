package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bizzylink/apiserver/types"
)

// ReputationRepository handles reputation votes, vouches and balance transfers.
type ReputationRepository struct {
	db *sql.DB
}

func NewReputationRepository(db *sql.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// ApplyVote stores giverID's vote for targetID and moves the target's
// reputation by the difference to any previous vote. The target row is locked
// for the transaction so concurrent votes from one giver are counted once.
// Repeating the current vote fails with ErrDuplicateVote.
func (r *ReputationRepository) ApplyVote(ctx context.Context, targetID, giverID, value int) (types.ReputationSummary, error) {
	var summary types.ReputationSummary
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var locked int
		if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, targetID).Scan(&locked); err != nil {
			return mapError(err)
		}

		var previous int
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM reputation_votes WHERE target_id = $1 AND giver_id = $2`,
			targetID, giverID,
		).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if previous == value {
			return ErrDuplicateVote
		}

		const upsert = `
			INSERT INTO reputation_votes (target_id, giver_id, value, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (target_id, giver_id) DO UPDATE
			SET value = EXCLUDED.value, created_at = EXCLUDED.created_at`
		if _, err := tx.ExecContext(ctx, upsert, targetID, giverID, value, time.Now()); err != nil {
			return err
		}

		const bump = `UPDATE users SET reputation = reputation + $1 WHERE id = $2 RETURNING reputation`
		if err := tx.QueryRowContext(ctx, bump, value-previous, targetID).Scan(&summary.Reputation); err != nil {
			return mapError(err)
		}

		const counts = `
			SELECT
				COUNT(1) FILTER (WHERE value = 1),
				COUNT(1) FILTER (WHERE value = -1)
			FROM reputation_votes
			WHERE target_id = $1`
		return tx.QueryRowContext(ctx, counts, targetID).Scan(&summary.PositiveCount, &summary.NegativeCount)
	})
	if err != nil {
		return types.ReputationSummary{}, err
	}
	return summary, nil
}

// ReputationHistory returns votes received by targetID, newest first.
func (r *ReputationRepository) ReputationHistory(ctx context.Context, targetID int) ([]types.ReputationEntry, error) {
	const query = `
		SELECT u.id, u.username, u.avatar, v.value, v.created_at
		FROM reputation_votes v
		JOIN users u ON u.id = v.giver_id
		WHERE v.target_id = $1
		ORDER BY v.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]types.ReputationEntry, 0)
	for rows.Next() {
		var entry types.ReputationEntry
		if err := rows.Scan(&entry.From.ID, &entry.From.Username, &entry.From.Avatar, &entry.Value, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpsertVouch records a vouch. An existing vouch from the same giver only has
// its context and date refreshed; the counter moves for new vouches only.
func (r *ReputationRepository) UpsertVouch(ctx context.Context, targetID, giverID int, vouchContext string) (bool, int, error) {
	var created bool
	var total int
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const upsert = `
			INSERT INTO vouches (target_id, giver_id, context, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (target_id, giver_id) DO UPDATE
			SET context = EXCLUDED.context, created_at = EXCLUDED.created_at
			RETURNING (xmax = 0)`
		if err := tx.QueryRowContext(ctx, upsert, targetID, giverID, vouchContext, time.Now()).Scan(&created); err != nil {
			return err
		}

		delta := 0
		if created {
			delta = 1
		}
		const bump = `UPDATE users SET vouches = vouches + $1 WHERE id = $2 RETURNING vouches`
		return mapError(tx.QueryRowContext(ctx, bump, delta, targetID).Scan(&total))
	})
	if err != nil {
		return false, 0, err
	}
	return created, total, nil
}

// VouchHistory returns vouches received by targetID, newest first.
func (r *ReputationRepository) VouchHistory(ctx context.Context, targetID int) ([]types.VouchEntry, error) {
	const query = `
		SELECT u.id, u.username, u.avatar, v.context, v.created_at
		FROM vouches v
		JOIN users u ON u.id = v.giver_id
		WHERE v.target_id = $1
		ORDER BY v.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]types.VouchEntry, 0)
	for rows.Next() {
		var entry types.VouchEntry
		if err := rows.Scan(&entry.From.ID, &entry.From.Username, &entry.From.Avatar, &entry.Context, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Transfer moves amount from one user to another and records the transaction.
func (r *ReputationRepository) Transfer(ctx context.Context, fromID, toID int, amount int64, message string) (types.Transaction, error) {
	txn := types.Transaction{
		From:      types.UserSummary{ID: fromID},
		To:        types.UserSummary{ID: toID},
		Amount:    amount,
		Message:   message,
		CreatedAt: time.Now(),
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const debit = `UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1`
		result, err := tx.ExecContext(ctx, debit, amount, fromID)
		if err != nil {
			return err
		}
		if affected, err := result.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return ErrInsufficientBalance
		}

		credit, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1 WHERE id = $2`, amount, toID)
		if err != nil {
			return err
		}
		if err := expectAffected(credit); err != nil {
			return err
		}

		const insert = `
			INSERT INTO transactions (from_id, to_id, amount, message, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`
		return tx.QueryRowContext(ctx, insert, fromID, toID, amount, message, txn.CreatedAt).Scan(&txn.ID)
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return txn, nil
}

// Transactions returns transfers sent or received by userID, newest first.
func (r *ReputationRepository) Transactions(ctx context.Context, userID int) ([]types.Transaction, error) {
	const query = `
		SELECT t.id, t.amount, t.message, t.created_at,
			f.id, f.username, f.avatar,
			d.id, d.username, d.avatar
		FROM transactions t
		JOIN users f ON f.id = t.from_id
		JOIN users d ON d.id = t.to_id
		WHERE t.from_id = $1 OR t.to_id = $1
		ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]types.Transaction, 0)
	for rows.Next() {
		var txn types.Transaction
		if err := rows.Scan(
			&txn.ID,
			&txn.Amount,
			&txn.Message,
			&txn.CreatedAt,
			&txn.From.ID,
			&txn.From.Username,
			&txn.From.Avatar,
			&txn.To.ID,
			&txn.To.Username,
			&txn.To.Avatar,
		); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
