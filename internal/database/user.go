package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// GetUserByID loads the identity and credit balance for a user. User
// provisioning and profile data belong to sibling services; rows here
// are created by the wallet service on first deposit.
func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	q := `SELECT id, username, balance FROM users WHERE id=$1`
	err := DB.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.Balance)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// debitBalance escrows amount inside tx, failing without any write
// when the balance cannot cover it.
func debitBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1 AND balance >= $2`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing user from a short balance so the
		// caller surfaces the right kind.
		var exists int
		if scanErr := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id=$1`, userID).Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return fmt.Errorf("debit user %s: unknown user", userID)
			}
			return scanErr
		}
		return errInsufficient
	}
	return nil
}

// creditBalance applies a payout or refund inside tx.
func creditBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("credit user %s: %w", userID, err)
	}
	return nil
}
