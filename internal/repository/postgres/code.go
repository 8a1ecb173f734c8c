package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type codeRepository struct {
	BaseRepository
}

func NewCodeRepository(base BaseRepository) repository.CodeRepository {
	return &codeRepository{base}
}

func (r *codeRepository) Store(ctx context.Context, code *model.OneTimeCode) error {
	// One live code per identifier: issuing a new code supersedes the old.
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		invalidate := `
			UPDATE one_time_codes
			SET used_at = NOW()
			WHERE identifier = $1 AND used_at IS NULL
		`
		if _, err := tx.ExecContext(ctx, invalidate, code.Identifier); err != nil {
			return fmt.Errorf("failed to supersede prior codes: %w", err)
		}

		insert := `
			INSERT INTO one_time_codes (id, identifier, code, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		_, err := tx.ExecContext(ctx, insert,
			code.ID, code.Identifier, code.Code, code.ExpiresAt, code.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to store one-time code: %w", err)
		}
		return nil
	})
}

// Consume reads and invalidates the code in one statement so two concurrent
// verification attempts can never both succeed.
func (r *codeRepository) Consume(ctx context.Context, identifier, code string, now time.Time) (*model.OneTimeCode, error) {
	query := `
		UPDATE one_time_codes
		SET used_at = $1
		WHERE identifier = $2 AND code = $3 AND used_at IS NULL
		RETURNING id, identifier, code, expires_at, used_at, created_at
	`

	var otc model.OneTimeCode
	if err := r.GetDB().GetContext(ctx, &otc, query, now, identifier, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume one-time code: %w", err)
	}
	return &otc, nil
}
