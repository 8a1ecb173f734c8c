package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type actorRepository struct {
	BaseRepository
}

func NewActorRepository(base BaseRepository) repository.ActorRepository {
	return &actorRepository{base}
}

func (r *actorRepository) Create(ctx context.Context, account *model.ActorAccount) error {
	query := `
		INSERT INTO actor_accounts (
			id, identifier, role, password_hash, status,
			login_attempts, last_login_attempt, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		account.ID,
		account.Identifier,
		account.Role,
		account.PasswordHash,
		account.Status,
		account.LoginAttempts,
		account.LastLoginAttempt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create actor account: %w", err)
	}
	return nil
}

func (r *actorRepository) Get(ctx context.Context, id uuid.UUID) (*model.ActorAccount, error) {
	query := `SELECT * FROM actor_accounts WHERE id = $1`

	var account model.ActorAccount
	if err := r.GetDB().GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get actor account: %w", err)
	}
	return &account, nil
}

func (r *actorRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.ActorAccount, error) {
	query := `SELECT * FROM actor_accounts WHERE identifier = $1`

	var account model.ActorAccount
	if err := r.GetDB().GetContext(ctx, &account, query, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get actor account: %w", err)
	}
	return &account, nil
}

func (r *actorRepository) Update(ctx context.Context, account *model.ActorAccount) error {
	query := `
		UPDATE actor_accounts
		SET status = $1, login_attempts = $2, last_login_attempt = $3, updated_at = NOW()
		WHERE id = $4
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		account.Status,
		account.LoginAttempts,
		account.LastLoginAttempt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update actor account: %w", err)
	}
	return nil
}
