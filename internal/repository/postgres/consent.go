package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type consentRepository struct {
	BaseRepository
}

func NewConsentRepository(base BaseRepository) repository.ConsentRepository {
	return &consentRepository{base}
}

// consentRow carries the text[] scope column alongside the model.
type consentRow struct {
	model.ConsentArtifact
	ScopeArr pq.StringArray `db:"scope"`
}

func (r consentRow) artifact() *model.ConsentArtifact {
	a := r.ConsentArtifact
	a.Scope = []string(r.ScopeArr)
	return &a
}

const consentColumns = `id, subject_id, requester_id, purpose, scope, status,
		granted_at, expires_at, date_from, date_to, created_at, updated_at`

func (r *consentRepository) Create(ctx context.Context, artifact *model.ConsentArtifact) error {
	query := `
		INSERT INTO consent_artifacts (
			id, subject_id, requester_id, purpose, scope, status,
			date_from, date_to, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		artifact.ID,
		artifact.SubjectID,
		artifact.RequesterID,
		artifact.Purpose,
		pq.Array(artifact.Scope),
		artifact.Status,
		artifact.DateFrom,
		artifact.DateTo,
		artifact.CreatedAt,
		artifact.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on (subject_id, requester_id, purpose)
		// WHERE status = 'GRANTED' backs the single-active-grant invariant.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return repository.ErrDuplicateActiveGrant
		}
		return fmt.Errorf("failed to create consent artifact: %w", err)
	}
	return nil
}

func (r *consentRepository) Get(ctx context.Context, id uuid.UUID) (*model.ConsentArtifact, error) {
	query := `SELECT ` + consentColumns + ` FROM consent_artifacts WHERE id = $1`

	var row consentRow
	if err := r.GetDB().GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consent artifact: %w", err)
	}
	return row.artifact(), nil
}

func (r *consentRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.ConsentStatus, grantedAt, expiresAt *time.Time) (*model.ConsentArtifact, error) {
	// Conditional update serializes concurrent transitions on the same
	// artifact: only the call that still sees `from` commits.
	query := `
		UPDATE consent_artifacts
		SET status = $1,
			granted_at = COALESCE($2, granted_at),
			expires_at = COALESCE($3, expires_at),
			updated_at = NOW()
		WHERE id = $4 AND status = $5
		RETURNING ` + consentColumns

	var row consentRow
	err := r.GetDB().GetContext(ctx, &row, query, to, grantedAt, expiresAt, id, from)
	if err == nil {
		return row.artifact(), nil
	}
	// A move to GRANTED can trip the partial unique index when a sibling
	// of the triple already holds GRANTED.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return nil, repository.ErrDuplicateActiveGrant
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition consent artifact: %w", err)
	}

	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, repository.ErrStaleTransition
}

func (r *consentRepository) ActiveGrant(ctx context.Context, subjectID, requesterID uuid.UUID, purpose string, now time.Time) (*model.ConsentArtifact, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consent_artifacts
		WHERE subject_id = $1 AND requester_id = $2 AND purpose = $3
		AND status = $4 AND expires_at > $5
		ORDER BY created_at DESC
		LIMIT 1
	`

	var row consentRow
	err := r.GetDB().GetContext(ctx, &row, query, subjectID, requesterID, purpose, model.ConsentStatusGranted, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up active grant: %w", err)
	}
	return row.artifact(), nil
}

func (r *consentRepository) ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*model.ConsentArtifact, error) {
	return r.list(ctx, "subject_id = $1", subjectID)
}

func (r *consentRepository) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]*model.ConsentArtifact, error) {
	return r.list(ctx, "requester_id = $1", requesterID)
}

func (r *consentRepository) ListForPair(ctx context.Context, subjectID, requesterID uuid.UUID) ([]*model.ConsentArtifact, error) {
	return r.list(ctx, "subject_id = $1 AND requester_id = $2", subjectID, requesterID)
}

func (r *consentRepository) list(ctx context.Context, where string, args ...interface{}) ([]*model.ConsentArtifact, error) {
	query := `SELECT ` + consentColumns + ` FROM consent_artifacts WHERE ` + where + ` ORDER BY created_at DESC`

	var rows []consentRow
	if err := r.GetDB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list consent artifacts: %w", err)
	}

	artifacts := make([]*model.ConsentArtifact, 0, len(rows))
	for _, row := range rows {
		artifacts = append(artifacts, row.artifact())
	}
	return artifacts, nil
}

func (r *consentRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE consent_artifacts
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	_, err := r.GetDB().ExecContext(ctx, query, model.ConsentStatusExpired, id, model.ConsentStatusGranted)
	if err != nil {
		return fmt.Errorf("failed to mark artifact expired: %w", err)
	}
	return nil
}

func (r *consentRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE consent_artifacts
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3
	`

	result, err := r.GetDB().ExecContext(ctx, query, model.ConsentStatusExpired, model.ConsentStatusGranted, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale grants: %w", err)
	}
	return result.RowsAffected()
}
