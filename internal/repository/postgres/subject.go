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

type subjectRepository struct {
	BaseRepository
}

func NewSubjectRepository(base BaseRepository) repository.SubjectRepository {
	return &subjectRepository{base}
}

func (r *subjectRepository) Create(ctx context.Context, subject *model.Subject) error {
	query := `
		INSERT INTO subjects (
			id, public_handle, full_name, notify_email, notify_phone,
			profile, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		subject.ID,
		subject.PublicHandle,
		subject.FullName,
		subject.NotifyEmail,
		subject.NotifyPhone,
		subject.Profile,
		subject.CreatedAt,
		subject.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}
	return nil
}

func (r *subjectRepository) Get(ctx context.Context, id uuid.UUID) (*model.Subject, error) {
	query := `SELECT * FROM subjects WHERE id = $1`

	var subject model.Subject
	if err := r.GetDB().GetContext(ctx, &subject, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return &subject, nil
}

func (r *subjectRepository) GetByPublicHandle(ctx context.Context, handle string) (*model.Subject, error) {
	query := `SELECT * FROM subjects WHERE public_handle = $1`

	var subject model.Subject
	if err := r.GetDB().GetContext(ctx, &subject, query, handle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subject by handle: %w", err)
	}
	return &subject, nil
}
