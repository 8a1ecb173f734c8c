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

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, subject_id, type, channel, recipient, subject, content,
			status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		n.ID, n.SubjectID, n.Type, n.Channel, n.Recipient, n.Subject,
		n.Content, n.Status, n.RetryCount, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	query := `
		UPDATE notifications
		SET status = $1, retry_count = $2, last_error = $3, sent_at = $4, updated_at = NOW()
		WHERE id = $5
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		n.Status, n.RetryCount, n.LastError, n.SentAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT * FROM notifications WHERE id = $1`

	var n model.Notification
	if err := r.GetDB().GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}
