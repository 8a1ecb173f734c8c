package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type emergencyRepository struct {
	BaseRepository
}

func NewEmergencyRepository(base BaseRepository) repository.EmergencyRepository {
	return &emergencyRepository{base}
}

type emergencyRow struct {
	model.EmergencyAccessEvent
	FieldsArr pq.StringArray `db:"fields_disclosed"`
}

func (r emergencyRow) event() *model.EmergencyAccessEvent {
	e := r.EmergencyAccessEvent
	e.FieldsDisclosed = []string(r.FieldsArr)
	return &e
}

func (r *emergencyRepository) Create(ctx context.Context, event *model.EmergencyAccessEvent) error {
	query := `
		INSERT INTO emergency_access_events (
			id, subject_id, accessor_fingerprint, duration_cap_seconds,
			fields_disclosed, notified_subject, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.GetDB().ExecContext(ctx, query,
		event.ID,
		event.SubjectID,
		event.AccessorFingerprint,
		event.DurationCapSeconds,
		pq.Array(event.FieldsDisclosed),
		event.NotifiedSubject,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append emergency access event: %w", err)
	}
	return nil
}

func (r *emergencyRepository) ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*model.EmergencyAccessEvent, error) {
	query := `
		SELECT id, subject_id, accessor_fingerprint, duration_cap_seconds,
			fields_disclosed, notified_subject, created_at
		FROM emergency_access_events
		WHERE subject_id = $1
		ORDER BY created_at DESC
	`

	var rows []emergencyRow
	if err := r.GetDB().SelectContext(ctx, &rows, query, subjectID); err != nil {
		return nil, fmt.Errorf("failed to list emergency access events: %w", err)
	}

	events := make([]*model.EmergencyAccessEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.event())
	}
	return events, nil
}
