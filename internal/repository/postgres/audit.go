package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, record *model.AuditRecord) error {
	query := `
        INSERT INTO audit_records (
            id, actor_id, subject_id, action, resource, outcome,
            metadata, ip_address, user_agent, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	_, err := r.GetDB().ExecContext(ctx, query,
		record.ID,
		record.ActorID,
		record.SubjectID,
		record.Action,
		record.Resource,
		record.Outcome,
		record.Metadata,
		record.IPAddress,
		record.UserAgent,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditRecord, error) {
	query := `SELECT * FROM audit_records WHERE 1=1`
	var args []interface{}

	if filter.SubjectID != nil {
		args = append(args, *filter.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if filter.ActorID != nil {
		args = append(args, *filter.ActorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		query += fmt.Sprintf(" AND outcome = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	// Keyset cursor keeps the sequence restartable without OFFSET drift.
	if filter.Before != nil {
		args = append(args, *filter.Before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	var records []*model.AuditRecord
	if err := r.GetDB().SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}

func (r *auditRepository) GetAggregateStats(ctx context.Context, filter *model.AuditFilter) (*model.AggregateStats, error) {
	var args []interface{}
	whereClause := "WHERE 1=1"

	if filter.From != nil {
		args = append(args, *filter.From)
		whereClause += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		whereClause += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if filter.SubjectID != nil {
		args = append(args, *filter.SubjectID)
		whereClause += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}

	stats := &model.AggregateStats{
		ActionCounts:   make(map[string]int),
		OutcomeCounts:  make(map[string]int),
		HourlyActivity: make(map[int]int),
	}

	countQuery := "SELECT COUNT(*) FROM audit_records " + whereClause
	if err := r.GetDB().GetContext(ctx, &stats.TotalRecords, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	actionQuery := `
        SELECT action, COUNT(*) as count
        FROM audit_records ` + whereClause + `
        GROUP BY action
    `
	rows, err := r.GetDB().QueryContext(ctx, actionQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get action counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		stats.ActionCounts[action] = count
	}

	outcomeQuery := `
        SELECT outcome, COUNT(*) as count
        FROM audit_records ` + whereClause + `
        GROUP BY outcome
    `
	rows, err = r.GetDB().QueryContext(ctx, outcomeQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats.OutcomeCounts[outcome] = count
	}

	hourQuery := `
        SELECT EXTRACT(HOUR FROM created_at)::int as hour, COUNT(*) as count
        FROM audit_records ` + whereClause + `
        GROUP BY hour
    `
	rows, err = r.GetDB().QueryContext(ctx, hourQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		stats.HourlyActivity[hour] = count
	}

	return stats, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM audit_records WHERE created_at < $1`

	result, err := r.GetDB().ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	return result.RowsAffected()
}
