package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/pkg/metrics"
)

// ErrAuditUnavailable is returned when a record could not be appended.
// Callers treat this as fatal: no clinical disclosure proceeds unaudited.
var ErrAuditUnavailable = errors.New("audit store unavailable")

type Service struct {
	repo    repository.AuditRepository
	metrics *metrics.Metrics
}

func NewService(repo repository.AuditRepository, m *metrics.Metrics) *Service {
	return &Service{repo: repo, metrics: m}
}

type LogOptions struct {
	Metadata  interface{}
	IPAddress string
	UserAgent string
}

// Log appends a record synchronously. It returns ErrAuditUnavailable if the
// append fails; there is no update or delete path.
func (s *Service) Log(ctx context.Context, actorID *uuid.UUID, subjectID uuid.UUID, action, resource, outcome string, opts *LogOptions) error {
	var metadata json.RawMessage
	var ipAddress, userAgent string

	if opts != nil {
		if opts.Metadata != nil {
			raw, err := json.Marshal(opts.Metadata)
			if err != nil {
				return err
			}
			metadata = raw
		}
		ipAddress = opts.IPAddress
		userAgent = opts.UserAgent
	}

	// Pick up IP and User-Agent from gin context if not provided
	if gc, ok := ctx.(*gin.Context); ok && ipAddress == "" {
		ipAddress = gc.ClientIP()
		userAgent = gc.GetHeader("User-Agent")
	}

	record := &model.AuditRecord{
		ID:        uuid.New(),
		ActorID:   actorID,
		SubjectID: subjectID,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Metadata:  metadata,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		if s.metrics != nil {
			s.metrics.AuditAppendErrors.Inc()
		}
		return errors.Join(ErrAuditUnavailable, err)
	}
	if s.metrics != nil {
		s.metrics.AuditAppends.Inc()
	}
	return nil
}

func (s *Service) Query(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditRecord, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) GetAggregateStats(ctx context.Context, filter *model.AuditFilter) (*model.AggregateStats, error) {
	return s.repo.GetAggregateStats(ctx, filter)
}

// PurgeBefore removes records older than the retention horizon.
func (s *Service) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteBefore(ctx, cutoff)
}
