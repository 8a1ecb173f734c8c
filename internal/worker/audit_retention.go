package worker

import (
	"context"
	"time"

	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/pkg/logger"
)

// AuditRetentionWorker purges trail records past the retention horizon.
// This is the only delete path the audit store has.
type AuditRetentionWorker struct {
	service       *audit.Service
	retentionDays int
	interval      time.Duration
	logger        *logger.Logger
}

func NewAuditRetentionWorker(service *audit.Service, retentionDays int, interval time.Duration, logger *logger.Logger) *AuditRetentionWorker {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AuditRetentionWorker{
		service:       service,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
	}
}

func (w *AuditRetentionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting audit retention worker")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down audit retention worker")
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -w.retentionDays)
			purged, err := w.service.PurgeBefore(ctx, cutoff)
			if err != nil {
				w.logger.Error(err, "failed to purge audit records")
				continue
			}
			if purged > 0 {
				w.logger.Info("purged audit records past retention", "count", purged)
			}
		}
	}
}
