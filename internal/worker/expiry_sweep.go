package worker

import (
	"context"
	"time"

	"github.com/arogyalock/consent-api/internal/service/consent"
	"github.com/arogyalock/consent-api/pkg/logger"
)

// ExpirySweepWorker proactively flips GRANTED artifacts past their TTL to
// EXPIRED. Readers apply lazy expiry themselves; the sweep only keeps the
// stored state readable for audit reviewers.
type ExpirySweepWorker struct {
	service  *consent.Service
	interval time.Duration
	logger   *logger.Logger
}

func NewExpirySweepWorker(service *consent.Service, interval time.Duration, logger *logger.Logger) *ExpirySweepWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ExpirySweepWorker{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

func (w *ExpirySweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting consent expiry sweep")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down consent expiry sweep")
			return
		case <-ticker.C:
			flipped, err := w.service.ExpireStale(ctx)
			if err != nil {
				w.logger.Error(err, "failed to sweep expired grants")
				continue
			}
			if flipped > 0 {
				w.logger.Info("swept expired grants", "count", flipped)
			}
		}
	}
}
