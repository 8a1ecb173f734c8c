package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/pkg/logger"
	"github.com/arogyalock/consent-api/pkg/messaging"
	"github.com/arogyalock/consent-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// ConsentNotifier fans a processed ledger event out to the subject.
type ConsentNotifier interface {
	NotifyConsentEvent(ctx context.Context, eventType string, artifact *model.ConsentArtifact) error
}

// OutboxProcessor drains pending outbox events: each event is published
// to the broker and, for ledger events, turned into a subject
// notification. Failures are marked for retry with a delay.
type OutboxProcessor struct {
	repo     repository.OutboxRepository
	broker   messaging.Broker
	notifier ConsentNotifier
	config   OutboxProcessorConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	notifier ConsentNotifier,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	m *metrics.Metrics,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	return &OutboxProcessor{
		repo:     repo,
		broker:   broker,
		notifier: notifier,
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.processEvents(ctx); err != nil {
				p.logger.Error(err, "failed to process outbox events")
			}
		}
	}
}

func (p *OutboxProcessor) processEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}
	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := retry(p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.handle(ctx, event)
	})

	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		errStr := err.Error()
		retryAt := time.Now().Add(p.config.RetryDelay * time.Duration(event.RetryCount+1))
		status := model.OutboxStatusPending
		if event.RetryCount+1 >= p.config.RetryAttempts {
			status = model.OutboxStatusFailed
		}
		if updateErr := p.repo.UpdateStatus(ctx, event.ID, status, &errStr, &retryAt); updateErr != nil {
			p.logger.Error(updateErr, "failed to update event status")
		}
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (p *OutboxProcessor) handle(ctx context.Context, event *model.OutboxEvent) error {
	if err := p.broker.Publish(ctx, messaging.ChannelConsentEvents, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	switch event.EventType {
	case model.OutboxEventConsentRequested, model.OutboxEventConsentResolved, model.OutboxEventConsentRevoked:
		if p.notifier == nil {
			return nil
		}
		var artifact model.ConsentArtifact
		if err := json.Unmarshal(event.Payload, &artifact); err != nil {
			return fmt.Errorf("failed to decode artifact payload: %w", err)
		}
		return p.notifier.NotifyConsentEvent(ctx, event.EventType, &artifact)
	}
	return nil
}

func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
