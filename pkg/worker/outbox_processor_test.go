package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository/memory"
	"github.com/arogyalock/consent-api/pkg/logger"
	"github.com/arogyalock/consent-api/pkg/metrics"
)

// promauto registers against the default registerer, so the test metrics
// are created once for the whole package.
var testMetrics = metrics.NewMetrics("outbox_processor_test")

type stubBroker struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (b *stubBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, channel)
	return nil
}

func (b *stubBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBroker) Close() error { return nil }

type stubConsentNotifier struct {
	eventTypes []string
}

func (n *stubConsentNotifier) NotifyConsentEvent(_ context.Context, eventType string, _ *model.ConsentArtifact) error {
	n.eventTypes = append(n.eventTypes, eventType)
	return nil
}

type fixture struct {
	processor *OutboxProcessor
	store     *memory.OutboxStore
	broker    *stubBroker
	notifier  *stubConsentNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewOutboxStore(),
		broker:   &stubBroker{},
		notifier: &stubConsentNotifier{},
	}
	f.processor = NewOutboxProcessor(f.store, f.broker, f.notifier, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, logger.NewLogger(nil), testMetrics)
	return f
}

func (f *fixture) enqueue(t *testing.T, eventType string) *model.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(&model.ConsentArtifact{
		Base:        model.Base{ID: uuid.New()},
		SubjectID:   uuid.New(),
		RequesterID: uuid.New(),
		Status:      model.ConsentStatusRequested,
	})
	require.NoError(t, err)

	event := &model.OutboxEvent{EventType: eventType, Payload: payload}
	require.NoError(t, f.store.Create(context.Background(), event))
	return event
}

func TestProcessPublishesLedgerEventAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, model.OutboxEventConsentRequested)

	require.NoError(t, f.processor.processEvents(context.Background()))

	assert.Equal(t, []string{"consent-events"}, f.broker.published)
	assert.Equal(t, []string{model.OutboxEventConsentRequested}, f.notifier.eventTypes)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusProcessed), events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)
}

func TestProcessSkipsNotifierForNonLedgerEvents(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, model.OutboxEventEmergencyAccessed)

	require.NoError(t, f.processor.processEvents(context.Background()))

	assert.Len(t, f.broker.published, 1)
	assert.Empty(t, f.notifier.eventTypes)
}

func TestPublishFailureMarksEventForRetry(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, model.OutboxEventConsentRequested)
	f.broker.err = errors.New("broker down")

	require.NoError(t, f.processor.processEvents(context.Background()))

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusPending), events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Contains(t, *events[0].ErrorMessage, "broker down")
	require.NotNil(t, events[0].RetryAt)
	assert.Empty(t, f.notifier.eventTypes)
}

func TestExhaustedRetriesMarkEventFailed(t *testing.T) {
	f := newFixture(t)
	event := f.enqueue(t, model.OutboxEventConsentRequested)
	event.RetryCount = 2
	f.broker.err = errors.New("broker down")

	_ = f.processor.processEvent(context.Background(), event)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusFailed), events[0].Status)
}
