package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type OutboxStore struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{}
}

func (s *OutboxStore) Create(_ context.Context, event *model.OutboxEvent) error {
	if event == nil || event.Payload == nil {
		return fmt.Errorf("event and payload are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = uuid.New()
	event.Status = string(model.OutboxStatusPending)
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *OutboxStore) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []*model.OutboxEvent
	for _, e := range s.events {
		if e.Status != string(model.OutboxStatusPending) {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		copied := *e
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *OutboxStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID != id {
			continue
		}
		e.Status = string(status)
		e.ErrorMessage = errorMessage
		e.RetryAt = retryAt
		if retryAt != nil {
			e.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			now := time.Now()
			e.ProcessedAt = &now
		}
		e.UpdatedAt = time.Now()
		return nil
	}
	return repository.ErrNotFound
}

func (s *OutboxStore) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*model.OutboxEvent
	var n int64
	for _, e := range s.events {
		if e.Status == string(model.OutboxStatusProcessed) && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

// Events returns a snapshot of everything in the outbox; a test helper.
func (s *OutboxStore) Events() []*model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.OutboxEvent, 0, len(s.events))
	for _, e := range s.events {
		copied := *e
		out = append(out, &copied)
	}
	return out
}
