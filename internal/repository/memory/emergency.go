package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type EmergencyStore struct {
	mu     sync.Mutex
	events []*model.EmergencyAccessEvent
}

func NewEmergencyStore() *EmergencyStore {
	return &EmergencyStore{}
}

func (s *EmergencyStore) Create(_ context.Context, event *model.EmergencyAccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *EmergencyStore) ListForSubject(_ context.Context, subjectID uuid.UUID) ([]*model.EmergencyAccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.EmergencyAccessEvent
	for _, e := range s.events {
		if e.SubjectID == subjectID {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Count returns the number of stored events; a test helper.
func (s *EmergencyStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type SubjectStore struct {
	mu       sync.Mutex
	subjects map[uuid.UUID]*model.Subject
	byHandle map[string]uuid.UUID
}

func NewSubjectStore() *SubjectStore {
	return &SubjectStore{
		subjects: make(map[uuid.UUID]*model.Subject),
		byHandle: make(map[string]uuid.UUID),
	}
}

func (s *SubjectStore) Create(_ context.Context, subject *model.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *subject
	s.subjects[subject.ID] = &copied
	s.byHandle[subject.PublicHandle] = subject.ID
	return nil
}

func (s *SubjectStore) Get(_ context.Context, id uuid.UUID) (*model.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *SubjectStore) GetByPublicHandle(_ context.Context, handle string) (*model.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHandle[handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s.subjects[id]
	return &copied, nil
}
