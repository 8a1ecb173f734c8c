// Package memory holds in-memory store implementations used by unit tests
// and local development. They honor the same conditional-transition
// semantics as the postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type ConsentStore struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]*model.ConsentArtifact
}

func NewConsentStore() *ConsentStore {
	return &ConsentStore{artifacts: make(map[uuid.UUID]*model.ConsentArtifact)}
}

func (s *ConsentStore) Create(_ context.Context, artifact *model.ConsentArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if artifact.Status == model.ConsentStatusGranted {
		for _, a := range s.artifacts {
			if a.Status == model.ConsentStatusGranted &&
				a.SubjectID == artifact.SubjectID &&
				a.RequesterID == artifact.RequesterID &&
				a.Purpose == artifact.Purpose {
				return repository.ErrDuplicateActiveGrant
			}
		}
	}

	copied := *artifact
	s.artifacts[artifact.ID] = &copied
	return nil
}

func (s *ConsentStore) Get(_ context.Context, id uuid.UUID) (*model.ConsentArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

// Transition is atomic under the store mutex: of two concurrent calls on
// the same artifact, exactly one observes `from` and commits. A move to
// GRANTED additionally fails with ErrDuplicateActiveGrant while a sibling
// of the same (subject, requester, purpose) triple holds GRANTED, the
// same status-keyed uniqueness the postgres partial index enforces.
func (s *ConsentStore) Transition(_ context.Context, id uuid.UUID, from, to model.ConsentStatus, grantedAt, expiresAt *time.Time) (*model.ConsentArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if a.Status != from {
		return nil, repository.ErrStaleTransition
	}
	if to == model.ConsentStatusGranted {
		for _, sib := range s.artifacts {
			if sib.ID != a.ID && sib.Status == model.ConsentStatusGranted &&
				sib.SubjectID == a.SubjectID &&
				sib.RequesterID == a.RequesterID &&
				sib.Purpose == a.Purpose {
				return nil, repository.ErrDuplicateActiveGrant
			}
		}
	}

	a.Status = to
	if grantedAt != nil {
		a.GrantedAt = grantedAt
	}
	if expiresAt != nil {
		a.ExpiresAt = expiresAt
	}
	a.UpdatedAt = time.Now()

	copied := *a
	return &copied, nil
}

func (s *ConsentStore) ActiveGrant(_ context.Context, subjectID, requesterID uuid.UUID, purpose string, now time.Time) (*model.ConsentArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *model.ConsentArtifact
	for _, a := range s.artifacts {
		if a.SubjectID != subjectID || a.RequesterID != requesterID || a.Purpose != purpose {
			continue
		}
		if a.Status != model.ConsentStatusGranted || a.ExpiresAt == nil || !a.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

func (s *ConsentStore) ListForSubject(_ context.Context, subjectID uuid.UUID) ([]*model.ConsentArtifact, error) {
	return s.list(func(a *model.ConsentArtifact) bool { return a.SubjectID == subjectID }), nil
}

func (s *ConsentStore) ListForRequester(_ context.Context, requesterID uuid.UUID) ([]*model.ConsentArtifact, error) {
	return s.list(func(a *model.ConsentArtifact) bool { return a.RequesterID == requesterID }), nil
}

func (s *ConsentStore) ListForPair(_ context.Context, subjectID, requesterID uuid.UUID) ([]*model.ConsentArtifact, error) {
	return s.list(func(a *model.ConsentArtifact) bool {
		return a.SubjectID == subjectID && a.RequesterID == requesterID
	}), nil
}

func (s *ConsentStore) list(match func(*model.ConsentArtifact) bool) []*model.ConsentArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ConsentArtifact
	for _, a := range s.artifacts {
		if match(a) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *ConsentStore) MarkExpired(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.artifacts[id]; ok && a.Status == model.ConsentStatusGranted {
		a.Status = model.ConsentStatusExpired
		a.UpdatedAt = time.Now()
	}
	return nil
}

func (s *ConsentStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.artifacts {
		if a.Status == model.ConsentStatusGranted && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			a.Status = model.ConsentStatusExpired
			a.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}
