package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
)

type ActorStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*model.ActorAccount
	byIdent  map[string]uuid.UUID
}

func NewActorStore() *ActorStore {
	return &ActorStore{
		accounts: make(map[uuid.UUID]*model.ActorAccount),
		byIdent:  make(map[string]uuid.UUID),
	}
}

func (s *ActorStore) Create(_ context.Context, account *model.ActorAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *account
	s.accounts[account.ID] = &copied
	s.byIdent[account.Identifier] = account.ID
	return nil
}

func (s *ActorStore) Get(_ context.Context, id uuid.UUID) (*model.ActorAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *ActorStore) GetByIdentifier(_ context.Context, identifier string) (*model.ActorAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdent[identifier]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s.accounts[id]
	return &copied, nil
}

func (s *ActorStore) Update(_ context.Context, account *model.ActorAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *account
	s.accounts[account.ID] = &copied
	return nil
}

type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*model.OneTimeCode
}

func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[string]*model.OneTimeCode)}
}

func (s *CodeStore) Store(_ context.Context, code *model.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *code
	s.codes[code.Identifier] = &copied
	return nil
}

// Consume reads and invalidates atomically under the store mutex.
func (s *CodeStore) Consume(_ context.Context, identifier, code string, now time.Time) (*model.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	otc, ok := s.codes[identifier]
	if !ok || otc.Code != code || otc.UsedAt != nil {
		return nil, repository.ErrNotFound
	}

	used := now
	otc.UsedAt = &used
	copied := *otc
	return &copied, nil
}
