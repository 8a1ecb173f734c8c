package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arogyalock/consent-api/internal/model"
)

type AuditStore struct {
	mu      sync.Mutex
	records []*model.AuditRecord
	// failWith, when set, simulates an unavailable trail store.
	failWith error
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// FailWith makes every append fail, for exercising the
// no-unaudited-access invariant.
func (s *AuditStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *AuditStore) Create(_ context.Context, record *model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	copied := *record
	s.records = append(s.records, &copied)
	return nil
}

func (s *AuditStore) List(_ context.Context, filter *model.AuditFilter) ([]*model.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.AuditRecord
	for _, r := range s.records {
		if filter.SubjectID != nil && r.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.ActorID != nil && (r.ActorID == nil || *r.ActorID != *filter.ActorID) {
			continue
		}
		if filter.Action != "" && r.Action != filter.Action {
			continue
		}
		if filter.Outcome != "" && r.Outcome != filter.Outcome {
			continue
		}
		if filter.From != nil && r.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.Before != nil && !r.CreatedAt.Before(*filter.Before) {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AuditStore) GetAggregateStats(ctx context.Context, filter *model.AuditFilter) (*model.AggregateStats, error) {
	all, err := s.List(ctx, &model.AuditFilter{
		SubjectID: filter.SubjectID,
		From:      filter.From,
		To:        filter.To,
		Limit:     500,
	})
	if err != nil {
		return nil, err
	}

	stats := &model.AggregateStats{
		ActionCounts:   make(map[string]int),
		OutcomeCounts:  make(map[string]int),
		HourlyActivity: make(map[int]int),
	}
	stats.TotalRecords = int64(len(all))
	for _, r := range all {
		stats.ActionCounts[r.Action]++
		stats.OutcomeCounts[r.Outcome]++
		stats.HourlyActivity[r.CreatedAt.Hour()]++
	}
	return stats, nil
}

func (s *AuditStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*model.AuditRecord
	var n int64
	for _, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n, nil
}

// Count returns the number of stored records; a test helper.
func (s *AuditStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
