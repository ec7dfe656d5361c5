package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/teams-extractor/internal/models"
)

// MemoryStore is an in-memory Store for tests and local runs. It applies
// the same duplicate and not-found semantics as the Postgres store.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[int64]*models.Record
	byMessageID map[string]int64
	nextID      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[int64]*models.Record),
		byMessageID: make(map[string]int64),
		nextID:      1,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, res models.Resolution) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.MessageID != "" {
		if _, exists := s.byMessageID[res.MessageID]; exists {
			return 0, ErrDuplicate
		}
	}

	id := s.nextID
	s.nextID++
	now := time.Now().UTC()

	s.records[id] = &models.Record{
		ID:             id,
		MessageID:      res.MessageID,
		Channel:        res.Channel,
		Author:         res.Author,
		Timestamp:      res.Timestamp,
		Classification: res.Classification,
		ResolutionText: res.ResolutionText,
		QuotedRequest:  res.QuotedRequest,
		Permalink:      res.Permalink,
		Status:         models.StatusReceived,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if res.MessageID != "" {
		s.byMessageID[res.MessageID] = id
	}
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, id int64, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}

	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Payload != nil {
		rec.Payload = upd.Payload
	}
	if upd.ForwardCode != nil {
		rec.ForwardCode = upd.ForwardCode
	}
	if upd.ForwardBody != nil {
		rec.ForwardBody = *upd.ForwardBody
	}
	if upd.Error != nil {
		rec.Error = *upd.Error
	} else if upd.ClearError {
		rec.Error = ""
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.Record
	for _, rec := range s.records {
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if q.Author != "" && !strings.Contains(rec.Author, q.Author) {
			continue
		}
		if q.Channel != "" && !strings.Contains(rec.Channel, q.Channel) {
			continue
		}
		records = append(records, cloneRecord(rec))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	if rec.MessageID != "" {
		delete(s.byMessageID, rec.MessageID)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	weekAgo := now.AddDate(0, 0, -7)

	stats := &Stats{Total: len(s.records)}
	for _, rec := range s.records {
		switch rec.Status {
		case models.StatusForwarded:
			stats.Forwarded++
		case models.StatusReceived:
			stats.Pending++
		case models.StatusFailed, models.StatusAgentError, models.StatusN8NError:
			stats.Failed++
		}
		if !rec.CreatedAt.Before(today) {
			stats.Today++
		}
		if !rec.CreatedAt.Before(weekAgo) {
			stats.ThisWeek++
		}
	}
	return stats, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// cloneRecord copies a record including its nested maps and pointers, so
// callers never share mutable state with the store.
func cloneRecord(rec *models.Record) *models.Record {
	clone := *rec
	clone.Classification = maps.Clone(rec.Classification)
	if rec.QuotedRequest != nil {
		q := *rec.QuotedRequest
		clone.QuotedRequest = &q
	}
	if rec.Payload != nil {
		p := *rec.Payload
		p.Labels = slices.Clone(rec.Payload.Labels)
		p.CustomFields = maps.Clone(rec.Payload.CustomFields)
		p.Metadata = maps.Clone(rec.Payload.Metadata)
		clone.Payload = &p
	}
	if rec.ForwardCode != nil {
		code := *rec.ForwardCode
		clone.ForwardCode = &code
	}
	return &clone
}
