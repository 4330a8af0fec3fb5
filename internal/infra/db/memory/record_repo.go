// Package memory is a process-local Repository for development and tests.
// Data is lost on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

type RecordRepository struct {
	mu      sync.RWMutex
	records map[domain.RecordID]*domain.Record
	// insertion order breaks created_at ties
	order map[domain.RecordID]int
	seq   int
}

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{
		records: map[domain.RecordID]*domain.Record{},
		order:   map[domain.RecordID]int{},
	}
}

func clone(r *domain.Record) *domain.Record {
	c := *r
	c.Descriptions = append([]string{}, r.Descriptions...)
	c.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (m *RecordRepository) Insert(_ context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = domain.RecordID(uuid.NewString())
	m.seq++
	m.order[r.ID] = m.seq
	m.records[r.ID] = clone(r)
	return nil
}

func (m *RecordRepository) Get(_ context.Context, id domain.RecordID) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(r), nil
}

// newestFirst must be called with the lock held
func (m *RecordRepository) newestFirst(match func(*domain.Record) bool) []*domain.Record {
	out := []*domain.Record{}
	for _, r := range m.records {
		if match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return m.order[out[i].ID] > m.order[out[j].ID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *RecordRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestFirst(func(r *domain.Record) bool {
		return f.AnalysisType == "" || r.AnalysisType == f.AnalysisType
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *RecordRepository) SearchByName(_ context.Context, substring string) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(substring)
	return m.newestFirst(func(r *domain.Record) bool {
		return strings.Contains(strings.ToLower(r.ImageName), needle)
	}), nil
}

func (m *RecordRepository) Update(_ context.Context, id domain.RecordID, p domain.Patch, updatedAt time.Time) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Descriptions != nil {
		r.Descriptions = append([]string{}, (*p.Descriptions)...)
	}
	if p.Metadata != nil {
		r.Metadata = clone(&domain.Record{Metadata: p.Metadata}).Metadata
	}
	r.UpdatedAt = domain.NextUpdatedAt(r.UpdatedAt, updatedAt)
	return clone(r), nil
}

func (m *RecordRepository) FindByKey(_ context.Context, imageName, analysisType string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestFirst(func(r *domain.Record) bool {
		return r.ImageName == imageName && r.AnalysisType == analysisType
	})
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out[0], nil
}

func (m *RecordRepository) Replace(_ context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.ID]
	if !ok {
		return domain.ErrNotFound
	}
	next := clone(r)
	next.ImageName, next.AnalysisType, next.CreatedAt = cur.ImageName, cur.AnalysisType, cur.CreatedAt
	m.records[r.ID] = next
	return nil
}

func (m *RecordRepository) Ping(context.Context) error { return nil }

// Len jumlah record tersimpan
func (m *RecordRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
