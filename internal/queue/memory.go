package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memProduct struct {
	id         string
	order      int
	lastSeenAt time.Time
	detailAt   *time.Time
	tracked    bool
}

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]*memProduct
	entries  []*Entry
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*memProduct),
		nextID:   1,
		now:      time.Now,
	}
}

// SeeProduct records a discovery snapshot of a product at seenAt.
func (m *MemoryStore) SeeProduct(id string, seenAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		p = &memProduct{id: id, order: len(m.products)}
		m.products[id] = p
	}
	if seenAt.After(p.lastSeenAt) {
		p.lastSeenAt = seenAt
	}
}

// SetDetail records that a detail page was fetched at fetchedAt.
func (m *MemoryStore) SetDetail(id string, fetchedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.products[id]; ok {
		t := fetchedAt
		p.detailAt = &t
	}
}

// SetTracked adds or removes the manual track tag.
func (m *MemoryStore) SetTracked(id string, tracked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.products[id]; ok {
		p.tracked = tracked
	}
}

// Entries returns a copy of every entry, pending or not, in insertion order.
func (m *MemoryStore) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

func (m *MemoryStore) ordered(keep func(*memProduct) bool) []string {
	var ps []*memProduct
	for _, p := range m.products {
		if keep(p) {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].order < ps[j].order })

	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.id
	}
	return ids
}

func (m *MemoryStore) NeverDetailed(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ordered(func(p *memProduct) bool { return p.detailAt == nil }), nil
}

func (m *MemoryStore) StaleReappeared(ctx context.Context, staleBefore, seenSince time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ordered(func(p *memProduct) bool {
		return p.detailAt != nil && p.detailAt.Before(staleBefore) && !p.lastSeenAt.Before(seenSince)
	}), nil
}

func (m *MemoryStore) Tracked(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ordered(func(p *memProduct) bool { return p.tracked }), nil
}

func (m *MemoryStore) ReplacePending(ctx context.Context, targets []Target) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.Status != StatusPending {
			kept = append(kept, e)
		}
	}
	m.entries = kept

	now := m.now()
	for _, t := range targets {
		m.entries = append(m.entries, &Entry{
			ID:         m.nextID,
			TargetType: t.TargetType,
			TargetID:   t.TargetID,
			Priority:   t.Priority,
			Status:     StatusPending,
			CreatedAt:  now,
		})
		m.nextID++
	}
	return len(targets), nil
}

func (m *MemoryStore) find(id int64) (*Entry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			if e.Status != StatusPending {
				return nil, ErrTerminal
			}
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkDone(ctx context.Context, id int64, at time.Time) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.find(id)
	if err != nil {
		return nil, err
	}
	e.Status = StatusDone
	t := at
	e.LastScrapedAt = &t
	out := *e
	return &out, nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, id int64, maxRetries int) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.find(id)
	if err != nil {
		return nil, err
	}
	e.RetryCount++
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	out := *e
	return &out, nil
}

func (m *MemoryStore) Pending(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusPending {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
