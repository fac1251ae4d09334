package warranty

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and DSN-less runs; production uses the Postgres store.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]*Warranty
	codes  map[string]string // tenant+code -> id
	events map[string][]ClaimEvent
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[string]*Warranty),
		codes:  make(map[string]string),
		events: make(map[string][]ClaimEvent),
	}
}

func codeKey(tenantID, code string) string { return tenantID + "\x00" + code }

func (s *InMemory) CreateWarranty(ctx context.Context, w *Warranty, registered ClaimEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[w.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.codes[codeKey(w.TenantID, w.Code)]; ok {
		return ErrCodeTaken
	}

	cp := *w
	s.byID[w.ID] = &cp
	s.codes[codeKey(w.TenantID, w.Code)] = w.ID

	registered.Sequence = 1
	s.events[w.ID] = []ClaimEvent{registered}
	return nil
}

func (s *InMemory) GetWarranty(ctx context.Context, tenantID, id string) (Warranty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byID[id]
	if !ok || w.TenantID != tenantID {
		return Warranty{}, ErrNotFound
	}
	return *w, nil
}

func (s *InMemory) ListWarranties(ctx context.Context, tenantID string, f ListFilter) ([]Warranty, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Warranty
	for _, w := range s.byID {
		if w.TenantID != tenantID {
			continue
		}
		if !matchesFilter(*w, f, now) {
			continue
		}
		matched = append(matched, *w)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Skip >= total {
		return nil, total, nil
	}
	end := f.Skip + f.Limit
	if end > total {
		end = total
	}
	page := make([]Warranty, end-f.Skip)
	copy(page, matched[f.Skip:end])
	return page, total, nil
}

func matchesFilter(w Warranty, f ListFilter, now time.Time) bool {
	if f.CustomerPhone != "" && !strings.Contains(w.CustomerPhone, f.CustomerPhone) {
		return false
	}
	switch f.Status {
	case "":
		return true
	case StatusExpired:
		return w.EffectiveStatus(now) == StatusExpired
	case StatusActive:
		return w.EffectiveStatus(now) == StatusActive
	default:
		return w.Status == f.Status
	}
}

func (s *InMemory) CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, w := range s.byID {
		if w.TenantID != tenantID {
			continue
		}
		counts[w.EffectiveStatus(now)]++
	}
	return counts, nil
}

func (s *InMemory) ApplyTransition(ctx context.Context, tenantID, id string, fromVersion int64, upd TransitionUpdate, ev ClaimEvent) (Warranty, ClaimEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok || w.TenantID != tenantID {
		return Warranty{}, ClaimEvent{}, ErrNotFound
	}
	if w.Version != fromVersion {
		return Warranty{}, ClaimEvent{}, ErrConflict
	}

	w.Status = upd.To
	if c := upd.Customer; c != nil {
		if c.Name != "" {
			w.CustomerName = c.Name
		}
		if c.Phone != "" {
			w.CustomerPhone = c.Phone
		}
		if c.Email != "" {
			w.CustomerEmail = c.Email
		}
	}
	w.Version++
	w.UpdatedAt = time.Now().UTC()

	ev.Sequence = int64(len(s.events[id])) + 1
	s.events[id] = append(s.events[id], ev)

	return *w, ev, nil
}

func (s *InMemory) AppendEvent(ctx context.Context, ev ClaimEvent) (ClaimEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[ev.WarrantyID]
	if !ok || w.TenantID != ev.TenantID {
		return ClaimEvent{}, ErrNotFound
	}
	ev.Sequence = int64(len(s.events[ev.WarrantyID])) + 1
	s.events[ev.WarrantyID] = append(s.events[ev.WarrantyID], ev)
	return ev, nil
}

func (s *InMemory) Events(ctx context.Context, tenantID, id string, afterSeq int64, limit int) ([]ClaimEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byID[id]
	if !ok || w.TenantID != tenantID {
		return nil, ErrNotFound
	}
	var out []ClaimEvent
	for _, ev := range s.events[id] {
		if ev.Sequence <= afterSeq {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
