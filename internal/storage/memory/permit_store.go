package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// PermitStore provides an in-memory permit.RecordStore for development/testing.
type PermitStore struct {
	mu      sync.RWMutex
	records map[string]permit.Record
}

// NewPermitStore constructs a PermitStore.
func NewPermitStore() *PermitStore {
	return &PermitStore{records: make(map[string]permit.Record)}
}

// IsNew reports whether no record with the identity exists, dismissed or not.
func (s *PermitStore) IsNew(_ context.Context, identityKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[identityKey]
	return !ok, nil
}

// Persist inserts the record unless the identity is already stored.
func (s *PermitStore) Persist(ctx context.Context, record permit.Record) error {
	_, err := s.Admit(ctx, record)
	return err
}

// Admit inserts the record if its identity is unknown and reports whether it did.
func (s *PermitStore) Admit(_ context.Context, record permit.Record) (bool, error) {
	if record.IdentityKey == "" {
		return false, fmt.Errorf("identity key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.IdentityKey]; ok {
		return false, nil
	}
	record.DismissedAt = nil
	s.records[record.IdentityKey] = record
	return true, nil
}

// AllActive returns every undismissed record ordered by county, operator,
// lease and well.
func (s *PermitStore) AllActive(_ context.Context) ([]permit.Record, error) {
	s.mu.RLock()
	out := make([]permit.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.DismissedAt == nil {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	SortRecords(out)
	return out, nil
}

// Dismiss hides a record from AllActive. The identity stays known.
func (s *PermitStore) Dismiss(_ context.Context, identityKey string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identityKey]
	if !ok || rec.DismissedAt != nil {
		return permit.ErrNotFound
	}
	rec.DismissedAt = pointerTime(at)
	s.records[identityKey] = rec
	return nil
}

// DismissAll dismisses every active record and returns how many changed.
func (s *PermitStore) DismissAll(_ context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.records {
		if rec.DismissedAt != nil {
			continue
		}
		rec.DismissedAt = pointerTime(at)
		s.records[key] = rec
		n++
	}
	return n, nil
}

// SortRecords orders records by county, operator, lease and well.
func SortRecords(records []permit.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.County != b.County {
			return a.County < b.County
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		if a.LeaseName != b.LeaseName {
			return a.LeaseName < b.LeaseName
		}
		return a.WellNumber < b.WellNumber
	})
}

func pointerTime(t time.Time) *time.Time {
	tt := t.UTC()
	return &tt
}
