package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// SubscriptionStore keeps device registrations keyed by endpoint.
type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]permit.Subscription
}

// NewSubscriptionStore constructs a SubscriptionStore.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[string]permit.Subscription)}
}

// Upsert inserts or replaces the subscription for its endpoint. Error counters
// are reset and the original creation time kept.
func (s *SubscriptionStore) Upsert(_ context.Context, sub permit.Subscription) (permit.Subscription, error) {
	if sub.Endpoint == "" {
		return permit.Subscription{}, fmt.Errorf("endpoint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subs[sub.Endpoint]; ok {
		sub.CreatedAt = existing.CreatedAt
	}
	sub.ErrorCount = 0
	sub.LastError = ""
	s.subs[sub.Endpoint] = cloneSubscription(sub)
	return cloneSubscription(sub), nil
}

// DeleteByEndpoint removes a subscription.
func (s *SubscriptionStore) DeleteByEndpoint(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[endpoint]; !ok {
		return permit.ErrNotFound
	}
	delete(s.subs, endpoint)
	return nil
}

// UpdatePreferences replaces the preferences of every subscription of a device.
func (s *SubscriptionStore) UpdatePreferences(_ context.Context, deviceID string, prefs permit.Preferences, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for endpoint, sub := range s.subs {
		if sub.DeviceID != deviceID {
			continue
		}
		sub.Preferences = clonePreferences(prefs)
		sub.UpdatedAt = at
		s.subs[endpoint] = sub
		found = true
	}
	if !found {
		return permit.ErrNotFound
	}
	return nil
}

// ListByDevice returns a device's subscriptions ordered by endpoint.
func (s *SubscriptionStore) ListByDevice(_ context.Context, deviceID string) ([]permit.Subscription, error) {
	return s.filter(func(sub permit.Subscription) bool { return sub.DeviceID == deviceID }), nil
}

// List returns every subscription ordered by endpoint.
func (s *SubscriptionStore) List(_ context.Context) ([]permit.Subscription, error) {
	return s.filter(func(permit.Subscription) bool { return true }), nil
}

// RecordSuccess clears the failure counters.
func (s *SubscriptionStore) RecordSuccess(_ context.Context, endpoint string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[endpoint]
	if !ok {
		return permit.ErrNotFound
	}
	sub.ErrorCount = 0
	sub.LastError = ""
	sub.UpdatedAt = at
	s.subs[endpoint] = sub
	return nil
}

// RecordFailure increments the failure counter and returns the new value.
func (s *SubscriptionStore) RecordFailure(_ context.Context, endpoint, errText string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[endpoint]
	if !ok {
		return 0, permit.ErrNotFound
	}
	sub.ErrorCount++
	sub.LastError = errText
	sub.UpdatedAt = at
	s.subs[endpoint] = sub
	return sub.ErrorCount, nil
}

func (s *SubscriptionStore) filter(keep func(permit.Subscription) bool) []permit.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]permit.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func cloneSubscription(sub permit.Subscription) permit.Subscription {
	sub.Preferences = clonePreferences(sub.Preferences)
	return sub
}

func clonePreferences(p permit.Preferences) permit.Preferences {
	return permit.Preferences{
		MonitoredCounties: permit.NewSet(p.MonitoredCounties.Values()...),
		DismissedCounties: permit.NewSet(p.DismissedCounties.Values()...),
		DismissedPermits:  permit.NewSet(p.DismissedPermits.Values()...),
	}
}
