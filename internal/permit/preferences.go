package permit

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Set is a string set that serializes as a sorted JSON array.
type Set map[string]struct{}

// NewSet builds a Set from values, skipping blanks.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			s[v] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Values returns the members sorted.
func (s Set) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.Values())
	if err != nil {
		return nil, fmt.Errorf("marshal set: %w", err)
	}
	return b, nil
}

// UnmarshalJSON decodes an array (or null) into the set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("unmarshal set: %w", err)
	}
	*s = NewSet(values...)
	return nil
}

// Preferences filters which permits reach a device.
type Preferences struct {
	// MonitoredCounties restricts alerts to these counties; empty admits all.
	MonitoredCounties Set `json:"monitored_counties"`
	DismissedCounties Set `json:"dismissed_counties"`
	DismissedPermits  Set `json:"dismissed_permits"`
}

// Admits reports whether a record passes the device's filters.
func (p Preferences) Admits(record Record) bool {
	if p.DismissedCounties.Has(record.County) {
		return false
	}
	if p.DismissedPermits.Has(record.IdentityKey) {
		return false
	}
	if len(p.MonitoredCounties) > 0 && !p.MonitoredCounties.Has(record.County) {
		return false
	}
	return true
}

// Normalize canonicalizes county names and rejects unknown ones.
func (p Preferences) Normalize() (Preferences, error) {
	monitored, err := canonicalCounties(p.MonitoredCounties)
	if err != nil {
		return Preferences{}, fmt.Errorf("monitored counties: %w", err)
	}
	dismissed, err := canonicalCounties(p.DismissedCounties)
	if err != nil {
		return Preferences{}, fmt.Errorf("dismissed counties: %w", err)
	}
	permits := NewSet()
	for key := range p.DismissedPermits {
		permits[key] = struct{}{}
	}
	return Preferences{
		MonitoredCounties: monitored,
		DismissedCounties: dismissed,
		DismissedPermits:  permits,
	}, nil
}

func canonicalCounties(in Set) (Set, error) {
	out := NewSet()
	for name := range in {
		canonical, ok := CanonicalCounty(name)
		if !ok {
			return nil, fmt.Errorf("unknown county %q", name)
		}
		out[canonical] = struct{}{}
	}
	return out, nil
}
