package permit

import (
	"context"
	"io"
	"time"
)

// RecordStore persists permit identities. Admit is the atomic check-then-insert
// used by the pipeline; IsNew and Persist remain for callers that need them
// separately.
type RecordStore interface {
	IsNew(ctx context.Context, identityKey string) (bool, error)
	Persist(ctx context.Context, record Record) error
	Admit(ctx context.Context, record Record) (bool, error)
	AllActive(ctx context.Context) ([]Record, error)
	Dismiss(ctx context.Context, identityKey string, at time.Time) error
	DismissAll(ctx context.Context, at time.Time) (int, error)
}

// SeenStore tracks notification dedup windows.
type SeenStore interface {
	// Claim records a window ending at now+ttl unless a non-expired one exists.
	// It reports whether the caller now owns the window.
	Claim(ctx context.Context, identityKey string, now time.Time, ttl time.Duration) (bool, error)
	// Extend pushes out an existing non-expired window. Missing keys are ignored.
	Extend(ctx context.Context, identityKey string, now time.Time, ttl time.Duration) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// SubscriptionStore persists device push registrations.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub Subscription) (Subscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
	UpdatePreferences(ctx context.Context, deviceID string, prefs Preferences, at time.Time) error
	ListByDevice(ctx context.Context, deviceID string) ([]Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
	RecordSuccess(ctx context.Context, endpoint string, at time.Time) error
	// RecordFailure increments the error counter and returns the new count.
	RecordFailure(ctx context.Context, endpoint string, errText string, at time.Time) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and device identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
