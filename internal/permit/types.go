// Package permit defines the core types and contracts shared by the permit
// acquisition, extraction, storage and notification subsystems.
package permit

import (
	"errors"
	"time"
)

// UnknownCounty is stored when a row carries no usable county text.
const UnknownCounty = "UNKNOWN"

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound is returned by stores when a keyed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAcquisition marks a run-level failure to obtain the result pages.
	ErrAcquisition = errors.New("acquisition failed")
)

// Record is one issued permit as discovered on the source site.
type Record struct {
	IdentityKey  string     `json:"identity_key"`
	County       string     `json:"county"`
	Operator     string     `json:"operator"`
	LeaseName    string     `json:"lease_name"`
	WellNumber   string     `json:"well_number"`
	APINumber    string     `json:"api_number"`
	DateIssued   string     `json:"date_issued"`
	SourceLink   string     `json:"source_link"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	DismissedAt  *time.Time `json:"dismissed_at,omitempty"`
}

// RawPage is the opaque HTML of one result page plus where it came from.
type RawPage struct {
	URL      string
	HTML     []byte
	HasNext  bool
	Strategy string
}

// SeenEntry suppresses repeat notifications for an identity until it expires.
type SeenEntry struct {
	IdentityKey string    `json:"identity_key"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry no longer suppresses notifications at now.
func (e SeenEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// AuthKeys carries the browser-issued credentials needed to encrypt a push.
type AuthKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one device's push registration and filter preferences.
type Subscription struct {
	DeviceID    string      `json:"device_id"`
	Endpoint    string      `json:"endpoint"`
	AuthKeys    AuthKeys    `json:"keys"`
	Preferences Preferences `json:"preferences"`
	ErrorCount  int         `json:"error_count"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RunStatus describes the most recent pipeline run.
type RunStatus struct {
	IsRunning          bool       `json:"is_running"`
	LastRunID          string     `json:"last_run_id,omitempty"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	LastFinishedAt     *time.Time `json:"last_finished_at,omitempty"`
	LastNewRecordCount int        `json:"last_new_record_count"`
	LastStrategy       string     `json:"last_strategy,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}
