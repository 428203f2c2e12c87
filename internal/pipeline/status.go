package pipeline

import (
	"sync"
	"time"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// Status is the process-wide run state. The only way into the running state
// is TryStart, which fails while another run holds it.
type Status struct {
	mu     sync.Mutex
	status permit.RunStatus
}

// NewStatus returns an idle Status.
func NewStatus() *Status {
	return &Status{}
}

// TryStart moves Idle to Running, clears the previous error and stamps the
// run. It reports false without changing anything when a run is in progress.
func (s *Status) TryStart(runID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsRunning {
		return false
	}
	s.status.IsRunning = true
	s.status.LastRunID = runID
	s.status.LastRunAt = &at
	s.status.LastError = ""
	return true
}

// Finish moves Running back to Idle. A nil err records the new-record count
// and the strategy that produced the pages; otherwise only the error is kept.
func (s *Status) Finish(at time.Time, newRecords int, strategy string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.IsRunning = false
	s.status.LastFinishedAt = &at
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.LastNewRecordCount = newRecords
	s.status.LastStrategy = strategy
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *Status) Snapshot() permit.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.status
	if out.LastRunAt != nil {
		t := *out.LastRunAt
		out.LastRunAt = &t
	}
	if out.LastFinishedAt != nil {
		t := *out.LastFinishedAt
		out.LastFinishedAt = &t
	}
	return out
}
