package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if runsTotal == nil || acquiredPagesTotal == nil || notificationsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	beforeFailures := testutil.ToFloat64(strategyFailuresTotal.WithLabelValues("headless"))
	ObserveStrategyFailure("headless")
	if got := testutil.ToFloat64(strategyFailuresTotal.WithLabelValues("headless")); got != beforeFailures+1 {
		t.Errorf("expected strategy failures to grow by one, got %f", got-beforeFailures)
	}

	beforePages := testutil.ToFloat64(acquiredPagesTotal.WithLabelValues("webapps.rrc.texas.gov", "form"))
	ObservePage("https://webapps.rrc.texas.gov/DP/publicQuerySearchAction.do", "form", 2048)
	if got := testutil.ToFloat64(acquiredPagesTotal.WithLabelValues("webapps.rrc.texas.gov", "form")); got != beforePages+1 {
		t.Errorf("expected one page observed, got %f", got-beforePages)
	}

	beforeNew := testutil.ToFloat64(permitsNewTotal)
	ObserveNewPermits(3)
	if got := testutil.ToFloat64(permitsNewTotal); got != beforeNew+3 {
		t.Errorf("expected three new permits, got %f", got-beforeNew)
	}

	beforePruned := testutil.ToFloat64(subscriptionsPrunedTotal)
	ObserveSubscriptionPruned()
	if got := testutil.ToFloat64(subscriptionsPrunedTotal); got != beforePruned+1 {
		t.Errorf("expected one pruned subscription, got %f", got-beforePruned)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
