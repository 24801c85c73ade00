package metrics

import (
	"testing"
	"time"

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

func TestObserveUpstreamRequest(t *testing.T) {
	before := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("swapi.test", "ok"))
	ObserveUpstreamRequest("https://SWAPI.test/api/people/1", "ok", 20*time.Millisecond)
	after := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("swapi.test", "ok"))
	if after-before != 1 {
		t.Errorf("expected upstream counter to grow by 1, got %f", after-before)
	}
}

func TestObserveRule(t *testing.T) {
	ObserveRule("metrics-test-origin", "succeeded", 3)
	ObserveRule("metrics-test-origin", "failed", 0)

	if val := testutil.ToFloat64(ruleRecordsTotal.WithLabelValues("metrics-test-origin")); val != 3 {
		t.Errorf("expected 3 records for origin, got %f", val)
	}
	if val := testutil.ToFloat64(rulesTotal.WithLabelValues("metrics-test-origin", "failed")); val != 1 {
		t.Errorf("expected 1 failed rule, got %f", val)
	}
}

func TestObserveRunAndStoredRecords(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("succeeded"))
	ObserveRun("succeeded", 2*time.Second)
	if val := testutil.ToFloat64(runsTotal.WithLabelValues("succeeded")); val-before != 1 {
		t.Errorf("expected run counter to grow by 1, got %f", val-before)
	}

	SetStoredRecords(12)
	if val := testutil.ToFloat64(storedRecords); val != 12 {
		t.Errorf("expected stored records gauge 12, got %f", val)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("limited.test", 150*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n < 1 {
		t.Errorf("expected at least one rate limit series, got %d", n)
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
