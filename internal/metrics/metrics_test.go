package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
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

	if postalCodesTotal == nil || recordsTotal == nil || locatorResolutionsTotal == nil ||
		convergenceRounds == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(recordsTotal.WithLabelValues(RecordDuplicate))
	ObserveRecord(RecordDuplicate)
	ObserveRecord(RecordDuplicate)
	if got := testutil.ToFloat64(recordsTotal.WithLabelValues(RecordDuplicate)) - before; got != 2 {
		t.Errorf("expected 2 duplicate records, got %f", got)
	}

	before = testutil.ToFloat64(convergenceStopsTotal.WithLabelValues("stable"))
	ObserveConvergence("stable", 4)
	if got := testutil.ToFloat64(convergenceStopsTotal.WithLabelValues("stable")) - before; got != 1 {
		t.Errorf("expected one stable stop, got %f", got)
	}

	observe := LocatorObserver()
	before = testutil.ToFloat64(locatorResolutionsTotal.WithLabelValues(string(locator.ZipInput), "true", "1"))
	observe(locator.ZipInput, true, 1)
	if got := testutil.ToFloat64(locatorResolutionsTotal.WithLabelValues(string(locator.ZipInput), "true", "1")) - before; got != 1 {
		t.Errorf("expected one resolution, got %f", got)
	}

	before = testutil.ToFloat64(sessionFallbacksTotal)
	ObserveSessionFallback()
	if got := testutil.ToFloat64(sessionFallbacksTotal) - before; got != 1 {
		t.Errorf("expected one fallback, got %f", got)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != 0 {
		t.Errorf("expected no active workers, got %f", got)
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
