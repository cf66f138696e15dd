package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestReverseLabelHouseNumber(t *testing.T) {
	label := ReverseLabel(map[string]string{
		"house_number": "123",
		"road":         "Main Street",
		"city":         "Toronto",
	}, "123, Main Street, Toronto, Canada")
	if label != "123 Main Street, Toronto" {
		t.Fatalf("unexpected label: %q", label)
	}
}

func TestReverseLabelFallsBackToDisplayName(t *testing.T) {
	label := ReverseLabel(map[string]string{}, "Somewhere, Far Away")
	if label != "Somewhere" {
		t.Fatalf("unexpected label: %q", label)
	}
}

func TestSearchSkipsMalformedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"lat": "43.65", "lon": "-79.38", "display_name": "Toronto, Canada", "type": "city", "importance": 0.9},
			{"lat": "not-a-number", "lon": "0", "display_name": "Broken"},
			{"lat": "95", "lon": "0", "display_name": "OutOfRange"},
		})
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL)
	results, err := c.Search(context.Background(), "Toronto", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Label != "Toronto" {
		t.Fatalf("unexpected label: %q", results[0].Label)
	}
}

func TestSearchUpstreamRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL)
	if _, err := c.Search(context.Background(), "Toronto", 5, ""); err != ErrUpstreamRateLimited {
		t.Fatalf("expected ErrUpstreamRateLimited, got %v", err)
	}
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow(context.Background(), "1.2.3.4") || !l.Allow(context.Background(), "1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow(context.Background(), "1.2.3.4") {
		t.Fatal("third request within window should be rejected")
	}
	if !l.Allow(context.Background(), "5.6.7.8") {
		t.Fatal("other IPs are independent")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow(context.Background(), "1.2.3.4") {
		t.Fatal("window should have slid")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "k", "v", time.Minute)
	if v, ok := c.Get(context.Background(), "k"); !ok || v != "v" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("expected entry to expire")
	}
}
