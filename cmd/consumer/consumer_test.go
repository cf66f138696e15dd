package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/example/fareshare/internal/events"
)

// fakeRollups fails the first failN calls, then succeeds, recording every
// field it was asked to bump.
type fakeRollups struct {
	failN  int
	calls  int
	fields map[string]int64
	floats map[string]float64
}

func newFakeRollups(failN int) *fakeRollups {
	return &fakeRollups{failN: failN, fields: map[string]int64{}, floats: map[string]float64{}}
}

func (f *fakeRollups) IncrField(_ context.Context, key, field string, n int64) error {
	f.calls++
	if f.calls <= f.failN {
		return fmt.Errorf("redis down")
	}
	f.fields[key+"/"+field] += n
	return nil
}

func (f *fakeRollups) IncrFloat(_ context.Context, key, field string, v float64) error {
	f.calls++
	if f.calls <= f.failN {
		return fmt.Errorf("redis down")
	}
	f.floats[key+"/"+field] += v
	return nil
}

func TestApplyEventBookingCreated(t *testing.T) {
	rs := newFakeRollups(0)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	e := events.Event{Type: events.TypeBookingCreated, BookingID: "b1", Amount: 25.50, At: at}

	if err := applyEvent(context.Background(), rs, e); err != nil {
		t.Fatal(err)
	}
	if got := rs.fields["rollup:2026-03-14/bookings_created"]; got != 1 {
		t.Fatalf("bookings_created = %d", got)
	}
	if got := rs.floats["rollup:2026-03-14/booking_amount"]; got != 25.50 {
		t.Fatalf("booking_amount = %v", got)
	}
}

func TestApplyEventStatusAndUnknown(t *testing.T) {
	rs := newFakeRollups(0)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := applyEvent(context.Background(), rs, events.Event{Type: events.TypeBookingStatus, Status: "cancelled", At: at}); err != nil {
		t.Fatal(err)
	}
	if got := rs.fields["rollup:2026-03-14/bookings_cancelled"]; got != 1 {
		t.Fatalf("bookings_cancelled = %d", got)
	}

	if err := applyEvent(context.Background(), rs, events.Event{Type: "mystery", At: at}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	rs := newFakeRollups(2)
	e := events.Event{Type: events.TypeRideCreated, RideID: "r1", At: time.Now()}

	if err := applyWithRetry(context.Background(), rs, e, 3, time.Millisecond); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if rs.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", rs.calls)
	}
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	rs := newFakeRollups(10)
	e := events.Event{Type: events.TypeRideCreated, RideID: "r1", At: time.Now()}

	if err := applyWithRetry(context.Background(), rs, e, 3, time.Millisecond); err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if rs.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", rs.calls)
	}
}

func TestRollupKeyZeroTimeFallsBackToToday(t *testing.T) {
	got := rollupKey(time.Time{})
	want := "rollup:" + time.Now().UTC().Format("2006-01-02")
	if got != want {
		t.Fatalf("rollupKey(zero) = %q, want %q", got, want)
	}
}
