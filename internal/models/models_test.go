package models

import "testing"

func f(v float64) *float64 { return &v }

func TestHasValidCoordinates(t *testing.T) {
	if HasValidCoordinates(f(0), f(0)) {
		t.Fatal("(0,0) must be treated as missing")
	}
	if !HasValidCoordinates(f(43.65), f(-79.38)) {
		t.Fatal("real coordinates rejected")
	}
	if HasValidCoordinates(nil, f(-79.38)) {
		t.Fatal("nil lat accepted")
	}
	if HasValidCoordinates(f(91), f(10)) {
		t.Fatal("out-of-range lat accepted")
	}
}

func TestRideTerminal(t *testing.T) {
	for _, st := range []RideStatus{RideOpen, RideRequested, RideFull} {
		if (&Ride{Status: st}).Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
	for _, st := range []RideStatus{RideCancelled, RideCompleted} {
		if !(&Ride{Status: st}).Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
}

func TestBookingStatusActive(t *testing.T) {
	if !BookingPending.Active() || !BookingConfirmed.Active() {
		t.Fatal("pending and confirmed hold seats")
	}
	if BookingCompleted.Active() || BookingCancelled.Active() {
		t.Fatal("completed and cancelled hold no seats")
	}
}
