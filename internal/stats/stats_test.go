package stats

import (
	"testing"

	"github.com/example/fareshare/internal/models"
)

func TestPassengerCountsOnlyCompletedBookings(t *testing.T) {
	entries := []TripEntry{
		{Role: RolePassenger, RideID: "r1", BookingStatus: models.BookingCompleted, AmountPaid: 20},
		{Role: RolePassenger, RideID: "r2", BookingStatus: models.BookingCompleted, AmountPaid: 10},
		{Role: RolePassenger, RideID: "r3", BookingStatus: models.BookingCancelled, AmountPaid: 99},
		{Role: RolePassenger, RideID: "r4", BookingStatus: models.BookingPending, AmountPaid: 5},
		{Role: RoleDriver, RideID: "r5", RideStatus: models.RideCompleted, AmountPaid: 50},
	}
	s := Passenger(entries)
	if s.CompletedTrips != 2 {
		t.Fatalf("expected 2 completed, got %d", s.CompletedTrips)
	}
	if s.TotalSpent != 30 {
		t.Fatalf("expected 30 spent, got %f", s.TotalSpent)
	}
	if s.AvgPerTrip != 15 {
		t.Fatalf("expected avg 15, got %f", s.AvgPerTrip)
	}
}

func TestPassengerEmptyHasNoAverage(t *testing.T) {
	s := Passenger(nil)
	if s.CompletedTrips != 0 || s.TotalSpent != 0 || s.AvgPerTrip != 0 {
		t.Fatalf("expected zero stats, got %+v", s)
	}
}

func TestDriverDedupsByRide(t *testing.T) {
	// two completed bookings on the same ride count as one trip
	entries := []TripEntry{
		{Role: RoleDriver, RideID: "r1", BookingStatus: models.BookingCompleted, AmountPaid: 20},
		{Role: RoleDriver, RideID: "r1", BookingStatus: models.BookingCompleted, AmountPaid: 20},
		{Role: RoleDriver, RideID: "r2", RideStatus: models.RideCompleted, AmountPaid: 30},
	}
	s := Driver(entries)
	if s.CompletedTrips != 2 {
		t.Fatalf("expected 2 trips, got %d", s.CompletedTrips)
	}
	if s.TotalEarnings != 50 {
		t.Fatalf("expected 50 earned, got %f", s.TotalEarnings)
	}
	if s.AvgPerTrip != 25 {
		t.Fatalf("expected avg 25, got %f", s.AvgPerTrip)
	}
}

func TestDriverCompletedRideWithLaggingBooking(t *testing.T) {
	// ride closed out but booking status never advanced
	entries := []TripEntry{
		{Role: RoleDriver, RideID: "r1", RideStatus: models.RideCompleted, BookingStatus: models.BookingConfirmed, AmountPaid: 40},
	}
	s := Driver(entries)
	if s.CompletedTrips != 1 {
		t.Fatalf("expected 1 trip, got %d", s.CompletedTrips)
	}
}

func TestDriverEstimatesEarningsWithoutPayment(t *testing.T) {
	entries := []TripEntry{
		{Role: RoleDriver, RideID: "r1", RideStatus: models.RideCompleted, PriceShare: 12.5, SeatsTotal: 4, SeatsAvailable: 1},
	}
	s := Driver(entries)
	if s.TotalEarnings != 37.5 {
		t.Fatalf("expected estimate 37.5, got %f", s.TotalEarnings)
	}
}

func TestSummarize(t *testing.T) {
	own := []*models.Booking{
		{Status: models.BookingPending},
		{Status: models.BookingConfirmed},
		{Status: models.BookingCompleted, AmountPaid: 25},
		{Status: models.BookingCompleted, AmountPaid: 15},
		{Status: models.BookingCancelled},
	}
	earned := []*models.Booking{
		{Status: models.BookingCompleted, AmountPaid: 100},
		{Status: models.BookingConfirmed, AmountPaid: 40},
	}
	s := Summarize(own, earned)
	if s.Total != 5 || s.Pending != 1 || s.Confirmed != 1 || s.Completed != 2 || s.Cancelled != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.TotalSpent != 40 {
		t.Fatalf("expected spent 40, got %f", s.TotalSpent)
	}
	if s.TotalEarned != 100 {
		t.Fatalf("expected earned 100, got %f", s.TotalEarned)
	}
}

func TestNewRatingAvg(t *testing.T) {
	got := NewRatingAvg(4.5, 2, 3)
	if got != 4 {
		t.Fatalf("expected 4, got %f", got)
	}
	if first := NewRatingAvg(0, 0, 5); first != 5 {
		t.Fatalf("expected 5 for first rating, got %f", first)
	}
}
