// Package stats computes trip dashboard figures from joined ride/booking
// history. The server uses it for /api/trips/summary and the client SDK
// reuses it so both sides agree on every number shown to the user.
package stats

import (
	"math"

	"github.com/example/fareshare/internal/models"
)

// TripEntry is one row of a user's trip history: a ride the user drove, or a
// booking the user made as a passenger, flattened into a common shape.
type TripEntry struct {
	Role           string               `json:"role"` // driver | passenger
	RideID         string               `json:"ride_id"`
	RideStatus     models.RideStatus    `json:"ride_status"`
	BookingID      string               `json:"booking_id,omitempty"`
	BookingStatus  models.BookingStatus `json:"booking_status,omitempty"`
	SeatsReserved  int                  `json:"seats_reserved,omitempty"`
	SeatsTotal     int                  `json:"seats_total"`
	SeatsAvailable int                  `json:"seats_available"`
	PriceShare     float64              `json:"price_share"`
	AmountPaid     float64              `json:"amount_paid,omitempty"`
}

const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"
)

type PassengerStats struct {
	CompletedTrips int     `json:"completed_trips"`
	TotalSpent     float64 `json:"total_spent"`
	AvgPerTrip     float64 `json:"avg_per_trip"`
}

type DriverStats struct {
	CompletedTrips int     `json:"completed_trips"`
	TotalEarnings  float64 `json:"total_earnings"`
	AvgPerTrip     float64 `json:"avg_per_trip"`
}

// Passenger counts only bookings the passenger actually completed.
func Passenger(entries []TripEntry) PassengerStats {
	var s PassengerStats
	for _, e := range entries {
		if e.Role != RolePassenger || e.BookingStatus != models.BookingCompleted {
			continue
		}
		s.CompletedTrips++
		s.TotalSpent += e.AmountPaid
	}
	s.TotalSpent = round2(s.TotalSpent)
	if s.CompletedTrips > 0 {
		s.AvgPerTrip = round2(s.TotalSpent / float64(s.CompletedTrips))
	}
	return s
}

// Driver treats a trip as completed when either the booking or the ride
// reached "completed"; booking status can lag behind the ride after a driver
// closes it out. Multiple bookings on one ride count as one trip, and when a
// booking has no recorded payment the earnings fall back to an estimate from
// the seats actually sold.
func Driver(entries []TripEntry) DriverStats {
	var s DriverStats
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Role != RoleDriver {
			continue
		}
		if e.BookingStatus != models.BookingCompleted && e.RideStatus != models.RideCompleted {
			continue
		}
		if _, dup := seen[e.RideID]; dup {
			continue
		}
		seen[e.RideID] = struct{}{}
		s.CompletedTrips++
		if e.AmountPaid > 0 {
			s.TotalEarnings += e.AmountPaid
		} else {
			s.TotalEarnings += e.PriceShare * float64(e.SeatsTotal-e.SeatsAvailable)
		}
	}
	s.TotalEarnings = round2(s.TotalEarnings)
	if s.CompletedTrips > 0 {
		s.AvgPerTrip = round2(s.TotalEarnings / float64(s.CompletedTrips))
	}
	return s
}

// BookingSummary is the /api/bookings/stats/summary payload.
type BookingSummary struct {
	Total       int     `json:"total_bookings"`
	Pending     int     `json:"pending"`
	Confirmed   int     `json:"confirmed"`
	Completed   int     `json:"completed"`
	Cancelled   int     `json:"cancelled"`
	TotalSpent  float64 `json:"total_spent"`
	TotalEarned float64 `json:"total_earned"`
}

// Summarize tallies the user's own bookings by status, money spent on
// completed trips as a passenger, and money earned from completed bookings
// on rides the user drives.
func Summarize(own, onOwnRides []*models.Booking) BookingSummary {
	var s BookingSummary
	for _, b := range own {
		s.Total++
		switch b.Status {
		case models.BookingPending:
			s.Pending++
		case models.BookingConfirmed:
			s.Confirmed++
		case models.BookingCompleted:
			s.Completed++
			s.TotalSpent += b.AmountPaid
		case models.BookingCancelled:
			s.Cancelled++
		}
	}
	for _, b := range onOwnRides {
		if b.Status == models.BookingCompleted {
			s.TotalEarned += b.AmountPaid
		}
	}
	s.TotalSpent = round2(s.TotalSpent)
	s.TotalEarned = round2(s.TotalEarned)
	return s
}

// NewRatingAvg folds one more rating into a running average, rounded to two
// decimals the same way the profile stores it.
func NewRatingAvg(avg float64, count, rating int) float64 {
	return round2((avg*float64(count) + float64(rating)) / float64(count+1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
