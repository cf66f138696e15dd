package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/stats"
	"github.com/example/fareshare/internal/storage"
)

// tripRow is one line of the /api/trips history: the aggregation fields plus
// the ride context the dashboard renders.
type tripRow struct {
	stats.TripEntry
	DriverID         string    `json:"driver_id"`
	OriginLabel      string    `json:"origin"`
	DestinationLabel string    `json:"destination"`
	DepartureTime    time.Time `json:"departure_time"`
}

// tripRows flattens the user's rides and bookings into role-tagged history
// entries, newest departure first. A ride the user both drives and has a
// booking on cannot happen (self-booking is rejected), so roles never overlap.
func (s *Server) tripRows(r *http.Request, userID string) ([]tripRow, error) {
	ctx := r.Context()

	rides, _, err := s.store.ListRides(ctx, storage.RideFilter{DriverID: userID})
	if err != nil {
		return nil, err
	}
	bookings, _, err := s.store.ListBookings(ctx, storage.BookingFilter{PassengerID: userID})
	if err != nil {
		return nil, err
	}

	rows := make([]tripRow, 0, len(rides)+len(bookings))
	for _, ride := range rides {
		row := tripRow{
			TripEntry: stats.TripEntry{
				Role:           stats.RoleDriver,
				RideID:         ride.ID,
				RideStatus:     ride.Status,
				SeatsTotal:     ride.SeatsTotal,
				SeatsAvailable: ride.SeatsAvailable,
				PriceShare:     ride.PriceShare,
			},
			DriverID:         ride.DriverID,
			OriginLabel:      ride.OriginLabel,
			DestinationLabel: ride.DestinationLabel,
			DepartureTime:    ride.DepartureTime,
		}
		// fold completed bookings in so driver earnings prefer real payments
		driverBookings, _, err := s.store.ListBookings(ctx, storage.BookingFilter{RideID: ride.ID})
		if err == nil {
			var paid float64
			for _, b := range driverBookings {
				if b.Status == models.BookingCompleted {
					paid += b.AmountPaid
				}
			}
			row.AmountPaid = paid
			if paid > 0 {
				row.BookingStatus = models.BookingCompleted
			}
		}
		rows = append(rows, row)
	}

	for _, b := range bookings {
		row := tripRow{
			TripEntry: stats.TripEntry{
				Role:          stats.RolePassenger,
				RideID:        b.RideID,
				BookingID:     b.ID,
				BookingStatus: b.Status,
				SeatsReserved: b.SeatsReserved,
				AmountPaid:    b.AmountPaid,
			},
		}
		if ride, err := s.store.GetRide(ctx, b.RideID); err == nil {
			row.RideStatus = ride.Status
			row.SeatsTotal = ride.SeatsTotal
			row.SeatsAvailable = ride.SeatsAvailable
			row.PriceShare = ride.PriceShare
			row.DriverID = ride.DriverID
			row.OriginLabel = ride.OriginLabel
			row.DestinationLabel = ride.DestinationLabel
			row.DepartureTime = ride.DepartureTime
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[j].DepartureTime.Before(rows[i].DepartureTime)
	})
	return rows, nil
}

func (s *Server) handleTripHistory(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	rows, err := s.tripRows(r, user.ID)
	if err != nil {
		s.storeError(w, err, "trips not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"trips":   rows,
	})
}

func (s *Server) handleTripSummary(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	rows, err := s.tripRows(r, user.ID)
	if err != nil {
		s.storeError(w, err, "trips not found")
		return
	}
	entries := make([]stats.TripEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.TripEntry
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   user.ID,
		"passenger": stats.Passenger(entries),
		"driver":    stats.Driver(entries),
	})
}
