package httpapi

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/notify"
	"github.com/example/fareshare/internal/observability"
	"github.com/example/fareshare/internal/stats"
	"github.com/example/fareshare/internal/storage"
)

func (s *Server) bookingJSON(ctx context.Context, b *models.Booking) *models.Booking {
	out := *b
	if p, err := s.store.GetUser(ctx, b.PassengerID); err == nil {
		out.Passenger = p.Public()
	}
	if ride, err := s.store.GetRide(ctx, b.RideID); err == nil {
		out.Ride = ride.Summary()
	}
	return &out
}

type bookingCreate struct {
	RideID        string `json:"ride_id"`
	SeatsReserved int    `json:"seats_reserved"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req bookingCreate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SeatsReserved < 1 {
		s.error(w, http.StatusBadRequest, "seats_reserved must be at least 1")
		return
	}

	ride, err := s.store.GetRide(r.Context(), req.RideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	if ride.DriverID == user.ID {
		s.error(w, http.StatusBadRequest, "You cannot book your own ride")
		return
	}
	if ride.Terminal() || ride.Status == models.RideFull {
		s.error(w, http.StatusBadRequest, "Cannot book a "+string(ride.Status)+" ride")
		return
	}
	if _, err := s.store.ActiveBooking(r.Context(), ride.ID, user.ID); err == nil {
		s.errorCode(w, http.StatusConflict, "You already have an active booking for this ride", "DUPLICATE_BOOKING")
		return
	}
	if req.SeatsReserved > ride.SeatsAvailable {
		s.error(w, http.StatusBadRequest,
			fmt.Sprintf("Not enough seats available. Requested: %d, Available: %d", req.SeatsReserved, ride.SeatsAvailable))
		return
	}

	amount := float64(req.SeatsReserved) * ride.PriceShare

	booking := &models.Booking{
		ID:            newID(),
		PassengerID:   user.ID,
		RideID:        ride.ID,
		SeatsReserved: req.SeatsReserved,
		AmountPaid:    amount,
		Status:        models.BookingPending,
		BookedAt:      s.now().UTC(),
	}

	// hold the fare until the trip completes; a failed hold never blocks the
	// booking when payments are unconfigured
	if ref, err := s.payments.Hold(r.Context(), int64(math.Round(amount*100)), "usd"); err != nil {
		s.logger.Warn("payment hold failed", "error", err, "ride_id", ride.ID)
	} else {
		booking.PaymentRef = ref
	}

	if err := s.store.CreateBooking(r.Context(), booking); err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	ride.SeatsAvailable -= req.SeatsReserved
	if ride.SeatsAvailable <= 0 {
		ride.Status = models.RideFull
	} else if ride.Status == models.RideRequested {
		// a driver is fulfilling the passenger's request
		ride.Status = models.RideOpen
	}
	if err := s.store.UpdateRide(r.Context(), ride); err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	observability.BookingsCreated.Inc()
	_ = s.events.Publish(r.Context(), events.Event{
		Type: events.TypeBookingCreated, RideID: ride.ID, BookingID: booking.ID,
		UserID: user.ID, Status: string(booking.Status), Amount: amount,
	})
	s.hub.Notify(ride.DriverID, notify.Notice{
		Kind: "booking.created", RideID: ride.ID, BookingID: booking.ID,
		Message: fmt.Sprintf("%s reserved %d seat(s) on your ride to %s", user.FullName, req.SeatsReserved, ride.DestinationLabel),
	})

	s.writeJSON(w, http.StatusCreated, s.bookingJSON(r.Context(), booking))
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	q := r.URL.Query()
	page, pageSize := parsePage(q.Get("page"), q.Get("page_size"), 20, 100)

	base := storage.BookingFilter{
		RideID: q.Get("ride_id"),
		Status: models.BookingStatus(q.Get("status")),
		SortBy: q.Get("sort_by"),
	}
	base.SortDesc = q.Get("sort_order") != "asc"
	if t, err := time.Parse(time.RFC3339, q.Get("from_date")); err == nil {
		base.From = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to_date")); err == nil {
		base.To = &t
	}

	role := q.Get("role")
	var merged []*models.Booking
	switch role {
	case "passenger":
		f := base
		f.PassengerID = user.ID
		merged, _, _ = s.store.ListBookings(r.Context(), f)
	case "driver":
		f := base
		f.DriverID = user.ID
		merged, _, _ = s.store.ListBookings(r.Context(), f)
	default:
		// both sides: union of own bookings and bookings on own rides
		pf := base
		pf.PassengerID = user.ID
		asPassenger, _, _ := s.store.ListBookings(r.Context(), pf)
		df := base
		df.DriverID = user.ID
		asDriver, _, _ := s.store.ListBookings(r.Context(), df)

		seen := make(map[string]struct{}, len(asPassenger))
		for _, b := range asPassenger {
			seen[b.ID] = struct{}{}
			merged = append(merged, b)
		}
		for _, b := range asDriver {
			if _, dup := seen[b.ID]; !dup {
				merged = append(merged, b)
			}
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if base.SortDesc {
				return merged[j].BookedAt.Before(merged[i].BookedAt)
			}
			return merged[i].BookedAt.Before(merged[j].BookedAt)
		})
	}

	total := len(merged)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]*models.Booking, 0, end-start)
	for _, b := range merged[start:end] {
		out = append(out, s.bookingJSON(r.Context(), b))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"bookings":    out,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages(total, pageSize),
	})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	booking, err := s.store.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Booking not found")
		return
	}
	ride, err := s.store.GetRide(r.Context(), booking.RideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	if booking.PassengerID != user.ID && ride.DriverID != user.ID {
		s.error(w, http.StatusForbidden, "You can only view your own bookings or bookings for your rides")
		return
	}
	s.writeJSON(w, http.StatusOK, s.bookingJSON(r.Context(), booking))
}

func (s *Server) handleBookingStatus(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	booking, err := s.store.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Booking not found")
		return
	}
	ride, err := s.store.GetRide(r.Context(), booking.RideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	isPassenger := booking.PassengerID == user.ID
	isDriver := ride.DriverID == user.ID
	if !isPassenger && !isDriver {
		s.error(w, http.StatusForbidden, "You can only update your own bookings or bookings for your rides")
		return
	}

	var req struct {
		Status models.BookingStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if booking.Status == models.BookingCompleted {
		s.error(w, http.StatusBadRequest, "Cannot modify completed bookings")
		return
	}
	if booking.Status == models.BookingCancelled {
		s.error(w, http.StatusBadRequest, "Cannot modify cancelled bookings")
		return
	}

	switch req.Status {
	case models.BookingConfirmed:
		if !isDriver {
			s.error(w, http.StatusForbidden, "Only the driver can confirm bookings")
			return
		}
		if booking.Status != models.BookingPending {
			s.error(w, http.StatusBadRequest, "Can only confirm pending bookings")
			return
		}
	case models.BookingCompleted:
		if !isDriver {
			s.error(w, http.StatusForbidden, "Only the driver can mark bookings as completed")
			return
		}
		if booking.Status != models.BookingConfirmed {
			s.error(w, http.StatusBadRequest, "Can only complete confirmed bookings")
			return
		}
	case models.BookingCancelled:
		// both sides can cancel
	case models.BookingPending:
		s.error(w, http.StatusBadRequest, "Cannot set status back to pending")
		return
	default:
		s.error(w, http.StatusBadRequest, "Invalid booking status")
		return
	}

	oldStatus := booking.Status
	booking.Status = req.Status

	if req.Status == models.BookingCancelled && oldStatus.Active() {
		s.releaseSeats(r.Context(), ride, booking.SeatsReserved)
	}
	if err := s.store.UpdateBooking(r.Context(), booking); err != nil {
		s.storeError(w, err, "Booking not found")
		return
	}

	s.settlePayment(r.Context(), booking, req.Status)
	_ = s.events.Publish(r.Context(), events.Event{
		Type: events.TypeBookingStatus, RideID: ride.ID, BookingID: booking.ID,
		UserID: user.ID, Status: string(req.Status), Amount: booking.AmountPaid,
	})
	s.notifyBookingStatus(r.Context(), booking, ride, user.ID)

	s.writeJSON(w, http.StatusOK, s.bookingJSON(r.Context(), booking))
}

func (s *Server) handleCancelBookingDelete(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	booking, err := s.store.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Booking not found")
		return
	}
	ride, err := s.store.GetRide(r.Context(), booking.RideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	if booking.PassengerID != user.ID && ride.DriverID != user.ID {
		s.error(w, http.StatusForbidden, "You can only cancel your own bookings or bookings for your rides")
		return
	}
	if booking.Status == models.BookingCompleted {
		s.error(w, http.StatusBadRequest, "Cannot cancel completed bookings")
		return
	}
	if booking.Status == models.BookingCancelled {
		s.error(w, http.StatusBadRequest, "Booking is already cancelled")
		return
	}

	booking.Status = models.BookingCancelled
	s.releaseSeats(r.Context(), ride, booking.SeatsReserved)
	if err := s.store.UpdateBooking(r.Context(), booking); err != nil {
		s.storeError(w, err, "Booking not found")
		return
	}

	s.settlePayment(r.Context(), booking, models.BookingCancelled)
	_ = s.events.Publish(r.Context(), events.Event{
		Type: events.TypeBookingStatus, RideID: ride.ID, BookingID: booking.ID,
		UserID: user.ID, Status: string(models.BookingCancelled), Amount: booking.AmountPaid,
	})
	s.notifyBookingStatus(r.Context(), booking, ride, user.ID)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookingSummary(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	own, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{PassengerID: user.ID})
	if err != nil {
		s.storeError(w, err, "bookings not found")
		return
	}
	onOwnRides, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{DriverID: user.ID})
	if err != nil {
		s.storeError(w, err, "bookings not found")
		return
	}
	s.writeJSON(w, http.StatusOK, stats.Summarize(own, onOwnRides))
}

// releaseSeats returns reserved seats to the ride and reopens it if the
// cancellation freed a full ride.
func (s *Server) releaseSeats(ctx context.Context, ride *models.Ride, seats int) {
	ride.SeatsAvailable += seats
	if ride.SeatsAvailable > ride.SeatsTotal {
		ride.SeatsAvailable = ride.SeatsTotal
	}
	if ride.Status == models.RideFull && ride.SeatsAvailable > 0 {
		ride.Status = models.RideOpen
	}
	if err := s.store.UpdateRide(ctx, ride); err != nil {
		s.logger.Error("release seats", "error", err, "ride_id", ride.ID)
	}
}

// settlePayment captures the hold when a trip completes and releases it on
// cancellation. Settlement failures are logged, never surfaced: the booking
// state is authoritative and reconciliation happens out of band.
func (s *Server) settlePayment(ctx context.Context, booking *models.Booking, status models.BookingStatus) {
	if booking.PaymentRef == "" {
		return
	}
	var err error
	switch status {
	case models.BookingCompleted:
		err = s.payments.Capture(ctx, booking.PaymentRef)
	case models.BookingCancelled:
		err = s.payments.Cancel(ctx, booking.PaymentRef)
	default:
		return
	}
	if err != nil {
		s.logger.Error("payment settlement failed", "error", err, "booking_id", booking.ID, "status", status)
	}
}

// notifyBookingStatus pushes a ws notice and emails the passenger; the actor
// who made the change is skipped.
func (s *Server) notifyBookingStatus(ctx context.Context, booking *models.Booking, ride *models.Ride, actorID string) {
	notice := notify.Notice{
		Kind: "booking." + string(booking.Status), RideID: ride.ID, BookingID: booking.ID,
		Message: fmt.Sprintf("Booking for %s → %s is now %s", ride.OriginLabel, ride.DestinationLabel, booking.Status),
	}
	if booking.PassengerID != actorID {
		s.hub.Notify(booking.PassengerID, notice)
		if passenger, err := s.store.GetUser(ctx, booking.PassengerID); err == nil {
			go func() {
				mailCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				label := ride.OriginLabel + " → " + ride.DestinationLabel
				if err := s.mail.BookingUpdate(mailCtx, passenger.Email, label, string(booking.Status)); err != nil {
					s.logger.Error("send booking update email", "error", err)
				}
			}()
		}
	}
	if ride.DriverID != actorID {
		s.hub.Notify(ride.DriverID, notice)
	}
}

// notifyRideCancelled cancels every active booking on the ride and tells the
// passengers.
func (s *Server) notifyRideCancelled(ctx context.Context, ride *models.Ride, bookings []*models.Booking) {
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		b.Status = models.BookingCancelled
		if err := s.store.UpdateBooking(ctx, b); err != nil {
			s.logger.Error("cancel booking on ride cancel", "error", err, "booking_id", b.ID)
			continue
		}
		s.settlePayment(ctx, b, models.BookingCancelled)
		s.hub.Notify(b.PassengerID, notify.Notice{
			Kind: "ride.cancelled", RideID: ride.ID, BookingID: b.ID,
			Message: fmt.Sprintf("The ride %s → %s was cancelled by the driver", ride.OriginLabel, ride.DestinationLabel),
		})
	}
}
