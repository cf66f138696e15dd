package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/fareshare/internal/notify"
	"github.com/example/fareshare/internal/storage"
)

const maxMessageLength = 500

type messageSend struct {
	RecipientUserID string `json:"recipient_user_id"`
	Message         string `json:"message"`
	RideID          string `json:"ride_id"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req messageSend
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" || len(req.Message) > maxMessageLength {
		s.error(w, http.StatusBadRequest, "Message must be between 1 and 500 characters")
		return
	}

	recipient, err := s.store.GetUser(r.Context(), req.RecipientUserID)
	if err != nil {
		s.storeError(w, err, "Recipient user not found")
		return
	}
	if recipient.ID == user.ID {
		s.error(w, http.StatusBadRequest, "You cannot send messages to yourself")
		return
	}

	shared, err := s.haveSharedRide(r.Context(), user.ID, recipient.ID)
	if err != nil {
		s.storeError(w, err, "Recipient user not found")
		return
	}
	if !shared {
		s.error(w, http.StatusForbidden, "You can only send messages to users you have a shared ride with")
		return
	}

	var rideLabel string
	if req.RideID != "" {
		if ride, err := s.store.GetRide(r.Context(), req.RideID); err == nil {
			rideLabel = ride.OriginLabel + " → " + ride.DestinationLabel + " on " +
				ride.DepartureTime.Format("January 2, 2006 at 3:04 PM")
		}
	}

	if err := s.mail.DirectMessage(r.Context(), recipient.Email, user.FullName, rideLabel, req.Message); err != nil {
		s.logger.Error("send direct message", "error", err, "recipient_id", recipient.ID)
		s.error(w, http.StatusInternalServerError, "Failed to send message")
		return
	}
	s.hub.Notify(recipient.ID, notify.Notice{
		Kind: "message.received", RideID: req.RideID,
		Message: user.FullName + " sent you a message",
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message sent successfully to " + recipient.FullName,
		"sent_to": recipient.Email,
		"sent_at": s.now().UTC().Format(time.RFC3339),
	})
}

// haveSharedRide reports whether the two users met on the platform: fellow
// passengers on one ride, or one drove a ride the other booked.
func (s *Server) haveSharedRide(ctx context.Context, userID, otherID string) (bool, error) {
	mine, _, err := s.store.ListBookings(ctx, storage.BookingFilter{PassengerID: userID})
	if err != nil {
		return false, err
	}
	theirs, _, err := s.store.ListBookings(ctx, storage.BookingFilter{PassengerID: otherID})
	if err != nil {
		return false, err
	}

	myRides := make(map[string]bool, len(mine))
	for _, b := range mine {
		myRides[b.RideID] = true
	}
	for _, b := range theirs {
		if myRides[b.RideID] {
			return true, nil
		}
	}
	// driver on one side, passenger on the other
	for _, b := range theirs {
		if ride, err := s.store.GetRide(ctx, b.RideID); err == nil && ride.DriverID == userID {
			return true, nil
		}
	}
	for _, b := range mine {
		if ride, err := s.store.GetRide(ctx, b.RideID); err == nil && ride.DriverID == otherID {
			return true, nil
		}
	}
	return false, nil
}

// handleRideParticipants lists who the caller can message about a ride. Emails
// are withheld; messaging goes through the platform.
func (s *Server) handleRideParticipants(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	bookings, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{RideID: ride.ID})
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	isDriver := ride.DriverID == user.ID
	isPassenger := false
	for _, b := range bookings {
		if b.PassengerID == user.ID {
			isPassenger = true
			break
		}
	}
	if !isDriver && !isPassenger {
		s.error(w, http.StatusForbidden, "You must be part of this ride to view participants")
		return
	}

	type participant struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	}
	var participants []participant
	if !isDriver {
		if driver, err := s.store.GetUser(r.Context(), ride.DriverID); err == nil {
			participants = append(participants, participant{ID: driver.ID, Name: driver.FullName, Role: "Driver"})
		}
	}
	for _, b := range bookings {
		if b.PassengerID == user.ID {
			continue
		}
		if p, err := s.store.GetUser(r.Context(), b.PassengerID); err == nil {
			participants = append(participants, participant{ID: p.ID, Name: p.FullName, Role: "Passenger"})
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ride_id": ride.ID,
		"ride_details": map[string]any{
			"origin":         ride.OriginLabel,
			"destination":    ride.DestinationLabel,
			"departure_time": ride.DepartureTime,
		},
		"participants": participants,
	})
}
