package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/observability"
	"github.com/example/fareshare/internal/storage"
)

type incidentCreate struct {
	ReportedUserID string                  `json:"reported_user_id"`
	RideID         string                  `json:"ride_id"`
	BookingID      string                  `json:"booking_id"`
	Category       models.IncidentCategory `json:"category"`
	Description    string                  `json:"description"`
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req incidentCreate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Category.Valid() {
		s.error(w, http.StatusBadRequest, "Invalid incident category")
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	if len(req.Description) < models.MinIncidentDescription {
		s.error(w, http.StatusBadRequest, "Description must be at least 10 characters")
		return
	}

	ride, err := s.store.GetRide(r.Context(), req.RideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	booking, err := s.store.GetBooking(r.Context(), req.BookingID)
	if err != nil || booking.RideID != ride.ID {
		s.error(w, http.StatusNotFound, "Booking not found")
		return
	}

	// reports are only accepted between the two parties of a confirmed booking
	if booking.Status != models.BookingConfirmed {
		s.error(w, http.StatusBadRequest, "Can only report incidents for confirmed bookings")
		return
	}
	if ride.DriverID != user.ID && booking.PassengerID != user.ID {
		s.error(w, http.StatusForbidden, "You are not part of this booking")
		return
	}
	if ride.DriverID == user.ID {
		if booking.PassengerID != req.ReportedUserID {
			s.error(w, http.StatusBadRequest, "Reported user is not the passenger on this booking")
			return
		}
	} else if ride.DriverID != req.ReportedUserID {
		s.error(w, http.StatusBadRequest, "Reported user is not the driver of this ride")
		return
	}
	if req.ReportedUserID == user.ID {
		s.error(w, http.StatusBadRequest, "You cannot report yourself")
		return
	}

	now := s.now().UTC()
	incident := &models.Incident{
		ID:             newID(),
		ReporterID:     user.ID,
		ReportedUserID: req.ReportedUserID,
		RideID:         ride.ID,
		BookingID:      booking.ID,
		Category:       req.Category,
		Description:    req.Description,
		Status:         models.IncidentOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateIncident(r.Context(), incident); err != nil {
		s.storeError(w, err, "Booking not found")
		return
	}

	observability.IncidentsOpened.Inc()
	_ = s.events.Publish(r.Context(), events.Event{
		Type: events.TypeIncidentReported, RideID: ride.ID, BookingID: booking.ID,
		IncidentID: incident.ID, UserID: user.ID, Status: string(incident.Status),
	})

	s.writeJSON(w, http.StatusCreated, s.incidentJSON(r.Context(), incident))
}

func (s *Server) handleListMyIncidents(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	q := r.URL.Query()
	page, limit := parseZeroBasedPage(q.Get("page"), q.Get("limit"), 20, 100)

	incidents, total, err := s.store.ListIncidents(r.Context(), storage.IncidentFilter{
		InvolvedUserID: user.ID,
		Status:         models.IncidentStatus(q.Get("status")),
		Offset:         page * limit,
		Limit:          limit,
	})
	if err != nil {
		s.storeError(w, err, "incidents not found")
		return
	}

	out := make([]*models.Incident, 0, len(incidents))
	for _, in := range incidents {
		out = append(out, s.incidentJSON(r.Context(), in))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"incidents": out,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	incident, err := s.store.GetIncident(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Incident not found")
		return
	}
	if incident.ReporterID != user.ID && incident.ReportedUserID != user.ID {
		s.error(w, http.StatusForbidden, "You do not have permission to view this incident")
		return
	}
	s.writeJSON(w, http.StatusOK, s.incidentJSON(r.Context(), incident))
}

// incidentAccess loads the incident and checks the caller may comment on it.
func (s *Server) incidentAccess(w http.ResponseWriter, r *http.Request) (*models.Incident, bool) {
	user := currentUser(r.Context())

	incident, err := s.store.GetIncident(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Incident not found")
		return nil, false
	}
	isAdmin := user.Role == models.RoleAdmin
	if !isAdmin && incident.ReporterID != user.ID && incident.ReportedUserID != user.ID {
		s.error(w, http.StatusForbidden, "You do not have permission to comment on this incident")
		return nil, false
	}
	if incident.Status == models.IncidentResolved && !isAdmin {
		s.error(w, http.StatusBadRequest,
			"Cannot add comments to resolved incidents. Only admins can comment on resolved incidents.")
		return nil, false
	}
	return incident, true
}

type commentCreate struct {
	Text string `json:"comment_text"`
}

func (s *Server) handleAddIncidentComment(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	incident, ok := s.incidentAccess(w, r)
	if !ok {
		return
	}
	var req commentCreate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		s.error(w, http.StatusBadRequest, "Comment text is required")
		return
	}

	comment := &models.IncidentComment{
		ID:         newID(),
		IncidentID: incident.ID,
		AuthorID:   user.ID,
		Text:       req.Text,
		IsAdmin:    user.Role == models.RoleAdmin,
		CreatedAt:  s.now().UTC(),
		Author:     user.Public(),
	}
	if err := s.store.AddIncidentComment(r.Context(), comment); err != nil {
		s.storeError(w, err, "Incident not found")
		return
	}
	s.writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleListIncidentComments(w http.ResponseWriter, r *http.Request) {
	incident, ok := s.incidentAccess(w, r)
	if !ok {
		return
	}
	comments, err := s.store.ListIncidentComments(r.Context(), incident.ID)
	if err != nil {
		s.storeError(w, err, "Incident not found")
		return
	}
	out := make([]*models.IncidentComment, 0, len(comments))
	for _, c := range comments {
		cp := *c
		if author, err := s.store.GetUser(r.Context(), c.AuthorID); err == nil {
			cp.Author = author.Public()
		}
		out = append(out, &cp)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) incidentJSON(ctx context.Context, in *models.Incident) *models.Incident {
	out := *in
	if reporter, err := s.store.GetUser(ctx, in.ReporterID); err == nil {
		out.Reporter = reporter.Public()
	}
	if reported, err := s.store.GetUser(ctx, in.ReportedUserID); err == nil {
		out.ReportedUser = reported.Public()
	}
	if ride, err := s.store.GetRide(ctx, in.RideID); err == nil {
		out.Ride = ride.Summary()
	}
	return &out
}
