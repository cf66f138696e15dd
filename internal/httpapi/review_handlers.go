package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/stats"
	"github.com/example/fareshare/internal/storage"
)

type reviewCreate struct {
	RideID     string `json:"ride_id"`
	RevieweeID string `json:"reviewee_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	if user.VerificationStatus != "verified" {
		s.error(w, http.StatusForbidden, "Only verified users can leave reviews")
		return
	}

	var req reviewCreate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		s.error(w, http.StatusBadRequest, "Rating must be between 1 and 5")
		return
	}
	req.Comment = strings.TrimSpace(req.Comment)
	if len(req.Comment) > models.MaxReviewComment {
		s.error(w, http.StatusBadRequest, "Comment must be 150 characters or less")
		return
	}

	ride, err := s.store.GetRide(r.Context(), req.RideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	bookings, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{RideID: ride.ID})
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	// participants are the driver plus passengers with a confirmed or completed
	// booking; the reviewer additionally needs a completed booking on the ride
	var hasCompleted bool
	participants := map[string]bool{ride.DriverID: true}
	for _, b := range bookings {
		if b.Status == models.BookingConfirmed || b.Status == models.BookingCompleted {
			participants[b.PassengerID] = true
		}
		if b.Status == models.BookingCompleted {
			if ride.DriverID == user.ID || b.PassengerID == user.ID {
				hasCompleted = true
			}
		}
	}
	if !hasCompleted {
		s.error(w, http.StatusBadRequest,
			"Reviews can only be written for completed rides. Please mark the booking as completed first.")
		return
	}
	if req.RevieweeID == user.ID {
		s.error(w, http.StatusBadRequest, "You cannot review yourself")
		return
	}
	if !participants[user.ID] {
		s.error(w, http.StatusForbidden, "Only ride participants can leave reviews")
		return
	}
	if !participants[req.RevieweeID] {
		s.error(w, http.StatusBadRequest, "You can only review other participants of this ride")
		return
	}

	if dup, err := s.store.HasReview(r.Context(), ride.ID, user.ID, req.RevieweeID); err != nil {
		s.storeError(w, err, "Ride not found")
		return
	} else if dup {
		s.error(w, http.StatusBadRequest, "You have already reviewed this user for this ride")
		return
	}

	review := &models.Review{
		ID:         newID(),
		RideID:     ride.ID,
		ReviewerID: user.ID,
		RevieweeID: req.RevieweeID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateReview(r.Context(), review); err != nil {
		if err == storage.ErrDuplicate {
			s.error(w, http.StatusBadRequest, "You have already reviewed this user for this ride")
			return
		}
		s.storeError(w, err, "Ride not found")
		return
	}

	s.applyRating(r.Context(), req.RevieweeID, req.Rating)
	s.writeJSON(w, http.StatusCreated, review)
}

// applyRating folds a new rating into the reviewee's running average.
func (s *Server) applyRating(ctx context.Context, revieweeID string, rating int) {
	reviewee, err := s.store.GetUser(ctx, revieweeID)
	if err != nil {
		s.logger.Error("load reviewee", "error", err, "user_id", revieweeID)
		return
	}
	reviewee.RatingAvg = stats.NewRatingAvg(reviewee.RatingAvg, reviewee.RatingCount, rating)
	reviewee.RatingCount++
	if err := s.store.UpdateUser(ctx, reviewee); err != nil {
		s.logger.Error("update reviewee rating", "error", err, "user_id", revieweeID)
	}
}

func (s *Server) handleUserReviews(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		s.storeError(w, err, "User not found")
		return
	}

	q := r.URL.Query()
	page, pageSize := parsePage(q.Get("page"), q.Get("page_size"), 10, 50)

	reviews, total, err := s.store.ListReviewsForUser(r.Context(), userID, (page-1)*pageSize, pageSize)
	if err != nil {
		s.storeError(w, err, "User not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reviews":     s.reviewsJSON(r, reviews),
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages(total, pageSize),
	})
}

func (s *Server) handleRideReviews(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	if _, err := s.store.GetRide(r.Context(), rideID); err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	reviews, err := s.store.ListReviewsForRide(r.Context(), rideID)
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.reviewsJSON(r, reviews))
}

func (s *Server) reviewsJSON(r *http.Request, reviews []*models.Review) []*models.Review {
	out := make([]*models.Review, 0, len(reviews))
	for _, rv := range reviews {
		cp := *rv
		if reviewer, err := s.store.GetUser(r.Context(), rv.ReviewerID); err == nil {
			cp.Reviewer = reviewer.Public()
		}
		out = append(out, &cp)
	}
	return out
}
