package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/geo"
	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/observability"
	"github.com/example/fareshare/internal/storage"
)

// rideResponse is the wire shape for a ride, with coordinates and vehicle
// fields flattened the way the web client expects them.
type rideResponse struct {
	ID             string                `json:"id"`
	RideType       models.RideType       `json:"ride_type"`
	DriverID       string                `json:"driver_id"`
	OriginLabel    string                `json:"origin_label"`
	DestLabel      string                `json:"destination_label"`
	OriginLat      float64               `json:"origin_lat"`
	OriginLng      float64               `json:"origin_lng"`
	DestinationLat float64               `json:"destination_lat"`
	DestinationLng float64               `json:"destination_lng"`
	DepartureTime  time.Time             `json:"departure_time"`
	SeatsTotal     int                   `json:"seats_total"`
	SeatsAvailable int                   `json:"seats_available"`
	PriceShare     float64               `json:"price_share"`
	VehicleMake    string                `json:"vehicle_make,omitempty"`
	VehicleModel   string                `json:"vehicle_model,omitempty"`
	VehicleColor   string                `json:"vehicle_color,omitempty"`
	VehicleYear    int                   `json:"vehicle_year,omitempty"`
	Notes          string                `json:"notes,omitempty"`
	Status         models.RideStatus     `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	Driver         *models.PublicProfile `json:"driver,omitempty"`
}

func (s *Server) rideJSON(ctx context.Context, ride *models.Ride) rideResponse {
	resp := rideResponse{
		ID:             ride.ID,
		RideType:       ride.Type(),
		DriverID:       ride.DriverID,
		OriginLabel:    ride.OriginLabel,
		DestLabel:      ride.DestinationLabel,
		OriginLat:      ride.Origin.Lat,
		OriginLng:      ride.Origin.Lon,
		DestinationLat: ride.Destination.Lat,
		DestinationLng: ride.Destination.Lon,
		DepartureTime:  ride.DepartureTime,
		SeatsTotal:     ride.SeatsTotal,
		SeatsAvailable: ride.SeatsAvailable,
		PriceShare:     ride.PriceShare,
		VehicleMake:    ride.Vehicle.Make,
		VehicleModel:   ride.Vehicle.Model,
		VehicleColor:   ride.Vehicle.Color,
		VehicleYear:    ride.Vehicle.Year,
		Notes:          ride.Notes,
		Status:         ride.Status,
		CreatedAt:      ride.CreatedAt,
	}
	if driver, err := s.store.GetUser(ctx, ride.DriverID); err == nil {
		resp.Driver = driver.Public()
	}
	return resp
}

type rideCreate struct {
	RideType       models.RideType `json:"ride_type"`
	OriginLabel    string          `json:"origin_label"`
	DestLabel      string          `json:"destination_label"`
	OriginLat      *float64        `json:"origin_lat"`
	OriginLng      *float64        `json:"origin_lng"`
	DestinationLat *float64        `json:"destination_lat"`
	DestinationLng *float64        `json:"destination_lng"`
	DepartureTime  time.Time       `json:"departure_time"`
	SeatsTotal     int             `json:"seats_total"`
	PriceShare     float64         `json:"price_share"`
	VehicleMake    string          `json:"vehicle_make"`
	VehicleModel   string          `json:"vehicle_model"`
	VehicleColor   string          `json:"vehicle_color"`
	VehicleYear    int             `json:"vehicle_year"`
	Notes          string          `json:"notes"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req rideCreate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.OriginLabel) == "" || strings.TrimSpace(req.DestLabel) == "" {
		s.error(w, http.StatusBadRequest, "Origin and destination labels are required")
		return
	}
	if req.SeatsTotal < 1 || req.SeatsTotal > 8 {
		s.error(w, http.StatusBadRequest, "seats_total must be between 1 and 8")
		return
	}
	if req.PriceShare < 0 {
		s.error(w, http.StatusBadRequest, "price_share cannot be negative")
		return
	}
	if req.DepartureTime.IsZero() {
		s.error(w, http.StatusBadRequest, "departure_time is required")
		return
	}

	status := models.RideOpen
	if req.RideType == models.RideRequest {
		status = models.RideRequested
	}

	// coordinates stay optional until map integration lands; (0,0) marks "unset"
	coord := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}

	ride := &models.Ride{
		ID:               newID(),
		DriverID:         user.ID,
		OriginLabel:      strings.TrimSpace(req.OriginLabel),
		DestinationLabel: strings.TrimSpace(req.DestLabel),
		Origin:           models.Coord{Lat: coord(req.OriginLat), Lon: coord(req.OriginLng)},
		Destination:      models.Coord{Lat: coord(req.DestinationLat), Lon: coord(req.DestinationLng)},
		DepartureTime:    req.DepartureTime,
		SeatsTotal:       req.SeatsTotal,
		SeatsAvailable:   req.SeatsTotal,
		PriceShare:       req.PriceShare,
		Notes:            req.Notes,
		Status:           status,
		CreatedAt:        s.now().UTC(),
	}
	if req.RideType != models.RideRequest {
		ride.Vehicle = models.Vehicle{Make: req.VehicleMake, Model: req.VehicleModel, Color: req.VehicleColor, Year: req.VehicleYear}
	}

	if err := s.store.CreateRide(r.Context(), ride); err != nil {
		s.storeError(w, err, "ride not found")
		return
	}
	observability.RidesCreated.Inc()
	_ = s.events.Publish(r.Context(), events.Event{Type: events.TypeRideCreated, RideID: ride.ID, UserID: user.ID, Status: string(ride.Status)})
	s.writeJSON(w, http.StatusCreated, s.rideJSON(r.Context(), ride))
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.rideJSON(r.Context(), ride))
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := parsePage(q.Get("page"), q.Get("page_size"), 20, 100)

	filter := storage.RideFilter{
		Type:     models.RideType(q.Get("ride_type")),
		Status:   models.RideStatus(q.Get("status")),
		DriverID: q.Get("driver_id"),
		Search:   q.Get("search"),
		SortBy:   q.Get("sort_by"),
		SortDesc: q.Get("sort_order") == "desc",
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize,
	}
	if v, err := strconv.Atoi(q.Get("min_seats")); err == nil {
		filter.MinSeats = v
	}
	if v, err := strconv.ParseFloat(q.Get("max_price"), 64); err == nil {
		filter.MaxPrice = v
	}

	rides, total, err := s.store.ListRides(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "rides not found")
		return
	}

	out := make([]rideResponse, 0, len(rides))
	for _, ride := range rides {
		out = append(out, s.rideJSON(r.Context(), ride))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rides":       out,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages(total, pageSize),
	})
}

// handleSearchRides is the discovery endpoint the search page uses: free-text
// origin/destination matching plus an optional radius filter around a point.
func (s *Server) handleSearchRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := parsePage(q.Get("page"), q.Get("page_size"), 20, 100)

	filter := storage.RideFilter{
		Type:   models.RideOffer,
		Status: models.RideOpen,
		SortBy: "departure_time",
	}
	if q.Get("include_requests") == "true" {
		filter.Type = ""
		filter.Status = ""
	}
	if v, err := strconv.Atoi(q.Get("seats")); err == nil {
		filter.MinSeats = v
	}
	if v, err := strconv.ParseFloat(q.Get("max_price"), 64); err == nil {
		filter.MaxPrice = v
	}

	rides, _, err := s.store.ListRides(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "rides not found")
		return
	}

	origin := strings.ToLower(strings.TrimSpace(q.Get("origin")))
	dest := strings.ToLower(strings.TrimSpace(q.Get("destination")))

	var nearLat, nearLon, radiusKm float64
	useRadius := false
	if lat, err1 := strconv.ParseFloat(q.Get("near_lat"), 64); err1 == nil {
		if lon, err2 := strconv.ParseFloat(q.Get("near_lng"), 64); err2 == nil {
			nearLat, nearLon = lat, lon
			radiusKm = 25
			if v, err := strconv.ParseFloat(q.Get("radius_km"), 64); err == nil && v > 0 {
				radiusKm = v
			}
			useRadius = true
		}
	}

	// naive scan over the open rides; fine at this scale
	matched := make([]*models.Ride, 0, len(rides))
	for _, ride := range rides {
		if origin != "" && !strings.Contains(strings.ToLower(ride.OriginLabel), origin) {
			continue
		}
		if dest != "" && !strings.Contains(strings.ToLower(ride.DestinationLabel), dest) {
			continue
		}
		if useRadius {
			if !models.HasValidCoordinates(&ride.Origin.Lat, &ride.Origin.Lon) {
				continue
			}
			if geo.Haversine(nearLat, nearLon, ride.Origin.Lat, ride.Origin.Lon) > radiusKm*1000 {
				continue
			}
		}
		matched = append(matched, ride)
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]rideResponse, 0, end-start)
	for _, ride := range matched[start:end] {
		out = append(out, s.rideJSON(r.Context(), ride))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rides":       out,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages(total, pageSize),
	})
}

type rideUpdate struct {
	OriginLabel    *string    `json:"origin_label"`
	DestLabel      *string    `json:"destination_label"`
	OriginLat      *float64   `json:"origin_lat"`
	OriginLng      *float64   `json:"origin_lng"`
	DestinationLat *float64   `json:"destination_lat"`
	DestinationLng *float64   `json:"destination_lng"`
	DepartureTime  *time.Time `json:"departure_time"`
	SeatsTotal     *int       `json:"seats_total"`
	PriceShare     *float64   `json:"price_share"`
	VehicleMake    *string    `json:"vehicle_make"`
	VehicleModel   *string    `json:"vehicle_model"`
	VehicleColor   *string    `json:"vehicle_color"`
	VehicleYear    *int       `json:"vehicle_year"`
	Notes          *string    `json:"notes"`
}

func (s *Server) handleUpdateRide(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	if ride.DriverID != user.ID {
		s.error(w, http.StatusForbidden, "You can only update your own rides")
		return
	}
	if ride.Terminal() {
		s.error(w, http.StatusBadRequest, "Cannot update "+string(ride.Status)+" rides")
		return
	}

	var req rideUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.OriginLabel != nil {
		ride.OriginLabel = strings.TrimSpace(*req.OriginLabel)
	}
	if req.DestLabel != nil {
		ride.DestinationLabel = strings.TrimSpace(*req.DestLabel)
	}
	if req.OriginLat != nil {
		ride.Origin.Lat = *req.OriginLat
	}
	if req.OriginLng != nil {
		ride.Origin.Lon = *req.OriginLng
	}
	if req.DestinationLat != nil {
		ride.Destination.Lat = *req.DestinationLat
	}
	if req.DestinationLng != nil {
		ride.Destination.Lon = *req.DestinationLng
	}
	if req.DepartureTime != nil {
		ride.DepartureTime = *req.DepartureTime
	}
	if req.PriceShare != nil {
		if *req.PriceShare < 0 {
			s.error(w, http.StatusBadRequest, "price_share cannot be negative")
			return
		}
		ride.PriceShare = *req.PriceShare
	}
	if req.VehicleMake != nil {
		ride.Vehicle.Make = *req.VehicleMake
	}
	if req.VehicleModel != nil {
		ride.Vehicle.Model = *req.VehicleModel
	}
	if req.VehicleColor != nil {
		ride.Vehicle.Color = *req.VehicleColor
	}
	if req.VehicleYear != nil {
		ride.Vehicle.Year = *req.VehicleYear
	}
	if req.Notes != nil {
		ride.Notes = *req.Notes
	}
	if req.SeatsTotal != nil {
		// keep booked seats intact when capacity changes
		booked := ride.SeatsTotal - ride.SeatsAvailable
		if *req.SeatsTotal < booked {
			s.error(w, http.StatusBadRequest, "Cannot reduce total seats below number of booked seats")
			return
		}
		ride.SeatsTotal = *req.SeatsTotal
		ride.SeatsAvailable = *req.SeatsTotal - booked
		switch {
		case ride.SeatsAvailable == 0 && ride.Status == models.RideOpen:
			ride.Status = models.RideFull
		case ride.SeatsAvailable > 0 && ride.Status == models.RideFull:
			ride.Status = models.RideOpen
		}
	}

	if err := s.store.UpdateRide(r.Context(), ride); err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.rideJSON(r.Context(), ride))
}

func (s *Server) handleDeleteRide(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	if ride.DriverID != user.ID {
		s.error(w, http.StatusForbidden, "You can only delete your own rides")
		return
	}

	bookings, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{RideID: ride.ID})
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	if len(bookings) > 0 {
		// bookings reference this ride; cancel instead of deleting
		ride.Status = models.RideCancelled
		if err := s.store.UpdateRide(r.Context(), ride); err != nil {
			s.storeError(w, err, "Ride not found")
			return
		}
		s.notifyRideCancelled(r.Context(), ride, bookings)
	} else {
		if err := s.store.DeleteRide(r.Context(), ride.ID); err != nil {
			s.storeError(w, err, "Ride not found")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}
	if ride.DriverID != user.ID {
		s.error(w, http.StatusForbidden, "You can only update your own rides")
		return
	}

	var req struct {
		Status models.RideStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != models.RideCancelled && req.Status != models.RideCompleted {
		s.error(w, http.StatusBadRequest, "Status can only be set to cancelled or completed; other statuses are managed automatically")
		return
	}
	if ride.Terminal() {
		s.error(w, http.StatusBadRequest, "Cannot update "+string(ride.Status)+" rides")
		return
	}

	ride.Status = req.Status
	if err := s.store.UpdateRide(r.Context(), ride); err != nil {
		s.storeError(w, err, "Ride not found")
		return
	}

	if req.Status == models.RideCancelled {
		if bookings, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{RideID: ride.ID}); err == nil {
			s.notifyRideCancelled(r.Context(), ride, bookings)
		}
	}
	s.writeJSON(w, http.StatusOK, s.rideJSON(r.Context(), ride))
}

func parsePage(pageStr, sizeStr string, defaultSize, maxSize int) (int, int) {
	page := 1
	if v, err := strconv.Atoi(pageStr); err == nil && v >= 1 {
		page = v
	}
	size := defaultSize
	if v, err := strconv.Atoi(sizeStr); err == nil && v >= 1 {
		size = v
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// parseZeroBasedPage parses the admin/incident style pagination: page starts
// at 0 and the size parameter is called "limit".
func parseZeroBasedPage(pageStr, limitStr string, defaultLimit, maxLimit int) (int, int) {
	page := 0
	if v, err := strconv.Atoi(pageStr); err == nil && v >= 0 {
		page = v
	}
	limit := defaultLimit
	if v, err := strconv.Atoi(limitStr); err == nil && v >= 1 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func totalPages(total, pageSize int) int {
	if total <= 0 {
		return 1
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
