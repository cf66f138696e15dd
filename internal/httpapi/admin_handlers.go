package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/storage"
)

// bbox is the "minLon,minLat,maxLon,maxLat" admin report filter.
type bbox struct {
	minLon, minLat, maxLon, maxLat float64
}

func parseBBox(s string) (*bbox, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("geo_bbox must be 'minLon,minLat,maxLon,maxLat'")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("geo_bbox must be 'minLon,minLat,maxLon,maxLat'")
		}
		vals[i] = v
	}
	return &bbox{minLon: vals[0], minLat: vals[1], maxLon: vals[2], maxLat: vals[3]}, nil
}

func (b *bbox) contains(c models.Coord) bool {
	return c.Lon >= b.minLon && c.Lon <= b.maxLon && c.Lat >= b.minLat && c.Lat <= b.maxLat
}

func (b *bbox) matches(ride *models.Ride) bool {
	return b.contains(ride.Origin) || b.contains(ride.Destination)
}

// parseReportDate parses YYYY-MM-DD at UTC start of day.
func parseReportDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}

// adminRideWindow loads rides in the inclusive [from, to] departure window
// with optional status and bbox filters applied.
func (s *Server) adminRideWindow(r *http.Request, from, to time.Time, status string, box *bbox) ([]*models.Ride, error) {
	// end of day inclusive
	toEnd := to.Add(24 * time.Hour)
	f := storage.RideFilter{From: &from, To: &toEnd}
	if status != "" && strings.ToLower(status) != "all" {
		f.Status = models.RideStatus(strings.ToLower(status))
	}
	rides, _, err := s.store.ListRides(r.Context(), f)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return rides, nil
	}
	out := rides[:0]
	for _, ride := range rides {
		if box.matches(ride) {
			out = append(out, ride)
		}
	}
	return out, nil
}

type usageSummary struct {
	RidesTotal      int     `json:"rides_total"`
	BookingsTotal   int     `json:"bookings_total"`
	CompletedRides  int     `json:"completed_rides"`
	CancelledRides  int     `json:"cancelled_rides"`
	DeniedBookings  int     `json:"denied_bookings"`
	EarningsTotal   float64 `json:"earnings_total"`
	ActiveDrivers   int     `json:"active_drivers"`
	ActiveRiders    int     `json:"active_riders"`
	AvgDriverRating float64 `json:"avg_driver_rating"`
}

type usageBucket struct {
	Period   string  `json:"period"`
	Rides    int     `json:"rides"`
	Bookings int     `json:"bookings"`
	Earnings float64 `json:"earnings"`
}

type usageReport struct {
	Summary usageSummary  `json:"summary"`
	Buckets []usageBucket `json:"buckets"`
}

// bucketStart truncates a departure time to its day/week/month bucket. Weeks
// start on Monday, matching Postgres date_trunc.
func bucketStart(t time.Time, groupBy string) time.Time {
	t = t.UTC()
	switch groupBy {
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // week
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
}

func (s *Server) buildUsageReport(r *http.Request) (*usageReport, int, string) {
	q := r.URL.Query()

	groupBy := strings.ToLower(q.Get("group_by"))
	if groupBy == "" {
		groupBy = "week"
	}
	if groupBy != "day" && groupBy != "week" && groupBy != "month" {
		return nil, http.StatusBadRequest, "group_by must be one of: day, week, month"
	}
	from, err := parseReportDate(q.Get("from_date"))
	if err != nil {
		return nil, http.StatusBadRequest, "Invalid date format for 'from'. Expected YYYY-MM-DD."
	}
	to, err := parseReportDate(q.Get("to_date"))
	if err != nil {
		return nil, http.StatusBadRequest, "Invalid date format for 'to'. Expected YYYY-MM-DD."
	}
	box, err := parseBBox(q.Get("geo_bbox"))
	if err != nil {
		return nil, http.StatusBadRequest, err.Error()
	}

	rides, err := s.adminRideWindow(r, from, to, q.Get("status"), box)
	if err != nil {
		return nil, http.StatusInternalServerError, "internal error"
	}

	var report usageReport
	drivers := make(map[string]bool)
	riders := make(map[string]bool)
	byPeriod := make(map[time.Time]*usageBucket)

	for _, ride := range rides {
		report.Summary.RidesTotal++
		if ride.Status == models.RideCompleted {
			report.Summary.CompletedRides++
		}
		if ride.Status == models.RideCancelled {
			report.Summary.CancelledRides++
		}
		drivers[ride.DriverID] = true

		period := bucketStart(ride.DepartureTime, groupBy)
		bucket := byPeriod[period]
		if bucket == nil {
			bucket = &usageBucket{Period: period.Format("2006-01-02")}
			byPeriod[period] = bucket
		}
		bucket.Rides++

		bookings, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{RideID: ride.ID})
		if err != nil {
			continue
		}
		for _, b := range bookings {
			report.Summary.BookingsTotal++
			bucket.Bookings++
			riders[b.PassengerID] = true
			switch b.Status {
			case models.BookingConfirmed, models.BookingCompleted:
				report.Summary.EarningsTotal += b.AmountPaid
				bucket.Earnings += b.AmountPaid
			case models.BookingCancelled:
				report.Summary.DeniedBookings++
			}
		}
	}

	report.Summary.ActiveDrivers = len(drivers)
	report.Summary.ActiveRiders = len(riders)

	if len(drivers) > 0 {
		var sum float64
		for id := range drivers {
			if u, err := s.store.GetUser(r.Context(), id); err == nil {
				sum += u.RatingAvg
			}
		}
		report.Summary.AvgDriverRating = round2(sum / float64(len(drivers)))
	}
	report.Summary.EarningsTotal = round2(report.Summary.EarningsTotal)

	periods := make([]time.Time, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	report.Buckets = make([]usageBucket, 0, len(periods))
	for _, p := range periods {
		b := byPeriod[p]
		b.Earnings = round2(b.Earnings)
		report.Buckets = append(report.Buckets, *b)
	}
	return &report, 0, ""
}

func (s *Server) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	report, status, detail := s.buildUsageReport(r)
	if report == nil {
		s.error(w, status, detail)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUsageReportCSV(w http.ResponseWriter, r *http.Request) {
	report, status, detail := s.buildUsageReport(r)
	if report == nil {
		s.error(w, status, detail)
		return
	}

	var b strings.Builder
	sum := report.Summary
	b.WriteString("rides_total,bookings_total,completed_rides,cancelled_rides,denied_bookings,earnings_total,active_drivers,active_riders,avg_driver_rating\n")
	fmt.Fprintf(&b, "%d,%d,%d,%d,%d,%.2f,%d,%d,%.2f\n",
		sum.RidesTotal, sum.BookingsTotal, sum.CompletedRides, sum.CancelledRides,
		sum.DeniedBookings, sum.EarningsTotal, sum.ActiveDrivers, sum.ActiveRiders, sum.AvgDriverRating)
	b.WriteString("\nperiod,rides,bookings,earnings\n")
	for _, bucket := range report.Buckets {
		fmt.Fprintf(&b, "%s,%d,%d,%.2f\n", bucket.Period, bucket.Rides, bucket.Bookings, bucket.Earnings)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="usage_report.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

type adminRideRow struct {
	RideID            string    `json:"ride_id"`
	Status            string    `json:"status"`
	DepartureTime     time.Time `json:"departure_time"`
	OriginLabel       string    `json:"origin_label"`
	DestinationLabel  string    `json:"destination_label"`
	Driver            any       `json:"driver"`
	PassengersCount   int       `json:"passengers_count"`
	BookingsConfirmed int       `json:"bookings_confirmed"`
	BookingsDenied    int       `json:"bookings_denied"`
}

func (s *Server) handleAdminRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := parseZeroBasedPage(q.Get("page"), q.Get("limit"), 20, 100)

	from, err := parseReportDate(q.Get("from_date"))
	if err != nil {
		s.error(w, http.StatusBadRequest, "Invalid date format for 'from'. Expected YYYY-MM-DD.")
		return
	}
	to, err := parseReportDate(q.Get("to_date"))
	if err != nil {
		s.error(w, http.StatusBadRequest, "Invalid date format for 'to'. Expected YYYY-MM-DD.")
		return
	}
	box, err := parseBBox(q.Get("geo_bbox"))
	if err != nil {
		s.error(w, http.StatusBadRequest, err.Error())
		return
	}

	rides, err := s.adminRideWindow(r, from, to, q.Get("status"), box)
	if err != nil {
		s.storeError(w, err, "rides not found")
		return
	}

	if driverID := q.Get("driver_id"); driverID != "" {
		filtered := rides[:0]
		for _, ride := range rides {
			if ride.DriverID == driverID {
				filtered = append(filtered, ride)
			}
		}
		rides = filtered
	}

	riderID := q.Get("rider_id")
	rows := make([]adminRideRow, 0, len(rides))
	for _, ride := range rides {
		bookings, _, err := s.store.ListBookings(r.Context(), storage.BookingFilter{RideID: ride.ID})
		if err != nil {
			continue
		}
		if riderID != "" {
			var hasRider bool
			for _, b := range bookings {
				if b.PassengerID == riderID {
					hasRider = true
					break
				}
			}
			if !hasRider {
				continue
			}
		}

		row := adminRideRow{
			RideID:           ride.ID,
			Status:           string(ride.Status),
			DepartureTime:    ride.DepartureTime,
			OriginLabel:      ride.OriginLabel,
			DestinationLabel: ride.DestinationLabel,
		}
		if driver, err := s.store.GetUser(r.Context(), ride.DriverID); err == nil {
			row.Driver = map[string]string{"id": driver.ID, "name": driver.FullName}
		}
		for _, b := range bookings {
			row.PassengersCount += b.SeatsReserved
			switch b.Status {
			case models.BookingConfirmed, models.BookingCompleted:
				row.BookingsConfirmed += b.SeatsReserved
			case models.BookingCancelled:
				row.BookingsDenied += b.SeatsReserved
			}
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[j].DepartureTime.Before(rows[i].DepartureTime)
	})

	start := page * limit
	if start > len(rows) {
		start = len(rows)
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"page":    page,
		"limit":   limit,
		"results": rows[start:end],
	})
}

func (s *Server) handleAdminIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := parseZeroBasedPage(q.Get("page"), q.Get("limit"), 20, 100)

	f := storage.IncidentFilter{
		InvolvedUserID: q.Get("user_id"),
		RideID:         q.Get("ride_id"),
		Status:         models.IncidentStatus(q.Get("status")),
		Offset:         page * limit,
		Limit:          limit,
	}
	if v := q.Get("from_date"); v != "" {
		t, err := parseReportDate(v)
		if err != nil {
			s.error(w, http.StatusBadRequest, "Invalid date format for 'from'. Expected YYYY-MM-DD.")
			return
		}
		f.From = &t
	}
	if v := q.Get("to_date"); v != "" {
		t, err := parseReportDate(v)
		if err != nil {
			s.error(w, http.StatusBadRequest, "Invalid date format for 'to'. Expected YYYY-MM-DD.")
			return
		}
		end := t.Add(24 * time.Hour)
		f.To = &end
	}

	incidents, total, err := s.store.ListIncidents(r.Context(), f)
	if err != nil {
		s.storeError(w, err, "incidents not found")
		return
	}

	results := make([]*models.Incident, 0, len(incidents))
	for _, in := range incidents {
		results = append(results, s.incidentJSON(r.Context(), in))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"page":    page,
		"limit":   limit,
		"results": results,
		"total":   total,
		"filters": map[string]string{
			"from":    q.Get("from_date"),
			"to":      q.Get("to_date"),
			"status":  q.Get("status"),
			"user_id": q.Get("user_id"),
			"ride_id": q.Get("ride_id"),
		},
	})
}

type incidentUpdate struct {
	Status     *models.IncidentStatus `json:"status"`
	AdminNotes *string                `json:"admin_notes"`
}

// Moderation flow: open → reviewed → resolved, with dismissed reachable only
// from open. Moving to reviewed or resolved requires notes; resolved and
// dismissed are final.
func (s *Server) handleAdminUpdateIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.store.GetIncident(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "Incident not found")
		return
	}

	var req incidentUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	notes := incident.AdminNotes
	if req.AdminNotes != nil {
		notes = strings.TrimSpace(*req.AdminNotes)
	}

	if req.Status != nil && *req.Status != incident.Status {
		if incident.Status == models.IncidentResolved || incident.Status == models.IncidentDismissed {
			s.error(w, http.StatusBadRequest, "Cannot change status of a "+string(incident.Status)+" incident")
			return
		}
		switch *req.Status {
		case models.IncidentReviewed:
			if incident.Status != models.IncidentOpen {
				s.error(w, http.StatusBadRequest, "Can only mark open incidents as reviewed")
				return
			}
			if notes == "" {
				s.error(w, http.StatusBadRequest, "Review notes are required to mark an incident as reviewed")
				return
			}
		case models.IncidentResolved:
			if notes == "" {
				s.error(w, http.StatusBadRequest, "Resolution notes are required to resolve an incident")
				return
			}
		case models.IncidentDismissed:
			if incident.Status != models.IncidentOpen {
				s.error(w, http.StatusBadRequest, "Can only dismiss open incidents")
				return
			}
		default:
			s.error(w, http.StatusBadRequest, "Invalid incident status")
			return
		}
		incident.Status = *req.Status
	}

	incident.AdminNotes = notes
	incident.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIncident(r.Context(), incident); err != nil {
		s.storeError(w, err, "Incident not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.incidentJSON(r.Context(), incident))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
