package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HasValidCoordinates reports whether a lat/lon pair carries real location
// data. The backend stores (0,0) for rides created before map integration,
// so (0,0) is treated as "missing", not as a point in the Gulf of Guinea.
func HasValidCoordinates(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	if *lat == 0 && *lon == 0 {
		return false
	}
	return *lat >= -90 && *lat <= 90 && *lon >= -180 && *lon <= 180
}

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID                 string    `json:"id"`
	FullName           string    `json:"full_name"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	Role               UserRole  `json:"role"`
	VerificationStatus string    `json:"verification_status"` // pending | verified
	VerificationMethod string    `json:"verification_method,omitempty"`
	RatingAvg          float64   `json:"rating_avg"`
	RatingCount        int       `json:"rating_count"`
	Status             string    `json:"status"` // active | suspended
	AvatarURL          string    `json:"avatar_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// PublicProfile is the subset of user fields embedded in ride and booking
// responses. Never exposes email or account state.
type PublicProfile struct {
	ID          string  `json:"id"`
	FullName    string  `json:"full_name"`
	RatingAvg   float64 `json:"rating_avg"`
	RatingCount int     `json:"rating_count"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
}

func (u *User) Public() *PublicProfile {
	return &PublicProfile{
		ID:          u.ID,
		FullName:    u.FullName,
		RatingAvg:   u.RatingAvg,
		RatingCount: u.RatingCount,
		AvatarURL:   u.AvatarURL,
	}
}

type RideType string

const (
	RideOffer   RideType = "offer"
	RideRequest RideType = "request"
)

type RideStatus string

const (
	RideOpen      RideStatus = "open"
	RideRequested RideStatus = "requested"
	RideFull      RideStatus = "full"
	RideCancelled RideStatus = "cancelled"
	RideCompleted RideStatus = "completed"
)

type Vehicle struct {
	Make  string `json:"vehicle_make,omitempty"`
	Model string `json:"vehicle_model,omitempty"`
	Color string `json:"vehicle_color,omitempty"`
	Year  int    `json:"vehicle_year,omitempty"`
}

type Ride struct {
	ID               string         `json:"id"`
	DriverID         string         `json:"driver_id"`
	OriginLabel      string         `json:"origin_label"`
	DestinationLabel string         `json:"destination_label"`
	Origin           Coord          `json:"-"`
	Destination      Coord          `json:"-"`
	DepartureTime    time.Time      `json:"departure_time"`
	SeatsTotal       int            `json:"seats_total"`
	SeatsAvailable   int            `json:"seats_available"`
	PriceShare       float64        `json:"price_share"`
	Vehicle          Vehicle        `json:"-"`
	Notes            string         `json:"notes,omitempty"`
	Status           RideStatus     `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	Driver           *PublicProfile `json:"driver,omitempty"`
}

// Type is derived, not stored: a ride in "requested" status is a passenger's
// request, everything else is a driver's offer.
func (r *Ride) Type() RideType {
	if r.Status == RideRequested {
		return RideRequest
	}
	return RideOffer
}

// Terminal rides accept no further edits.
func (r *Ride) Terminal() bool {
	return r.Status == RideCompleted || r.Status == RideCancelled
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Active bookings hold seats on the ride.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Booking struct {
	ID            string         `json:"id"`
	PassengerID   string         `json:"passenger_id"`
	RideID        string         `json:"ride_id"`
	SeatsReserved int            `json:"seats_reserved"`
	AmountPaid    float64        `json:"amount_paid"`
	Status        BookingStatus  `json:"status"`
	PaymentRef    string         `json:"-"`
	BookedAt      time.Time      `json:"booked_at"`
	Passenger     *PublicProfile `json:"passenger,omitempty"`
	Ride          *RideSummary   `json:"ride,omitempty"`
}

// RideSummary is the ride context attached to booking and incident responses.
type RideSummary struct {
	ID               string     `json:"id"`
	OriginLabel      string     `json:"origin_label"`
	DestinationLabel string     `json:"destination_label"`
	DepartureTime    time.Time  `json:"departure_time"`
	PriceShare       float64    `json:"price_share"`
	Status           RideStatus `json:"status"`
	DriverID         string     `json:"driver_id"`
}

func (r *Ride) Summary() *RideSummary {
	return &RideSummary{
		ID:               r.ID,
		OriginLabel:      r.OriginLabel,
		DestinationLabel: r.DestinationLabel,
		DepartureTime:    r.DepartureTime,
		PriceShare:       r.PriceShare,
		Status:           r.Status,
		DriverID:         r.DriverID,
	}
}

// MaxReviewComment caps free-text review comments.
const MaxReviewComment = 150

type Review struct {
	ID         string         `json:"id"`
	RideID     string         `json:"ride_id"`
	ReviewerID string         `json:"reviewer_id"`
	RevieweeID string         `json:"reviewee_id"`
	Rating     int            `json:"rating"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Reviewer   *PublicProfile `json:"reviewer,omitempty"`
}

type IncidentCategory string

const (
	IncidentSafety     IncidentCategory = "safety"
	IncidentHarassment IncidentCategory = "harassment"
	IncidentProperty   IncidentCategory = "property"
	IncidentOther      IncidentCategory = "other"
)

func (c IncidentCategory) Valid() bool {
	switch c {
	case IncidentSafety, IncidentHarassment, IncidentProperty, IncidentOther:
		return true
	}
	return false
}

type IncidentStatus string

const (
	IncidentOpen      IncidentStatus = "open"
	IncidentReviewed  IncidentStatus = "reviewed"
	IncidentResolved  IncidentStatus = "resolved"
	IncidentDismissed IncidentStatus = "dismissed"
)

// MinIncidentDescription is enforced both client- and server-side.
const MinIncidentDescription = 10

type Incident struct {
	ID             string           `json:"id"`
	ReporterID     string           `json:"reporter_id"`
	ReportedUserID string           `json:"reported_user_id"`
	RideID         string           `json:"ride_id"`
	BookingID      string           `json:"booking_id"`
	Category       IncidentCategory `json:"category"`
	Description    string           `json:"description"`
	Status         IncidentStatus   `json:"status"`
	AdminNotes     string           `json:"admin_notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Reporter       *PublicProfile   `json:"reporter,omitempty"`
	ReportedUser   *PublicProfile   `json:"reported_user,omitempty"`
	Ride           *RideSummary     `json:"ride,omitempty"`
}

type IncidentComment struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	AuthorID   string         `json:"author_id"`
	Text       string         `json:"comment_text"`
	IsAdmin    bool           `json:"is_admin_comment"`
	CreatedAt  time.Time      `json:"created_at"`
	Author     *PublicProfile `json:"author,omitempty"`
}
