package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/fareshare/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// RideFilter narrows ride listings. Zero values mean "no constraint".
type RideFilter struct {
	Type     models.RideType
	Status   models.RideStatus
	DriverID string
	MinSeats int
	MaxPrice float64
	Search   string // case-insensitive substring over origin/destination labels
	From     *time.Time
	To       *time.Time

	SortBy   string // departure_time | price_share | created_at | seats_available
	SortDesc bool
	Offset   int
	Limit    int
}

// BookingFilter narrows booking listings. DriverID selects bookings made on
// rides the given user drives; PassengerID selects the user's own bookings.
type BookingFilter struct {
	PassengerID string
	DriverID    string
	RideID      string
	Status      models.BookingStatus
	From        *time.Time
	To          *time.Time

	SortBy   string // booked_at | departure_time
	SortDesc bool
	Offset   int
	Limit    int
}

// IncidentFilter narrows incident listings.
type IncidentFilter struct {
	InvolvedUserID string // reporter or reported
	ReporterID     string
	ReportedUserID string
	RideID         string
	Status         models.IncidentStatus
	From           *time.Time
	To             *time.Time

	Offset int
	Limit  int
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride) error
	DeleteRide(ctx context.Context, id string) error
	ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, int, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	ListBookings(ctx context.Context, f BookingFilter) ([]*models.Booking, int, error)
	// ActiveBooking returns the passenger's pending or confirmed booking on the
	// ride, if any.
	ActiveBooking(ctx context.Context, rideID, passengerID string) (*models.Booking, error)
}

type ReviewStore interface {
	CreateReview(ctx context.Context, rv *models.Review) error
	HasReview(ctx context.Context, rideID, reviewerID, revieweeID string) (bool, error)
	ListReviewsForUser(ctx context.Context, userID string, offset, limit int) ([]*models.Review, int, error)
	ListReviewsForRide(ctx context.Context, rideID string) ([]*models.Review, error)
}

type IncidentStore interface {
	CreateIncident(ctx context.Context, in *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	UpdateIncident(ctx context.Context, in *models.Incident) error
	ListIncidents(ctx context.Context, f IncidentFilter) ([]*models.Incident, int, error)
	AddIncidentComment(ctx context.Context, c *models.IncidentComment) error
	ListIncidentComments(ctx context.Context, incidentID string) ([]*models.IncidentComment, error)
}

// Store is the persistence surface the API server depends on. Postgres backs
// it in production; MemoryStore backs it in tests and local runs without a DSN.
type Store interface {
	UserStore
	RideStore
	BookingStore
	ReviewStore
	IncidentStore
}
