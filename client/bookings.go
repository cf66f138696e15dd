package client

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"

	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/stats"
)

type BookingPage struct {
	Bookings []models.Booking `json:"bookings"`
	Pagination
}

type BookingListParams struct {
	Role     string // passenger | driver | both
	Status   models.BookingStatus
	RideID   string
	FromDate string
	ToDate   string
	SortBy   string
	Page     int
	PageSize int
}

func (p BookingListParams) values() url.Values {
	q := url.Values{}
	if p.Role != "" {
		q.Set("role", p.Role)
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.RideID != "" {
		q.Set("ride_id", p.RideID)
	}
	if p.FromDate != "" {
		q.Set("from_date", p.FromDate)
	}
	if p.ToDate != "" {
		q.Set("to_date", p.ToDate)
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return q
}

func (c *Client) ListBookings(ctx context.Context, p BookingListParams) (*BookingPage, error) {
	var page BookingPage
	if err := c.get(ctx, "/api/bookings", p.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.get(ctx, "/api/bookings/"+id, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) CreateBooking(ctx context.Context, rideID string, seats int) (*models.Booking, error) {
	var b models.Booking
	err := c.post(ctx, "/api/bookings", map[string]any{
		"ride_id": rideID, "seats_reserved": seats,
	}, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) SetBookingStatus(ctx context.Context, id string, status models.BookingStatus) (*models.Booking, error) {
	var b models.Booking
	err := c.patch(ctx, "/api/bookings/"+id+"/status", map[string]string{"status": string(status)}, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) BookingSummary(ctx context.Context) (*stats.BookingSummary, error) {
	var s stats.BookingSummary
	if err := c.get(ctx, "/api/bookings/stats/summary", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// BookingSession mirrors the web client's bookings state: a cached list with
// optimistic inserts and by-id replacement after mutations.
type BookingSession struct {
	c *Client

	mu         sync.Mutex
	data       []models.Booking
	pagination Pagination
	err        error
}

func NewBookingSession(c *Client) *BookingSession {
	return &BookingSession{c: c}
}

func (s *BookingSession) Snapshot() ([]models.Booking, Pagination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Booking, len(s.data))
	copy(out, s.data)
	return out, s.pagination, s.err
}

// FetchMy loads the caller's bookings. Without a stored token it is a silent
// no-op. With silent set, failures clear the data but never record an error;
// the dashboard polls with silent=true so transient failures don't flash
// error banners.
func (s *BookingSession) FetchMy(ctx context.Context, silent bool) error {
	if !s.c.Authenticated() {
		return nil
	}
	page, err := s.c.ListBookings(ctx, BookingListParams{Role: "passenger"})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.data = nil
		if !silent {
			s.err = err
		}
		return err
	}
	s.data = page.Bookings
	s.pagination = page.Pagination
	s.err = nil
	return nil
}

// Create books a ride and prepends the server's response. The error is
// rethrown so the booking form can react.
func (s *BookingSession) Create(ctx context.Context, rideID string, seats int) (*models.Booking, error) {
	b, err := s.c.CreateBooking(ctx, rideID, seats)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.data = append([]models.Booking{*b}, s.data...)
	s.mu.Unlock()
	return b, nil
}

func (s *BookingSession) replace(updated *models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		if s.data[i].ID == updated.ID {
			s.data[i] = *updated
			return
		}
	}
}

func (s *BookingSession) SetStatus(ctx context.Context, id string, status models.BookingStatus) (*models.Booking, error) {
	b, err := s.c.SetBookingStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.replace(b)
	return b, nil
}

// Cancel applies the server's response object rather than flipping the local
// copy: the server also releases seats and may touch the ride, so its echo is
// the only trustworthy post-cancel state.
func (s *BookingSession) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.c.SetBookingStatus(ctx, id, models.BookingCancelled)
	if err != nil {
		return nil, err
	}
	s.replace(b)
	return b, nil
}

// Unauthenticated reports whether err came from a request made without a
// valid token.
func Unauthenticated(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 401
}
