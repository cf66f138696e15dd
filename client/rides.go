package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/example/fareshare/internal/models"
)

// Ride is the wire shape the API serves: coordinates and vehicle fields
// flattened, driver profile embedded.
type Ride struct {
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

type RidePage struct {
	Rides []Ride `json:"rides"`
	Pagination
}

type RideCreate struct {
	RideType       models.RideType `json:"ride_type"`
	OriginLabel    string          `json:"origin_label"`
	DestLabel      string          `json:"destination_label"`
	OriginLat      *float64        `json:"origin_lat,omitempty"`
	OriginLng      *float64        `json:"origin_lng,omitempty"`
	DestinationLat *float64        `json:"destination_lat,omitempty"`
	DestinationLng *float64        `json:"destination_lng,omitempty"`
	DepartureTime  time.Time       `json:"departure_time"`
	SeatsTotal     int             `json:"seats_total"`
	PriceShare     float64         `json:"price_share"`
	VehicleMake    string          `json:"vehicle_make,omitempty"`
	VehicleModel   string          `json:"vehicle_model,omitempty"`
	VehicleColor   string          `json:"vehicle_color,omitempty"`
	VehicleYear    int             `json:"vehicle_year,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type RideUpdate struct {
	OriginLabel   *string    `json:"origin_label,omitempty"`
	DestLabel     *string    `json:"destination_label,omitempty"`
	DepartureTime *time.Time `json:"departure_time,omitempty"`
	SeatsTotal    *int       `json:"seats_total,omitempty"`
	PriceShare    *float64   `json:"price_share,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

type RideListParams struct {
	RideType  models.RideType
	Status    models.RideStatus
	DriverID  string
	Search    string
	MinSeats  int
	MaxPrice  float64
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

func (p RideListParams) values() url.Values {
	q := url.Values{}
	if p.RideType != "" {
		q.Set("ride_type", string(p.RideType))
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.DriverID != "" {
		q.Set("driver_id", p.DriverID)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.MinSeats > 0 {
		q.Set("min_seats", strconv.Itoa(p.MinSeats))
	}
	if p.MaxPrice > 0 {
		q.Set("max_price", fmt.Sprintf("%g", p.MaxPrice))
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}
	if p.SortOrder != "" {
		q.Set("sort_order", p.SortOrder)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return q
}

type RideSearchParams struct {
	Origin          string
	Destination     string
	Seats           int
	MaxPrice        float64
	IncludeRequests bool
	NearLat         *float64
	NearLng         *float64
	RadiusKm        float64
	Page            int
	PageSize        int
}

func (p RideSearchParams) values() url.Values {
	q := url.Values{}
	if p.Origin != "" {
		q.Set("origin", p.Origin)
	}
	if p.Destination != "" {
		q.Set("destination", p.Destination)
	}
	if p.Seats > 0 {
		q.Set("seats", strconv.Itoa(p.Seats))
	}
	if p.MaxPrice > 0 {
		q.Set("max_price", fmt.Sprintf("%g", p.MaxPrice))
	}
	if p.IncludeRequests {
		q.Set("include_requests", "true")
	}
	if p.NearLat != nil && p.NearLng != nil {
		q.Set("near_lat", fmt.Sprintf("%g", *p.NearLat))
		q.Set("near_lng", fmt.Sprintf("%g", *p.NearLng))
		if p.RadiusKm > 0 {
			q.Set("radius_km", fmt.Sprintf("%g", p.RadiusKm))
		}
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return q
}

func (c *Client) ListRides(ctx context.Context, p RideListParams) (*RidePage, error) {
	var page RidePage
	if err := c.get(ctx, "/api/rides", p.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) SearchRides(ctx context.Context, p RideSearchParams) (*RidePage, error) {
	var page RidePage
	if err := c.get(ctx, "/api/rides/search", p.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetRide(ctx context.Context, id string) (*Ride, error) {
	var ride Ride
	if err := c.get(ctx, "/api/rides/"+id, nil, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *Client) CreateRide(ctx context.Context, req RideCreate) (*Ride, error) {
	var ride Ride
	if err := c.post(ctx, "/api/rides", req, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *Client) UpdateRide(ctx context.Context, id string, req RideUpdate) (*Ride, error) {
	var ride Ride
	if err := c.patch(ctx, "/api/rides/"+id, req, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *Client) DeleteRide(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/rides/"+id)
}

func (c *Client) SetRideStatus(ctx context.Context, id string, status models.RideStatus) (*Ride, error) {
	var ride Ride
	if err := c.patch(ctx, "/api/rides/"+id+"/status", map[string]string{"status": string(status)}, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// RideSession caches the last fetched ride list the way the browser client
// keeps component state: Fetch replaces the snapshot, failures keep the
// previous data, creates prepend the server's echo, updates replace in place.
// A sequence guard drops responses that arrive after a newer request already
// committed, so stale data never overwrites fresher state.
type RideSession struct {
	c *Client

	mu      sync.Mutex
	seq     uint64 // last issued request
	applied uint64 // last committed response

	data       []Ride
	pagination Pagination
	err        error
}

func NewRideSession(c *Client) *RideSession {
	return &RideSession{c: c}
}

// Snapshot returns the current cached state.
func (s *RideSession) Snapshot() ([]Ride, Pagination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ride, len(s.data))
	copy(out, s.data)
	return out, s.pagination, s.err
}

func (s *RideSession) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// commit applies a response if no newer one has been applied since. Returns
// false for stale responses.
func (s *RideSession) commit(seq uint64, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	apply()
	return true
}

func (s *RideSession) Fetch(ctx context.Context, p RideListParams) error {
	seq := s.nextSeq()
	page, err := s.c.ListRides(ctx, p)
	if err != nil {
		// keep the previous data, surface the error
		s.commit(seq, func() { s.err = err })
		return err
	}
	s.commit(seq, func() {
		s.data = page.Rides
		s.pagination = page.Pagination
		s.err = nil
	})
	return nil
}

// FetchMy loads the rides the caller published. Without a stored token it is
// a silent no-op so the list stays empty instead of flashing an error before
// authentication resolves. With silent set, failures clear the data but never
// record an error.
func (s *RideSession) FetchMy(ctx context.Context, silent bool) error {
	if !s.c.Authenticated() {
		return nil
	}
	seq := s.nextSeq()
	me, err := s.c.Me(ctx)
	if err == nil {
		var page *RidePage
		if page, err = s.c.ListRides(ctx, RideListParams{DriverID: me.ID}); err == nil {
			s.commit(seq, func() {
				s.data = page.Rides
				s.pagination = page.Pagination
				s.err = nil
			})
			return nil
		}
	}
	s.commit(seq, func() {
		s.data = nil
		if !silent {
			s.err = err
		}
	})
	return err
}

// Create posts the ride and prepends the server's response to the cached
// list. The error is returned to the caller as well so forms can display it.
func (s *RideSession) Create(ctx context.Context, req RideCreate) (*Ride, error) {
	ride, err := s.c.CreateRide(ctx, req)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.data = append([]Ride{*ride}, s.data...)
	s.mu.Unlock()
	return ride, nil
}

func (s *RideSession) replace(updated *Ride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		if s.data[i].ID == updated.ID {
			s.data[i] = *updated
			return
		}
	}
}

func (s *RideSession) Update(ctx context.Context, id string, req RideUpdate) (*Ride, error) {
	ride, err := s.c.UpdateRide(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.replace(ride)
	return ride, nil
}

func (s *RideSession) SetStatus(ctx context.Context, id string, status models.RideStatus) (*Ride, error) {
	ride, err := s.c.SetRideStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.replace(ride)
	return ride, nil
}

func (s *RideSession) Delete(ctx context.Context, id string) error {
	if err := s.c.DeleteRide(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		if s.data[i].ID == id {
			s.data = append(s.data[:i], s.data[i+1:]...)
			break
		}
	}
	return nil
}

// DefaultSearchDebounce matches the web client's input-settling delay.
const DefaultSearchDebounce = 450 * time.Millisecond

// RideSearcher debounces free-text ride search: each Query resets the timer,
// and when it fires the previous in-flight request is cancelled. Results land
// in the callback; a sequence guard drops out-of-order responses.
type RideSearcher struct {
	c        *Client
	debounce time.Duration
	onResult func(*RidePage, error)

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	seq     uint64
	applied uint64
}

func NewRideSearcher(c *Client, onResult func(*RidePage, error)) *RideSearcher {
	return &RideSearcher{c: c, debounce: DefaultSearchDebounce, onResult: onResult}
}

// SetDebounce overrides the settle delay. Tests shorten it.
func (s *RideSearcher) SetDebounce(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debounce = d
}

func (s *RideSearcher) Query(p RideSearchParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(p) })
}

func (s *RideSearcher) fire(p RideSearchParams) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	page, err := s.c.SearchRides(ctx, p)
	if ctx.Err() != nil {
		// superseded by a newer query
		return
	}

	s.mu.Lock()
	stale := seq <= s.applied
	if !stale {
		s.applied = seq
	}
	s.mu.Unlock()
	if !stale {
		s.onResult(page, err)
	}
}

// Stop cancels any pending or in-flight search.
func (s *RideSearcher) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}
