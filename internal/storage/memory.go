package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/fareshare/internal/models"
)

// MemoryStore keeps everything in maps. It backs tests and local runs
// without a Postgres DSN; the filtering is a naive scan, which is fine at
// that scale.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*models.User
	rides     map[string]*models.Ride
	bookings  map[string]*models.Booking
	reviews   map[string]*models.Review
	incidents map[string]*models.Incident
	comments  map[string][]*models.IncidentComment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*models.User),
		rides:     make(map[string]*models.Ride),
		bookings:  make(map[string]*models.Booking),
		reviews:   make(map[string]*models.Review),
		incidents: make(map[string]*models.Incident),
		comments:  make(map[string][]*models.IncidentComment),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRide(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return ErrNotFound
	}
	delete(m.rides, id)
	return nil
}

func (m *MemoryStore) ListRides(_ context.Context, f RideFilter) ([]*models.Ride, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if !rideMatches(r, f) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortRides(out, f.SortBy, f.SortDesc)
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func rideMatches(r *models.Ride, f RideFilter) bool {
	if f.Type != "" && r.Type() != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if f.MinSeats > 0 && r.SeatsAvailable < f.MinSeats {
		return false
	}
	if f.MaxPrice > 0 && r.PriceShare > f.MaxPrice {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.OriginLabel), q) &&
			!strings.Contains(strings.ToLower(r.DestinationLabel), q) {
			return false
		}
	}
	if f.From != nil && r.DepartureTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.DepartureTime.Before(*f.To) {
		return false
	}
	return true
}

func sortRides(rides []*models.Ride, by string, desc bool) {
	less := func(a, b *models.Ride) bool { return a.DepartureTime.Before(b.DepartureTime) }
	switch by {
	case "price_share":
		less = func(a, b *models.Ride) bool { return a.PriceShare < b.PriceShare }
	case "created_at":
		less = func(a, b *models.Ride) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "seats_available":
		less = func(a, b *models.Ride) bool { return a.SeatsAvailable < b.SeatsAvailable }
	}
	sort.SliceStable(rides, func(i, j int) bool {
		if desc {
			return less(rides[j], rides[i])
		}
		return less(rides[i], rides[j])
	})
}

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBookings(_ context.Context, f BookingFilter) ([]*models.Booking, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Booking, 0)
	for _, b := range m.bookings {
		if f.PassengerID != "" && b.PassengerID != f.PassengerID {
			continue
		}
		if f.RideID != "" && b.RideID != f.RideID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.DriverID != "" {
			ride, ok := m.rides[b.RideID]
			if !ok || ride.DriverID != f.DriverID {
				continue
			}
		}
		if f.From != nil && b.BookedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !b.BookedAt.Before(*f.To) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}

	desc := f.SortDesc
	if f.SortBy == "departure_time" {
		sort.SliceStable(out, func(i, j int) bool {
			di, dj := m.departureOf(out[i]), m.departureOf(out[j])
			if desc {
				di, dj = dj, di
			}
			return di.Before(dj)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[j].BookedAt.Before(out[i].BookedAt)
			}
			return out[i].BookedAt.Before(out[j].BookedAt)
		})
	}

	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func (m *MemoryStore) departureOf(b *models.Booking) time.Time {
	if r, ok := m.rides[b.RideID]; ok {
		return r.DepartureTime
	}
	return b.BookedAt
}

func (m *MemoryStore) ActiveBooking(_ context.Context, rideID, passengerID string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.RideID == rideID && b.PassengerID == passengerID && b.Status.Active() {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateReview(_ context.Context, rv *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reviews {
		if existing.RideID == rv.RideID && existing.ReviewerID == rv.ReviewerID && existing.RevieweeID == rv.RevieweeID {
			return ErrDuplicate
		}
	}
	cp := *rv
	m.reviews[rv.ID] = &cp
	return nil
}

func (m *MemoryStore) HasReview(_ context.Context, rideID, reviewerID, revieweeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rv := range m.reviews {
		if rv.RideID == rideID && rv.ReviewerID == reviewerID && rv.RevieweeID == revieweeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListReviewsForUser(_ context.Context, userID string, offset, limit int) ([]*models.Review, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Review, 0)
	for _, rv := range m.reviews {
		if rv.RevieweeID == userID {
			cp := *rv
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].CreatedAt.Before(out[i].CreatedAt) })
	total := len(out)
	return paginate(out, offset, limit), total, nil
}

func (m *MemoryStore) ListReviewsForRide(_ context.Context, rideID string) ([]*models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Review, 0)
	for _, rv := range m.reviews {
		if rv.RideID == rideID {
			cp := *rv
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateIncident(_ context.Context, in *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.incidents[in.ID] = &cp
	return nil
}

func (m *MemoryStore) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *MemoryStore) UpdateIncident(_ context.Context, in *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[in.ID]; !ok {
		return ErrNotFound
	}
	cp := *in
	m.incidents[in.ID] = &cp
	return nil
}

func (m *MemoryStore) ListIncidents(_ context.Context, f IncidentFilter) ([]*models.Incident, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Incident, 0)
	for _, in := range m.incidents {
		if f.InvolvedUserID != "" && in.ReporterID != f.InvolvedUserID && in.ReportedUserID != f.InvolvedUserID {
			continue
		}
		if f.ReporterID != "" && in.ReporterID != f.ReporterID {
			continue
		}
		if f.ReportedUserID != "" && in.ReportedUserID != f.ReportedUserID {
			continue
		}
		if f.RideID != "" && in.RideID != f.RideID {
			continue
		}
		if f.Status != "" && in.Status != f.Status {
			continue
		}
		if f.From != nil && in.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !in.CreatedAt.Before(*f.To) {
			continue
		}
		cp := *in
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].CreatedAt.Before(out[i].CreatedAt) })
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func (m *MemoryStore) AddIncidentComment(_ context.Context, c *models.IncidentComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[c.IncidentID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.comments[c.IncidentID] = append(m.comments[c.IncidentID], &cp)
	return nil
}

func (m *MemoryStore) ListIncidentComments(_ context.Context, incidentID string) ([]*models.IncidentComment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.comments[incidentID]
	out := make([]*models.IncidentComment, 0, len(src))
	for _, c := range src {
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
