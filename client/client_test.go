package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/fareshare/internal/auth"
	"github.com/example/fareshare/internal/config"
	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/geo"
	"github.com/example/fareshare/internal/httpapi"
	"github.com/example/fareshare/internal/logging"
	"github.com/example/fareshare/internal/mailer"
	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/notify"
	"github.com/example/fareshare/internal/payments"
	"github.com/example/fareshare/internal/storage"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	store := NewFileTokenStoreAt(filepath.Join(t.TempDir(), "token"))

	if _, err := store.Token(); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if err := store.Save("abc123"); err != nil {
		t.Fatal(err)
	}
	token, err := store.Token()
	if err != nil || token != "abc123" {
		t.Fatalf("got %q, %v", token, err)
	}
	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Token(); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken after clear, got %v", err)
	}
}

func TestErrorNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/with-detail":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{
				"detail": "Email address is already registered", "error_code": "EMAIL_EXISTS",
			})
		case "/api/no-body":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	err := c.get(context.Background(), "/api/with-detail", nil, nil)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Status != 409 || apiErr.ErrorCode != "EMAIL_EXISTS" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Detail != "Email address is already registered" {
		t.Fatalf("detail %q", apiErr.Detail)
	}

	err = c.get(context.Background(), "/api/no-body", nil, nil)
	apiErr, _ = err.(*APIError)
	if apiErr == nil || apiErr.Detail != "request failed with status 502" {
		t.Fatalf("unexpected fallback: %v", err)
	}

	// unreachable server normalizes to a status-0 network error
	dead := New("http://127.0.0.1:1")
	err = dead.get(context.Background(), "/api/anything", nil, nil)
	apiErr, ok = err.(*APIError)
	if !ok || apiErr.Status != 0 {
		t.Fatalf("expected network APIError, got %v", err)
	}
}

func TestLoginStoresTokenAndSendsBearer(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-1", "token_type": "bearer", "expires_in": 3600,
			})
		case "/api/auth/me":
			gotAuth.Store(r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{"id": "u1", "email": "a@example.com"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Login(context.Background(), "a@example.com", "password123"); err != nil {
		t.Fatal(err)
	}
	if !c.Authenticated() {
		t.Fatal("expected authenticated after login")
	}
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth.Load() != "Bearer tok-1" {
		t.Fatalf("authorization header %v", gotAuth.Load())
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Authenticated() {
		t.Fatal("expected logged out")
	}
}

func ridesPayload(rides ...Ride) map[string]any {
	return map[string]any{
		"rides": rides, "total": len(rides), "page": 1, "page_size": 20, "total_pages": 1,
	}
}

func TestRideSessionFetchKeepsDataOnFailure(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"detail": "internal error"})
			return
		}
		json.NewEncoder(w).Encode(ridesPayload(Ride{ID: "r1", OriginLabel: "Toronto"}))
	}))
	defer srv.Close()

	s := NewRideSession(New(srv.URL))
	if err := s.Fetch(context.Background(), RideListParams{}); err != nil {
		t.Fatal(err)
	}
	data, _, _ := s.Snapshot()
	if len(data) != 1 || data[0].ID != "r1" {
		t.Fatalf("unexpected data: %+v", data)
	}

	fail.Store(true)
	if err := s.Fetch(context.Background(), RideListParams{}); err == nil {
		t.Fatal("expected fetch error")
	}
	data, _, snapErr := s.Snapshot()
	if len(data) != 1 {
		t.Fatalf("failure should keep previous data, got %d rides", len(data))
	}
	if snapErr == nil {
		t.Fatal("expected error in snapshot")
	}
}

func TestRideSessionCreatePrependsAndReplaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(ridesPayload(Ride{ID: "r1", Status: models.RideOpen}))
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Ride{ID: "r2", OriginLabel: "Ottawa", Status: models.RideOpen})
		case r.Method == http.MethodPatch:
			json.NewEncoder(w).Encode(Ride{ID: "r1", Status: models.RideCancelled})
		}
	}))
	defer srv.Close()

	s := NewRideSession(New(srv.URL))
	if err := s.Fetch(context.Background(), RideListParams{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(context.Background(), RideCreate{}); err != nil {
		t.Fatal(err)
	}
	data, _, _ := s.Snapshot()
	if len(data) != 2 || data[0].ID != "r2" {
		t.Fatalf("expected created ride prepended, got %+v", data)
	}

	if _, err := s.SetStatus(context.Background(), "r1", models.RideCancelled); err != nil {
		t.Fatal(err)
	}
	data, _, _ = s.Snapshot()
	if data[1].Status != models.RideCancelled {
		t.Fatalf("expected r1 replaced with cancelled, got %+v", data[1])
	}
}

func TestRideSessionStaleResponseDropped(t *testing.T) {
	s := NewRideSession(New("http://unused"))

	first := s.nextSeq()
	second := s.nextSeq()

	if !s.commit(second, func() { s.data = []Ride{{ID: "fresh"}} }) {
		t.Fatal("fresh commit rejected")
	}
	if s.commit(first, func() { s.data = []Ride{{ID: "stale"}} }) {
		t.Fatal("stale commit applied")
	}
	data, _, _ := s.Snapshot()
	if len(data) != 1 || data[0].ID != "fresh" {
		t.Fatalf("stale response overwrote fresh state: %+v", data)
	}
}

func TestBookingSessionFetchMy(t *testing.T) {
	fail := atomic.Bool{}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"detail": "internal error"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"bookings": []models.Booking{{ID: "b1", Status: models.BookingPending}},
			"total":    1, "page": 1, "page_size": 20, "total_pages": 1,
		})
	}))
	defer srv.Close()

	// no token: silent no-op, no request issued
	s := NewBookingSession(New(srv.URL))
	if err := s.FetchMy(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Fatalf("unauthenticated fetch hit the server %d times", calls.Load())
	}

	ts := &MemoryTokenStore{}
	ts.Save("tok")
	s = NewBookingSession(New(srv.URL, WithTokenStore(ts)))
	if err := s.FetchMy(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	data, _, _ := s.Snapshot()
	if len(data) != 1 || data[0].ID != "b1" {
		t.Fatalf("unexpected bookings: %+v", data)
	}

	// silent failure clears data but records no error
	fail.Store(true)
	s.FetchMy(context.Background(), true)
	data, _, snapErr := s.Snapshot()
	if len(data) != 0 {
		t.Fatalf("expected cleared data, got %+v", data)
	}
	if snapErr != nil {
		t.Fatalf("silent fetch recorded error: %v", snapErr)
	}
}

func TestBookingSessionCancelAppliesServerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"bookings": []models.Booking{{ID: "b1", Status: models.BookingConfirmed, SeatsReserved: 2}},
				"total":    1, "page": 1, "page_size": 20, "total_pages": 1,
			})
		case http.MethodPatch:
			// the server's echo carries more than the status flip
			json.NewEncoder(w).Encode(models.Booking{ID: "b1", Status: models.BookingCancelled, SeatsReserved: 2, AmountPaid: 30})
		}
	}))
	defer srv.Close()

	ts := &MemoryTokenStore{}
	ts.Save("tok")
	s := NewBookingSession(New(srv.URL, WithTokenStore(ts)))
	if err := s.FetchMy(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	cancelled, err := s.Cancel(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != models.BookingCancelled || cancelled.AmountPaid != 30 {
		t.Fatalf("expected server echo applied, got %+v", cancelled)
	}
	data, _, _ := s.Snapshot()
	if data[0].Status != models.BookingCancelled || data[0].AmountPaid != 30 {
		t.Fatalf("local copy not reconciled: %+v", data[0])
	}
}

// apiTestServer runs the real HTTP API over a memory store so SDK tests
// exercise the actual query-param and payload contract, not a hand-written
// fake of it.
func apiTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	logger := logging.NewLogger("error")
	store := storage.NewMemoryStore()
	cfg := config.ServerConfig{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		VerifyTokenTTL: time.Hour,
		GeoRateLimit:   100,
		GeoCacheTTL:    time.Minute,
	}
	api := httpapi.NewServer(cfg, logger, httpapi.Deps{
		Store:      store,
		Tokens:     auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL, cfg.VerifyTokenTTL),
		Geocoder:   geo.NewNominatimClient("http://localhost:0"),
		GeoCache:   geo.NewMemoryCache(),
		GeoLimiter: geo.NewMemoryLimiter(cfg.GeoRateLimit, time.Minute),
		Payments:   payments.NopProcessor{},
		Events:     events.NopPublisher{},
		Hub:        notify.NewHub(logger),
		Mail:       mailer.New("", "Test <test@example.com>", logger),
	})
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestSearchRidesFiltersByPrice(t *testing.T) {
	srv, store := apiTestServer(t)
	ctx := context.Background()

	driver := &models.User{
		ID: "u-driver", FullName: "Dana Driver", Email: "dana@example.com",
		Role: models.RoleUser, VerificationStatus: "verified", Status: "active",
	}
	if err := store.CreateUser(ctx, driver); err != nil {
		t.Fatal(err)
	}
	for _, r := range []*models.Ride{
		{ID: "r-cheap", PriceShare: 10},
		{ID: "r-pricey", PriceShare: 100},
	} {
		r.DriverID = driver.ID
		r.OriginLabel, r.DestinationLabel = "Toronto", "Ottawa"
		r.DepartureTime = time.Now().Add(48 * time.Hour)
		r.SeatsTotal, r.SeatsAvailable = 3, 3
		r.Status = models.RideOpen
		r.CreatedAt = time.Now()
		if err := store.CreateRide(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	page, err := New(srv.URL).SearchRides(ctx, RideSearchParams{
		Origin: "Toronto", Destination: "Ottawa", MaxPrice: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Rides) != 1 || page.Rides[0].ID != "r-cheap" {
		t.Fatalf("price filter not applied server-side: %+v", page.Rides)
	}
}

func TestRideSessionFetchMy(t *testing.T) {
	fail := atomic.Bool{}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"detail": "internal error"})
			return
		}
		switch r.URL.Path {
		case "/api/auth/me":
			json.NewEncoder(w).Encode(map[string]string{"id": "u1", "email": "a@example.com"})
		case "/api/rides":
			if got := r.URL.Query().Get("driver_id"); got != "u1" {
				t.Errorf("driver_id = %q, want u1", got)
			}
			json.NewEncoder(w).Encode(ridesPayload(Ride{ID: "r1", DriverID: "u1"}))
		}
	}))
	defer srv.Close()

	// no token: silent no-op, no request issued
	s := NewRideSession(New(srv.URL))
	if err := s.FetchMy(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Fatalf("unauthenticated fetch hit the server %d times", calls.Load())
	}
	data, _, snapErr := s.Snapshot()
	if len(data) != 0 || snapErr != nil {
		t.Fatalf("unauthenticated fetch touched state: %+v, %v", data, snapErr)
	}

	ts := &MemoryTokenStore{}
	ts.Save("tok")
	s = NewRideSession(New(srv.URL, WithTokenStore(ts)))
	if err := s.FetchMy(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	data, _, _ = s.Snapshot()
	if len(data) != 1 || data[0].ID != "r1" {
		t.Fatalf("unexpected rides: %+v", data)
	}

	// silent failure clears data but records no error
	fail.Store(true)
	s.FetchMy(context.Background(), true)
	data, _, snapErr = s.Snapshot()
	if len(data) != 0 {
		t.Fatalf("expected cleared data, got %+v", data)
	}
	if snapErr != nil {
		t.Fatalf("silent fetch recorded error: %v", snapErr)
	}
}

func TestRideSearcherDebounce(t *testing.T) {
	var searches atomic.Int32
	results := make(chan *RidePage, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		json.NewEncoder(w).Encode(ridesPayload(Ride{ID: "r1", OriginLabel: r.URL.Query().Get("origin")}))
	}))
	defer srv.Close()

	searcher := NewRideSearcher(New(srv.URL), func(page *RidePage, err error) {
		if err == nil {
			results <- page
		}
	})
	searcher.SetDebounce(30 * time.Millisecond)
	defer searcher.Stop()

	// rapid keystrokes: only the settled query fires
	searcher.Query(RideSearchParams{Origin: "T"})
	searcher.Query(RideSearchParams{Origin: "To"})
	searcher.Query(RideSearchParams{Origin: "Toronto"})

	select {
	case page := <-results:
		if page.Rides[0].OriginLabel != "Toronto" {
			t.Fatalf("expected settled query, got %q", page.Rides[0].OriginLabel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no search result delivered")
	}
	if n := searches.Load(); n != 1 {
		t.Fatalf("expected exactly 1 upstream search, got %d", n)
	}
}
