package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/fareshare/internal/auth"
	"github.com/example/fareshare/internal/config"
	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/geo"
	"github.com/example/fareshare/internal/logging"
	"github.com/example/fareshare/internal/mailer"
	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/notify"
	"github.com/example/fareshare/internal/payments"
	"github.com/example/fareshare/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	logger := logging.NewLogger("error")
	store := storage.NewMemoryStore()
	cfg := config.ServerConfig{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		VerifyTokenTTL: time.Hour,
		FrontendURL:    "http://localhost:5173",
		AvatarDir:      t.TempDir(),
		MaxAvatarBytes: 5 << 20,
		GeoCacheTTL:    time.Minute,
		GeoRateLimit:   100,
	}
	srv := NewServer(cfg, logger, Deps{
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
	return srv, store
}

// seedUser creates a verified active user directly in the store and returns
// an access token for it.
func seedUser(t *testing.T, srv *Server, store *storage.MemoryStore, name, email string, role models.UserRole) (*models.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	u := &models.User{
		ID:                 newID(),
		FullName:           name,
		Email:              email,
		PasswordHash:       hash,
		Role:               role,
		VerificationStatus: "verified",
		Status:             "active",
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	token, _, err := srv.tokens.Access(u.ID, string(u.Role))
	if err != nil {
		t.Fatal(err)
	}
	return u, token
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func seedRide(t *testing.T, srv *Server, token string, seats int, price float64) map[string]any {
	t.Helper()
	rec := doJSON(t, srv, "POST", "/api/rides", token, map[string]any{
		"ride_type":         "offer",
		"origin_label":      "Toronto",
		"destination_label": "Ottawa",
		"departure_time":    time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"seats_total":       seats,
		"price_share":       price,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create ride: %d %s", rec.Code, rec.Body.String())
	}
	return decodeBody[map[string]any](t, rec)
}

func TestRegisterVerifyLogin(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/auth/register", "", map[string]string{
		"full_name": "Alice Nguyen",
		"email":     "alice@example.com",
		"password":  "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}

	// login before verification is rejected with the machine-readable code
	rec = doJSON(t, srv, "POST", "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "password123",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unverified login: %d", rec.Code)
	}
	if e := decodeBody[apiError](t, rec); e.ErrorCode != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %q", e.ErrorCode)
	}

	user, err := store.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	verifyToken, err := srv.tokens.Verify(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, srv, "POST", "/api/auth/verify-email?token="+verifyToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "POST", "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	access, _ := body["access_token"].(string)
	if access == "" || body["token_type"] != "bearer" {
		t.Fatalf("bad token payload: %v", body)
	}

	rec = doJSON(t, srv, "GET", "/api/auth/me", access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d", rec.Code)
	}
	me := decodeBody[map[string]any](t, rec)
	if me["email"] != "alice@example.com" {
		t.Fatalf("wrong identity: %v", me["email"])
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := map[string]string{
		"full_name": "Bob", "email": "bob@example.com", "password": "password123",
	}
	if rec := doJSON(t, srv, "POST", "/api/auth/register", "", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first register: %d", rec.Code)
	}
	rec := doJSON(t, srv, "POST", "/api/auth/register", "", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", rec.Code)
	}
	if e := decodeBody[apiError](t, rec); e.ErrorCode != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %q", e.ErrorCode)
	}
}

func TestBookingLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	_, driverToken := seedUser(t, srv, store, "Dana Driver", "dana@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat Passenger", "pat@example.com", models.RoleUser)

	ride := seedRide(t, srv, driverToken, 3, 15)
	rideID := ride["id"].(string)

	// driver cannot book their own ride
	rec := doJSON(t, srv, "POST", "/api/bookings", driverToken, map[string]any{
		"ride_id": rideID, "seats_reserved": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self-book: %d", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": rideID, "seats_reserved": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	booking := decodeBody[map[string]any](t, rec)
	if booking["amount_paid"].(float64) != 30 {
		t.Fatalf("expected amount 30, got %v", booking["amount_paid"])
	}
	bookingID := booking["id"].(string)

	updated, err := store.GetRide(context.Background(), rideID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.SeatsAvailable != 1 {
		t.Fatalf("expected 1 seat left, got %d", updated.SeatsAvailable)
	}

	// a second active booking on the same ride is rejected
	rec = doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": rideID, "seats_reserved": 1,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate booking: %d", rec.Code)
	}

	// passenger cannot confirm; only the driver can
	rec = doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", passengerToken, map[string]string{"status": "confirmed"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("passenger confirm: %d", rec.Code)
	}
	rec = doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "confirmed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("driver confirm: %d %s", rec.Code, rec.Body.String())
	}

	// complete requires confirmed; completed bookings freeze
	rec = doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("modify completed: %d", rec.Code)
	}
}

func TestCancelBookingReopensFullRide(t *testing.T) {
	srv, store := newTestServer(t)
	_, driverToken := seedUser(t, srv, store, "Dana", "dana2@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat", "pat2@example.com", models.RoleUser)

	ride := seedRide(t, srv, driverToken, 1, 10)
	rideID := ride["id"].(string)

	rec := doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": rideID, "seats_reserved": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: %d", rec.Code)
	}
	bookingID := decodeBody[map[string]any](t, rec)["id"].(string)

	full, _ := store.GetRide(context.Background(), rideID)
	if full.Status != models.RideFull {
		t.Fatalf("expected full, got %s", full.Status)
	}

	rec = doJSON(t, srv, "DELETE", "/api/bookings/"+bookingID, passengerToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}

	reopened, _ := store.GetRide(context.Background(), rideID)
	if reopened.Status != models.RideOpen || reopened.SeatsAvailable != 1 {
		t.Fatalf("expected reopened ride, got %s with %d seats", reopened.Status, reopened.SeatsAvailable)
	}

	// cancelling twice is rejected
	rec = doJSON(t, srv, "DELETE", "/api/bookings/"+bookingID, passengerToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("double cancel: %d", rec.Code)
	}
}

func TestOverbookingRejected(t *testing.T) {
	srv, store := newTestServer(t)
	_, driverToken := seedUser(t, srv, store, "Dana", "dana3@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat", "pat3@example.com", models.RoleUser)

	ride := seedRide(t, srv, driverToken, 2, 10)
	rec := doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": ride["id"], "seats_reserved": 3,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overbook: %d", rec.Code)
	}
	e := decodeBody[apiError](t, rec)
	want := "Not enough seats available. Requested: 3, Available: 2"
	if e.Detail != want {
		t.Fatalf("detail %q, want %q", e.Detail, want)
	}
}

func TestBookingSummary(t *testing.T) {
	srv, store := newTestServer(t)
	_, driverToken := seedUser(t, srv, store, "Dana", "dana4@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat", "pat4@example.com", models.RoleUser)

	ride := seedRide(t, srv, driverToken, 4, 12.5)
	rec := doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": ride["id"], "seats_reserved": 2,
	})
	bookingID := decodeBody[map[string]any](t, rec)["id"].(string)
	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "confirmed"})
	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "completed"})

	rec = doJSON(t, srv, "GET", "/api/bookings/stats/summary", passengerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d", rec.Code)
	}
	sum := decodeBody[map[string]any](t, rec)
	if sum["total_bookings"].(float64) != 1 || sum["completed"].(float64) != 1 {
		t.Fatalf("unexpected summary: %v", sum)
	}
	if sum["total_spent"].(float64) != 25 {
		t.Fatalf("expected spent 25, got %v", sum["total_spent"])
	}

	rec = doJSON(t, srv, "GET", "/api/bookings/stats/summary", driverToken, nil)
	driverSum := decodeBody[map[string]any](t, rec)
	if driverSum["total_earned"].(float64) != 25 {
		t.Fatalf("expected earned 25, got %v", driverSum["total_earned"])
	}
}

func TestRideListEnvelope(t *testing.T) {
	srv, store := newTestServer(t)
	_, driverToken := seedUser(t, srv, store, "Dana", "dana5@example.com", models.RoleUser)
	for i := 0; i < 3; i++ {
		seedRide(t, srv, driverToken, 2, float64(10+i))
	}

	rec := doJSON(t, srv, "GET", "/api/rides?page=1&page_size=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["total"].(float64) != 3 || body["total_pages"].(float64) != 2 {
		t.Fatalf("unexpected envelope: %v", body)
	}
	if n := len(body["rides"].([]any)); n != 2 {
		t.Fatalf("expected 2 rides on page, got %d", n)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	srv, store := newTestServer(t)
	_, userToken := seedUser(t, srv, store, "Plain User", "plain@example.com", models.RoleUser)

	rec := doJSON(t, srv, "GET", "/api/admin/rides?from_date=2026-01-01&to_date=2026-12-31", userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if e := decodeBody[apiError](t, rec); e.Detail != "Admin access only." {
		t.Fatalf("unexpected detail %q", e.Detail)
	}
}

func TestIncidentModeration(t *testing.T) {
	srv, store := newTestServer(t)
	driver, driverToken := seedUser(t, srv, store, "Dana", "dana6@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat", "pat6@example.com", models.RoleUser)
	_, adminToken := seedUser(t, srv, store, "Ava Admin", "admin@example.com", models.RoleAdmin)

	ride := seedRide(t, srv, driverToken, 2, 10)
	rideID := ride["id"].(string)
	rec := doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": rideID, "seats_reserved": 1,
	})
	bookingID := decodeBody[map[string]any](t, rec)["id"].(string)

	// reports require a confirmed booking
	rec = doJSON(t, srv, "POST", "/api/incidents", passengerToken, map[string]any{
		"reported_user_id": driver.ID, "ride_id": rideID, "booking_id": bookingID,
		"category": "safety", "description": "driver was speeding heavily",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pending booking report: %d", rec.Code)
	}

	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "confirmed"})
	rec = doJSON(t, srv, "POST", "/api/incidents", passengerToken, map[string]any{
		"reported_user_id": driver.ID, "ride_id": rideID, "booking_id": bookingID,
		"category": "safety", "description": "driver was speeding heavily",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("report: %d %s", rec.Code, rec.Body.String())
	}
	incidentID := decodeBody[map[string]any](t, rec)["id"].(string)

	// review without notes is rejected
	rec = doJSON(t, srv, "PATCH", "/api/admin/incidents/"+incidentID, adminToken, map[string]any{"status": "reviewed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("review without notes: %d", rec.Code)
	}
	rec = doJSON(t, srv, "PATCH", "/api/admin/incidents/"+incidentID, adminToken, map[string]any{
		"status": "reviewed", "admin_notes": "spoke with both parties",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}

	// dismissed is only reachable from open
	rec = doJSON(t, srv, "PATCH", "/api/admin/incidents/"+incidentID, adminToken, map[string]any{"status": "dismissed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("dismiss reviewed: %d", rec.Code)
	}

	rec = doJSON(t, srv, "PATCH", "/api/admin/incidents/"+incidentID, adminToken, map[string]any{
		"status": "resolved", "admin_notes": "warning issued to driver",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}

	// resolved incidents are comment-closed for the parties, open for admins
	rec = doJSON(t, srv, "POST", "/api/incidents/"+incidentID+"/comments", passengerToken, map[string]string{
		"comment_text": "any update?",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("comment on resolved: %d", rec.Code)
	}
	rec = doJSON(t, srv, "POST", "/api/incidents/"+incidentID+"/comments", adminToken, map[string]string{
		"comment_text": "case closed",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin comment on resolved: %d %s", rec.Code, rec.Body.String())
	}
}

func TestReviewFlow(t *testing.T) {
	srv, store := newTestServer(t)
	driver, driverToken := seedUser(t, srv, store, "Dana", "dana7@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat", "pat7@example.com", models.RoleUser)

	ride := seedRide(t, srv, driverToken, 2, 10)
	rideID := ride["id"].(string)
	rec := doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": rideID, "seats_reserved": 1,
	})
	bookingID := decodeBody[map[string]any](t, rec)["id"].(string)

	// reviews require a completed booking on the ride
	rec = doJSON(t, srv, "POST", "/api/reviews", passengerToken, map[string]any{
		"ride_id": rideID, "reviewee_id": driver.ID, "rating": 5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("premature review: %d", rec.Code)
	}

	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "confirmed"})
	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "completed"})

	rec = doJSON(t, srv, "POST", "/api/reviews", passengerToken, map[string]any{
		"ride_id": rideID, "reviewee_id": driver.ID, "rating": 4, "comment": "smooth ride",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}

	// duplicate review for the same (ride, reviewer, reviewee) is rejected
	rec = doJSON(t, srv, "POST", "/api/reviews", passengerToken, map[string]any{
		"ride_id": rideID, "reviewee_id": driver.ID, "rating": 2,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate review: %d", rec.Code)
	}

	// the rating folds into the driver's running average
	updated, err := store.GetUser(context.Background(), driver.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.RatingAvg != 4 || updated.RatingCount != 1 {
		t.Fatalf("rating not applied: avg=%v count=%d", updated.RatingAvg, updated.RatingCount)
	}

	rec = doJSON(t, srv, "GET", fmt.Sprintf("/api/reviews/users/%s", driver.ID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user reviews: %d", rec.Code)
	}
	page := decodeBody[map[string]any](t, rec)
	if page["total"].(float64) != 1 {
		t.Fatalf("expected 1 review, got %v", page["total"])
	}
}

func TestTripSummary(t *testing.T) {
	srv, store := newTestServer(t)
	_, driverToken := seedUser(t, srv, store, "Dana", "dana8@example.com", models.RoleUser)
	_, passengerToken := seedUser(t, srv, store, "Pat", "pat8@example.com", models.RoleUser)

	ride := seedRide(t, srv, driverToken, 2, 20)
	rec := doJSON(t, srv, "POST", "/api/bookings", passengerToken, map[string]any{
		"ride_id": ride["id"], "seats_reserved": 1,
	})
	bookingID := decodeBody[map[string]any](t, rec)["id"].(string)
	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "confirmed"})
	doJSON(t, srv, "PATCH", "/api/bookings/"+bookingID+"/status", driverToken, map[string]string{"status": "completed"})

	rec = doJSON(t, srv, "GET", "/api/trips/summary", passengerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	p := body["passenger"].(map[string]any)
	if p["completed_trips"].(float64) != 1 || p["total_spent"].(float64) != 20 {
		t.Fatalf("unexpected passenger stats: %v", p)
	}

	rec = doJSON(t, srv, "GET", "/api/trips/summary", driverToken, nil)
	d := decodeBody[map[string]any](t, rec)["driver"].(map[string]any)
	if d["completed_trips"].(float64) != 1 || d["total_earnings"].(float64) != 20 {
		t.Fatalf("unexpected driver stats: %v", d)
	}
}
