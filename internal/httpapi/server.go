package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fareshare/internal/config"
	"github.com/example/fareshare/internal/events"
	"github.com/example/fareshare/internal/geo"
	"github.com/example/fareshare/internal/mailer"
	"github.com/example/fareshare/internal/notify"
	"github.com/example/fareshare/internal/payments"
	"github.com/example/fareshare/internal/storage"

	authpkg "github.com/example/fareshare/internal/auth"
)

type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	store      storage.Store
	tokens     *authpkg.Tokens
	geocoder   *geo.NominatimClient
	geoCache   geo.Cache
	geoLimiter geo.Limiter
	payments   payments.Processor
	events     events.Publisher
	hub        *notify.Hub
	mail       *mailer.Mailer

	mux *mux.Router
	now func() time.Time
}

// Deps carries the server's collaborators so tests can swap in fakes.
type Deps struct {
	Store      storage.Store
	Tokens     *authpkg.Tokens
	Geocoder   *geo.NominatimClient
	GeoCache   geo.Cache
	GeoLimiter geo.Limiter
	Payments   payments.Processor
	Events     events.Publisher
	Hub        *notify.Hub
	Mail       *mailer.Mailer
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, d Deps) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      d.Store,
		tokens:     d.Tokens,
		geocoder:   d.Geocoder,
		geoCache:   d.GeoCache,
		geoLimiter: d.GeoLimiter,
		payments:   d.Payments,
		events:     d.Events,
		hub:        d.Hub,
		mail:       d.Mail,
		mux:        mux.NewRouter(),
		now:        time.Now,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig wires real backends with sensible fallbacks: memory
// store without PG_DSN, in-process geo cache/limiter without REDIS_ADDR,
// no-op payments and events when unconfigured.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	d := Deps{
		Tokens:   authpkg.NewTokens(cfg.JWTSecret, cfg.TokenTTL, cfg.VerifyTokenTTL),
		Geocoder: geo.NewNominatimClient(cfg.NominatimBaseURL),
		Hub:      notify.NewHub(logger),
		Mail:     mailer.New(cfg.MailAPIKey, cfg.MailFrom, logger),
	}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		d.Store = ps
	} else {
		logger.Warn("no PG_DSN set, using in-memory store")
		d.Store = storage.NewMemoryStore()
	}

	if cfg.RedisAddr != "" {
		d.GeoCache = geo.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		d.GeoLimiter = geo.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.GeoRateLimit, time.Minute)
	} else {
		d.GeoCache = geo.NewMemoryCache()
		d.GeoLimiter = geo.NewMemoryLimiter(cfg.GeoRateLimit, time.Minute)
	}

	if cfg.StripeKey != "" {
		d.Payments = payments.NewStripeProcessor(cfg.StripeKey)
	} else {
		d.Payments = payments.NopProcessor{}
	}

	if len(cfg.KafkaBrokers) > 0 {
		d.Events = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		d.Events = events.NopPublisher{}
	}

	return NewServer(cfg, logger, d), nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	api.HandleFunc("/auth/verify-email", s.handleVerifyEmail).Methods("POST")
	api.HandleFunc("/auth/resend-verification-email", s.handleResendVerificationPublic).Methods("POST")
	api.Handle("/auth/resend-verification", s.authed(s.handleResendVerification)).Methods("POST")
	api.Handle("/auth/me", s.authed(s.handleMe)).Methods("GET")

	api.Handle("/users/me", s.authed(s.handleUpdateProfile)).Methods("PATCH")
	api.Handle("/users/me/password", s.authed(s.handleChangePassword)).Methods("POST")
	api.Handle("/users/me/avatar", s.authed(s.handleUploadAvatar)).Methods("POST")
	api.Handle("/users/me/export", s.authed(s.handleDataExport)).Methods("POST")
	api.Handle("/users/me", s.authed(s.handleDeleteAccount)).Methods("DELETE")

	api.Handle("/rides", s.authed(s.handleCreateRide)).Methods("POST")
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides/search", s.handleSearchRides).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.Handle("/rides/{id}", s.authed(s.handleUpdateRide)).Methods("PATCH")
	api.Handle("/rides/{id}", s.authed(s.handleDeleteRide)).Methods("DELETE")
	api.Handle("/rides/{id}/status", s.authed(s.handleRideStatus)).Methods("PATCH")

	api.Handle("/bookings", s.authed(s.handleCreateBooking)).Methods("POST")
	api.Handle("/bookings", s.authed(s.handleListBookings)).Methods("GET")
	api.Handle("/bookings/stats/summary", s.authed(s.handleBookingSummary)).Methods("GET")
	api.Handle("/bookings/{id}", s.authed(s.handleGetBooking)).Methods("GET")
	api.Handle("/bookings/{id}/status", s.authed(s.handleBookingStatus)).Methods("PATCH")
	api.Handle("/bookings/{id}", s.authed(s.handleCancelBookingDelete)).Methods("DELETE")

	api.Handle("/trips", s.authed(s.handleTripHistory)).Methods("GET")
	api.Handle("/trips/summary", s.authed(s.handleTripSummary)).Methods("GET")

	api.Handle("/reviews", s.authed(s.handleCreateReview)).Methods("POST")
	api.HandleFunc("/reviews/users/{id}", s.handleUserReviews).Methods("GET")
	api.HandleFunc("/reviews/rides/{id}", s.handleRideReviews).Methods("GET")

	api.Handle("/incidents", s.authed(s.handleCreateIncident)).Methods("POST")
	api.Handle("/incidents", s.authed(s.handleListMyIncidents)).Methods("GET")
	api.Handle("/incidents/{id}", s.authed(s.handleGetIncident)).Methods("GET")
	api.Handle("/incidents/{id}/comments", s.authed(s.handleAddIncidentComment)).Methods("POST")
	api.Handle("/incidents/{id}/comments", s.authed(s.handleListIncidentComments)).Methods("GET")

	api.Handle("/messages/send", s.authed(s.handleSendMessage)).Methods("POST")
	api.Handle("/messages/ride-participants/{id}", s.authed(s.handleRideParticipants)).Methods("GET")

	api.HandleFunc("/geo/geocode", s.handleGeocode).Methods("GET")
	api.HandleFunc("/geo/reverse", s.handleReverseGeocode).Methods("GET")
	api.HandleFunc("/geo/health", s.handleGeoHealth).Methods("GET")

	api.Handle("/admin/reports/usage", s.admin(s.handleUsageReport)).Methods("GET")
	api.Handle("/admin/reports/usage.csv", s.admin(s.handleUsageReportCSV)).Methods("GET")
	api.Handle("/admin/rides", s.admin(s.handleAdminRides)).Methods("GET")
	api.Handle("/admin/incidents", s.admin(s.handleAdminIncidents)).Methods("GET")
	api.Handle("/admin/incidents/{id}", s.admin(s.handleAdminUpdateIncident)).Methods("PATCH")

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.PathPrefix("/uploads/avatars/").Handler(
		http.StripPrefix("/uploads/avatars/", http.FileServer(http.Dir(s.cfg.AvatarDir))))
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func newID() string { return uuid.NewString() }
