package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/example/fareshare/internal/geo"
	"github.com/example/fareshare/internal/observability"
)

// geoUpstreamError translates Nominatim failures into the proxy's responses.
func (s *Server) geoUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, geo.ErrUpstreamRateLimited):
		s.error(w, http.StatusTooManyRequests,
			"Geocoding service temporarily unavailable due to rate limiting. Please try again later.")
	case errors.Is(err, context.DeadlineExceeded):
		s.error(w, http.StatusGatewayTimeout, "Geocoding service timeout. Please try again.")
	default:
		s.error(w, http.StatusServiceUnavailable, "Geocoding service unavailable. Please try again later.")
	}
}

func (s *Server) geoAllow(w http.ResponseWriter, r *http.Request) bool {
	if s.geoLimiter.Allow(r.Context(), remoteIP(r)) {
		return true
	}
	observability.GeoRateLimited.Inc()
	s.error(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again in a minute.")
	return false
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if len(query) < 3 || len(query) > 200 {
		s.error(w, http.StatusUnprocessableEntity, "Query must be between 3 and 200 characters")
		return
	}
	limit := 5
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v >= 1 && v <= 10 {
		limit = v
	}
	countryCodes := q.Get("country_codes")

	if !s.geoAllow(w, r) {
		return
	}

	cacheKey := fmt.Sprintf("search:%s:%d:%s", query, limit, countryCodes)
	if cached, ok := s.geoCache.Get(r.Context(), cacheKey); ok {
		observability.GeoLookups.WithLabelValues("search", "cache_hit").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	results, err := s.geocoder.Search(r.Context(), query, limit, countryCodes)
	if err != nil {
		observability.GeoLookups.WithLabelValues("search", "error").Inc()
		s.geoUpstreamError(w, err)
		return
	}
	observability.GeoLookups.WithLabelValues("search", "ok").Inc()

	body, _ := json.Marshal(map[string]any{
		"results": results,
		"query":   query,
		"count":   len(results),
	})
	s.geoCache.Set(r.Context(), cacheKey, string(body), s.cfg.GeoCacheTTL)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		s.error(w, http.StatusUnprocessableEntity, "Invalid coordinates")
		return
	}
	zoom := 18
	if v, err := strconv.Atoi(q.Get("zoom")); err == nil && v >= 3 && v <= 18 {
		zoom = v
	}

	if !s.geoAllow(w, r) {
		return
	}

	cacheKey := fmt.Sprintf("reverse:%.6f:%.6f:%d", lat, lon, zoom)
	if cached, ok := s.geoCache.Get(r.Context(), cacheKey); ok {
		observability.GeoLookups.WithLabelValues("reverse", "cache_hit").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	result, err := s.geocoder.Reverse(r.Context(), lat, lon, zoom)
	if err != nil {
		if errors.Is(err, geo.ErrNoAddress) {
			observability.GeoLookups.WithLabelValues("reverse", "not_found").Inc()
			s.error(w, http.StatusNotFound, "No address found for the given coordinates")
			return
		}
		observability.GeoLookups.WithLabelValues("reverse", "error").Inc()
		s.geoUpstreamError(w, err)
		return
	}
	observability.GeoLookups.WithLabelValues("reverse", "ok").Inc()

	body, _ := json.Marshal(result)
	s.geoCache.Set(r.Context(), cacheKey, string(body), s.cfg.GeoCacheTTL)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleGeoHealth probes the upstream with a one-result search for a
// well-known place.
func (s *Server) handleGeoHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results, err := s.geocoder.Search(ctx, "Toronto", 1, "")
	if err != nil || len(results) == 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "nominatim",
			"message": "Geocoding service is not responding",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "nominatim",
		"message": "Geocoding service is operational",
	})
}
