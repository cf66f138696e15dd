package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/fareshare/internal/storage"
)

// apiError is the error body every endpoint returns: a human-readable detail
// plus an optional machine-readable code the client can branch on.
type apiError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (s *Server) error(w http.ResponseWriter, status int, detail string) {
	s.errorCode(w, status, detail, "")
}

func (s *Server) errorCode(w http.ResponseWriter, status int, detail, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Detail: detail, ErrorCode: code})
}

// storeError maps storage sentinel errors onto HTTP statuses; anything else
// is a 500 that gets logged but not echoed to the client.
func (s *Server) storeError(w http.ResponseWriter, err error, notFoundDetail string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.error(w, http.StatusNotFound, notFoundDetail)
	case errors.Is(err, storage.ErrDuplicate):
		s.error(w, http.StatusConflict, "resource already exists")
	default:
		s.logger.Error("storage error", "error", err)
		s.error(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
