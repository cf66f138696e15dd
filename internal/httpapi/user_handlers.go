package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/fareshare/internal/auth"
	"github.com/example/fareshare/internal/storage"
)

type profileUpdate struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req profileUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			s.error(w, http.StatusBadRequest, "Full name cannot be empty")
			return
		}
		user.FullName = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			s.error(w, http.StatusBadRequest, "Invalid email format")
			return
		}
		if email != user.Email {
			user.Email = email
			// the new address has to be proven before the next login
			user.VerificationStatus = "pending"
			user.VerificationMethod = ""
		}
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		if err == storage.ErrDuplicate {
			s.errorCode(w, http.StatusConflict, "Email address is already in use", "EMAIL_EXISTS")
			return
		}
		s.storeError(w, err, "user not found")
		return
	}
	if user.VerificationStatus == "pending" {
		s.sendVerificationMail(user)
	}
	s.writeJSON(w, http.StatusOK, user)
}

type passwordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req passwordChange
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		s.error(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		s.error(w, http.StatusBadRequest, "New password does not meet security requirements")
		return
	}
	if req.NewPassword == req.CurrentPassword {
		s.error(w, http.StatusBadRequest, "New password must be different from current password")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.error(w, http.StatusInternalServerError, "internal error")
		return
	}
	user.PasswordHash = hash
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.storeError(w, err, "user not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxAvatarBytes+4096)
	if err := r.ParseMultipartForm(s.cfg.MaxAvatarBytes); err != nil {
		s.error(w, http.StatusRequestEntityTooLarge, "File size must be less than 5MB")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.error(w, http.StatusBadRequest, "Avatar file is required")
		return
	}
	defer file.Close()

	ext, ok := avatarExtensions[header.Header.Get("Content-Type")]
	if !ok {
		s.error(w, http.StatusBadRequest, "Only JPEG, PNG, GIF, and WebP images are allowed")
		return
	}
	if header.Size > s.cfg.MaxAvatarBytes {
		s.error(w, http.StatusRequestEntityTooLarge, "File size must be less than 5MB")
		return
	}

	if err := os.MkdirAll(s.cfg.AvatarDir, 0o755); err != nil {
		s.logger.Error("create avatar dir", "error", err)
		s.error(w, http.StatusInternalServerError, "internal error")
		return
	}
	filename := fmt.Sprintf("avatar_%s_%s.%s", user.ID, newID()[:8], ext)
	dst, err := os.Create(filepath.Join(s.cfg.AvatarDir, filename))
	if err != nil {
		s.logger.Error("create avatar file", "error", err)
		s.error(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		s.logger.Error("write avatar file", "error", err)
		s.error(w, http.StatusInternalServerError, "internal error")
		return
	}

	user.AvatarURL = "/uploads/avatars/" + filename
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.storeError(w, err, "user not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"avatar_url": user.AvatarURL,
		"message":    "Avatar uploaded successfully",
	})
}

func (s *Server) handleDataExport(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	requestID := fmt.Sprintf("export_%s_%s", user.ID, newID()[:8])

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.mail.DataExport(ctx, user.Email, user.FullName); err != nil {
			s.logger.Error("send export confirmation", "error", err, "user_id", user.ID)
		}
	}()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"request_id": requestID,
		"message":    "Data export request submitted. You will receive an email when your data is ready for download.",
	})
}

// Account deletion is a soft suspend: bookings, reviews and incident history
// must stay attributable.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	user.Status = "suspended"
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.storeError(w, err, "user not found")
		return
	}
	s.logger.Info("account deletion requested", "user_id", user.ID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Account deletion requested. Your account has been deactivated.",
	})
}
