package httpapi

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/example/fareshare/internal/auth"
	"github.com/example/fareshare/internal/models"
	"github.com/example/fareshare/internal/storage"
)

const minPasswordLength = 8

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.FullName == "" {
		s.error(w, http.StatusBadRequest, "Full name is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		s.error(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if len(req.Password) < minPasswordLength {
		s.error(w, http.StatusBadRequest, "Password must be at least 8 characters long")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.error(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &models.User{
		ID:                 newID(),
		FullName:           req.FullName,
		Email:              req.Email,
		PasswordHash:       hash,
		Role:               models.RoleUser,
		VerificationStatus: "pending",
		Status:             "active",
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if err == storage.ErrDuplicate {
			s.errorCode(w, http.StatusConflict, "Email address is already registered", "EMAIL_EXISTS")
			return
		}
		s.storeError(w, err, "user not found")
		return
	}

	s.sendVerificationMail(user)
	s.logger.Info("user registered", "user_id", user.ID)
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) sendVerificationMail(user *models.User) {
	token, err := s.tokens.Verify(user.ID)
	if err != nil {
		s.logger.Error("mint verification token", "error", err)
		return
	}
	link := s.cfg.FrontendURL + "/verify-email?token=" + token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.mail.Verification(ctx, user.Email, user.FullName, link); err != nil {
			s.logger.Error("send verification email", "error", err, "user_id", user.ID)
		}
	}()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.error(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	if user.VerificationStatus != "verified" {
		s.errorCode(w, http.StatusForbidden,
			"Please verify your email before logging in. Check the inbox associated with your sign-up email for the verification link.",
			"EMAIL_NOT_VERIFIED")
		return
	}
	if user.Status != "active" {
		s.error(w, http.StatusForbidden, "Account is suspended. Please contact support.")
		return
	}

	token, expiresIn, err := s.tokens.Access(user.ID, string(user.Role))
	if err != nil {
		s.error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   expiresIn,
	})
}

// Tokens are stateless; logout is client-side. The endpoint exists so the
// client has something to call.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logout successful",
		"detail":  "Remove token from client storage",
	})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		_ = decodeJSON(r, &body)
		token = body.Token
	}
	claims, err := s.tokens.Parse(token, auth.KindVerify)
	if err != nil {
		s.error(w, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}

	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		s.storeError(w, err, "User not found")
		return
	}
	if user.VerificationStatus == "verified" {
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "Email already verified", "status": "success"})
		return
	}

	user.VerificationStatus = "verified"
	user.VerificationMethod = "email"
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.storeError(w, err, "User not found")
		return
	}
	s.logger.Info("email verified", "user_id", user.ID)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully", "status": "success"})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if user.VerificationStatus == "verified" {
		s.error(w, http.StatusBadRequest, "Email is already verified")
		return
	}
	s.sendVerificationMail(user)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Verification email sent", "status": "success"})
}

// Public variant: never reveals whether the account exists.
func (s *Server) handleResendVerificationPublic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	generic := map[string]string{
		"message": "If an account with that email exists, a verification email has been sent.",
		"status":  "queued",
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		s.writeJSON(w, http.StatusOK, generic)
		return
	}
	if user.VerificationStatus == "verified" {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"message": "This email has already been verified. You can sign in now.",
			"status":  "already_verified",
		})
		return
	}
	s.sendVerificationMail(user)
	s.writeJSON(w, http.StatusOK, generic)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, currentUser(r.Context()))
}
