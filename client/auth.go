package client

import (
	"context"

	"github.com/example/fareshare/internal/models"
)

type RegisterRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	var user models.User
	if err := c.post(ctx, "/api/auth/register", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login authenticates and persists the access token in the token store.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp loginResponse
	err := c.post(ctx, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, &resp)
	if err != nil {
		return err
	}
	return c.tokens.Save(resp.AccessToken)
}

// Logout clears the stored token. The server call is best-effort; tokens are
// stateless so local removal is what actually logs out.
func (c *Client) Logout(ctx context.Context) error {
	_ = c.post(ctx, "/api/auth/logout", nil, nil)
	return c.tokens.Clear()
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.get(ctx, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.post(ctx, "/api/auth/verify-email", map[string]string{"token": token}, nil)
}

func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.post(ctx, "/api/auth/resend-verification-email", map[string]string{"email": email}, nil)
}
