// Package auth issues and validates the bearer tokens the API hands out:
// access tokens for logged-in sessions and single-purpose email verification
// tokens. Both are HS256 JWTs carrying a "kind" claim so one can never be
// used in place of the other.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

const (
	KindAccess = "access"
	KindVerify = "email_verification"
)

var ErrInvalidToken = errors.New("invalid token")

type Tokens struct {
	secret    []byte
	accessTTL time.Duration
	verifyTTL time.Duration
}

func NewTokens(secret string, accessTTL, verifyTTL time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), accessTTL: accessTTL, verifyTTL: verifyTTL}
}

// Access mints a session token. Returns the token and its lifetime in
// seconds, which the login response reports as expires_in.
func (t *Tokens) Access(userID string, role string) (string, int64, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"kind": KindAccess,
		"exp":  time.Now().Add(t.accessTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	return signed, int64(t.accessTTL.Seconds()), err
}

// Verify mints an email verification token for the given user.
func (t *Tokens) Verify(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"kind": KindVerify,
		"exp":  time.Now().Add(t.verifyTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

type Claims struct {
	UserID string
	Role   string
	Kind   string
}

// Parse validates the signature and expiry and requires the expected kind.
func (t *Tokens) Parse(token, wantKind string) (*Claims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	kind, _ := claims["kind"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || kind != wantKind {
		return nil, ErrInvalidToken
	}
	return &Claims{UserID: sub, Role: role, Kind: kind}, nil
}

// HashPassword wraps bcrypt with the default cost.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
