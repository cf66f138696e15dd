package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tk := NewTokens("secret", time.Hour, time.Hour)
	token, expiresIn, err := tk.Access("u1", "user")
	if err != nil {
		t.Fatal(err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600s, got %d", expiresIn)
	}
	claims, err := tk.Parse(token, KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u1" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyTokenNotUsableAsAccess(t *testing.T) {
	tk := NewTokens("secret", time.Hour, time.Hour)
	token, err := tk.Verify("u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tk.Parse(token, KindAccess); err == nil {
		t.Fatal("verification token accepted as access token")
	}
	if _, err := tk.Parse(token, KindVerify); err != nil {
		t.Fatalf("verification token rejected: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	tk := NewTokens("secret", -time.Minute, time.Hour)
	token, _, err := tk.Access("u1", "user")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tk.Parse(token, KindAccess); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	tk := NewTokens("secret", time.Hour, time.Hour)
	other := NewTokens("other", time.Hour, time.Hour)
	token, _, err := tk.Access("u1", "user")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Parse(token, KindAccess); err == nil {
		t.Fatal("token with wrong signature accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "hunter22") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "hunter23") {
		t.Fatal("wrong password accepted")
	}
}
