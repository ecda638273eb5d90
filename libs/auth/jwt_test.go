package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := NewClaims("user-1", "tenant-1", "owner", "garageflow", time.Hour)
	token, err := SignHS256(claims, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	v := Verifier{Secret: "test-secret", Issuer: "garageflow"}
	parsed, err := v.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.TenantID != "tenant-1" || parsed.Role != "owner" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}

	if _, err := (Verifier{Secret: "wrong-secret"}).Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
	if _, err := (Verifier{Secret: "test-secret", Issuer: "other"}).Parse(token); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestExpiredAndIncompleteTokens(t *testing.T) {
	v := Verifier{Secret: "s"}

	expired := NewClaims("u", "t", "owner", "", -time.Minute)
	token, _ := SignHS256(expired, "s")
	if _, err := v.Parse(token); err == nil {
		t.Fatal("expected expired token to fail")
	}

	noTenant := NewClaims("u", "", "owner", "", time.Hour)
	token, _ = SignHS256(noTenant, "s")
	if _, err := v.Parse(token); err == nil {
		t.Fatal("expected missing tenant to fail")
	}

	if _, err := v.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestRS256WithJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, NewClaims("user-2", "tenant-2", "admin", "", time.Hour))
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := Verifier{Keys: NewJWKSClient(srv.URL, time.Minute)}
	parsed, err := v.Parse(signed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Subject != "user-2" || parsed.Role != "admin" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}

	tok.Header["kid"] = "unknown"
	signed, _ = tok.SignedString(key)
	if _, err := v.Parse(signed); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
}

func TestHS256RejectedWhenOnlyJWKSConfigured(t *testing.T) {
	token, _ := SignHS256(NewClaims("u", "t", "owner", "", time.Hour), "s")
	v := Verifier{Keys: NewJWKSClient("http://127.0.0.1:0", time.Minute)}
	if _, err := v.Parse(token); err == nil {
		t.Fatal("expected HS256 to be rejected")
	}
}
