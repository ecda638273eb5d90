package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the access-token claims the gateway trusts. Subject is the user id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewClaims builds claims valid for ttl from now.
func NewClaims(userID, tenantID, role, issuer string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// KeyProvider resolves an RSA verification key by key id.
type KeyProvider interface {
	Key(kid string) (any, error)
}

// Verifier checks HS256 tokens against a shared secret and RS256 tokens
// against a KeyProvider. Either may be left unset.
type Verifier struct {
	Secret string
	Keys   KeyProvider
	Issuer string
	Leeway time.Duration
}

func (v Verifier) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	methods := v.methods()
	if len(methods) == 0 {
		return nil, errors.New("no token verification configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: subject and tenant_id are required", ErrInvalidToken)
	}
	return claims, nil
}

func (v Verifier) methods() []string {
	var m []string
	if v.Secret != "" {
		m = append(m, jwt.SigningMethodHS256.Alg())
	}
	if v.Keys != nil {
		m = append(m, jwt.SigningMethodRS256.Alg())
	}
	return m
}

func (v Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.Alg() {
	case jwt.SigningMethodHS256.Alg():
		return []byte(v.Secret), nil
	case jwt.SigningMethodRS256.Alg():
		kid, _ := t.Header["kid"].(string)
		return v.Keys.Key(kid)
	}
	return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
}
