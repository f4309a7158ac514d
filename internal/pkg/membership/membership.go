// Package membership signs the member_cid cookie. The cookie only names a
// gateway customer to check; membership itself is always re-verified with
// the gateway.
package membership

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "member_cid"
	Issuer     = "thirdpath"
	DefaultTTL = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("membership: invalid token")

// Signer issues and verifies HS256 tokens carrying a customer id.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is how long an issued token stays valid.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) Issue(customerID string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("membership secret not configured")
	}
	if customerID == "" {
		return "", errors.New("membership: empty customer id")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   customerID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the customer id of a valid token.
func (s *Signer) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Hint returns the customer id from a raw cookie value, or "" when the
// cookie is missing or does not verify.
func (s *Signer) Hint(raw string) string {
	if raw == "" {
		return ""
	}
	cid, err := s.Verify(raw)
	if err != nil {
		return ""
	}
	return cid
}

// Cookie builds the member cookie. Secure is off only for local development.
func Cookie(token string, ttl time.Duration, secure bool) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		Secure:   secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}
