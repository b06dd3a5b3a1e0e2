// Package auth holds the demo's single-password gate and the bearer tokens
// the HTTP API hands out after it. The password is a shared plaintext
// constant; this is a convenience gate, not a security boundary.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUserRequired    = errors.New("user name is required")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
)

// Gate compares input against the configured password.
type Gate struct {
	Password string
}

// Check returns the trimmed user name when the password matches.
func (g Gate) Check(user, password string) (string, error) {
	u := strings.TrimSpace(user)
	if u == "" {
		return "", ErrUserRequired
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(g.Password)) != 1 {
		return "", ErrInvalidPassword
	}
	return u, nil
}

// Issuer mints and verifies HS256 session tokens whose subject is the user name.
type Issuer struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i Issuer) Issue(user string) (string, error) {
	if strings.TrimSpace(i.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "hoccoo",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the user a token was issued to.
func (i Issuer) Verify(token string) (string, error) {
	if strings.TrimSpace(i.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer("hoccoo"),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(i.Secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
