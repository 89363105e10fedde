package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// restartClaims is the minimal JWT claim set accepted on /api/restart.
// There is no login flow for the admin surface: an operator mints a
// token out-of-band signed with the same api.session_auth.secret the
// server verifies against.
type restartClaims struct {
	jwt.RegisteredClaims
}

// ErrTokenInvalid is returned for any signature, expiry, or shape
// failure parsing a restart bearer token.
var ErrTokenInvalid = fmt.Errorf("api: invalid or expired token")

// IssueRestartToken signs a short-lived admin token for the given
// secret. Exported so a token can be minted outside the server.
func IssueRestartToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := restartClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("api: signing restart token: %w", err)
	}
	return signed, nil
}

// parseRestartToken validates a bearer token against secret.
func parseRestartToken(tokenString, secret string) error {
	token, err := jwt.ParseWithClaims(tokenString, &restartClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
