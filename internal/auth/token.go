package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew is subtracted from the token's exp claim so a call started
// just before expiry does not arrive with a dead bearer.
const expirySkew = 30 * time.Second

// SessionClaims mirrors the claims the backend puts into a login token.
// The client never holds the signing secret, so claims are read without
// signature verification and trusted only for local bookkeeping.
type SessionClaims struct {
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the token payload without verifying the signature.
func ParseClaims(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenExpiry returns the token's expiry time. Tokens without an exp
// claim are treated as non-expiring.
func TokenExpiry(token string) (time.Time, error) {
	claims, err := ParseClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether the token is past (or within the skew of) its
// expiry at the given instant. Malformed tokens count as expired.
func Expired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	expiry, err := TokenExpiry(token)
	if err != nil {
		return true
	}
	if expiry.IsZero() {
		return false
	}
	return !now.Add(expirySkew).Before(expiry)
}

// ErrNoSession is returned when an operation requires an authenticated
// session and none is present.
var ErrNoSession = errors.New("no authenticated session")
