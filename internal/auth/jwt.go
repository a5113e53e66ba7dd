package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"questboard/internal/model"
)

// CookieName is the portal session cookie.
const CookieName = "qb_session"

// Claims is the payload of the portal session cookie. The backend's own
// cookies never leave the portal; the browser only holds this token.
type Claims struct {
	SessionID string     `json:"sid"`
	Role      model.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issue signs a session token for sessionID. role is informational and may
// be empty before login.
func Issue(sessionID string, role model.Role, issuer, key string, ttl time.Duration) (Token, error) {
	if sessionID == "" {
		return Token{}, errors.New("session id required")
	}
	if key == "" {
		return Token{}, errors.New("signing key required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse validates a session token and returns its claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return Claims{}, errors.New("invalid session token")
	}
	return *claims, nil
}
