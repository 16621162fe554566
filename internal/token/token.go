// Package token mints and validates the JWTs exchanged with client
// applications and users. Tokens are signed symmetrically (HS256) with the
// configured client secret.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LongTermTokenPrefix marks the subject of a long-term token. The real subject
// follows the prefix, separated by a pipe.
const LongTermTokenPrefix = "LONG_TERM_TOKEN"

// ApplicationPrefix marks the subject of an application token.
const ApplicationPrefix = "APPLICATION"

// ErrInvalidToken wraps any signature or expiry validation failure.
var ErrInvalidToken = errors.New("invalid token")

// Util signs and parses tokens with one shared client secret.
type Util struct {
	secret []byte
	now    func() time.Time
}

// New creates a token util. When secretIsBase64 is set the secret is decoded
// before use.
func New(clientSecret string, secretIsBase64 bool) (*Util, error) {
	if clientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	secret := []byte(clientSecret)
	if secretIsBase64 {
		decoded, err := base64.StdEncoding.DecodeString(clientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 client secret: %w", err)
		}
		secret = decoded
	}
	return &Util{secret: secret, now: time.Now}, nil
}

// Mint creates a signed token. Custom claims are carried alongside the
// registered id, issuer, subject, and expiry claims.
func (u *Util) Mint(id, issuer, subject string, customClaims map[string]any, ttl time.Duration) (string, error) {
	now := u.now()
	claims := jwt.MapClaims{}
	for k, v := range customClaims {
		claims[k] = v
	}
	claims["jti"] = id
	claims["iss"] = issuer
	claims["sub"] = subject
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.secret)
}

// ApplicationTokenTTL is the lifetime of minted application tokens. Client
// applications hold their token as deployment configuration, so it is issued
// for a year and rotated by reissuing.
const ApplicationTokenTTL = 365 * 24 * time.Hour

// MintApplicationToken issues a token identifying a registered application.
func (u *Util) MintApplicationToken(applicationID string) (string, error) {
	return u.Mint(uuid.NewString(), "authz-server", ApplicationSubject(applicationID), nil, ApplicationTokenTTL)
}

// Parse validates the token's signature and expiry and returns its claims.
func (u *Util) Parse(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return u.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(u.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// ShouldRefresh reports whether a still-valid token is past the halfway point
// of its configured lifetime and ought to be reissued.
func (u *Util) ShouldRefresh(expiration time.Time, tokenTTL time.Duration) bool {
	now := u.now()
	if !now.Before(expiration) {
		return false
	}
	refreshAt := expiration.Add(-tokenTTL / 2)
	return !now.Before(refreshAt)
}

// IsLongTermSubject reports whether the token subject carries the long-term
// prefix.
func IsLongTermSubject(subject string) bool {
	return strings.HasPrefix(subject, LongTermTokenPrefix)
}

// StripLongTermPrefix removes the long-term prefix and its separator from the
// subject.
func StripLongTermPrefix(subject string) string {
	return strings.TrimPrefix(strings.TrimPrefix(subject, LongTermTokenPrefix), "|")
}

// LongTermSubject builds the subject of a long-term token.
func LongTermSubject(subject string) string {
	return LongTermTokenPrefix + "|" + subject
}

// IsApplicationSubject reports whether the token subject identifies a
// registered application rather than a user.
func IsApplicationSubject(subject string) bool {
	return strings.HasPrefix(subject, ApplicationPrefix)
}

// ApplicationSubject builds the subject of an application token.
func ApplicationSubject(applicationID string) string {
	return ApplicationPrefix + "|" + applicationID
}

// StripApplicationPrefix removes the application prefix and its separator from
// the subject.
func StripApplicationPrefix(subject string) string {
	return strings.TrimPrefix(strings.TrimPrefix(subject, ApplicationPrefix), "|")
}

// FromAuthorizationHeader extracts the bearer token from an Authorization
// header value.
func FromAuthorizationHeader(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return header, true
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer")), true
}
