// Package auth resolves bearer tokens issued by the account system into
// identities.
package auth

import (
	"errors"
	"time"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity in the standard subject claim. Older tokens
// put it in user_id instead.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Resolver validates HS256 tokens.
type Resolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewResolver creates a resolver for tokens signed with secret. If issuer
// is not empty the iss claim must match it.
func NewResolver(secret, issuer string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock overrides the time used for expiry checks.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// ResolveIdentity returns the identity carried by token or an AuthError.
func (r *Resolver) ResolveIdentity(token string) (string, error) {
	if token == "" {
		return "", apperrors.Auth(errors.New("token missing"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return "", apperrors.Auth(err)
	}

	identity := claims.Subject
	if identity == "" {
		identity = claims.UserID
	}
	if !models.ValidIdentity(identity) {
		return "", apperrors.Auth(errors.New("token carries no usable identity"))
	}
	return identity, nil
}

// Issue signs a token for identity valid for ttl.
func (r *Resolver) Issue(identity string, ttl time.Duration) (string, error) {
	now := r.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

// BearerToken extracts the token from an "Authorization: Bearer <t>" value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}
