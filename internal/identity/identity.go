// Package identity verifies already-issued bearer credentials and exposes the
// caller's id and role to the rest of the system. Token issuance lives in a
// separate auth service and is not handled here.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is a verified caller.
type Identity struct {
	ID   uuid.UUID
	Role string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Verifier turns a bearer credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type jwtVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) Verifier {
	return &jwtVerifier{secret: []byte(secret)}
}

func (v *jwtVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}

	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Identity{}, ErrUnauthenticated
	}

	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}

	switch c.Role {
	case RolePatient, RoleDoctor, RoleAdmin:
	default:
		return Identity{}, ErrUnauthenticated
	}

	return Identity{ID: id, Role: c.Role}, nil
}

// MintToken signs a short-lived HS256 token for the given identity. Used by
// the seed tool and tests; production tokens come from the auth service.
func MintToken(id Identity, secret string, ttl time.Duration) (string, error) {
	c := claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
