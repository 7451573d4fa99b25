package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity is returned by components that need a user id when none is available.
var ErrNoIdentity = errors.New("no current user identity")

// Identity resolves the user the calendar operates on.
type Identity interface {
	CurrentUserIdentity() (string, bool)
}

// StaticIdentity always reports the same user id; an empty value reports none.
type StaticIdentity string

// CurrentUserIdentity implements Identity.
func (s StaticIdentity) CurrentUserIdentity() (string, bool) {
	id := strings.TrimSpace(string(s))
	return id, id != ""
}

// TokenIdentity reads the subject from a bearer token without verifying it. The server
// remains the authority; the client only needs the user id to build request paths.
type TokenIdentity struct {
	token string
}

// NewTokenIdentity wraps a raw JWT (with or without a "Bearer " prefix).
func NewTokenIdentity(token string) TokenIdentity {
	if t, ok := bearerToken(token); ok {
		token = t
	}
	return TokenIdentity{token: strings.TrimSpace(token)}
}

// CurrentUserIdentity implements Identity.
func (t TokenIdentity) CurrentUserIdentity() (string, bool) {
	if t.token == "" {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.token, claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
