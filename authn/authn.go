// Package authn implements the Authentication collaborator of §6:
// validate(token) -> owner_id | error, wrapping the teacher's own
// security.JWTService rather than reimplementing token handling. The core
// never issues or validates tokens itself — it only consumes the owner_id
// this package resolves.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/security"
)

// ErrUnauthenticated is returned for any missing, malformed, expired or
// otherwise invalid bearer credential, matching the HTTP API's
// UNAUTHENTICATED error code.
var ErrUnauthenticated = errors.New("UNAUTHENTICATED")

// Authenticator resolves a bearer token to the caller's owner_id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
}

// JWTAuthenticator adapts security.JWTService to the Authenticator
// contract: the subject claim of a validated token is the owner's uuid.
type JWTAuthenticator struct {
	jwt *security.JWTService
}

// NewJWTAuthenticator constructs an Authenticator over the given HMAC
// signing secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{jwt: security.NewJWTService(secret)}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (uuid.UUID, error) {
	parsed, err := a.jwt.ValidateToken(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	ownerID, err := uuid.Parse(parsed.Subject())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a valid owner id", ErrUnauthenticated)
	}
	return ownerID, nil
}

// IssueToken signs a token for ownerID, used by the dev issuer and by tests
// that need a valid bearer credential without a full login flow.
func (a *JWTAuthenticator) IssueToken(ownerID uuid.UUID, ttl time.Duration) (string, error) {
	return a.jwt.GenerateToken(ownerID.String(), ttl)
}
