package authn

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/security"
)

// ErrInvalidCredentials is returned by DevIssuer.Login for an unknown
// username or a password that doesn't match its stored hash.
var ErrInvalidCredentials = errors.New("invalid credentials")

// devUser is one registered local account. Password is never stored in the
// clear: it goes through security.HashPassword/VerifyPassword, the
// teacher's own bcrypt wrapper.
type devUser struct {
	ownerID      uuid.UUID
	passwordHash string
}

// DevIssuer is a minimal, in-memory username/password store backing the
// POST /auth/token endpoint used by local development and integration
// tests, grounded on api/jwt.go's GenerateToken handler. It is not wired
// to any durable store — production deployments are expected to supply a
// JWTAuthenticator backed by an external identity provider instead.
type DevIssuer struct {
	mu    sync.Mutex
	users map[string]devUser
	auth  *JWTAuthenticator
	ttl   time.Duration
}

// NewDevIssuer constructs a DevIssuer that signs tokens with auth's secret.
func NewDevIssuer(auth *JWTAuthenticator, ttl time.Duration) *DevIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DevIssuer{users: make(map[string]devUser), auth: auth, ttl: ttl}
}

// Register creates a local account with a bcrypt-hashed password and
// assigns it a fresh owner id.
func (d *DevIssuer) Register(username, password string) (uuid.UUID, error) {
	hash, err := security.HashPassword(password)
	if err != nil {
		return uuid.Nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	ownerID := uuid.New()
	d.users[username] = devUser{ownerID: ownerID, passwordHash: hash}
	return ownerID, nil
}

// Login verifies username/password and issues a bearer token for the
// account's owner id.
func (d *DevIssuer) Login(username, password string) (string, error) {
	d.mu.Lock()
	user, ok := d.users[username]
	d.mu.Unlock()
	if !ok {
		return "", ErrInvalidCredentials
	}

	if err := security.VerifyPassword(user.passwordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	return d.auth.IssueToken(user.ownerID, d.ttl)
}
