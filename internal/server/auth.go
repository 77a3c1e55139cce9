package server

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// ChallengeStore issues and tracks single-use login challenges. A
// challenge must be signed into a login event before its TTL expires,
// and consuming it removes it so a captured login event cannot be
// replayed.
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]time.Time
	ttl        time.Duration
	now        func() time.Time
}

// NewChallengeStore creates a challenge store with the given TTL
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]time.Time),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue creates a new challenge token and records its expiry
func (c *ChallengeStore) Issue() (string, error) {
	token, err := utils.GenerateToken(16)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune()
	c.challenges[token] = c.now().Add(c.ttl)

	return token, nil
}

// Consume removes the challenge and reports whether it was outstanding
// and unexpired. A second call with the same token always fails.
func (c *ChallengeStore) Consume(token string) bool {
	if token == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.challenges[token]
	if !ok {
		return false
	}

	delete(c.challenges, token)

	return c.now().Before(expiry)
}

// prune drops expired challenges, caller must hold the lock
func (c *ChallengeStore) prune() {
	now := c.now()
	for token, expiry := range c.challenges {
		if now.After(expiry) {
			delete(c.challenges, token)
		}
	}
}

// SessionIssuer mints signed session tokens after a successful login
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionIssuer creates a session issuer from the auth configuration
func NewSessionIssuer(cfg *config.AuthConfig) *SessionIssuer {
	return &SessionIssuer{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.SessionTTL,
	}
}

// Issue returns a signed token whose subject is the authenticated pubkey
func (s *SessionIssuer) Issue(pubkey string) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Subject:   pubkey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a session token and returns its subject pubkey
func (s *SessionIssuer) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}

	return claims.Subject, nil
}
