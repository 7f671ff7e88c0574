package crm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TokenLifetime is how long a fetched credential is trusted. The CRM issues
// tokens that live about an hour; refreshing at 50 minutes keeps a margin.
const TokenLifetime = 50 * time.Minute

const (
	loginPollInterval = 100 * time.Millisecond
	loginPollAttempts = 50
)

// Credential is a cached bearer token with its validity window. Credentials
// are replaced wholesale on refresh, never mutated in place.
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the credential exists and has lifetime margin left
func (c *Credential) Valid() bool {
	return c != nil && c.Token != "" && time.Now().Before(c.ExpiresAt)
}

// LoginFunc performs the network login round trip and returns a raw token
type LoginFunc func(ctx context.Context) (string, error)

// Store holds the single shared CRM credential. It is constructed once at
// process warmup and passed by reference to the Client; there are no package
// globals. At most one login is in flight at a time: the first caller through
// Ensure becomes the leader and performs the round trip, concurrent callers
// poll for the result with a bounded wait.
type Store struct {
	login  LoginFunc
	logger zerolog.Logger

	mu         sync.Mutex
	cred       *Credential
	refreshing bool

	// Poll tuning, overridable in tests
	pollInterval time.Duration
	pollAttempts int
}

// NewStore creates a credential store around the given login function
func NewStore(login LoginFunc, logger zerolog.Logger) *Store {
	return &Store{
		login:        login,
		logger:       logger,
		pollInterval: loginPollInterval,
		pollAttempts: loginPollAttempts,
	}
}

// Current returns the cached credential without any network activity.
// It fails fast with ErrNotAuthenticated when the cache is empty or expired.
func (s *Store) Current() (*Credential, error) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if !cred.Valid() {
		return nil, ErrNotAuthenticated
	}
	return cred, nil
}

// Ensure returns a valid credential, performing a single exclusive login if
// the cache is empty or expired. Only the warmup path should call this;
// request-time code uses Current so that tool calls never trigger a login.
func (s *Store) Ensure(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	if s.cred.Valid() {
		cred := s.cred
		s.mu.Unlock()
		return cred, nil
	}

	if s.refreshing {
		s.mu.Unlock()
		return s.awaitLeader(ctx)
	}

	s.refreshing = true
	s.mu.Unlock()

	token, err := s.login(ctx)

	s.mu.Lock()
	s.refreshing = false
	if err == nil {
		now := time.Now()
		s.cred = &Credential{
			Token:     token,
			IssuedAt:  now,
			ExpiresAt: now.Add(TokenLifetime),
		}
		s.logger.Info().Msg("CRM login successful, token cached")
	}
	cred := s.cred
	s.mu.Unlock()

	if err != nil {
		return nil, &AuthError{Reason: "login request", Err: err}
	}
	return cred, nil
}

// awaitLeader polls for the in-flight login to publish a credential
func (s *Store) awaitLeader(ctx context.Context) (*Credential, error) {
	for i := 0; i < s.pollAttempts; i++ {
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		s.mu.Lock()
		cred := s.cred
		s.mu.Unlock()
		if cred.Valid() {
			return cred, nil
		}
	}
	return nil, ErrAuthTimeout
}
