package crm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStore_ConcurrentEnsureSingleLogin(t *testing.T) {
	var loginCalls int32
	store := NewStore(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loginCalls, 1)
		time.Sleep(50 * time.Millisecond) // simulate the network round trip
		return "tok-1", nil
	}, zerolog.Nop())
	store.pollInterval = 10 * time.Millisecond

	const callers = 10
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := store.Ensure(context.Background())
			errs[i] = err
			if cred != nil {
				tokens[i] = cred.Token
			}
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&loginCalls); got != 1 {
		t.Errorf("Expected exactly 1 login call, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("Caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "tok-1" {
			t.Errorf("Caller %d got token %q, want tok-1", i, tokens[i])
		}
	}
}

func TestStore_CachedTokenSkipsNetwork(t *testing.T) {
	var loginCalls int32
	store := NewStore(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loginCalls, 1)
		return "tok-1", nil
	}, zerolog.Nop())

	if _, err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Warmup Ensure failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		if _, err := store.Ensure(context.Background()); err != nil {
			t.Fatalf("Ensure %d failed: %v", i, err)
		}
		if _, err := store.Current(); err != nil {
			t.Fatalf("Current %d failed: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&loginCalls); got != 1 {
		t.Errorf("Expected 1 login call regardless of volume, got %d", got)
	}
}

func TestStore_CurrentFailsFastWithoutToken(t *testing.T) {
	var loginCalls int32
	store := NewStore(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loginCalls, 1)
		return "tok-1", nil
	}, zerolog.Nop())

	_, err := store.Current()
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Expected ErrNotAuthenticated, got %v", err)
	}
	if got := atomic.LoadInt32(&loginCalls); got != 0 {
		t.Errorf("Current must never trigger login, got %d calls", got)
	}
}

func TestStore_FollowerTimesOutOnSlowLeader(t *testing.T) {
	release := make(chan struct{})
	store := NewStore(func(ctx context.Context) (string, error) {
		<-release
		return "tok-1", nil
	}, zerolog.Nop())
	store.pollInterval = time.Millisecond
	store.pollAttempts = 5

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		store.Ensure(context.Background())
	}()

	// Give the leader time to take the refresh slot
	time.Sleep(10 * time.Millisecond)

	_, err := store.Ensure(context.Background())
	if !errors.Is(err, ErrAuthTimeout) {
		t.Errorf("Expected ErrAuthTimeout, got %v", err)
	}

	close(release)
	<-leaderDone
}

func TestStore_LeaderFailureReturnsAuthError(t *testing.T) {
	store := NewStore(func(ctx context.Context) (string, error) {
		return "", errors.New("connection refused")
	}, zerolog.Nop())

	_, err := store.Ensure(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %v", err)
	}

	// Failed login must leave the cache empty
	if _, err := store.Current(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated after failed login, got %v", err)
	}
}

func TestCredential_Valid(t *testing.T) {
	var nilCred *Credential
	if nilCred.Valid() {
		t.Error("nil credential must not be valid")
	}

	expired := &Credential{Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)}
	if expired.Valid() {
		t.Error("expired credential must not be valid")
	}

	fresh := &Credential{Token: "tok", ExpiresAt: time.Now().Add(time.Minute)}
	if !fresh.Valid() {
		t.Error("fresh credential must be valid")
	}
}
