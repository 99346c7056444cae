package auth

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidState is returned when a callback presents a state with no
// matching, non-expired verifier. The authorization flow must be restarted.
var ErrInvalidState = errors.New("no pending authorization for state")

// PendingTTL is how long a stored verifier remains redeemable. Abandoned
// flows are reclaimed lazily; there is no background sweeper.
const PendingTTL = 30 * time.Minute

// VerifierStore associates an OAuth state token with the PKCE verifier minted
// alongside it. Entries are one-time use and expire after PendingTTL. The
// store is process-local; a restart invalidates in-flight flows, which is
// acceptable since a fresh /auth click recovers.
type VerifierStore interface {
	Put(state, verifier string) error
	Take(state string) (string, error)
}

type pendingAuthorization struct {
	verifier  string
	createdAt time.Time
}

// InMemoryVerifierStore is the default VerifierStore implementation. A
// distributed cache could replace it for multi-instance deployments without
// changing callers.
type InMemoryVerifierStore struct {
	mu      sync.Mutex
	pending map[string]pendingAuthorization
	now     func() time.Time
}

// NewInMemoryVerifierStore creates an empty InMemoryVerifierStore.
func NewInMemoryVerifierStore() *InMemoryVerifierStore {
	return &InMemoryVerifierStore{
		pending: make(map[string]pendingAuthorization),
		now:     time.Now,
	}
}

// Put stores the verifier for a state, first sweeping any entries older than
// PendingTTL so abandoned flows cannot grow the map without bound.
func (s *InMemoryVerifierStore) Put(state, verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, p := range s.pending {
		if now.Sub(p.createdAt) > PendingTTL {
			delete(s.pending, k)
		}
	}

	s.pending[state] = pendingAuthorization{verifier: verifier, createdAt: now}
	return nil
}

// Take removes and returns the verifier for a state. The entry is deleted
// unconditionally before the age check, so an expired entry is reclaimed by
// the lookup that finds it, and a second Take on the same state always fails.
func (s *InMemoryVerifierStore) Take(state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return "", ErrInvalidState
	}
	delete(s.pending, state)

	if s.now().Sub(p.createdAt) > PendingTTL {
		return "", ErrInvalidState
	}
	return p.verifier, nil
}
