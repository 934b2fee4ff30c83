package trailbase

import (
	"fmt"
	"sync"
)

const (
	// Verifier byte lengths accepted by GenerateChallengePair. 32 random
	// bytes encode to 43 base64url characters, the RFC 7636 minimum.
	MinVerifierBytes = 32
	MaxVerifierBytes = 96

	// VerifierStorageKey is the single well-known slot every
	// VerifierStore implementation uses. One slot, never per-provider:
	// at most one oauth flow is ever in flight across a redirect.
	VerifierStorageKey = "pkce_code_verifier"
)

// ChallengePair is the ephemeral pkce state carried across an oauth
// redirect. The verifier stays with the client; the challenge travels to
// the authorization server.
type ChallengePair struct {
	Verifier  string
	Challenge string
}

// GenerateChallengePair produces a random unpadded base64url verifier of
// byteLength source bytes together with the base64url SHA-256 digest of
// the verifier text.
func GenerateChallengePair(byteLength int) (*ChallengePair, error) {
	if byteLength < MinVerifierBytes || byteLength > MaxVerifierBytes {
		return nil, fmt.Errorf(
			"%w: verifier byte length %d outside [%d, %d]",
			ErrInvalidParameter, byteLength, MinVerifierBytes, MaxVerifierBytes,
		)
	}

	verifier, err := generateVerifier(byteLength)
	if err != nil {
		return nil, fmt.Errorf("could not generate pkce verifier: %w", err)
	}

	return &ChallengePair{
		Verifier:  verifier,
		Challenge: generateCodeChallenge(verifier),
	}, nil
}

// VerifierStore persists at most one pkce verifier across a redirect.
// Storing overwrites any previous verifier. RetrieveVerifier returns
// ErrVerifierNotFound both when the slot is empty and when the backing
// storage is unavailable; pkce persistence is best effort and callers are
// expected to fall back to a cookie session rather than fail the login.
type VerifierStore interface {
	StoreVerifier(verifier string) error
	RetrieveVerifier() (string, error)
	ClearVerifier() error
}

// MemoryVerifierStore is the in-process single-slot implementation, used
// by non-browser hosts and tests. The web demo swaps in a cookie-backed
// store so the verifier survives the full-page redirect.
type MemoryVerifierStore struct {
	mu       sync.Mutex
	verifier string
}

var _ VerifierStore = (*MemoryVerifierStore)(nil)

func NewMemoryVerifierStore() *MemoryVerifierStore {
	return &MemoryVerifierStore{}
}

func (s *MemoryVerifierStore) StoreVerifier(verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifier = verifier
	return nil
}

func (s *MemoryVerifierStore) RetrieveVerifier() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verifier == "" {
		return "", ErrVerifierNotFound
	}

	return s.verifier, nil
}

func (s *MemoryVerifierStore) ClearVerifier() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifier = ""
	return nil
}
