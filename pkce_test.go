package trailbase

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChallengePair(t *testing.T) {
	assert := assert.New(t)

	for _, byteLength := range []int{32, 48, 96} {
		pair, err := GenerateChallengePair(byteLength)
		require.NoError(t, err)

		assert.GreaterOrEqual(len(pair.Verifier), 43)

		h := sha256.Sum256([]byte(pair.Verifier))
		assert.Equal(base64.RawURLEncoding.EncodeToString(h[:]), pair.Challenge)

		// Unpadded base64url round-trips.
		_, err = base64.RawURLEncoding.DecodeString(pair.Verifier)
		assert.NoError(err)
	}
}

func TestGenerateChallengePairRejectsBadLengths(t *testing.T) {
	assert := assert.New(t)

	for _, byteLength := range []int{0, 31, 97, -4} {
		_, err := GenerateChallengePair(byteLength)
		assert.ErrorIs(err, ErrInvalidParameter)
	}
}

func TestGenerateChallengePairIsRandom(t *testing.T) {
	seen := map[string]bool{}

	for i := 0; i < 64; i++ {
		pair, err := GenerateChallengePair(32)
		require.NoError(t, err)
		require.False(t, seen[pair.Verifier], "verifier repeated")
		seen[pair.Verifier] = true
	}
}

func TestMemoryVerifierStoreSingleSlot(t *testing.T) {
	assert := assert.New(t)

	store := NewMemoryVerifierStore()

	_, err := store.RetrieveVerifier()
	assert.ErrorIs(err, ErrVerifierNotFound)

	require.NoError(t, store.StoreVerifier("first-verifier"))
	require.NoError(t, store.StoreVerifier("second-verifier"))

	got, err := store.RetrieveVerifier()
	require.NoError(t, err)
	assert.Equal("second-verifier", got)

	require.NoError(t, store.ClearVerifier())

	_, err = store.RetrieveVerifier()
	assert.ErrorIs(err, ErrVerifierNotFound)
}
