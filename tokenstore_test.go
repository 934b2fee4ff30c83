package trailbase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreSetGetClear(t *testing.T) {
	assert := assert.New(t)

	store := NewTokenStore()
	assert.Nil(store.Get())

	sess := &Session{
		AuthToken:    "A1",
		RefreshToken: "R1",
		CsrfToken:    "C1",
		ExpiresAt:    time.Now().Add(time.Hour),
		UserId:       "u1",
		Email:        "a@x.com",
	}

	store.Set(sess)

	got := store.Get()
	require.NotNil(t, got)
	assert.Equal("A1", got.AuthToken)
	assert.Equal("R1", got.RefreshToken)
	assert.Equal("C1", got.CsrfToken)

	// Reads hand out copies; mutating one must not leak into the store.
	got.AuthToken = "mutated"
	assert.Equal("A1", store.Get().AuthToken)

	store.Clear()
	assert.Nil(store.Get())
}

func TestTokenStoreGenerationAdvances(t *testing.T) {
	assert := assert.New(t)

	store := NewTokenStore()
	gen := store.Generation()

	store.Set(&Session{AuthToken: "A1"})
	assert.Greater(store.Generation(), gen)

	gen = store.Generation()
	store.Clear()
	assert.Greater(store.Generation(), gen)
}

func TestTokenStoreSetIfCurrent(t *testing.T) {
	assert := assert.New(t)

	store := NewTokenStore()
	store.Set(&Session{AuthToken: "A1"})

	gen := store.Generation()
	assert.True(store.SetIfCurrent(&Session{AuthToken: "A2"}, gen))
	assert.Equal("A2", store.Get().AuthToken)

	// A logout between observing the generation and writing back makes
	// the write a no-op.
	gen = store.Generation()
	store.Clear()
	assert.False(store.SetIfCurrent(&Session{AuthToken: "A3"}, gen))
	assert.Nil(store.Get())
}
