package trailbase

import (
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func testAuthToken(t *testing.T, userId, email, csrf string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":        userId,
		"email":      email,
		"csrf_token": csrf,
		"iat":        time.Now().Unix(),
		"exp":        exp.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	return token
}

func newTestClient(t *testing.T, baseUrl string) *Client {
	t.Helper()

	c, err := NewClient(ClientArgs{BaseUrl: baseUrl})
	require.NoError(t, err)

	return c
}

func newTestManager(t *testing.T, c *Client) *SessionManager {
	t.Helper()

	sm, err := NewSessionManager(SessionManagerArgs{
		Client: c,
		Logger: slog.Default(),
	})
	require.NoError(t, err)

	return sm
}
