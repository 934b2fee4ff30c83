package trailbase

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exchangeStub struct {
	t *testing.T

	exchangeCalls atomic.Int32
	statusCalls   atomic.Int32

	exchangeStatus int
	statusActive   bool

	wantVerifier string
}

func (s *exchangeStub) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		s.exchangeCalls.Add(1)

		var req TokenExchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if s.exchangeStatus != 0 {
			w.WriteHeader(s.exchangeStatus)
			return
		}

		assert.Equal(s.t, "test-code", req.AuthorizationCode)
		if s.wantVerifier != "" {
			assert.Equal(s.t, s.wantVerifier, req.PkceCodeVerifier)
		}

		json.NewEncoder(w).Encode(TokenResponse{
			AuthToken:    testAuthToken(s.t, "user-1", "a@x.com", "", time.Now().Add(time.Hour)),
			RefreshToken: "R1",
			CsrfToken:    "C1",
		})
	})

	mux.HandleFunc("/api/auth/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		s.statusCalls.Add(1)

		if !s.statusActive {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		json.NewEncoder(w).Encode(TokenResponse{
			AuthToken:    testAuthToken(s.t, "user-1", "a@x.com", "", time.Now().Add(time.Hour)),
			RefreshToken: "R-cookie",
			CsrfToken:    "C-cookie",
		})
	})

	srv := httptest.NewServer(mux)
	s.t.Cleanup(srv.Close)

	return srv
}

func newTestFlow(t *testing.T, srvUrl string) (*OAuthFlow, *SessionManager, VerifierStore) {
	t.Helper()

	client := newTestClient(t, srvUrl)
	sm := newTestManager(t, client)
	verifiers := NewMemoryVerifierStore()

	flow, err := NewOAuthFlow(OAuthFlowArgs{
		Client:     client,
		Sessions:   sm,
		Verifiers:  verifiers,
		RedirectTo: "http://localhost:7070/callback",
	})
	require.NoError(t, err)

	return flow, sm, verifiers
}

func TestBeginOAuthBuildsRedirectUrl(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t}
	srv := stub.server()

	flow, _, verifiers := newTestFlow(t, srv.URL)

	redirect, err := flow.BeginOAuth("google")
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)

	assert.True(strings.HasSuffix(u.Path, "/api/auth/v1/oauth/google/login"))
	assert.Equal("code", u.Query().Get("response_type"))
	assert.Equal("http://localhost:7070/callback", u.Query().Get("redirect_to"))

	// The challenge in the url must be derived from the verifier left in
	// the storage slot.
	verifier, err := verifiers.RetrieveVerifier()
	require.NoError(t, err)
	assert.Equal(generateCodeChallenge(verifier), u.Query().Get("pkce_code_challenge"))
}

func TestBeginOAuthOverwritesPendingFlow(t *testing.T) {
	stub := &exchangeStub{t: t}
	srv := stub.server()

	flow, _, verifiers := newTestFlow(t, srv.URL)

	first, err := flow.BeginOAuth("google")
	require.NoError(t, err)

	second, err := flow.BeginOAuth("google")
	require.NoError(t, err)

	require.NotEqual(t, first, second)

	verifier, err := verifiers.RetrieveVerifier()
	require.NoError(t, err)

	u, _ := url.Parse(second)
	assert.Equal(t, generateCodeChallenge(verifier), u.Query().Get("pkce_code_challenge"))
}

func TestHandleCallbackWithoutCode(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t}
	srv := stub.server()

	flow, sm, _ := newTestFlow(t, srv.URL)

	result, err := flow.HandleCallback(ctx, url.Values{"state": {"whatever"}})
	require.NoError(t, err)

	assert.Equal(CallbackIgnored, result)
	assert.Equal(int32(0), stub.exchangeCalls.Load())
	assert.Nil(sm.Store().Get())
}

func TestHandleCallbackWithoutVerifier(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t}
	srv := stub.server()

	flow, sm, _ := newTestFlow(t, srv.URL)

	result, err := flow.HandleCallback(ctx, url.Values{"code": {"test-code"}})
	require.NoError(t, err)

	assert.Equal(CallbackFallback, result)
	assert.Equal(int32(0), stub.exchangeCalls.Load())
	assert.Nil(sm.Store().Get())
}

func TestHandleCallbackExchangesCode(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t}
	srv := stub.server()

	flow, sm, verifiers := newTestFlow(t, srv.URL)
	defer sm.Logout(ctx)

	_, err := flow.BeginOAuth("google")
	require.NoError(t, err)

	stub.wantVerifier, err = verifiers.RetrieveVerifier()
	require.NoError(t, err)

	result, err := flow.HandleCallback(ctx, url.Values{"code": {"test-code"}})
	require.NoError(t, err)

	assert.Equal(CallbackAuthenticated, result)
	assert.Equal(int32(1), stub.exchangeCalls.Load())

	sess := sm.Store().Get()
	require.NotNil(t, sess)
	assert.Equal("R1", sess.RefreshToken)

	// The verifier is consumed on exchange; replaying the same callback
	// lands on the fallback path instead of re-exchanging a stale code.
	_, err = verifiers.RetrieveVerifier()
	assert.ErrorIs(err, ErrVerifierNotFound)

	result, err = flow.HandleCallback(ctx, url.Values{"code": {"test-code"}})
	require.NoError(t, err)
	assert.Equal(CallbackFallback, result)
	assert.Equal(int32(1), stub.exchangeCalls.Load())
}

func TestHandleCallbackExchangeRejected(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t, exchangeStatus: http.StatusBadRequest}
	srv := stub.server()

	flow, sm, verifiers := newTestFlow(t, srv.URL)

	_, err := flow.BeginOAuth("google")
	require.NoError(t, err)

	result, err := flow.HandleCallback(ctx, url.Values{"code": {"test-code"}})
	assert.ErrorIs(err, ErrExchangeFailed)
	assert.Equal(CallbackFailed, result)
	assert.Nil(sm.Store().Get())

	// Cleared regardless of the outcome.
	_, err = verifiers.RetrieveVerifier()
	assert.ErrorIs(err, ErrVerifierNotFound)
}

func TestRestoreFromCookies(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t, statusActive: true}
	srv := stub.server()

	flow, sm, _ := newTestFlow(t, srv.URL)
	defer sm.Logout(ctx)

	restored, err := flow.RestoreFromCookies(ctx)
	require.NoError(t, err)

	assert.True(restored)

	sess := sm.Store().Get()
	require.NotNil(t, sess)
	assert.Equal("R-cookie", sess.RefreshToken)
}

func TestRestoreFromCookiesWithoutSession(t *testing.T) {
	assert := assert.New(t)

	stub := &exchangeStub{t: t, statusActive: false}
	srv := stub.server()

	flow, sm, _ := newTestFlow(t, srv.URL)

	restored, err := flow.RestoreFromCookies(ctx)
	require.NoError(t, err)

	assert.False(restored)
	assert.Nil(sm.Store().Get())
}
