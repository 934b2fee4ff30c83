package trailbase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// CallbackResult classifies what HandleCallback did with a url query.
type CallbackResult int

const (
	// CallbackIgnored means the query carried no authorization code and
	// nothing was done.
	CallbackIgnored CallbackResult = iota

	// CallbackAuthenticated means the code exchange succeeded and the
	// session is now populated.
	CallbackAuthenticated

	// CallbackFallback means a code arrived but no verifier was stored;
	// the caller should try restoring the session from server cookies.
	CallbackFallback

	// CallbackFailed means the exchange was attempted and rejected.
	CallbackFailed
)

func (r CallbackResult) String() string {
	switch r {
	case CallbackAuthenticated:
		return "authenticated"
	case CallbackFallback:
		return "fallback-required"
	case CallbackFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// OAuthFlow drives the pkce authorization code flow: it hands out the
// provider redirect url on the way out and turns the returned code into a
// session on the way back.
type OAuthFlow struct {
	client        *Client
	sessions      *SessionManager
	verifiers     VerifierStore
	verifierBytes int
	redirectTo    string
	log           *slog.Logger
}

type OAuthFlowArgs struct {
	Client    *Client
	Sessions  *SessionManager
	Verifiers VerifierStore

	// RedirectTo is the url the provider sends the user back to, with
	// the authorization code attached.
	RedirectTo string

	// VerifierBytes defaults to 64 and must stay inside
	// [MinVerifierBytes, MaxVerifierBytes].
	VerifierBytes int

	Logger *slog.Logger
}

func NewOAuthFlow(args OAuthFlowArgs) (*OAuthFlow, error) {
	if args.Client == nil {
		return nil, fmt.Errorf("no client provided")
	}

	if args.Sessions == nil {
		return nil, fmt.Errorf("no session manager provided")
	}

	if args.Verifiers == nil {
		args.Verifiers = NewMemoryVerifierStore()
	}

	if args.VerifierBytes == 0 {
		args.VerifierBytes = 64
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &OAuthFlow{
		client:        args.Client,
		sessions:      args.Sessions,
		verifiers:     args.Verifiers,
		verifierBytes: args.VerifierBytes,
		redirectTo:    args.RedirectTo,
		log:           args.Logger,
	}, nil
}

// BeginOAuth generates a fresh challenge pair, stores the verifier in the
// single pkce slot (overwriting any pending flow), and returns the
// provider authorization url for the caller to redirect to. A verifier
// storage failure is logged and swallowed: the flow continues and the
// callback will land on the cookie fallback path.
func (f *OAuthFlow) BeginOAuth(provider string) (string, error) {
	pair, err := GenerateChallengePair(f.verifierBytes)
	if err != nil {
		return "", err
	}

	if err := f.verifiers.StoreVerifier(pair.Verifier); err != nil {
		f.log.Warn("could not persist pkce verifier, will rely on cookie fallback", "error", err)
	}

	return f.client.OAuthLoginUrl(provider, f.redirectTo, pair.Challenge)
}

// HandleCallback consumes the query portion of the url the provider
// redirected back to. Without a code parameter it is a no-op. With a
// code it retrieves and consumes the stored verifier and performs the
// token exchange; if no verifier is found (lost storage, non-pkce flow,
// or a duplicate callback whose verifier was already consumed) it reports
// CallbackFallback without touching the network.
func (f *OAuthFlow) HandleCallback(ctx context.Context, query url.Values) (CallbackResult, error) {
	code := query.Get("code")
	if code == "" {
		return CallbackIgnored, nil
	}

	verifier, err := f.verifiers.RetrieveVerifier()
	if err != nil {
		if !errors.Is(err, ErrVerifierNotFound) {
			f.log.Warn("verifier storage unavailable", "error", err)
		}
		return CallbackFallback, nil
	}

	resp, exchangeErr := f.client.ExchangeCode(ctx, code, verifier)

	// The verifier is single use. Clearing it even on failure prevents a
	// retry with a stale code/verifier pair.
	if err := f.verifiers.ClearVerifier(); err != nil {
		f.log.Warn("could not clear pkce verifier", "error", err)
	}

	if exchangeErr != nil {
		return CallbackFailed, fmt.Errorf("%w: %s", ErrExchangeFailed, exchangeErr.Error())
	}

	if err := f.sessions.AdoptTokens(resp); err != nil {
		return CallbackFailed, fmt.Errorf("%w: %s", ErrExchangeFailed, err.Error())
	}

	return CallbackAuthenticated, nil
}

// RestoreFromCookies attempts the non-pkce fallback: ask the server
// whether its cookies still identify a session, and adopt the tokens if
// so. It reports whether a session was restored.
func (f *OAuthFlow) RestoreFromCookies(ctx context.Context) (bool, error) {
	resp, ok, err := f.client.AuthStatus(ctx)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, nil
	}

	if err := f.sessions.AdoptTokens(resp); err != nil {
		return false, fmt.Errorf("could not adopt restored tokens: %w", err)
	}

	f.log.Info("session restored from cookies")

	return true, nil
}
