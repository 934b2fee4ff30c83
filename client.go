package trailbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	authBasePath    = "/api/auth/v1"
	recordsBasePath = "/api/records/v1"
)

// Client speaks the backend's auth and records wire protocol. It carries
// no session state of its own; tokens are passed in per call.
type Client struct {
	h       *http.Client
	streamH *http.Client
	baseUrl string
}

type ClientArgs struct {
	// H is used for request/response calls. When nil a client with a
	// cookie jar is created so server-set session cookies survive the
	// oauth redirect dance.
	H       *http.Client
	BaseUrl string
}

func NewClient(args ClientArgs) (*Client, error) {
	if args.BaseUrl == "" {
		return nil, fmt.Errorf("no base url provided")
	}

	u, err := isSafeAndParsed(args.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("could not parse base url: %w", err)
	}

	if args.H == nil {
		jar, _ := cookiejar.New(nil)
		args.H = &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		}
	}

	// Streams stay open indefinitely, so the streaming client must not
	// carry a request timeout.
	streamH := &http.Client{
		Transport: args.H.Transport,
		Jar:       args.H.Jar,
	}

	return &Client{
		h:       args.H,
		streamH: streamH,
		baseUrl: strings.TrimSuffix(u.String(), "/"),
	}, nil
}

// HttpError captures a non-2xx response so callers can map status classes
// onto the error taxonomy.
type HttpError struct {
	StatusCode int
	Body       string
}

func (e *HttpError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	var resp TokenResponse
	req := LoginRequest{Email: email, Password: password}
	if err := c.doJson(ctx, "POST", authBasePath+"/login", "", req, &resp); err != nil {
		if he, ok := asHttpError(err); ok && he.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, he.Error())
		}
		return nil, fmt.Errorf("login request failed: %w", err)
	}

	return &resp, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	req := RefreshRequest{RefreshToken: refreshToken}
	if err := c.doJson(ctx, "POST", authBasePath+"/refresh", "", req, &resp); err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}

	return &resp, nil
}

// ExchangeCode trades an authorization code plus the pkce verifier that
// produced its challenge for a fresh set of tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, pkceVerifier string) (*TokenResponse, error) {
	var resp TokenResponse
	req := TokenExchangeRequest{
		AuthorizationCode: code,
		PkceCodeVerifier:  pkceVerifier,
	}
	if err := c.doJson(ctx, "POST", authBasePath+"/token", "", req, &resp); err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}

	return &resp, nil
}

func (c *Client) Logout(ctx context.Context, authToken string) error {
	if err := c.doJson(ctx, "POST", authBasePath+"/logout", authToken, nil, nil); err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}

	return nil
}

// AuthStatus asks the server whether the cookies it previously set still
// identify a session. ok is false when they do not; that is not an error.
func (c *Client) AuthStatus(ctx context.Context) (*TokenResponse, bool, error) {
	var resp TokenResponse
	if err := c.doJson(ctx, "GET", authBasePath+"/status", "", nil, &resp); err != nil {
		if he, ok := asHttpError(err); ok && he.StatusCode < 500 {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("status request failed: %w", err)
	}

	if resp.AuthToken == "" {
		return nil, false, nil
	}

	return &resp, true, nil
}

// OAuthLoginUrl builds the provider authorization redirect url carrying
// the pkce challenge. The caller performs the actual redirect.
func (c *Client) OAuthLoginUrl(provider, redirectTo, codeChallenge string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("no oauth provider given")
	}

	params := url.Values{
		"response_type":       {"code"},
		"pkce_code_challenge": {codeChallenge},
	}

	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}

	return fmt.Sprintf(
		"%s%s/oauth/%s/login?%s",
		c.baseUrl, authBasePath, url.PathEscape(provider), params.Encode(),
	), nil
}

// Record fetches a single record from a record api by id.
func (c *Client) Record(ctx context.Context, authToken, api, recordId string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("%s/%s/%s", recordsBasePath, url.PathEscape(api), url.PathEscape(recordId))
	if err := c.doJson(ctx, "GET", path, authToken, nil, &raw); err != nil {
		return nil, fmt.Errorf("record request failed: %w", err)
	}

	return raw, nil
}

// openSubscription opens the server-push event stream for one record. The
// returned body stays open until closed by the caller or the far end.
func (c *Client) openSubscription(ctx context.Context, authToken, api, recordId string) (io.ReadCloser, error) {
	path := fmt.Sprintf(
		"%s/%s/subscribe/%s",
		recordsBasePath, url.PathEscape(api), url.PathEscape(recordId),
	)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseUrl+path, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating subscribe request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.streamH.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not open subscription stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &HttpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	return resp.Body, nil
}

func (c *Client) doJson(ctx context.Context, method, path, authToken string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, bodyReader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return fmt.Errorf("could not get response from server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &HttpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}

	return nil
}

func asHttpError(err error) (*HttpError, bool) {
	var he *HttpError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
