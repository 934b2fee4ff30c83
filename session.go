package trailbase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultRefreshInterval is the proactive refresh period. With a
	// 60-minute access token lifetime this gives roughly a dozen refresh
	// opportunities before expiry.
	DefaultRefreshInterval = 5 * time.Minute

	// DefaultRefreshMargin is how close to expiry a token must be before
	// Revalidate considers it worth refreshing.
	DefaultRefreshMargin = 5 * time.Minute
)

// AuthState is the session manager's externally visible state.
type AuthState int

const (
	LoggedOut AuthState = iota
	Authenticated
	RefreshInFlight
)

func (s AuthState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case RefreshInFlight:
		return "refresh-in-flight"
	default:
		return "logged-out"
	}
}

// AuthChangeFunc observes session transitions. It receives the new
// session, or nil when the session has ended.
type AuthChangeFunc func(sess *Session)

// SessionManager orchestrates the authenticated session lifecycle: login,
// token adoption from an oauth exchange or cookie restore, deduplicated
// refresh, the periodic proactive refresh loop, and logout.
type SessionManager struct {
	client *Client
	store  *TokenStore
	log    *slog.Logger

	refreshInterval time.Duration
	refreshMargin   time.Duration

	mu        sync.Mutex
	inflight  *refreshAttempt
	stopLoop  context.CancelFunc
	observers []AuthChangeFunc
}

type SessionManagerArgs struct {
	Client *Client
	Store  *TokenStore
	Logger *slog.Logger

	// Zero values fall back to the package defaults.
	RefreshInterval time.Duration
	RefreshMargin   time.Duration
}

func NewSessionManager(args SessionManagerArgs) (*SessionManager, error) {
	if args.Client == nil {
		return nil, fmt.Errorf("no client provided")
	}

	if args.Store == nil {
		args.Store = NewTokenStore()
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.RefreshInterval == 0 {
		args.RefreshInterval = DefaultRefreshInterval
	}

	if args.RefreshMargin == 0 {
		args.RefreshMargin = DefaultRefreshMargin
	}

	return &SessionManager{
		client:          args.Client,
		store:           args.Store,
		log:             args.Logger,
		refreshInterval: args.RefreshInterval,
		refreshMargin:   args.RefreshMargin,
	}, nil
}

// Store exposes the token store the manager mutates, for components that
// need read access to the current tokens.
func (sm *SessionManager) Store() *TokenStore {
	return sm.store
}

func (sm *SessionManager) State() AuthState {
	sm.mu.Lock()
	inflight := sm.inflight != nil
	sm.mu.Unlock()

	if inflight {
		return RefreshInFlight
	}

	if sm.store.Get() != nil {
		return Authenticated
	}

	return LoggedOut
}

// OnAuthChange registers an observer for session transitions. Observers
// are how dependents such as the realtime manager learn about logout.
func (sm *SessionManager) OnAuthChange(fn AuthChangeFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.observers = append(sm.observers, fn)
}

// Login exchanges credentials for a session. On rejection it reports
// ErrInvalidCredentials and leaves the token store untouched.
func (sm *SessionManager) Login(ctx context.Context, email, password string) error {
	resp, err := sm.client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	if err := sm.AdoptTokens(resp); err != nil {
		return fmt.Errorf("could not adopt login tokens: %w", err)
	}

	sm.log.Info("logged in", "email", email)

	return nil
}

// AdoptTokens installs an externally obtained token set (oauth code
// exchange, cookie session restore) as the current session and starts the
// proactive refresh loop.
func (sm *SessionManager) AdoptTokens(resp *TokenResponse) error {
	sess, err := newSession(resp, nil)
	if err != nil {
		return err
	}

	sm.store.Set(sess)
	sm.startRefreshLoop()
	sm.notify(sess)

	return nil
}

// Refresh replaces the current tokens with a fresh set. At most one
// refresh call is ever on the wire: a caller arriving while one is in
// flight waits for that attempt's outcome instead of issuing its own.
// On failure the session is cleared and ErrSessionLost reported.
func (sm *SessionManager) Refresh(ctx context.Context) error {
	sm.mu.Lock()
	if attempt := sm.inflight; attempt != nil {
		sm.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess := sm.store.Get()
	if sess == nil {
		sm.mu.Unlock()
		return fmt.Errorf("%w: no session to refresh", ErrSessionLost)
	}

	gen := sm.store.Generation()
	attempt := &refreshAttempt{done: make(chan struct{})}
	sm.inflight = attempt
	sm.mu.Unlock()

	attempt.err = sm.doRefresh(ctx, sess, gen)

	sm.mu.Lock()
	sm.inflight = nil
	sm.mu.Unlock()
	close(attempt.done)

	return attempt.err
}

// Revalidate is the hook for visibility or wake events, where timers may
// have been suspended. It refreshes only when the token is close enough
// to expiry to matter.
func (sm *SessionManager) Revalidate(ctx context.Context) error {
	sess := sm.store.Get()
	if sess == nil {
		return nil
	}

	if !sess.ExpiresWithin(sm.refreshMargin) {
		return nil
	}

	sm.log.Debug("revalidating session", "expires_at", sess.ExpiresAt)

	return sm.Refresh(ctx)
}

// Logout ends the session. The server call is best effort: the local
// session is cleared and observers notified regardless of its outcome.
func (sm *SessionManager) Logout(ctx context.Context) error {
	sm.stopRefreshLoop()

	sess := sm.store.Get()
	if sess != nil {
		if err := sm.client.Logout(ctx, sess.AuthToken); err != nil {
			sm.log.Warn("server logout failed", "error", err)
		}
	}

	sm.store.Clear()
	sm.notify(nil)

	sm.log.Info("logged out")

	return nil
}

type refreshAttempt struct {
	done chan struct{}
	err  error
}

func (sm *SessionManager) doRefresh(ctx context.Context, sess *Session, gen uint64) error {
	resp, err := sm.client.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		// Only tear the session down if nothing replaced it while the
		// call was on the wire.
		if sm.store.Generation() == gen {
			sm.stopRefreshLoop()
			sm.store.Clear()
			sm.notify(nil)
		}
		sm.log.Warn("token refresh failed", "error", err)
		return fmt.Errorf("%w: %s", ErrSessionLost, err.Error())
	}

	next, err := newSession(resp, sess)
	if err != nil {
		if sm.store.Generation() == gen {
			sm.stopRefreshLoop()
			sm.store.Clear()
			sm.notify(nil)
		}
		return fmt.Errorf("%w: %s", ErrSessionLost, err.Error())
	}

	if !sm.store.SetIfCurrent(next, gen) {
		// Superseded by a logout or a newer login; the fresh tokens are
		// dropped rather than written over the newer state.
		sm.log.Debug("discarding refresh result for superseded session")
		return nil
	}

	sm.notify(next)

	return nil
}

func (sm *SessionManager) startRefreshLoop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopLoop != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm.stopLoop = cancel

	go sm.refreshLoop(ctx)
}

func (sm *SessionManager) stopRefreshLoop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopLoop != nil {
		sm.stopLoop()
		sm.stopLoop = nil
	}
}

func (sm *SessionManager) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(sm.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sm.Refresh(ctx); err != nil {
				sm.log.Warn("periodic refresh failed", "error", err)
			}
		}
	}
}

func (sm *SessionManager) notify(sess *Session) {
	sm.mu.Lock()
	observers := make([]AuthChangeFunc, len(sm.observers))
	copy(observers, sm.observers)
	sm.mu.Unlock()

	for _, fn := range observers {
		fn(sess)
	}
}
