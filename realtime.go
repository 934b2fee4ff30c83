package trailbase

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReconnectDelay is the fixed wait between a dropped stream and
// the next subscribe attempt. A fixed delay, not exponential backoff:
// disconnects are expected to be rare transient blips, and the stream
// should come back as fast as it reasonably can.
const DefaultReconnectDelay = 3 * time.Second

// RecordEvent is one realtime update. Exactly one of the fields is set.
type RecordEvent struct {
	Insert json.RawMessage `json:"insert,omitempty"`
	Update json.RawMessage `json:"update,omitempty"`
	Delete json.RawMessage `json:"delete,omitempty"`
}

// UpdateFunc receives each event read off the stream.
type UpdateFunc func(ev RecordEvent)

// Subscriber owns at most one live record subscription. Establishing a
// new one releases the previous stream first, and a dropped stream is
// reopened after a fixed delay for as long as the subscription has not
// been cancelled.
type Subscriber struct {
	client         *Client
	store          *TokenStore
	log            *slog.Logger
	reconnectDelay time.Duration

	mu     sync.Mutex
	handle *subscriptionHandle
}

type subscriptionHandle struct {
	id       uuid.UUID
	api      string
	recordId string
	cancel   context.CancelFunc
	done     chan struct{}
}

type SubscriberArgs struct {
	Client *Client
	Store  *TokenStore
	Logger *slog.Logger

	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration
}

func NewSubscriber(args SubscriberArgs) (*Subscriber, error) {
	if args.Client == nil {
		return nil, fmt.Errorf("no client provided")
	}

	if args.Store == nil {
		return nil, fmt.Errorf("no token store provided")
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.ReconnectDelay == 0 {
		args.ReconnectDelay = DefaultReconnectDelay
	}

	return &Subscriber{
		client:         args.Client,
		store:          args.Store,
		log:            args.Logger,
		reconnectDelay: args.ReconnectDelay,
	}, nil
}

// Subscribe opens the push stream for one record and invokes onEvent for
// every update until Cancel is called or ctx ends. Any prior subscription
// is cancelled, and its stream released, before the new one opens.
func (s *Subscriber) Subscribe(ctx context.Context, api, recordId string, onEvent UpdateFunc) error {
	if api == "" || recordId == "" {
		return fmt.Errorf("%w: api and record id are required", ErrInvalidParameter)
	}

	if onEvent == nil {
		return fmt.Errorf("%w: no update callback provided", ErrInvalidParameter)
	}

	s.Cancel()

	runCtx, cancel := context.WithCancel(ctx)
	handle := &subscriptionHandle{
		id:       uuid.New(),
		api:      api,
		recordId: recordId,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	go s.run(runCtx, handle, onEvent)

	return nil
}

// Active reports whether a subscription is currently established.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle != nil
}

// Cancel releases the current stream, waiting until the server-side
// resource is actually freed. Safe to call with nothing subscribed.
func (s *Subscriber) Cancel() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	if handle == nil {
		return
	}

	handle.cancel()
	<-handle.done
}

func (s *Subscriber) run(ctx context.Context, h *subscriptionHandle, onEvent UpdateFunc) {
	defer func() {
		s.mu.Lock()
		if s.handle == h {
			s.handle = nil
		}
		s.mu.Unlock()
		close(h.done)
	}()

	log := s.log.With("subscription", h.id, "api", h.api, "record", h.recordId)

	for {
		err := s.readStream(ctx, h, onEvent)

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Warn("subscription stream ended, reconnecting", "error", err)
		} else {
			log.Debug("subscription stream closed by server, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// readStream opens one stream and pumps it until it ends. A nil return
// means the far end closed cleanly; both outcomes lead to a reconnect.
func (s *Subscriber) readStream(ctx context.Context, h *subscriptionHandle, onEvent UpdateFunc) error {
	sess := s.store.Get()

	var authToken string
	if sess != nil {
		authToken = sess.AuthToken
	}

	body, err := s.client.openSubscription(ctx, authToken, h.api, h.recordId)
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()

		// Comment and blank lines keep the stream alive but carry no
		// payload.
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev RecordEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			s.log.Warn("could not unmarshal stream event", "error", err)
			continue
		}

		onEvent(ev)
	}

	return scanner.Err()
}
