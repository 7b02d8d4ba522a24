// Package bridge keeps one connection to the hub's push channel and relays
// its events to any number of downstream listeners.
//
// The connection follows a sequential state machine:
//
//	Disconnected -> Connecting -> Authenticating -> Subscribing -> Relaying
//
// A rejected token stops the bridge in AuthFailed without retrying. Any other
// failure goes back to Disconnected and is retried according to a RetryPolicy;
// once the policy is exhausted the bridge stops in GaveUp. Neither terminal
// state is left automatically; Reconnect restarts the loop on request.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"homedash/internal/clock"
	"homedash/internal/ha"

	"go.uber.org/zap"
)

// State is the connection state of the bridge
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Subscribing
	Relaying
	AuthFailed
	GaveUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Subscribing:
		return "subscribing"
	case Relaying:
		return "relaying"
	case AuthFailed:
		return "auth_failed"
	case GaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state is only left through Reconnect
func (s State) Terminal() bool {
	return s == AuthFailed || s == GaveUp
}

// Synthetic notification types sent to listeners, distinct from hub messages
const (
	NotifyConnected    = "connected"
	NotifyDisconnected = "disconnected"
	NotifyError        = "error"
	NotifyAuthError    = "auth_error"

	// ReasonMaxRetries is the error detail of the give-up notification
	ReasonMaxRetries = "max_retries_exceeded"
)

var (
	// ErrMaxRetriesExceeded is returned by Run after the retry policy is exhausted
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrAlreadyRunning is returned when the connection loop is already active
	ErrAlreadyRunning = errors.New("bridge already running")

	// ErrNotStarted is returned by Reconnect before Run was ever called
	ErrNotStarted = errors.New("bridge not started")
)

// subscribeRequestID is the message id of the subscribe request; ids are per connection
const subscribeRequestID = 1

// Notification is a synthetic frame emitted by the bridge itself
type Notification struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Frame encodes the notification as a relay frame
func (n Notification) Frame() []byte {
	data, _ := json.Marshal(n)
	return data
}

// Config holds bridge settings
type Config struct {
	Token            string
	Retry            RetryPolicy
	HandshakeTimeout time.Duration
	SubscriberBuffer int
}

// Status is a point-in-time view of the bridge
type Status struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Running     bool   `json:"running"`
	Failures    int    `json:"consecutive_failures"`
	MaxAttempts int    `json:"max_attempts"`
	Subscribers int    `json:"subscribers"`
	LastError   string `json:"last_error,omitempty"`
}

// Bridge relays hub push events to subscribers
type Bridge struct {
	dialer ha.Dialer
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
	subs   *Broadcaster

	mu       sync.RWMutex
	state    State
	failures int
	lastErr  string
	running  bool
	baseCtx  context.Context
}

// New creates a bridge. It does not connect until Run is called.
func New(dialer ha.Dialer, cfg Config, clk clock.Clock, logger *zap.Logger) *Bridge {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	logger = logger.Named("bridge")

	return &Bridge{
		dialer: dialer,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		subs:   NewBroadcaster(cfg.SubscriberBuffer, logger),
		state:  Disconnected,
	}
}

// Subscribe registers a downstream listener for frames relayed from now on
func (b *Bridge) Subscribe() *Subscription {
	return b.subs.Subscribe()
}

// State returns the current connection state
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Status returns a snapshot of the bridge for health reporting
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Status{
		State:       b.state.String(),
		Connected:   b.state == Relaying,
		Running:     b.running,
		Failures:    b.failures,
		MaxAttempts: b.cfg.Retry.MaxAttempts,
		Subscribers: b.subs.Count(),
		LastError:   b.lastErr,
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()

	if prev != s {
		b.logger.Debug("Bridge state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
}

// Run drives the connection loop until ctx is cancelled, the token is
// rejected (ha.ErrAuthRejected) or retries are exhausted (ErrMaxRetriesExceeded).
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.baseCtx = ctx
	b.state = Disconnected
	b.failures = 0
	b.lastErr = ""
	b.mu.Unlock()

	defer b.stopped()
	return b.loop(ctx)
}

// Reconnect restarts a stopped bridge in the background using the context of
// the last Run. It is the only way out of AuthFailed and GaveUp.
func (b *Bridge) Reconnect() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx := b.baseCtx
	if ctx == nil {
		b.mu.Unlock()
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.running = true
	b.state = Disconnected
	b.failures = 0
	b.lastErr = ""
	b.mu.Unlock()

	b.logger.Info("Manual reconnect requested")

	go func() {
		defer b.stopped()
		if err := b.loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("Bridge stopped", zap.Error(err))
		}
	}()
	return nil
}

func (b *Bridge) stopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

func (b *Bridge) loop(ctx context.Context) error {
	// dropped is set once a session has relayed; from then on the attempt
	// about to be made is a reconnect numbered failures+1.
	dropped := false

	for {
		established, err := b.session(ctx)

		if ctx.Err() != nil {
			b.setState(Disconnected)
			return ctx.Err()
		}

		if errors.Is(err, ha.ErrAuthRejected) {
			b.logger.Error("Hub rejected the access token, check HA_TOKEN; not retrying", zap.Error(err))
			b.mu.Lock()
			b.state = AuthFailed
			b.lastErr = err.Error()
			b.mu.Unlock()
			b.subs.Publish(Notification{Type: NotifyAuthError}.Frame())
			return err
		}

		b.mu.Lock()
		if established {
			// A dropped session is not a failed attempt; the count starts over
			b.failures = 0
			dropped = true
		} else {
			b.failures++
		}
		failures := b.failures
		if err != nil {
			b.lastErr = err.Error()
		}
		b.mu.Unlock()

		if !established && b.cfg.Retry.Exhausted(failures) {
			b.logger.Error("Giving up on hub connection",
				zap.Int("attempts", failures),
				zap.Error(err))
			b.setState(GaveUp)
			b.subs.Publish(Notification{Type: NotifyError, Error: ReasonMaxRetries}.Frame())
			b.subs.Publish(Notification{Type: NotifyDisconnected}.Frame())
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, failures, err)
		}

		next := failures
		if dropped {
			next++
		}
		delay := b.cfg.Retry.Delay(next)
		b.logger.Warn("Hub connection failed, retrying",
			zap.Int("attempt", next),
			zap.Int("failures", failures),
			zap.Duration("delay", delay),
			zap.Error(err))
		b.setState(Disconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(delay):
		}
	}
}

// session performs one connect/authenticate/subscribe/relay cycle. established
// reports whether the cycle reached Relaying before it ended.
func (b *Bridge) session(ctx context.Context) (established bool, err error) {
	b.setState(Connecting)

	dialCtx := ctx
	if b.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, b.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := b.dialer.Dial(dialCtx)
	if err != nil {
		return false, err
	}

	// The connection is closed exactly once, when the session ends or ctx is cancelled
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	b.setState(Authenticating)
	if err := ha.Authenticate(conn, b.cfg.Token, b.cfg.HandshakeTimeout); err != nil {
		return false, err
	}

	b.setState(Subscribing)
	if err := ha.SubscribeStateChanges(conn, subscribeRequestID, b.cfg.HandshakeTimeout); err != nil {
		return false, err
	}

	// Relaying has no read deadline; the hub may be quiet for long periods
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return false, fmt.Errorf("%w: %v", ha.ErrHubUnavailable, err)
	}

	b.mu.Lock()
	b.state = Relaying
	b.failures = 0
	b.lastErr = ""
	b.mu.Unlock()

	b.logger.Info("Connected to Home Assistant, relaying events")
	b.subs.Publish(Notification{Type: NotifyConnected}.Frame())

	err = b.relay(conn)

	b.logger.Warn("Connection lost", zap.Error(err))
	b.subs.Publish(Notification{Type: NotifyDisconnected}.Frame())
	return true, err
}

// relay forwards every inbound frame verbatim until the connection fails
func (b *Bridge) relay(conn ha.PushConn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ha.ErrHubUnavailable, err)
		}

		var msg ha.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("Dropping push frame",
				zap.Error(fmt.Errorf("%w: %v", ha.ErrMalformedMessage, err)),
				zap.Int("bytes", len(data)))
			continue
		}

		// Auth messages only drive the handshake
		if msg.IsAuth() {
			continue
		}

		delivered := b.subs.Publish(data)
		b.logger.Debug("Relayed hub message",
			zap.String("type", msg.Type),
			zap.Int("subscribers", delivered))
	}
}
