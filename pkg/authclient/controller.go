package authclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the session lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

const defaultRefreshMargin = 60 * time.Second

// Controller drives the session lifecycle: bootstrap from the refresh
// cookie, proactive refresh a fixed margin before access expiry, and logout
// propagation across tabs via the broadcaster.
type Controller struct {
	client *Client
	bc     Broadcaster
	log    *slog.Logger
	margin time.Duration

	mu    sync.Mutex
	state State
	user  User
	timer *time.Timer

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once

	onChange func(State)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRefreshMargin sets how long before access expiry the proactive refresh
// fires.
func WithRefreshMargin(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.margin = d
		}
	}
}

// WithStateListener registers a callback invoked on every state transition.
func WithStateListener(fn func(State)) ControllerOption {
	return func(c *Controller) { c.onChange = fn }
}

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// NewController builds a Controller around a Client. The broadcaster may be
// nil when cross-tab propagation is not needed.
func NewController(client *Client, bc Broadcaster, opts ...ControllerOption) *Controller {
	c := &Controller{
		client: client,
		bc:     bc,
		log:    slog.Default(),
		margin: defaultRefreshMargin,
		state:  StateInitializing,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start performs the bootstrap sequence and begins listening for cross-tab
// logout signals. It returns once the state has settled.
//
// Bootstrap: with no cached access token, attempt one refresh using the
// cookie; on success fetch the profile. Failure at either step settles into
// Unauthenticated without error.
func (c *Controller) Start(ctx context.Context) error {
	if c.bc != nil {
		ch, cancel := c.bc.SubscribeLogout()
		c.unsubscribe = cancel
		go c.listenLogout(ch)
	}

	if _, ok := c.client.cache.Get(); !ok {
		if _, err := c.client.Refresh(ctx); err != nil {
			c.log.Debug("authclient.bootstrap.refresh.fail", "err", err)
			c.setState(StateUnauthenticated, User{})
			return nil
		}
	}

	u, err := c.client.Me(ctx)
	if err != nil {
		c.log.Debug("authclient.bootstrap.me.fail", "err", err)
		c.client.cache.Clear()
		c.setState(StateUnauthenticated, User{})
		return nil
	}

	c.setState(StateAuthenticated, u)
	c.scheduleRefresh()
	return nil
}

// SetAuthenticated moves the controller to Authenticated after an external
// login or register call on the same client, and starts proactive refresh.
func (c *Controller) SetAuthenticated(u User) {
	c.setState(StateAuthenticated, u)
	c.scheduleRefresh()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the authenticated user, if any.
func (c *Controller) User() (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return User{}, false
	}
	return c.user, true
}

// Logout revokes the session server-side, clears local state, and broadcasts
// the signal to other tabs. The local reset happens even when the network
// call fails.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.client.Logout(ctx)
	c.localLogout()
	if c.bc != nil {
		c.bc.PublishLogout()
	}
	return err
}

// Close stops the proactive refresh timer and the broadcast listener. It
// does not touch the server-side session.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// listenLogout handles logout signals from other tabs: same local
// clear-and-reset as a direct logout, but no network call.
func (c *Controller) listenLogout(ch <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if c.State() == StateAuthenticated {
				c.log.Debug("authclient.logout.cross_tab")
				c.client.cache.Clear()
				c.localLogout()
			}
		}
	}
}

func (c *Controller) localLogout() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.client.cache.Clear()
	c.setState(StateUnauthenticated, User{})
}

// scheduleRefresh arms a single timer to fire the margin before expiry, or
// immediately if already within it. A new schedule replaces the old timer.
func (c *Controller) scheduleRefresh() {
	exp, ok := c.client.cache.ExpiresAt()
	if !ok {
		return
	}

	d := time.Until(exp) - c.margin
	if d < 0 {
		d = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.timer = time.AfterFunc(d, c.proactiveRefresh)
}

func (c *Controller) proactiveRefresh() {
	if c.State() != StateAuthenticated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.client.Refresh(ctx); err != nil {
		// A failed proactive refresh forces logout rather than leaving a
		// stale token behind.
		c.log.Debug("authclient.proactive_refresh.fail", "err", err)
		c.localLogout()
		return
	}
	c.scheduleRefresh()
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) setState(s State, u User) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.user = u
	fn := c.onChange
	c.mu.Unlock()

	if changed && fn != nil {
		fn(s)
	}
}
