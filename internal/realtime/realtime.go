// Package realtime keeps one role-scoped websocket open for the active
// session and hands every inbound event to a Handler.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/events"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrNotConnectable = errors.New("realtime: session has no channel")

// TargetPath returns the channel path for a role and scope.
func TargetPath(role auth.Role, scopeID string) (string, error) {
	switch role {
	case auth.RoleAdmin:
		return "/ws/admin", nil
	case auth.RoleCompany:
		if scopeID == "" {
			return "", fmt.Errorf("%w: company without scope", ErrNotConnectable)
		}
		return "/ws/company/" + url.PathEscape(scopeID), nil
	}
	return "", fmt.Errorf("%w: role %q", ErrNotConnectable, string(role))
}

// SessionSource is the part of auth.Store the channel follows.
type SessionSource interface {
	Current() *auth.Session
	Subscribe(fn func(*auth.Session)) (cancel func())
	Logout()
}

// Handler receives parsed frames in arrival order.
type Handler interface {
	Handle(e events.Event)
}

type HandlerFunc func(events.Event)

func (f HandlerFunc) Handle(e events.Event) { f(e) }

type Options struct {
	// BaseURL is the ws:// or wss:// origin the paths are appended to.
	BaseURL        string
	Dialer         *websocket.Dialer
	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// connection is one dial attempt and, once it succeeds, its socket.
type connection struct {
	path    string
	stopped atomic.Bool
	cancel  context.CancelFunc
	ws      *websocket.Conn // guarded by Channel.mu
}

type Channel struct {
	store   SessionSource
	handler Handler
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	session   *auth.Session
	conn      *connection
	state     State
	pending   []State
	backoff   time.Duration
	timer     *time.Timer
	gen       uint64
	cancelSub func()
	listeners map[int]func(State)
	nextID    int
}

func New(store SessionSource, handler Handler, opts Options, logger *slog.Logger) *Channel {
	if opts.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		opts.Dialer = &d
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(30*time.Second, opts.InitialBackoff)
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Channel{
		store:     store,
		handler:   handler,
		opts:      opts,
		logger:    logger,
		listeners: make(map[int]func(State)),
	}
}

// Start follows the session store and connects for the current session.
func (c *Channel) Start() {
	c.mu.Lock()
	if c.cancelSub != nil {
		c.mu.Unlock()
		return
	}
	c.cancelSub = func() {}
	c.mu.Unlock()

	cancel := c.store.Subscribe(func(*auth.Session) { c.sync() })
	c.mu.Lock()
	if c.cancelSub == nil {
		// Stopped while subscribing.
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelSub = cancel
	c.mu.Unlock()

	c.sync()
}

// Stop stops following the store and closes the channel.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel := c.cancelSub
	c.cancelSub = nil
	c.teardownLocked()
	c.transition(StateIdle)
	c.unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the socket is open.
func (c *Channel) Connected() bool {
	return c.State() == StateOpen
}

// Path is the target of the current or pending connection, or "".
func (c *Channel) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.path
	}
	if c.session != nil {
		p, _ := TargetPath(c.session.Role, c.session.ScopeID)
		return p
	}
	return ""
}

// OnStateChange registers fn for every transition. fn runs outside the
// channel lock on the goroutine that caused the change.
func (c *Channel) OnStateChange(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// sync reconciles the channel with the store's current session. The
// notified value is not used: concurrent logins and logouts may deliver
// notifications out of order, and the last sync to take the lock must see
// the last write. It returns after any previous connection has been marked
// stopped and closed.
func (c *Channel) sync() {
	c.mu.Lock()
	defer c.unlock()

	if c.cancelSub == nil {
		return
	}
	sess := c.store.Current()
	if sess == nil {
		c.teardownLocked()
		c.transition(StateIdle)
		return
	}
	if c.session.SameChannel(sess) {
		return
	}
	c.teardownLocked()
	if _, err := TargetPath(sess.Role, sess.ScopeID); err != nil {
		c.logger.Warn("realtime: not connecting", "role", string(sess.Role), "err", err)
		c.transition(StateIdle)
		return
	}
	c.session = sess
	c.backoff = 0
	c.dialLocked()
}

func (c *Channel) dialLocked() {
	path, _ := TargetPath(c.session.Role, c.session.ScopeID)
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{path: path, cancel: cancel}
	c.conn = conn
	c.transition(StateConnecting)
	go c.run(ctx, conn, c.session.Token)
}

func (c *Channel) run(ctx context.Context, conn *connection, token string) {
	defer conn.cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.BaseURL+conn.path, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.rejected(conn)
			return
		}
		c.logger.Debug("realtime: dial failed", "path", conn.path, "err", err)
		c.lost(conn)
		return
	}

	c.mu.Lock()
	if conn.stopped.Load() {
		c.unlock()
		ws.Close()
		return
	}
	conn.ws = ws
	c.backoff = 0
	c.transition(StateOpen)
	c.unlock()
	c.logger.Info("realtime: connected", "path", conn.path)

	c.read(conn, ws)
	c.lost(conn)
}

func (c *Channel) read(conn *connection, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !conn.stopped.Load() {
				c.logger.Info("realtime: connection lost", "path", conn.path, "err", err)
			}
			return
		}
		e, err := events.ParseFrame(data)
		if err != nil {
			c.logger.Warn("realtime: discarding frame", "path", conn.path, "err", err)
			continue
		}
		if !c.live(conn) {
			return
		}
		c.handler.Handle(e)
	}
}

// live reports whether conn is still the channel's connection. A teardown
// that lands after this check can still see one frame dispatched.
func (c *Channel) live(conn *connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn && !conn.stopped.Load()
}

// lost records the end of conn and schedules a reconnect.
func (c *Channel) lost(conn *connection) {
	c.mu.Lock()
	defer c.unlock()
	if conn.stopped.Load() || c.conn != conn {
		return
	}
	conn.stopped.Store(true)
	if conn.ws != nil {
		conn.ws.Close()
	}
	c.conn = nil
	c.transition(StateClosed)
	c.scheduleLocked()
}

// rejected handles a handshake refused as unauthorized: the session is over.
func (c *Channel) rejected(conn *connection) {
	c.mu.Lock()
	if conn.stopped.Load() || c.conn != conn {
		c.unlock()
		return
	}
	c.teardownLocked()
	c.transition(StateIdle)
	c.unlock()

	c.logger.Warn("realtime: handshake unauthorized, ending session", "path", conn.path)
	c.store.Logout()
}

func (c *Channel) scheduleLocked() {
	if !c.opts.Reconnect || c.session == nil {
		return
	}
	if c.backoff == 0 {
		c.backoff = c.opts.InitialBackoff
	} else {
		c.backoff = min(c.backoff*2, c.opts.MaxBackoff)
	}
	gen := c.gen
	delay := c.backoff
	c.logger.Debug("realtime: reconnecting", "in", delay)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.unlock()
		if c.gen != gen || c.session == nil || c.conn != nil {
			return
		}
		c.timer = nil
		c.dialLocked()
	})
}

// teardownLocked stops the live connection and any pending reconnect. The
// stopped mark is set before the socket is closed so the read loop cannot
// dispatch afterwards.
func (c *Channel) teardownLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if conn := c.conn; conn != nil {
		conn.stopped.Store(true)
		conn.cancel()
		if conn.ws != nil {
			conn.ws.Close()
		}
		c.conn = nil
		c.transition(StateClosed)
	}
	c.session = nil
}

func (c *Channel) transition(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, s)
}

// unlock releases c.mu and then notifies listeners of queued transitions.
func (c *Channel) unlock() {
	pending := c.pending
	c.pending = nil
	var fns []func(State)
	if len(pending) > 0 {
		ids := make([]int, 0, len(c.listeners))
		for id := range c.listeners {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fns = append(fns, c.listeners[id])
		}
	}
	c.mu.Unlock()

	for _, s := range pending {
		for _, fn := range fns {
			fn(s)
		}
	}
}
