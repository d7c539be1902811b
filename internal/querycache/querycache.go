// Package querycache holds the data behind each screen and refetches it on a
// timer or when a pushed event marks it stale.
package querycache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zsprackett/settle-dash/internal/events"
)

type Key string

const AdminDashboard Key = "adminDashboard"

func CompanyTransactions(companyID string) Key {
	return Key("companyTransactions/" + companyID)
}

// KeysFor returns the queries an event makes stale.
func KeysFor(e events.Event) []Key {
	switch e.Type {
	case events.NewTransaction:
		keys := []Key{AdminDashboard}
		var tx events.Transaction
		if err := e.DecodeData(&tx); err == nil && tx.CompanyID != "" {
			keys = append(keys, CompanyTransactions(tx.CompanyID.String()))
		}
		return keys
	case events.CompanyCreated, events.CompanyUpdated:
		return []Key{AdminDashboard}
	}
	return nil
}

// FetchFunc loads a query's data from the backend.
type FetchFunc func(ctx context.Context) (any, error)

// Snapshot is a copy of one query's state.
type Snapshot struct {
	Data      any
	Err       error
	UpdatedAt time.Time
	Fetching  bool
}

type entry struct {
	interval    time.Duration
	fetch       FetchFunc
	data        any
	err         error
	updatedAt   time.Time
	lastStarted time.Time
	inFlight    bool
	again       bool
}

type listener struct {
	id int
	fn func(Key)
}

type Cache struct {
	tick   time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[Key]*entry
	listeners []listener
	nextID    int
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(logger *slog.Logger) *Cache {
	return NewWithTick(time.Second, logger)
}

// NewWithTick sets how often due queries are checked. Used in tests.
func NewWithTick(tick time.Duration, logger *slog.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		tick:    tick,
		logger:  logger,
		entries: make(map[Key]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds or replaces a query. interval <= 0 disables periodic
// refetch for it.
func (c *Cache) Register(key Key, interval time.Duration, fetch FetchFunc) {
	c.mu.Lock()
	c.entries[key] = &entry{interval: interval, fetch: fetch}
	c.mu.Unlock()
}

func (c *Cache) Get(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Data: e.data, Err: e.err, UpdatedAt: e.updatedAt, Fetching: e.inFlight}, true
}

// Invalidate refetches key in the background. Unregistered keys are
// ignored; a fetch already in flight is followed by exactly one more.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	ctx := c.ctx
	c.mu.Unlock()
	if !ok {
		return
	}
	go c.run(ctx, key)
}

// Refresh fetches key on the calling goroutine and returns the fetch error.
// If a fetch is already running it only queues a follow-up.
func (c *Cache) Refresh(ctx context.Context, key Key) error {
	return c.run(ctx, key)
}

// OnUpdate registers fn to run after every completed fetch.
func (c *Cache) OnUpdate(fn func(Key)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(l listener) bool { return l.id == id })
	}
}

// Attach invalidates the keys of every event published on bus.
func (c *Cache) Attach(bus *events.Bus) (cancel func()) {
	id := bus.Subscribe(func(e events.Event) {
		for _, k := range KeysFor(e) {
			c.Invalidate(k)
		}
	})
	return func() { bus.Unsubscribe(id) }
}

// Reset forgets every query and discards results of fetches in flight.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[Key]*entry)
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

func (c *Cache) Start() {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.refreshDue()
			}
		}
	}()
}

// Stop ends periodic refetch and cancels fetches in flight.
func (c *Cache) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.cancel()
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	c.wg.Wait()
}

func (c *Cache) refreshDue() {
	now := time.Now()
	c.mu.Lock()
	var due []Key
	for k, e := range c.entries {
		if e.interval > 0 && !e.inFlight && now.Sub(e.lastStarted) >= e.interval {
			due = append(due, k)
		}
	}
	c.mu.Unlock()
	for _, k := range due {
		c.Invalidate(k)
	}
}

func (c *Cache) run(ctx context.Context, key Key) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if e.inFlight {
		e.again = true
		c.mu.Unlock()
		return nil
	}
	e.inFlight = true
	gen := c.gen
	c.mu.Unlock()

	var first error
	for i := 0; ; i++ {
		c.mu.Lock()
		e.lastStarted = time.Now()
		c.mu.Unlock()

		data, err := e.fetch(ctx)

		c.mu.Lock()
		if c.gen != gen || c.entries[key] != e {
			c.mu.Unlock()
			return err
		}
		if err != nil {
			e.err = err
			c.logger.Debug("querycache: fetch failed", "key", string(key), "err", err)
		} else {
			e.data, e.err, e.updatedAt = data, nil, time.Now()
		}
		again := e.again
		e.again = false
		e.inFlight = again
		fns := make([]func(Key), 0, len(c.listeners))
		for _, l := range c.listeners {
			fns = append(fns, l.fn)
		}
		c.mu.Unlock()

		if i == 0 {
			first = err
		}
		for _, fn := range fns {
			fn(key)
		}
		if !again {
			return first
		}
	}
}
