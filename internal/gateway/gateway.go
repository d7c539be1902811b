// Package gateway authenticates every outbound REST call with the current
// session token and ends the session when the backend answers 401.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/zsprackett/settle-dash/internal/auth"
)

// SessionSource is the part of auth.Store the gateway needs.
type SessionSource interface {
	Current() *auth.Session
	Logout()
}

var _ SessionSource = (*auth.Store)(nil)

type Options struct {
	// OnUnauthorized runs after the forced logout, e.g. to show the login
	// screen. It may be called from any goroutine.
	OnUnauthorized func()
	Logger         *slog.Logger
}

// Transport is an http.RoundTripper that injects the bearer token before
// sending and forces a logout when the response is 401.
type Transport struct {
	Base    http.RoundTripper
	session SessionSource
	opts    Options
}

func NewTransport(base http.RoundTripper, session SessionSource, opts Options) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transport{Base: base, session: session, opts: opts}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if s := t.session.Current(); s != nil {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.opts.Logger.Warn("gateway: unauthorized, ending session",
			"method", req.Method, "path", req.URL.Path)
		t.session.Logout()
		if t.opts.OnUnauthorized != nil {
			t.opts.OnUnauthorized()
		}
	}
	return resp, nil
}

// installMu serializes Install and uninstall so concurrent installs on one
// client cannot both wrap it.
var installMu sync.Mutex

// Install wraps client.Transport with a gateway Transport. A client carries at
// most one gateway: when its transport already is one, Install leaves it in
// place and returns a no-op uninstall. The returned func restores the
// previous transport if the gateway is still the outermost layer.
func Install(client *http.Client, session SessionSource, opts Options) (uninstall func()) {
	installMu.Lock()
	defer installMu.Unlock()

	if _, ok := client.Transport.(*Transport); ok {
		return func() {}
	}
	prev := client.Transport
	t := NewTransport(prev, session, opts)
	client.Transport = t

	var once sync.Once
	return func() {
		once.Do(func() {
			installMu.Lock()
			defer installMu.Unlock()
			if client.Transport == t {
				client.Transport = prev
			}
		})
	}
}
