package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/gateway"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	mu      sync.Mutex
	current *auth.Session
	logouts int
}

func (f *fakeSession) Current() *auth.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	c := *f.current
	return &c
}

func (f *fakeSession) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	f.logouts++
}

// echoServer records Authorization headers and answers with the status
// registered for the path.
type echoServer struct {
	*httptest.Server
	mu      sync.Mutex
	headers []string
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	es := &echoServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		es.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":1}`))
	})
	mux.HandleFunc("GET /expired", func(w http.ResponseWriter, r *http.Request) {
		es.record(r)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"토큰이 만료되었습니다"}`))
	})
	mux.HandleFunc("GET /forbidden", func(w http.ResponseWriter, r *http.Request) {
		es.record(r)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"관리자만 접근 가능합니다"}`))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		es.record(r)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	es.Server = httptest.NewServer(mux)
	t.Cleanup(es.Close)
	return es
}

func (es *echoServer) record(r *http.Request) {
	es.mu.Lock()
	es.headers = append(es.headers, r.Header.Get("Authorization"))
	es.mu.Unlock()
}

func (es *echoServer) lastAuth() string {
	es.mu.Lock()
	defer es.mu.Unlock()
	if len(es.headers) == 0 {
		return "<none>"
	}
	return es.headers[len(es.headers)-1]
}

func TestInjectsBearerToken(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "abc", Role: auth.RoleAdmin}}
	c := gateway.NewClient(srv.URL, sess, gateway.Options{Logger: discardLogger()})

	var out struct{ Value int }
	if err := c.GetJSON(context.Background(), "/ok", &out); err != nil {
		t.Fatal(err)
	}
	if out.Value != 1 {
		t.Errorf("decoded value: got %d", out.Value)
	}
	if got := srv.lastAuth(); got != "Bearer abc" {
		t.Errorf("authorization: got %q", got)
	}
}

func TestNoSessionSendsUnauthenticated(t *testing.T) {
	srv := newEchoServer(t)
	c := gateway.NewClient(srv.URL, &fakeSession{}, gateway.Options{Logger: discardLogger()})

	if err := c.GetJSON(context.Background(), "/ok", nil); err != nil {
		t.Fatal(err)
	}
	if got := srv.lastAuth(); got != "" {
		t.Errorf("expected no authorization header, got %q", got)
	}
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "old", Role: auth.RoleAdmin}}
	navigated := 0
	c := gateway.NewClient(srv.URL, sess, gateway.Options{
		Logger:         discardLogger(),
		OnUnauthorized: func() { navigated++ },
	})

	err := c.GetJSON(context.Background(), "/expired", nil)
	if !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *gateway.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "토큰이 만료되었습니다" {
		t.Errorf("detail not passed through: %v", err)
	}
	if sess.Current() != nil {
		t.Error("session should be gone")
	}
	if sess.logouts != 1 || navigated != 1 {
		t.Errorf("logouts=%d navigated=%d, want 1/1", sess.logouts, navigated)
	}
}

func TestOtherErrorsPassThrough(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "abc", Role: auth.RoleCompany, ScopeID: "1"}}
	c := gateway.NewClient(srv.URL, sess, gateway.Options{Logger: discardLogger()})

	for path, status := range map[string]int{"/forbidden": 403, "/broken": 500} {
		err := c.GetJSON(context.Background(), path, nil)
		var apiErr *gateway.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("%s: expected APIError, got %v", path, err)
		}
		if apiErr.Status != status {
			t.Errorf("%s: status got %d want %d", path, apiErr.Status, status)
		}
		if errors.Is(err, gateway.ErrUnauthorized) {
			t.Errorf("%s: must not match ErrUnauthorized", path)
		}
	}
	if sess.Current() == nil || sess.logouts != 0 {
		t.Error("non-401 errors must not end the session")
	}
}

func TestInstallOnce(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "abc", Role: auth.RoleAdmin}}
	hc := &http.Client{}

	uninstall := gateway.Install(hc, sess, gateway.Options{Logger: discardLogger()})
	again := gateway.Install(hc, sess, gateway.Options{Logger: discardLogger()})
	again()

	if _, ok := hc.Transport.(*gateway.Transport); !ok {
		t.Fatal("second install's uninstall must not remove the first")
	}
	if inner, ok := hc.Transport.(*gateway.Transport).Base.(*gateway.Transport); ok {
		t.Fatalf("gateway installed twice: %v", inner)
	}

	resp, err := hc.Get(srv.URL + "/expired")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if sess.logouts != 1 {
		t.Errorf("expected exactly one forced logout, got %d", sess.logouts)
	}

	uninstall()
	if hc.Transport != nil {
		t.Errorf("uninstall should restore the original transport, got %T", hc.Transport)
	}
	uninstall()

	sess.current = &auth.Session{Token: "abc", Role: auth.RoleAdmin}
	resp, err = hc.Get(srv.URL + "/ok")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := srv.lastAuth(); got != "" {
		t.Errorf("uninstalled client must not inject tokens, got %q", got)
	}
}

func TestInstallPerClientSharesStore(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "abc", Role: auth.RoleAdmin}}
	first := &http.Client{}
	second := &http.Client{}

	undoFirst := gateway.Install(first, sess, gateway.Options{Logger: discardLogger()})
	undoSecond := gateway.Install(second, sess, gateway.Options{Logger: discardLogger()})

	for i, hc := range []*http.Client{first, second} {
		resp, err := hc.Get(srv.URL + "/ok")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if got := srv.lastAuth(); got != "Bearer abc" {
			t.Errorf("client %d sent %q, want bearer token", i, got)
		}
	}

	undoFirst()
	if first.Transport != nil {
		t.Errorf("first client still wrapped: %T", first.Transport)
	}
	if _, ok := second.Transport.(*gateway.Transport); !ok {
		t.Error("uninstalling one client must leave the other wrapped")
	}
	undoSecond()
	if second.Transport != nil {
		t.Errorf("second client still wrapped: %T", second.Transport)
	}
}

func TestClientCloseUninstalls(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "abc", Role: auth.RoleAdmin}}
	c := gateway.NewClient(srv.URL, sess, gateway.Options{Logger: discardLogger()})

	if _, ok := c.HTTP.Transport.(*gateway.Transport); !ok {
		t.Fatalf("NewClient transport is %T, want gateway", c.HTTP.Transport)
	}
	c.Close()
	c.Close()
	if c.HTTP.Transport != nil {
		t.Fatalf("Close left transport %T", c.HTTP.Transport)
	}

	var out map[string]any
	if err := c.GetJSON(context.Background(), "/ok", &out); err != nil {
		t.Fatal(err)
	}
	if got := srv.lastAuth(); got != "" {
		t.Errorf("closed client must not inject tokens, got %q", got)
	}
}

func TestTransportDoesNotMutateCallerRequest(t *testing.T) {
	srv := newEchoServer(t)
	sess := &fakeSession{current: &auth.Session{Token: "abc", Role: auth.RoleAdmin}}
	tr := gateway.NewTransport(nil, sess, gateway.Options{Logger: discardLogger()})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if req.Header.Get("Authorization") != "" {
		t.Error("RoundTrip must not modify the caller's request")
	}
}
