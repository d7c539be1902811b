package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zsprackett/settle-dash/internal/api"
	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/config"
	"github.com/zsprackett/settle-dash/internal/core"
	"github.com/zsprackett/settle-dash/internal/db"
	"github.com/zsprackett/settle-dash/internal/devserver"
	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/querycache"
	"github.com/zsprackett/settle-dash/internal/realtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type alertLog struct {
	mu     sync.Mutex
	alerts []dispatch.Alert
}

func (l *alertLog) Show(a dispatch.Alert) error {
	l.mu.Lock()
	l.alerts = append(l.alerts, a)
	l.mu.Unlock()
	return nil
}

func (l *alertLog) Beep() error { return nil }

func (l *alertLog) has(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.alerts {
		if strings.Contains(a.Message, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := devserver.New(devserver.Config{
		JWTSecret:     "core-test",
		AdminUsername: "admin",
		AdminPassword: "admin123",
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func newApp(t *testing.T, backendURL, dbPath string, sink dispatch.AlertSink, onUnauthorized func()) *core.App {
	t.Helper()
	cfg := config.Defaults()
	cfg.APIBaseURL = backendURL
	cfg.Realtime.InitialBackoff = "20ms"
	cfg.Realtime.MaxBackoff = "100ms"
	app, err := core.New(core.Options{
		Config:         cfg,
		DBPath:         dbPath,
		Sink:           sink,
		OnUnauthorized: onUnauthorized,
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func TestAdminFlow(t *testing.T) {
	ts := newBackend(t)
	sink := &alertLog{}
	app := newApp(t, ts.URL, filepath.Join(t.TempDir(), "state.db"), sink, nil)
	app.Start()

	if app.Store.Current() != nil || app.Channel.State() != realtime.StateIdle {
		t.Fatal("fresh client should have no session and an idle channel")
	}

	res, err := app.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Redirect != "/admin" || res.Session.Role != auth.RoleAdmin {
		t.Errorf("login result: %+v", res)
	}
	if app.Channel.Path() != "/ws/admin" {
		t.Errorf("path: %q", app.Channel.Path())
	}
	waitFor(t, "channel open", app.Channel.Connected)
	waitFor(t, "connected notice", func() bool { return sink.has("실시간 연결 활성화됨") })
	waitFor(t, "initial dashboard", func() bool {
		snap, ok := app.Cache.Get(querycache.AdminDashboard)
		return ok && snap.Data != nil
	})

	created, err := app.API.CreateCompany(context.Background(), api.NewCompany{
		CompanyName: "ACME", LoginID: "acme", Password: "pw", BankName: "국민",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "company_created alert", func() bool { return sink.has("새 업체 생성됨: ACME") })

	body, _ := json.Marshal(map[string]string{"message": "국민 입금50,000원 123-456-789 홍길동 잔액90,000원"})
	resp, err := http.Post(ts.URL+"/api/webhook/"+created.APIKey, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	waitFor(t, "transaction alert", func() bool { return sink.has("입금 50,000원 (국민)") })
	waitFor(t, "dashboard refetched", func() bool {
		snap, _ := app.Cache.Get(querycache.AdminDashboard)
		d, ok := snap.Data.(*api.Dashboard)
		return ok && d.Summary.TotalDeposits == 50000
	})

	app.Logout()
	if app.Channel.State() != realtime.StateIdle {
		t.Errorf("channel should be idle right after logout, got %s", app.Channel.State())
	}
	if _, ok := app.Cache.Get(querycache.AdminDashboard); ok {
		t.Error("cache should be reset on logout")
	}
	token, user, _ := app.DB.LoadCredentials()
	if token != "" || user != "" {
		t.Error("durable record should be cleared")
	}
}

func TestCompanySessionRestoredAcrossRestart(t *testing.T) {
	ts := newBackend(t)
	dbPath := filepath.Join(t.TempDir(), "state.db")

	admin := newApp(t, ts.URL, filepath.Join(t.TempDir(), "admin.db"), nil, nil)
	admin.Start()
	if _, err := admin.Login(context.Background(), "admin", "admin123"); err != nil {
		t.Fatal(err)
	}
	created, err := admin.API.CreateCompany(context.Background(), api.NewCompany{CompanyName: "ACME", LoginID: "acme", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}

	first := newApp(t, ts.URL, dbPath, nil, nil)
	first.Start()
	if _, err := first.Login(context.Background(), "acme", "pw"); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := newApp(t, ts.URL, dbPath, nil, nil)
	second.Start()
	sess := second.Store.Current()
	if sess == nil || sess.Role != auth.RoleCompany || sess.ScopeID != created.ID.String() {
		t.Fatalf("restored session: %+v", sess)
	}
	if want := "/ws/company/" + created.ID.String(); second.Channel.Path() != want {
		t.Errorf("path: got %q want %q", second.Channel.Path(), want)
	}
	waitFor(t, "company channel open", second.Channel.Connected)
	waitFor(t, "company transactions", func() bool {
		_, ok := second.Cache.Get(core.QueryKey(sess))
		return ok
	})
}

func TestStaleTokenEndsSession(t *testing.T) {
	ts := newBackend(t)
	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	store.Migrate()
	store.SaveCredentials("not-a-valid-token", `{"username":"admin","role":"admin"}`)
	store.Close()

	app := newApp(t, ts.URL, dbPath, nil, nil)
	app.Start()

	waitFor(t, "forced logout", func() bool { return app.Store.Current() == nil })
	waitFor(t, "channel idle", func() bool { return app.Channel.State() == realtime.StateIdle })
	token, _, _ := app.DB.LoadCredentials()
	if token != "" {
		t.Error("stale token should be wiped")
	}
}

func TestConcurrentLoginLogoutKeepsCacheInStep(t *testing.T) {
	ts := newBackend(t)
	app := newApp(t, ts.URL, filepath.Join(t.TempDir(), "state.db"), nil, nil)
	app.Start()

	for i := range 20 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := app.Login(context.Background(), "admin", "admin123"); err != nil {
				t.Errorf("login: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			app.Logout()
		}()
		wg.Wait()

		loggedIn := app.Store.Current() != nil
		_, cached := app.Cache.Get(querycache.AdminDashboard)
		if loggedIn != cached {
			t.Fatalf("iteration %d: logged in %v but dashboard query registered %v", i, loggedIn, cached)
		}
		if following := app.Channel.Path() != ""; loggedIn != following {
			t.Fatalf("iteration %d: logged in %v but channel path %q", i, loggedIn, app.Channel.Path())
		}
	}
}

func TestQueryKey(t *testing.T) {
	if core.QueryKey(&auth.Session{Role: auth.RoleAdmin}) != querycache.AdminDashboard {
		t.Error("admin key")
	}
	if core.QueryKey(&auth.Session{Role: auth.RoleCompany, ScopeID: "4"}) != querycache.CompanyTransactions("4") {
		t.Error("company key")
	}
}
