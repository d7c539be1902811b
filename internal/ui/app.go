package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/zsprackett/settle-dash/internal/api"
	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/core"
	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/gateway"
	"github.com/zsprackett/settle-dash/internal/querycache"
	"github.com/zsprackett/settle-dash/internal/realtime"
	"github.com/zsprackett/settle-dash/internal/ui/dialogs"
)

const (
	requestTimeout = 15 * time.Second
	expiredNotice  = "세션이 만료되었습니다. 다시 로그인해 주세요"
)

type App struct {
	tapp   *tview.Application
	pages  *tview.Pages
	home   *Home
	toasts *Toasts
	core   *core.App
	logger *slog.Logger

	queue      *updateQueue
	loginError func(string)
	cancels    []func()
}

// NewApp builds the client core with the TUI's alert sink and 401 handling
// added to opts.
func NewApp(opts core.Options) (*App, error) {
	a := &App{logger: opts.Logger, queue: newUpdateQueue()}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	a.tapp = tview.NewApplication()
	a.pages = tview.NewPages()
	a.home = NewHome(a.tapp)
	a.toasts = NewToasts(a.post)

	sinks := dispatch.MultiSink{a.toasts}
	if opts.Sink != nil {
		sinks = append(sinks, opts.Sink)
	}
	opts.Sink = sinks
	next := opts.OnUnauthorized
	opts.OnUnauthorized = func() {
		a.post(func() { a.showLogin(expiredNotice) })
		if next != nil {
			next()
		}
	}

	c, err := core.New(opts)
	if err != nil {
		return nil, err
	}
	a.core = c

	a.pages.AddPage("home", a.home, true, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.toasts.view, 1, 0, false)
	a.tapp.SetRoot(root, true).EnableMouse(false)
	a.tapp.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		a.toasts.setScreen(screen)
		return false
	})
	a.tapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if front, _ := a.pages.GetFrontPage(); front == "home" && event.Rune() == '?' {
			a.showHelp()
			return nil
		}
		return event
	})

	a.home.SetCallbacks(
		a.onNewCompany,
		a.onCompany,
		a.onRefresh,
		a.onLogout,
		func() { a.tapp.Stop() },
	)
	return a, nil
}

// Run restores any stored session and blocks until the user quits.
func (a *App) Run() error {
	defer a.core.Close()
	defer a.queue.close()

	a.cancels = append(a.cancels,
		a.core.Store.Subscribe(func(*auth.Session) { a.post(a.sessionChanged) }),
		a.core.Channel.OnStateChange(func(s realtime.State) {
			a.post(func() { a.home.SetState(s) })
		}),
		a.core.Cache.OnUpdate(a.queryUpdated),
	)
	defer func() {
		for _, cancel := range a.cancels {
			cancel()
		}
	}()

	go a.queue.drain(a.tapp.QueueUpdateDraw)
	a.showLogin("")
	a.core.Start()
	return a.tapp.Run()
}

// post queues f to run on the UI goroutine in posting order.
func (a *App) post(f func()) {
	a.queue.post(f)
}

// sessionChanged runs on the UI goroutine and shows the screen for the
// store's current session, whatever the notification carried.
func (a *App) sessionChanged() {
	sess := a.core.Store.Current()
	if sess == nil {
		a.showLogin("")
		return
	}
	a.showHome(sess)
}

func (a *App) queryUpdated(key querycache.Key) {
	a.post(func() {
		sess := a.core.Store.Current()
		if sess == nil || core.QueryKey(sess) != key {
			return
		}
		if snap, ok := a.core.Cache.Get(key); ok {
			a.home.Update(snap)
		}
	})
}

func (a *App) showLogin(notice string) {
	if a.core.Store.Current() != nil {
		return
	}
	form, setError := dialogs.LoginDialog(notice, a.onLogin, func() { a.tapp.Stop() })
	a.loginError = setError
	a.home.SetSession(nil)
	a.pages.RemovePage("login")
	a.pages.AddPage("login", centered(form, 50, 11), true, true)
	a.pages.SwitchToPage("login")
	a.tapp.SetFocus(form)
}

func (a *App) showHome(sess *auth.Session) {
	a.home.SetSession(sess)
	a.home.SetState(a.core.Channel.State())
	if snap, ok := a.core.Cache.Get(core.QueryKey(sess)); ok {
		a.home.Update(snap)
	}
	a.pages.RemovePage("login")
	a.pages.SwitchToPage("home")
	a.tapp.SetFocus(a.home.table)
}

func (a *App) onLogin(username, password string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := a.core.Login(ctx, username, password); err != nil {
			a.logger.Info("ui: login failed", "username", username, "err", err)
			reason := err.Error()
			var authErr *auth.AuthError
			if errors.As(err, &authErr) {
				reason = authErr.Reason
			}
			a.post(func() {
				if a.loginError != nil {
					a.loginError(reason)
				}
			})
		}
	}()
}

func (a *App) onRefresh() {
	if sess := a.core.Store.Current(); sess != nil {
		a.core.Cache.Invalidate(core.QueryKey(sess))
	}
}

func (a *App) onLogout() {
	modal := dialogs.ConfirmDialog("로그아웃 하시겠습니까?",
		func() {
			a.closeDialog("confirm-logout")
			a.core.Logout()
		},
		func() { a.closeDialog("confirm-logout") },
	)
	a.pages.AddPage("confirm-logout", modal, true, true)
}

func (a *App) onNewCompany() {
	var setError func(string)
	var form *tview.Form
	form, setError = dialogs.CompanyDialog(
		func(in api.NewCompany) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				created, err := a.core.API.CreateCompany(ctx, in)
				a.post(func() {
					if err != nil {
						setError(apiReason(err))
						return
					}
					a.closeDialog("new-company")
					a.showInfo("company-created", fmt.Sprintf("업체가 생성되었습니다\n\n%s\nAPI 키: %s\n웹훅: %s",
						created.CompanyName, created.APIKey, a.webhookURL(created.APIKey)))
				})
			}()
		},
		func() { a.closeDialog("new-company") },
	)
	a.showDialog("new-company", form, 60, 23)
}

func (a *App) onCompany(c api.CompanyStats) {
	a.showInfo("company", fmt.Sprintf("%s (%s)\n수수료율 %s\n\nAPI 키: %s\n웹훅: %s",
		c.CompanyName, c.LoginID, formatRate(c.FeeRate), c.APIKey, a.webhookURL(c.APIKey)))
}

func (a *App) webhookURL(apiKey string) string {
	return strings.TrimRight(a.core.Config.APIBaseURL, "/") + "/api/webhook/" + apiKey
}

func apiReason(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

func centered(widget tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(nil, 0, 1, false).
			AddItem(widget, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
}

func (a *App) showDialog(name string, widget tview.Primitive, width, height int) {
	a.pages.AddPage(name, centered(widget, width, height), true, true)
	a.tapp.SetFocus(widget)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	if front, _ := a.pages.GetFrontPage(); front == "home" {
		a.tapp.SetFocus(a.home.table)
	}
}

func (a *App) showHelp() {
	help := dialogs.HelpDialog(func() {
		a.closeDialog("help")
	})
	a.showDialog("help", help, 60, 24)
}

func (a *App) showInfo(name, msg string) {
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{"확인"}).
		SetDoneFunc(func(_ int, _ string) {
			a.closeDialog(name)
		})
	a.pages.AddPage(name, modal, true, true)
}
