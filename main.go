package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/zsprackett/settle-dash/internal/applog"
	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/config"
	"github.com/zsprackett/settle-dash/internal/core"
	"github.com/zsprackett/settle-dash/internal/devserver"
	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/notify"
	"github.com/zsprackett/settle-dash/internal/realtime"
	"github.com/zsprackett/settle-dash/internal/ui"
)

const usage = `usage: settle-dash [command]

commands:
  (none)            open the dashboard
  login [username]  sign in and store the session
  logout            end the stored session
  whoami            show the stored session
  watch             print realtime alerts without the dashboard
  devserver         run a local stand-in for the settlement backend`

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	config.ApplyEnv(&cfg)

	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.LogDir,
		LogLevel: cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		logger = slog.Default() // falls back to default (stderr)
	} else {
		defer logCloser.Close()
	}

	if err := os.MkdirAll(filepath.Dir(config.DBPath()), 0700); err != nil {
		fatal("could not create data directory: %v", err)
	}

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "":
		err = runTUI(cfg, logger)
	case "login":
		err = runLogin(cfg, logger, os.Args[2:])
	case "logout":
		err = runLogout(cfg, logger)
	case "whoami":
		err = runWhoami(cfg, logger)
	case "watch":
		err = runWatch(cfg, logger)
	case "devserver":
		err = runDevServer(cfg, logger)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		if logCloser != nil {
			logCloser.Close()
		}
		fatal("%v", err)
	}
}

func notifier(cfg config.Config, logger *slog.Logger, bell bool) *notify.Notifier {
	n := cfg.Notifications
	nc := notify.Config{Enabled: n.Enabled, Sound: n.Sound, Webhook: n.Webhook, NtfyURL: n.NtfyURL}
	if bell {
		return notify.New(nc, os.Stdout, logger)
	}
	return notify.New(nc, nil, logger)
}

func runTUI(cfg config.Config, logger *slog.Logger) error {
	app, err := ui.NewApp(core.Options{
		Config: cfg,
		Sink:   notifier(cfg, logger, false),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	return app.Run()
}

func runLogin(cfg config.Config, logger *slog.Logger, args []string) error {
	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Login ID: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		username = strings.TrimSpace(line)
	}
	fmt.Printf("Password for %s: ", username)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	app, err := core.New(core.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Login(context.Background(), username, string(pw))
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return errors.New(authErr.Reason)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Logged in: %s (%s), landing %s\n", res.Session.Username, res.Session.Role, res.Redirect)
	return nil
}

func runLogout(cfg config.Config, logger *slog.Logger) error {
	app, err := core.New(core.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()

	sess := app.Store.Restore()
	app.Logout()
	if sess == nil {
		fmt.Println("Not logged in")
		return nil
	}
	fmt.Printf("Logged out: %s\n", sess.Username)
	return nil
}

func runWhoami(cfg config.Config, logger *slog.Logger) error {
	app, err := core.New(core.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()

	sess := app.Store.Restore()
	if sess == nil {
		fmt.Println("Not logged in")
		return nil
	}
	fmt.Printf("user:     %s\nrole:     %s\n", sess.Username, sess.Role)
	if sess.ScopeID != "" {
		fmt.Printf("company:  %s\n", sess.ScopeID)
	}
	if path, err := realtime.TargetPath(sess.Role, sess.ScopeID); err == nil {
		fmt.Printf("channel:  %s\n", path)
	}
	return nil
}

// runWatch mirrors the dashboard's alerts to stdout until interrupted or
// until the session ends.
func runWatch(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := core.New(core.Options{
		Config: cfg,
		Sink:   dispatch.MultiSink{notify.NewConsole(os.Stdout), notifier(cfg, logger, true)},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	ended := make(chan struct{})
	cancel := app.Store.Subscribe(func(sess *auth.Session) {
		if sess == nil {
			select {
			case <-ended:
			default:
				close(ended)
			}
		}
	})
	defer cancel()

	app.Start()
	sess := app.Store.Current()
	if sess == nil {
		return errors.New("not logged in; run `settle-dash login` first")
	}
	fmt.Printf("Watching %s as %s (%s). Ctrl+C to stop.\n", app.Channel.Path(), sess.Username, sess.Role)

	select {
	case <-ctx.Done():
		return nil
	case <-ended:
		return errors.New("session ended; run `settle-dash login` again")
	}
}

func runDevServer(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dc := cfg.DevServer
	srv, err := devserver.New(devserver.Config{
		Host:          dc.Host,
		Port:          dc.Port,
		JWTSecret:     dc.JWTSecret,
		TokenTTL:      config.Duration(dc.TokenTTL, 0),
		AdminUsername: dc.AdminUsername,
		AdminPassword: dc.AdminPassword,
	}, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	fmt.Printf("devserver listening on %s:%d (admin %q)\n", dc.Host, dc.Port, dc.AdminUsername)
	return srv.ListenAndServe(ctx)
}
