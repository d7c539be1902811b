package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/zsprackett/settle-dash/internal/dispatch"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Sound   bool   `json:"sound"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Notifier forwards alerts to the desktop and to optional webhook and ntfy
// endpoints. It implements dispatch.AlertSink.
type Notifier struct {
	cfg    Config
	client *http.Client
	bell   io.Writer
	logger *slog.Logger

	// desktop is swapped out in tests.
	desktop func(title, msg string) error
}

// New returns a Notifier with the given config. bell receives the terminal
// bell on Beep; nil disables it.
func New(cfg Config, bell io.Writer, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: 5 * time.Second},
		bell:    bell,
		logger:  logger,
		desktop: systemNotification,
	}
}

var _ dispatch.AlertSink = (*Notifier)(nil)

// Show delivers a to every configured channel. Only the first failure is
// returned; the rest are logged.
func (n *Notifier) Show(a dispatch.Alert) error {
	if !n.cfg.Enabled {
		return nil
	}

	var first error
	record := func(channel string, err error) {
		if err == nil {
			return
		}
		n.logger.Warn("notify: "+channel+" failed", "err", err)
		if first == nil {
			first = fmt.Errorf("%s: %w", channel, err)
		}
	}

	record("desktop", n.desktop("settle-dash", a.Message))
	if n.cfg.Webhook != "" {
		record("webhook", n.sendWebhook(a))
	}
	if n.cfg.NtfyURL != "" {
		record("ntfy", n.sendNtfy(a))
	}
	return first
}

// Beep rings the terminal bell when sound is enabled.
func (n *Notifier) Beep() error {
	if !n.cfg.Sound || n.bell == nil {
		return nil
	}
	_, err := n.bell.Write([]byte("\a"))
	return err
}

func systemNotification(title, msg string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, msg, title)
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return nil
		}
		return exec.Command("notify-send", title, msg).Run()
	}
	return nil
}

type webhookPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(a dispatch.Alert) error {
	payload := webhookPayload{
		Level:     string(a.Level),
		Message:   a.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return n.post(n.cfg.Webhook, payload)
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(a dispatch.Alert) error {
	payload := ntfyPayload{
		Title:    "settle-dash",
		Message:  a.Message,
		Priority: 3,
		Tags:     []string{"moneybag"},
	}
	if a.Sound {
		payload.Priority = 4
	}
	return n.post(n.cfg.NtfyURL, payload)
}

func (n *Notifier) post(url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
