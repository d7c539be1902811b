package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zsprackett/settle-dash/internal/dispatch"
)

// Console prints each alert as one timestamped line. It is the visible
// sink of the headless watch mode.
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

var _ dispatch.AlertSink = (*Console)(nil)

func NewConsole(w io.Writer) *Console {
	return &Console{w: w, now: time.Now}
}

// SetNow overrides the clock. Used in tests.
func (c *Console) SetNow(fn func() time.Time) {
	c.mu.Lock()
	c.now = fn
	c.mu.Unlock()
}

func (c *Console) Show(a dispatch.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s %-7s %s\n", c.now().Format("15:04:05"), a.Level, a.Message)
	return err
}

// Beep is a no-op; the Notifier owns the bell.
func (c *Console) Beep() error { return nil }
