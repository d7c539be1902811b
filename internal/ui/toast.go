package ui

import (
	"errors"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/zsprackett/settle-dash/internal/dispatch"
)

var errNoScreen = errors.New("ui: screen not initialised")

// Toasts is the in-terminal alert sink: a one-line bar under the main
// screen that shows the latest alert until its duration runs out.
type Toasts struct {
	post func(func())
	view *tview.TextView

	mu     sync.Mutex
	seq    uint64
	screen tcell.Screen
}

// NewToasts renders through post, which must run its argument on the UI
// goroutine.
func NewToasts(post func(func())) *Toasts {
	view := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	view.SetBackgroundColor(ColorBackgroundPanel)
	return &Toasts{post: post, view: view}
}

// Show replaces the visible alert. A newer alert keeps an older one's
// timer from clearing it.
func (t *Toasts) Show(a dispatch.Alert) error {
	d := a.Duration
	if d <= 0 {
		d = dispatch.DefaultDuration
	}
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	text := " " + colorTag(LevelColor(a.Level)) + tview.Escape(a.Message) + "[-]"
	t.post(func() { t.view.SetText(text) })
	time.AfterFunc(d, func() {
		t.mu.Lock()
		stale := t.seq != seq
		t.mu.Unlock()
		if stale {
			return
		}
		t.post(func() { t.view.Clear() })
	})
	return nil
}

// Beep rings the terminal bell through the screen tview draws on.
func (t *Toasts) Beep() error {
	t.mu.Lock()
	s := t.screen
	t.mu.Unlock()
	if s == nil {
		return errNoScreen
	}
	return s.Beep()
}

func (t *Toasts) setScreen(s tcell.Screen) {
	t.mu.Lock()
	t.screen = s
	t.mu.Unlock()
}
