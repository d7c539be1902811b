package ui

import (
	"testing"

	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/realtime"
)

func TestStateIconOpen(t *testing.T) {
	icon, color, label := StateIcon(realtime.StateOpen)
	if icon != IconOpen || color != ColorSuccess || label == "" {
		t.Errorf("open: %q %v %q", icon, color, label)
	}
}

func TestStateIconDistinctPerState(t *testing.T) {
	seen := map[string]realtime.State{}
	for _, s := range []realtime.State{realtime.StateIdle, realtime.StateConnecting, realtime.StateOpen, realtime.StateClosed} {
		icon, _, _ := StateIcon(s)
		if prev, dup := seen[icon]; dup {
			t.Errorf("%s and %s share icon %q", prev, s, icon)
		}
		seen[icon] = s
	}
}

func TestLevelColor(t *testing.T) {
	if LevelColor(dispatch.LevelError) == LevelColor(dispatch.LevelSuccess) {
		t.Error("error and success should differ")
	}
	if LevelColor(dispatch.Level("unknown")) != ColorPrimary {
		t.Error("unknown level should fall back to primary")
	}
}

func TestColorTag(t *testing.T) {
	if got := colorTag(ColorError); got != "[#f38ba8]" {
		t.Errorf("got %q", got)
	}
}
