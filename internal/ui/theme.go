package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/realtime"
)

// Theme colors for the TUI.
var (
	ColorBackground      = tcell.NewHexColor(0x1e1e2e)
	ColorBackgroundPanel = tcell.NewHexColor(0x181825)
	ColorBackgroundElem  = tcell.NewHexColor(0x313244)
	ColorPrimary         = tcell.NewHexColor(0x89b4fa) // blue
	ColorAccent          = tcell.NewHexColor(0xcba6f7) // mauve
	ColorText            = tcell.NewHexColor(0xcdd6f4)
	ColorTextMuted       = tcell.NewHexColor(0x6c7086)
	ColorSuccess         = tcell.NewHexColor(0xa6e3a1) // green
	ColorWarning         = tcell.NewHexColor(0xf9e2af) // yellow
	ColorError           = tcell.NewHexColor(0xf38ba8) // red
	ColorBorder          = tcell.NewHexColor(0x45475a)
	ColorSelected        = tcell.NewHexColor(0x89b4fa)
	ColorSelectedText    = tcell.NewHexColor(0x1e1e2e)
)

// Connectivity icons
const (
	IconOpen       = "●"
	IconConnecting = "◐"
	IconIdle       = "○"
	IconClosed     = "✗"
)

// StateIcon returns the header icon, color and label for a channel state.
func StateIcon(s realtime.State) (string, tcell.Color, string) {
	switch s {
	case realtime.StateOpen:
		return IconOpen, ColorSuccess, "실시간 연결됨"
	case realtime.StateConnecting:
		return IconConnecting, ColorWarning, "연결 중"
	case realtime.StateClosed:
		return IconClosed, ColorError, "연결 끊김"
	default:
		return IconIdle, ColorTextMuted, "오프라인"
	}
}

func LevelColor(l dispatch.Level) tcell.Color {
	switch l {
	case dispatch.LevelSuccess:
		return ColorSuccess
	case dispatch.LevelError:
		return ColorError
	default:
		return ColorPrimary
	}
}

// colorTag renders c as a tview dynamic color tag.
func colorTag(c tcell.Color) string {
	return fmt.Sprintf("[#%06x]", c.Hex())
}
