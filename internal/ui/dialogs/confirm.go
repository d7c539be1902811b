package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	labelYes = "예"
	labelNo  = "아니오"
)

// ConfirmDialog shows a modal with a message and Yes/No buttons.
// onConfirm is called when the user selects Yes; onCancel on No or Escape.
func ConfirmDialog(message string, onConfirm func(), onCancel func()) *tview.Modal {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{labelYes, labelNo}).
		SetDoneFunc(func(_ int, label string) {
			if label == labelYes {
				onConfirm()
			} else {
				onCancel()
			}
		})
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onCancel()
			return nil
		}
		return event
	})
	return modal
}
