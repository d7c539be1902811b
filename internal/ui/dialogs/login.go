package dialogs

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	labelUsername = "로그인 ID"
	labelPassword = "비밀번호"
)

// LoginDialog is the credential form shown whenever there is no session.
// notice, when set, is shown above the fields (e.g. after a forced logout).
// The returned setError displays a failure reason under the fields.
func LoginDialog(notice string, onSubmit func(username, password string), onQuit func()) (form *tview.Form, setError func(string)) {
	form = tview.NewForm()
	form.SetBorder(true).SetTitle(" 정산 대시보드 로그인 ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(tcell.ColorDefault)
	form.SetFieldBackgroundColor(tcell.ColorDefault)

	text := ""
	if notice != "" {
		text = "[yellow]" + tview.Escape(notice) + "[-]"
	}
	form.AddTextView("", text, 40, 1, true, false)
	status := form.GetFormItem(0).(*tview.TextView)

	form.AddInputField(labelUsername, "", 30, nil, nil)
	form.AddPasswordField(labelPassword, "", 30, '*', nil)

	submit := func() {
		username := strings.TrimSpace(form.GetFormItemByLabel(labelUsername).(*tview.InputField).GetText())
		password := form.GetFormItemByLabel(labelPassword).(*tview.InputField).GetText()
		if username == "" || password == "" {
			status.SetText("[red]로그인 ID와 비밀번호를 입력하세요[-]")
			return
		}
		status.SetText("[blue]로그인 중...[-]")
		onSubmit(username, password)
	}
	form.AddButton("로그인", submit)
	form.AddButton("종료", onQuit)
	form.GetFormItemByLabel(labelPassword).(*tview.InputField).SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			submit()
		}
	})
	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onQuit()
			return nil
		}
		return event
	})
	form.SetFocus(1)

	setError = func(msg string) {
		status.SetText("[red]" + tview.Escape(msg) + "[-]")
	}
	return form, setError
}
