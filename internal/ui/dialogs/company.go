package dialogs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/zsprackett/settle-dash/internal/api"
)

// ParseFeeRate reads a percentage such as "3", "2.5%" or "0.5 %" and returns
// it as a fraction. An empty string yields api.DefaultFeeRate.
func ParseFeeRate(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return api.DefaultFeeRate, nil
	}
	pct, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("fee rate %q: %w", s, err)
	}
	if pct < 0 || pct >= 100 {
		return 0, fmt.Errorf("fee rate %v%% out of range", pct)
	}
	return pct / 100, nil
}

// CompanyDialog collects a new company's details.
// onSubmit is called with the result; onCancel on Escape.
func CompanyDialog(onSubmit func(api.NewCompany), onCancel func()) (form *tview.Form, setError func(string)) {
	form = tview.NewForm()
	form.SetBorder(true).SetTitle(" 새 업체 ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(tcell.ColorDefault)
	form.SetFieldBackgroundColor(tcell.ColorDefault)

	form.AddTextView("", "", 40, 1, true, false)
	status := form.GetFormItem(0).(*tview.TextView)

	form.AddInputField("업체명", "", 30, nil, nil)
	form.AddInputField("로그인 ID", "", 30, nil, nil)
	form.AddPasswordField("비밀번호", "", 30, '*', nil)
	form.AddInputField("은행", "", 20, nil, nil)
	form.AddInputField("계좌번호", "", 30, nil, nil)
	form.AddInputField("예금주", "", 20, nil, nil)
	form.AddInputField("수수료율 (%)", strconv.FormatFloat(api.DefaultFeeRate*100, 'f', -1, 64), 8, nil, nil)

	text := func(label string) string {
		return strings.TrimSpace(form.GetFormItemByLabel(label).(*tview.InputField).GetText())
	}
	setError = func(msg string) {
		status.SetText("[red]" + tview.Escape(msg) + "[-]")
	}

	form.AddButton("생성", func() {
		in := api.NewCompany{
			CompanyName:   text("업체명"),
			LoginID:       text("로그인 ID"),
			Password:      form.GetFormItemByLabel("비밀번호").(*tview.InputField).GetText(),
			BankName:      text("은행"),
			AccountNumber: text("계좌번호"),
			AccountHolder: text("예금주"),
		}
		if in.CompanyName == "" || in.LoginID == "" || in.Password == "" {
			setError("업체명, 로그인 ID, 비밀번호는 필수입니다")
			return
		}
		rate, err := ParseFeeRate(text("수수료율 (%)"))
		if err != nil {
			setError(err.Error())
			return
		}
		in.FeeRate = rate
		onSubmit(in)
	})
	form.AddButton("취소", onCancel)

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onCancel()
			return nil
		}
		return event
	})
	form.SetFocus(1)
	return form, setError
}
