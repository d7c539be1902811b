package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/zsprackett/settle-dash/internal/api"
	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/dispatch"
	"github.com/zsprackett/settle-dash/internal/querycache"
	"github.com/zsprackett/settle-dash/internal/realtime"
)

var (
	companyColumns     = []string{"업체명", "로그인 ID", "수수료율", "오늘 입금", "오늘 출금", "오늘 수수료", "건수"}
	transactionColumns = []string{"시각", "구분", "은행", "보낸 분", "금액", "잔액", "수수료", ""}
)

// Home is the main screen: a header with identity and connectivity, the
// role's table and a key hint footer.
type Home struct {
	*tview.Flex
	app     *tview.Application
	header  *tview.TextView
	summary *tview.TextView
	table   *tview.Table
	footer  *tview.TextView

	sess      *auth.Session
	state     realtime.State
	snap      querycache.Snapshot
	companies []api.CompanyStats

	onNewCompany func()
	onCompany    func(api.CompanyStats)
	onRefresh    func()
	onLogout     func()
	onQuit       func()
}

func NewHome(app *tview.Application) *Home {
	h := &Home{app: app}

	h.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.header.SetBackgroundColor(ColorBackgroundPanel)

	h.summary = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.summary.SetBackgroundColor(ColorBackgroundElem)

	h.table = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetSelectedStyle(tcell.StyleDefault.
			Background(ColorSelected).
			Foreground(ColorSelectedText))
	h.table.SetBackgroundColor(ColorBackground)

	h.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.footer.SetBackgroundColor(ColorBackgroundPanel)

	h.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(h.header, 1, 0, false).
		AddItem(h.summary, 1, 0, false).
		AddItem(h.table, 0, 1, true).
		AddItem(h.footer, 1, 0, false)

	h.setupInput()
	return h
}

func (h *Home) SetCallbacks(
	onNewCompany func(),
	onCompany func(api.CompanyStats),
	onRefresh func(),
	onLogout func(),
	onQuit func(),
) {
	h.onNewCompany = onNewCompany
	h.onCompany = onCompany
	h.onRefresh = onRefresh
	h.onLogout = onLogout
	h.onQuit = onQuit
}

// SetSession switches the screen to sess's role and clears stale data.
func (h *Home) SetSession(sess *auth.Session) {
	h.sess = sess
	h.snap = querycache.Snapshot{}
	h.companies = nil
	h.table.Clear()
	h.summary.Clear()
	h.updateFooter()
	h.updateHeader()
}

func (h *Home) SetState(s realtime.State) {
	h.state = s
	h.updateHeader()
}

// Update renders a cache snapshot for the current session's query.
func (h *Home) Update(snap querycache.Snapshot) {
	h.snap = snap
	switch data := snap.Data.(type) {
	case *api.Dashboard:
		h.companies = data.Companies
		h.summary.SetText(summaryLine(data.Summary))
		h.render(companyColumns, companyRows(data.Companies))
	case []api.Transaction:
		h.summary.SetText(transactionSummary(data))
		h.render(transactionColumns, transactionRows(data))
	}
	h.updateHeader()
}

func (h *Home) render(columns []string, rows [][]string) {
	row, _ := h.table.GetSelection()
	h.table.Clear()
	for c, name := range columns {
		h.table.SetCell(0, c, tview.NewTableCell(name).
			SetTextColor(ColorPrimary).
			SetBackgroundColor(ColorBackgroundElem).
			SetSelectable(false).
			SetExpansion(1))
	}
	for r, cells := range rows {
		for c, text := range cells {
			cell := tview.NewTableCell(text).
				SetTextColor(ColorText).
				SetExpansion(1)
			if c >= 3 {
				cell.SetAlign(tview.AlignRight)
			}
			h.table.SetCell(r+1, c, cell)
		}
	}
	if len(rows) == 0 {
		return
	}
	// Keep the selection where it was across refetches.
	if row < 1 {
		row = 1
	}
	if row > len(rows) {
		row = len(rows)
	}
	h.table.Select(row, 0)
}

func (h *Home) updateHeader() {
	icon, color, label := StateIcon(h.state)
	who := "로그인 필요"
	if h.sess != nil {
		who = fmt.Sprintf("%s (%s)", h.sess.Username, h.sess.Role)
	}
	fresh := ""
	switch {
	case h.snap.Fetching:
		fresh = "  [yellow]갱신 중…[-]"
	case h.snap.Err != nil:
		fresh = "  [red]불러오기 실패: " + tview.Escape(h.snap.Err.Error()) + "[-]"
	case !h.snap.UpdatedAt.IsZero():
		fresh = "  " + colorTag(ColorTextMuted) + humanize.Time(h.snap.UpdatedAt) + " 갱신[-]"
	}
	h.header.SetText(fmt.Sprintf("[blue]SETTLE DASH[-]   %s  %s%s %s[-]%s",
		tview.Escape(who), colorTag(color), icon, label, fresh))
}

func (h *Home) updateFooter() {
	keys := "[green]↑↓[-] navigate  [green]r[-] refresh  "
	if h.sess != nil && h.sess.Role == auth.RoleAdmin {
		keys += "[green]Enter[-] details  [green]n[-] new company  "
	}
	h.footer.SetText(keys + "[green]L[-] logout  [green]?[-] help  [green]q[-] quit")
}

func (h *Home) selectedCompany() (api.CompanyStats, bool) {
	row, _ := h.table.GetSelection()
	if row < 1 || row > len(h.companies) {
		return api.CompanyStats{}, false
	}
	return h.companies[row-1], true
}

func (h *Home) isAdmin() bool {
	return h.sess != nil && h.sess.Role == auth.RoleAdmin
}

func (h *Home) setupInput() {
	h.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter {
			if c, ok := h.selectedCompany(); ok && h.isAdmin() && h.onCompany != nil {
				h.onCompany(c)
			}
			return nil
		}

		switch event.Rune() {
		case 'j':
			return tcell.NewEventKey(tcell.KeyDown, 0, tcell.ModNone)
		case 'k':
			return tcell.NewEventKey(tcell.KeyUp, 0, tcell.ModNone)
		case 'n':
			if h.isAdmin() && h.onNewCompany != nil {
				h.onNewCompany()
			}
			return nil
		case 'r':
			if h.onRefresh != nil {
				h.onRefresh()
			}
			return nil
		case 'L':
			if h.onLogout != nil {
				h.onLogout()
			}
			return nil
		case 'q':
			if h.onQuit != nil {
				h.onQuit()
			}
			return nil
		}
		return event
	})
}

func summaryLine(s api.Summary) string {
	return fmt.Sprintf(" 업체 [green]%d[-]   입금 [green]%s원[-]   수수료 [yellow]%s원[-]   거래 %d건",
		s.TotalCompanies,
		dispatch.FormatAmount(s.TotalDeposits),
		dispatch.FormatAmount(s.TotalFees),
		s.TotalTransactions)
}

func companyRows(companies []api.CompanyStats) [][]string {
	rows := make([][]string, 0, len(companies))
	for _, c := range companies {
		rows = append(rows, []string{
			c.CompanyName,
			c.LoginID,
			formatRate(c.FeeRate),
			dispatch.FormatAmount(c.TodayDeposits),
			dispatch.FormatAmount(c.TodayWithdrawals),
			dispatch.FormatAmount(c.TodayFees),
			strconv.Itoa(c.TodayTransactions),
		})
	}
	return rows
}

func transactionSummary(txs []api.Transaction) string {
	var deposits, withdrawals, fees float64
	for _, tx := range txs {
		if tx.IsDeposit() {
			deposits += tx.Amount
		} else {
			withdrawals += tx.Amount
		}
		fees += tx.FeeAmount
	}
	return fmt.Sprintf(" 최근 %d건   입금 [green]%s원[-]   출금 [red]%s원[-]   수수료 [yellow]%s원[-]",
		len(txs),
		dispatch.FormatAmount(deposits),
		dispatch.FormatAmount(withdrawals),
		dispatch.FormatAmount(fees))
}

func transactionRows(txs []api.Transaction) [][]string {
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		kind := "출금"
		if tx.IsDeposit() {
			kind = "입금"
		}
		flag := ""
		if tx.IsRolling {
			flag = "롤링"
		}
		rows = append(rows, []string{
			formatTimestamp(tx.CreatedAt),
			kind,
			tx.BankName,
			tx.SenderName,
			dispatch.FormatAmount(tx.Amount),
			dispatch.FormatAmount(tx.Balance),
			dispatch.FormatAmount(tx.FeeAmount),
			flag,
		})
	}
	return rows
}

func formatRate(r float64) string {
	return strconv.FormatFloat(math.Round(r*10000)/100, 'f', -1, 64) + "%"
}

// formatTimestamp trims an ISO timestamp to "YYYY-MM-DD HH:MM:SS".
func formatTimestamp(s string) string {
	s = strings.Replace(s, "T", " ", 1)
	if len(s) > 19 {
		s = s[:19]
	}
	return s
}
