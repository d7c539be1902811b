// Package dispatch turns realtime events into alerts and republishes them on
// the process-wide bus.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/settle-dash/internal/events"
)

const (
	transactionDuration = 6 * time.Second
	connectedMessage    = "실시간 연결 활성화됨"
)

type Dispatcher struct {
	bus    events.Publisher
	sink   AlertSink
	logger *slog.Logger
}

func New(bus events.Publisher, sink AlertSink, logger *slog.Logger) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{bus: bus, sink: sink, logger: logger}
}

// Handle alerts for recognised types and then publishes e exactly once,
// whatever happened while alerting.
func (d *Dispatcher) Handle(e events.Event) {
	d.alert(e)
	d.bus.Publish(e)
}

// Connected shows the notice for a freshly opened realtime channel.
func (d *Dispatcher) Connected() {
	d.show(Alert{Level: LevelSuccess, Message: connectedMessage, Duration: DefaultDuration})
}

func (d *Dispatcher) alert(e events.Event) {
	a, ok, err := Format(e)
	if err != nil {
		d.logger.Warn("dispatch: undecodable payload", "type", string(e.Type), "err", err)
		return
	}
	if !ok {
		d.logger.Debug("dispatch: no alert for event", "type", string(e.Type))
		return
	}
	d.show(a)
}

func (d *Dispatcher) show(a Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("dispatch: alert sink panicked", "panic", r)
		}
	}()
	if err := d.sink.Show(a); err != nil {
		d.logger.Debug("dispatch: show alert", "err", err)
	}
	if a.Sound {
		if err := d.sink.Beep(); err != nil {
			d.logger.Debug("dispatch: beep", "err", err)
		}
	}
}

// Format builds the alert for e. ok is false for types that carry no alert.
func Format(e events.Event) (a Alert, ok bool, err error) {
	switch e.Type {
	case events.NewTransaction:
		var tx events.Transaction
		if err := e.DecodeData(&tx); err != nil {
			return Alert{}, false, err
		}
		kind := "출금"
		if tx.IsDeposit() {
			kind = "입금"
		}
		return Alert{
			Level:    LevelSuccess,
			Message:  fmt.Sprintf("💰 %s %s원 (%s)", kind, FormatAmount(tx.Amount), tx.BankName),
			Duration: transactionDuration,
			Sound:    true,
		}, true, nil
	case events.CompanyCreated:
		var c events.Company
		if err := e.DecodeData(&c); err != nil {
			return Alert{}, false, err
		}
		return Alert{
			Level:    LevelSuccess,
			Message:  "🏢 새 업체 생성됨: " + c.CompanyName,
			Duration: DefaultDuration,
			Sound:    true,
		}, true, nil
	case events.CompanyUpdated:
		var c events.Company
		if err := e.DecodeData(&c); err != nil {
			return Alert{}, false, err
		}
		return Alert{
			Level:    LevelInfo,
			Message:  "📝 업체 정보 업데이트됨: " + c.CompanyName,
			Duration: DefaultDuration,
		}, true, nil
	case events.SystemNotification:
		if e.Message == "" {
			return Alert{}, false, nil
		}
		return Alert{Level: LevelInfo, Message: e.Message, Duration: DefaultDuration}, true, nil
	}
	return Alert{}, false, nil
}

// FormatAmount groups digits by thousands, e.g. 50000 -> "50,000".
func FormatAmount(v float64) string {
	return humanize.Commaf(v)
}
