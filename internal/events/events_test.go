package events_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/zsprackett/settle-dash/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFrame(t *testing.T) {
	e, err := events.ParseFrame([]byte(`{"type":"new_transaction","data":{"transaction_type":"deposit","amount":50000,"bank_name":"국민","company_id":3}}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Type != events.NewTransaction {
		t.Errorf("type: got %q", e.Type)
	}
	var tx events.Transaction
	if err := e.DecodeData(&tx); err != nil {
		t.Fatal(err)
	}
	if !tx.IsDeposit() || tx.Amount != 50000 || tx.BankName != "국민" || tx.CompanyID != "3" {
		t.Errorf("payload: %+v", tx)
	}
}

func TestParseFrame_SystemNotification(t *testing.T) {
	e, err := events.ParseFrame([]byte(`{"type":"system_notification","message":"점검 예정"}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Message != "점검 예정" || len(e.Data) != 0 {
		t.Errorf("got %+v", e)
	}
}

func TestParseFrame_UnknownTypeAccepted(t *testing.T) {
	e, err := events.ParseFrame([]byte(`{"type":"balance_snapshot","data":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Type.Known() {
		t.Error("balance_snapshot should not be a known type")
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	for _, frame := range []string{``, `not json`, `[1,2]`, `{"type":5}`, `{"data":{}}`} {
		if _, err := events.ParseFrame([]byte(frame)); err == nil {
			t.Errorf("ParseFrame(%q): expected error", frame)
		}
	}
	if _, err := events.ParseFrame([]byte(`{}`)); !errors.Is(err, events.ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}

func TestDecodeData_Missing(t *testing.T) {
	e := events.Event{Type: events.CompanyCreated}
	var c events.Company
	if err := e.DecodeData(&c); err == nil {
		t.Error("expected error for missing data")
	}
}

func TestBus_FanOutInOrder(t *testing.T) {
	bus := events.NewBus(discardLogger())
	var got []string
	bus.Subscribe(func(e events.Event) { got = append(got, "a:"+string(e.Type)) })
	bus.Subscribe(func(e events.Event) { got = append(got, "b:"+string(e.Type)) })

	bus.Publish(events.Event{Type: events.CompanyCreated})
	want := []string{"a:company_created", "b:company_created"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus(discardLogger())
	calls := 0
	id := bus.Subscribe(func(events.Event) { calls++ })
	bus.Publish(events.Event{Type: events.CompanyUpdated})
	bus.Unsubscribe(id)
	bus.Unsubscribe(id)
	bus.Publish(events.Event{Type: events.CompanyUpdated})
	if calls != 1 {
		t.Errorf("calls: got %d want 1", calls)
	}
	if bus.Len() != 0 {
		t.Errorf("len: got %d", bus.Len())
	}
}

func TestBus_PanickingSubscriberIsolated(t *testing.T) {
	bus := events.NewBus(discardLogger())
	bus.Subscribe(func(events.Event) { panic("view blew up") })
	delivered := false
	bus.Subscribe(func(events.Event) { delivered = true })

	bus.Publish(events.Event{Type: events.NewTransaction})
	if !delivered {
		t.Error("second subscriber should still receive the event")
	}
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := events.NewBus(discardLogger())
	late := 0
	bus.Subscribe(func(events.Event) {
		bus.Subscribe(func(events.Event) { late++ })
	})
	bus.Publish(events.Event{Type: events.NewTransaction})
	if late != 0 {
		t.Error("subscriber added during publish must not receive that event")
	}
}

func TestBus_Nil(t *testing.T) {
	var bus *events.Bus
	bus.Publish(events.Event{Type: events.NewTransaction})
	if bus.Len() != 0 {
		t.Error("nil bus has no subscribers")
	}
}
