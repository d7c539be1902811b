package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zsprackett/settle-dash/internal/auth"
)

type Type string

const (
	NewTransaction     Type = "new_transaction"
	CompanyCreated     Type = "company_created"
	CompanyUpdated     Type = "company_updated"
	SystemNotification Type = "system_notification"
)

// Known reports whether t is one of the server event types this client
// understands.
func (t Type) Known() bool {
	switch t {
	case NewTransaction, CompanyCreated, CompanyUpdated, SystemNotification:
		return true
	}
	return false
}

// Event is a server push as it arrived on the realtime channel.
type Event struct {
	Type    Type            `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

var ErrMissingType = errors.New("frame has no type")

// ParseFrame decodes one realtime frame. Unknown types parse fine; only
// frames that are not a JSON object with a string type are rejected.
func ParseFrame(frame []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(frame, &e); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if e.Type == "" {
		return Event{}, ErrMissingType
	}
	return e, nil
}

// Transaction is the payload of new_transaction.
type Transaction struct {
	ID              auth.FlexID `json:"id"`
	CompanyID       auth.FlexID `json:"company_id"`
	TransactionType string      `json:"transaction_type"`
	BankName        string      `json:"bank_name"`
	SenderName      string      `json:"sender_name,omitempty"`
	Amount          float64     `json:"amount"`
	Balance         float64     `json:"balance,omitempty"`
	FeeAmount       float64     `json:"fee_amount,omitempty"`
	IsRolling       bool        `json:"is_rolling,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
}

// IsDeposit is false for withdrawals and anything unrecognised.
func (t Transaction) IsDeposit() bool {
	return t.TransactionType == "deposit"
}

// Company is the payload of company_created and company_updated.
type Company struct {
	ID          auth.FlexID `json:"id"`
	CompanyName string      `json:"company_name"`
	APIKey      string      `json:"api_key,omitempty"`
}

// DecodeData unmarshals the event's data object into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("%s: no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", e.Type, err)
	}
	return nil
}
