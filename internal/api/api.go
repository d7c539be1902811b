// Package api is the typed REST surface of the settlement backend.
package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zsprackett/settle-dash/internal/auth"
	"github.com/zsprackett/settle-dash/internal/gateway"
)

type Summary struct {
	TotalCompanies    int     `json:"total_companies"`
	TotalDeposits     float64 `json:"total_deposits"`
	TotalFees         float64 `json:"total_fees"`
	TotalTransactions int     `json:"total_transactions"`
}

type CompanyStats struct {
	ID                auth.FlexID `json:"id"`
	CompanyName       string      `json:"company_name"`
	LoginID           string      `json:"login_id"`
	FeeRate           float64     `json:"fee_rate"`
	APIKey            string      `json:"api_key"`
	TodayDeposits     float64     `json:"today_deposits"`
	TodayWithdrawals  float64     `json:"today_withdrawals"`
	TodayFees         float64     `json:"today_fees"`
	TodayTransactions int         `json:"today_transactions"`
}

type Dashboard struct {
	Summary   Summary        `json:"summary"`
	Companies []CompanyStats `json:"companies"`
}

type Transaction struct {
	ID              auth.FlexID `json:"id"`
	TransactionType string      `json:"transaction_type"`
	BankName        string      `json:"bank_name"`
	SenderName      string      `json:"sender_name"`
	AccountNumber   string      `json:"account_number"`
	Amount          float64     `json:"amount"`
	Balance         float64     `json:"balance"`
	FeeAmount       float64     `json:"fee_amount"`
	IsRolling       bool        `json:"is_rolling"`
	CreatedAt       string      `json:"created_at"`
}

func (t Transaction) IsDeposit() bool { return t.TransactionType == "deposit" }

type NewCompany struct {
	CompanyName   string  `json:"company_name"`
	LoginID       string  `json:"login_id"`
	Password      string  `json:"password"`
	BankName      string  `json:"bank_name"`
	AccountNumber string  `json:"account_number"`
	AccountHolder string  `json:"account_holder"`
	FeeRate       float64 `json:"fee_rate"`
}

// DefaultFeeRate applies when a new company is created without one.
const DefaultFeeRate = 0.03

type CreatedCompany struct {
	ID          auth.FlexID `json:"id"`
	CompanyName string      `json:"company_name"`
	LoginID     string      `json:"login_id"`
	APIKey      string      `json:"api_key"`
	WebhookURL  string      `json:"webhook_url"`
	CreatedAt   string      `json:"created_at"`
}

// Client calls the backend through the authenticated gateway.
type Client struct {
	rest *gateway.Client
}

func New(rest *gateway.Client) *Client {
	return &Client{rest: rest}
}

func (c *Client) AdminDashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	if err := c.rest.GetJSON(ctx, "/api/admin/dashboard", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) CompanyTransactions(ctx context.Context, companyID string) ([]Transaction, error) {
	var body struct {
		Transactions []Transaction `json:"transactions"`
	}
	path := "/api/companies/" + url.PathEscape(companyID) + "/transactions"
	if err := c.rest.GetJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Transactions, nil
}

func (c *Client) CreateCompany(ctx context.Context, in NewCompany) (*CreatedCompany, error) {
	if in.FeeRate == 0 {
		in.FeeRate = DefaultFeeRate
	}
	var out CreatedCompany
	if err := c.rest.PostJSON(ctx, "/api/admin/companies", in, &out); err != nil {
		return nil, fmt.Errorf("create company %q: %w", in.CompanyName, err)
	}
	return &out, nil
}
