package devserver

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrDuplicateLogin = errors.New("login id already exists")
	ErrNotFound       = errors.New("not found")
)

// Account is anyone who can log in: an admin or a company.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CompanyID    int64
}

type Company struct {
	ID            int64   `json:"id"`
	CompanyName   string  `json:"company_name"`
	LoginID       string  `json:"login_id"`
	BankName      string  `json:"bank_name"`
	AccountNumber string  `json:"account_number"`
	AccountHolder string  `json:"account_holder"`
	FeeRate       float64 `json:"fee_rate"`
	APIKey        string  `json:"api_key"`
	CreatedAt     string  `json:"created_at"`
}

type Transaction struct {
	ID              int64   `json:"id"`
	CompanyID       int64   `json:"company_id"`
	TransactionType string  `json:"transaction_type"`
	BankName        string  `json:"bank_name"`
	SenderName      *string `json:"sender_name"`
	AccountNumber   *string `json:"account_number"`
	Amount          float64 `json:"amount"`
	Balance         float64 `json:"balance"`
	FeeAmount       float64 `json:"fee_amount"`
	IsRolling       bool    `json:"is_rolling"`
	CreatedAt       string  `json:"created_at"`
}

type CompanyStats struct {
	ID                int64   `json:"id"`
	CompanyName       string  `json:"company_name"`
	LoginID           string  `json:"login_id"`
	FeeRate           float64 `json:"fee_rate"`
	APIKey            string  `json:"api_key"`
	TodayDeposits     float64 `json:"today_deposits"`
	TodayWithdrawals  float64 `json:"today_withdrawals"`
	TodayFees         float64 `json:"today_fees"`
	TodayTransactions int     `json:"today_transactions"`
}

type Summary struct {
	TotalCompanies    int     `json:"total_companies"`
	TotalDeposits     float64 `json:"total_deposits"`
	TotalFees         float64 `json:"total_fees"`
	TotalTransactions int     `json:"total_transactions"`
}

// Ledger is the backend's sqlite store of accounts, companies and
// transactions.
type Ledger struct {
	sql *sql.DB
	now func() time.Time
}

func OpenLedger(path string) (*Ledger, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, err
	}
	l := &Ledger{sql: conn, now: time.Now}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.sql.Close()
}

func (l *Ledger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS admins (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS companies (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			company_name   TEXT NOT NULL,
			login_id       TEXT NOT NULL UNIQUE,
			password_hash  TEXT NOT NULL,
			api_key        TEXT NOT NULL UNIQUE,
			bank_name      TEXT NOT NULL DEFAULT '',
			account_number TEXT NOT NULL DEFAULT '',
			account_holder TEXT NOT NULL DEFAULT '',
			fee_rate       REAL NOT NULL DEFAULT 0.03,
			is_active      INTEGER NOT NULL DEFAULT 1,
			created_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id       INTEGER NOT NULL REFERENCES companies(id),
			transaction_type TEXT NOT NULL,
			bank_name        TEXT NOT NULL DEFAULT '',
			sender_name      TEXT,
			account_number   TEXT,
			amount           REAL NOT NULL DEFAULT 0,
			balance          REAL NOT NULL DEFAULT 0,
			fee_amount       REAL NOT NULL DEFAULT 0,
			raw_message      TEXT NOT NULL DEFAULT '',
			is_rolling       INTEGER NOT NULL DEFAULT 0,
			day              TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := l.sql.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// EnsureAdmin creates the admin account, or resets its password.
func (l *Ledger) EnsureAdmin(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = l.sql.Exec(`INSERT INTO admins (username, password_hash) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`, username, string(hash))
	return err
}

// Authenticate checks admins first, then company logins. It returns nil
// when nothing matches.
func (l *Ledger) Authenticate(username, password string) (*Account, error) {
	var a Account
	err := l.sql.QueryRow(`SELECT id, username, password_hash FROM admins WHERE username = ?`, username).
		Scan(&a.ID, &a.Username, &a.PasswordHash)
	if err == nil && bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil {
		a.Role = "admin"
		return &a, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	a = Account{}
	err = l.sql.QueryRow(`SELECT id, login_id, password_hash FROM companies WHERE login_id = ? AND is_active = 1`, username).
		Scan(&a.ID, &a.Username, &a.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	a.Role = "company"
	a.CompanyID = a.ID
	return &a, nil
}

type NewCompany struct {
	CompanyName   string   `json:"company_name"`
	LoginID       string   `json:"login_id"`
	Password      string   `json:"password"`
	BankName      string   `json:"bank_name"`
	AccountNumber string   `json:"account_number"`
	AccountHolder string   `json:"account_holder"`
	FeeRate       *float64 `json:"fee_rate"`
}

func (l *Ledger) CreateCompany(in NewCompany) (*Company, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	rate := 0.03
	if in.FeeRate != nil {
		rate = *in.FeeRate
	}
	c := &Company{
		CompanyName:   in.CompanyName,
		LoginID:       in.LoginID,
		BankName:      in.BankName,
		AccountNumber: in.AccountNumber,
		AccountHolder: in.AccountHolder,
		FeeRate:       rate,
		APIKey:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:     l.now().Format(time.RFC3339),
	}
	res, err := l.sql.Exec(`INSERT INTO companies
		(company_name, login_id, password_hash, api_key, bank_name, account_number, account_holder, fee_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CompanyName, c.LoginID, string(hash), c.APIKey, c.BankName, c.AccountNumber, c.AccountHolder, c.FeeRate, c.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrDuplicateLogin
		}
		return nil, err
	}
	c.ID, _ = res.LastInsertId()
	return c, nil
}

// CompanyUpdate carries the editable fields; nil leaves a field unchanged.
type CompanyUpdate struct {
	CompanyName *string  `json:"company_name"`
	FeeRate     *float64 `json:"fee_rate"`
}

func (l *Ledger) UpdateCompany(id int64, in CompanyUpdate) (*Company, error) {
	if in.CompanyName != nil {
		if _, err := l.sql.Exec(`UPDATE companies SET company_name = ? WHERE id = ?`, *in.CompanyName, id); err != nil {
			return nil, err
		}
	}
	if in.FeeRate != nil {
		if _, err := l.sql.Exec(`UPDATE companies SET fee_rate = ? WHERE id = ?`, *in.FeeRate, id); err != nil {
			return nil, err
		}
	}
	return l.company(`id = ?`, id)
}

func (l *Ledger) CompanyByAPIKey(key string) (*Company, error) {
	return l.company(`api_key = ? AND is_active = 1`, key)
}

func (l *Ledger) company(where string, arg any) (*Company, error) {
	var c Company
	err := l.sql.QueryRow(`SELECT id, company_name, login_id, bank_name, account_number, account_holder, fee_rate, api_key, created_at
		FROM companies WHERE `+where, arg).
		Scan(&c.ID, &c.CompanyName, &c.LoginID, &c.BankName, &c.AccountNumber, &c.AccountHolder, &c.FeeRate, &c.APIKey, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordSMS stores a parsed SMS as a transaction for c. Deposits are charged
// the company's fee rate; a sender matching the account holder marks the
// transaction as rolling.
func (l *Ledger) RecordSMS(c *Company, p Parsed, raw string) (*Transaction, error) {
	now := l.now()
	tx := &Transaction{
		CompanyID:       c.ID,
		TransactionType: p.TransactionType,
		BankName:        p.BankName,
		Amount:          p.Amount,
		Balance:         p.Balance,
		CreatedAt:       now.Format(time.RFC3339),
	}
	if p.SenderName != "" {
		tx.SenderName = &p.SenderName
		tx.IsRolling = c.AccountHolder != "" && strings.Contains(p.SenderName, c.AccountHolder)
	}
	if p.AccountNumber != "" {
		tx.AccountNumber = &p.AccountNumber
	}
	if p.TransactionType == "deposit" {
		tx.FeeAmount = p.Amount * c.FeeRate
	}

	res, err := l.sql.Exec(`INSERT INTO transactions
		(company_id, transaction_type, bank_name, sender_name, account_number, amount, balance, fee_amount, raw_message, is_rolling, day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.CompanyID, tx.TransactionType, tx.BankName, tx.SenderName, tx.AccountNumber,
		tx.Amount, tx.Balance, tx.FeeAmount, raw, tx.IsRolling, now.Format(time.DateOnly), tx.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	tx.ID, _ = res.LastInsertId()
	return tx, nil
}

// Transactions returns the latest 100 transactions of a company, newest
// first.
func (l *Ledger) Transactions(companyID int64) ([]Transaction, error) {
	rows, err := l.sql.Query(`SELECT id, company_id, transaction_type, bank_name, sender_name, account_number,
		amount, balance, fee_amount, is_rolling, created_at
		FROM transactions WHERE company_id = ? ORDER BY id DESC LIMIT 100`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		var t Transaction
		var sender, account sql.NullString
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.TransactionType, &t.BankName, &sender, &account,
			&t.Amount, &t.Balance, &t.FeeAmount, &t.IsRolling, &t.CreatedAt); err != nil {
			return nil, err
		}
		if sender.Valid {
			t.SenderName = &sender.String
		}
		if account.Valid {
			t.AccountNumber = &account.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Dashboard aggregates today's totals overall and per active company,
// companies ordered by today's deposits.
func (l *Ledger) Dashboard() (Summary, []CompanyStats, error) {
	day := l.now().Format(time.DateOnly)
	var s Summary
	if err := l.sql.QueryRow(`SELECT COUNT(*) FROM companies WHERE is_active = 1`).Scan(&s.TotalCompanies); err != nil {
		return s, nil, err
	}
	err := l.sql.QueryRow(`SELECT
			COALESCE(SUM(CASE WHEN transaction_type = 'deposit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(fee_amount), 0),
			COUNT(*)
		FROM transactions WHERE day = ?`, day).Scan(&s.TotalDeposits, &s.TotalFees, &s.TotalTransactions)
	if err != nil {
		return s, nil, err
	}

	rows, err := l.sql.Query(`SELECT c.id, c.company_name, c.login_id, c.fee_rate, c.api_key,
			COALESCE(SUM(CASE WHEN t.transaction_type = 'deposit' THEN t.amount ELSE 0 END), 0) AS today_deposits,
			COALESCE(SUM(CASE WHEN t.transaction_type = 'withdrawal' THEN t.amount ELSE 0 END), 0),
			COALESCE(SUM(t.fee_amount), 0),
			COUNT(t.id)
		FROM companies c
		LEFT JOIN transactions t ON c.id = t.company_id AND t.day = ?
		WHERE c.is_active = 1
		GROUP BY c.id
		ORDER BY today_deposits DESC, c.id`, day)
	if err != nil {
		return s, nil, err
	}
	defer rows.Close()

	companies := []CompanyStats{}
	for rows.Next() {
		var c CompanyStats
		if err := rows.Scan(&c.ID, &c.CompanyName, &c.LoginID, &c.FeeRate, &c.APIKey,
			&c.TodayDeposits, &c.TodayWithdrawals, &c.TodayFees, &c.TodayTransactions); err != nil {
			return s, nil, err
		}
		companies = append(companies, c)
	}
	return s, companies, rows.Err()
}
