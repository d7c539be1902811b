package devserver

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// banks are matched in order; the first one contained in the message wins.
var banks = []string{
	"농협", "신한", "국민", "우리", "하나", "기업",
	"SC제일", "씨티", "대구", "부산", "광주", "전북",
	"경남", "새마을", "신협", "우체국", "카카오뱅크", "토스뱅크",
}

var (
	amountRe  = regexp.MustCompile(`[입출금]\s*([\d,]+)원`)
	balanceRe = regexp.MustCompile(`잔액\s*([\d,]+)원`)
	senderRe  = regexp.MustCompile(`[\d*-]+\s+([가-힣A-Za-z\s]+?)\s+잔액`)
	accountRe = regexp.MustCompile(`(\d{2,3}-[\d*-]+)`)
)

var ErrUnparseable = errors.New("sms: no transaction type")

// Parsed is what a bank SMS says about one transaction.
type Parsed struct {
	TransactionType string
	BankName        string
	Amount          float64
	Balance         float64
	SenderName      string
	AccountNumber   string
}

// ParseSMS extracts a transaction from a forwarded bank message such as
// "[Web발신]\n농협 출금700,000원\n06/27 13:00 302-****-5080-61 신주일 잔액307,006원".
func ParseSMS(msg string) (Parsed, error) {
	var p Parsed
	for _, b := range banks {
		if strings.Contains(msg, b) {
			p.BankName = b
			break
		}
	}
	switch {
	case strings.Contains(msg, "입금"):
		p.TransactionType = "deposit"
	case strings.Contains(msg, "출금"):
		p.TransactionType = "withdrawal"
	default:
		return p, ErrUnparseable
	}
	if m := amountRe.FindStringSubmatch(msg); m != nil {
		p.Amount = parseWon(m[1])
	}
	if m := balanceRe.FindStringSubmatch(msg); m != nil {
		p.Balance = parseWon(m[1])
	}
	if m := senderRe.FindStringSubmatch(msg); m != nil {
		p.SenderName = strings.TrimSpace(m[1])
	}
	if m := accountRe.FindStringSubmatch(msg); m != nil {
		p.AccountNumber = m[1]
	}
	return p, nil
}

func parseWon(s string) float64 {
	v, _ := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return v
}
