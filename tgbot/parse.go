package tgbot

import (
	"regexp"
	"strings"

	"organizer/ledger"

	"github.com/shopspring/decimal"
)

const noDescription = "No description"

var (
	amountRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

	incomeKeywords = []string{
		"зарплата", "зп", "доход", "аванс", "премия",
		"salary", "income", "bonus",
	}
)

// ParsedTransaction is a ledger entry recognized in a chat message.
type ParsedTransaction struct {
	Type        ledger.Type
	Amount      decimal.Decimal
	Description string
}

// ParseTransaction recognizes "150 coffee", "+500 gift" and alike. Amounts are
// rounded to cents. It returns nil when the text has no positive amount in it.
func ParseTransaction(text string) *ParsedTransaction {
	text = strings.TrimSpace(text)

	loc := amountRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	amount, err := decimal.NewFromString(strings.Replace(text[loc[0]:loc[1]], ",", ".", 1))
	if err != nil {
		return nil
	}

	amount = amount.Round(ledger.AmountScale)
	if !amount.IsPositive() {
		return nil
	}

	typ := ledger.Expense
	if strings.HasPrefix(text, "+") || hasIncomeKeyword(text) {
		typ = ledger.Income
	}

	desc := strings.TrimSpace(text[:loc[0]] + " " + text[loc[1]:])
	desc = strings.Join(strings.Fields(strings.TrimLeft(desc, "+-")), " ")
	if desc == "" {
		desc = noDescription
	}

	return &ParsedTransaction{
		Type:        typ,
		Amount:      amount,
		Description: desc,
	}
}

func hasIncomeKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range incomeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
