// Package ledger holds the finance ledger entities shared by the client state
// and the backend store.
package ledger

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Type string

const (
	Income  Type = "income"
	Expense Type = "expense"
)

// AmountScale is the number of decimal places an amount is stored with.
const AmountScale = 2

const (
	// UncategorizedID marks transactions whose category wasn't resolved.
	UncategorizedID   = "uncategorized"
	UncategorizedName = "Uncategorized"

	SourceManual = "manual"
	SourceBot    = "bot"
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrUnknownCurrency    = errors.New("unknown currency")
)

// Transaction is a single ledger entry. It's never mutated after creation.
type Transaction struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	CategoryID  string          `json:"categoryId"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type Type   `json:"type"`
}

func (t Type) Valid() bool {
	return t == Income || t == Expense
}

// Validate rejects entries that must not be persisted.
func (t *Transaction) Validate() error {
	if !t.Type.Valid() {
		return errors.Wrapf(ErrInvalidTransaction, "unknown type %q", t.Type)
	}

	if !t.Amount.IsPositive() {
		return errors.Wrapf(ErrInvalidTransaction, "amount must be positive, got %s", t.Amount)
	}

	if !t.Amount.Equal(t.Amount.Round(AmountScale)) {
		return errors.Wrapf(ErrInvalidTransaction, "amount has more than %d decimal places, got %s", AmountScale, t.Amount)
	}

	if t.Date.IsZero() {
		return errors.Wrap(ErrInvalidTransaction, "date is required")
	}

	return nil
}

// Signed returns the amount with the sign of its effect on the balance.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// CategoryName resolves the category id among cats. Dangling and empty
// references resolve to UncategorizedName.
func CategoryName(cats []Category, id string) string {
	for _, c := range cats {
		if c.ID == id {
			return c.Name
		}
	}
	return UncategorizedName
}

// Balance sums the signed amounts of txs.
func Balance(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for i := range txs {
		sum = sum.Add(txs[i].Signed())
	}
	return sum
}

// Converter normalizes amounts to the base currency. Rates are the price of
// one unit of a currency in base units. Fetching rates is somebody else's job.
type Converter struct {
	Base  string
	Rates map[string]decimal.Decimal
}

// Normalize converts amount in currency cur to the base currency. An empty
// currency or the base currency itself is returned as is.
func (c *Converter) Normalize(amount decimal.Decimal, cur string) (decimal.Decimal, error) {
	cur = strings.ToUpper(strings.TrimSpace(cur))
	if c == nil || cur == "" || cur == strings.ToUpper(c.Base) {
		return amount, nil
	}

	rate, ok := c.Rates[cur]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, errors.Wrap(ErrUnknownCurrency, cur)
	}

	return amount.Mul(rate).Round(2), nil
}
