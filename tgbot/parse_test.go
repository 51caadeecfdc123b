package tgbot

import (
	"testing"

	"organizer/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransaction(t *testing.T) {
	tests := []struct {
		text   string
		typ    ledger.Type
		amount string
		desc   string
	}{
		{text: "150 coffee", typ: ledger.Expense, amount: "150", desc: "coffee"},
		{text: "+500 gift", typ: ledger.Income, amount: "500", desc: "gift"},
		{text: "зарплата 1000", typ: ledger.Income, amount: "1000", desc: "зарплата"},
		{text: "taxi 12,50 airport", typ: ledger.Expense, amount: "12.5", desc: "taxi airport"},
		{text: "Salary 3000.75", typ: ledger.Income, amount: "3000.75", desc: "Salary"},
		{text: "  42  ", typ: ledger.Expense, amount: "42", desc: noDescription},
		{text: "+ 10", typ: ledger.Income, amount: "10", desc: noDescription},
		{text: "lunch 20 and 30 tips", typ: ledger.Expense, amount: "20", desc: "lunch and 30 tips"},
		{text: "beans 12.345", typ: ledger.Expense, amount: "12.35", desc: "beans"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ParseTransaction(tt.text)
			require.NotNil(t, got)

			assert.Equal(t, tt.typ, got.Type)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(got.Amount), got.Amount.String())
			assert.Equal(t, tt.desc, got.Description)
		})
	}
}

func TestParseTransactionNoAmount(t *testing.T) {
	for _, text := range []string{"hello", "", "   ", "0 coffee", "0.001 tip", "0,004 tip", "/help"} {
		assert.Nil(t, ParseTransaction(text), text)
	}
}

func TestCommandOf(t *testing.T) {
	assert.Equal(t, "help", commandOf("/help"))
	assert.Equal(t, "start", commandOf("/Start@organizer_bot 42"))
	assert.Equal(t, "", commandOf("150 coffee"))
	assert.Equal(t, "", commandOf(""))
}
