package ledger

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionValidate(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
	}{
		{
			name: "valid expense",
			tx:   Transaction{Type: Expense, Amount: decimal.NewFromInt(10), Date: date},
		},
		{
			name:    "zero amount",
			tx:      Transaction{Type: Expense, Amount: decimal.Zero, Date: date},
			wantErr: true,
		},
		{
			name:    "negative amount",
			tx:      Transaction{Type: Income, Amount: decimal.NewFromInt(-5), Date: date},
			wantErr: true,
		},
		{
			name: "cents",
			tx:   Transaction{Type: Expense, Amount: decimal.RequireFromString("12.50"), Date: date},
		},
		{
			name:    "fraction of a cent",
			tx:      Transaction{Type: Expense, Amount: decimal.RequireFromString("0.001"), Date: date},
			wantErr: true,
		},
		{
			name:    "unknown type",
			tx:      Transaction{Type: "transfer", Amount: decimal.NewFromInt(5), Date: date},
			wantErr: true,
		},
		{
			name:    "missing date",
			tx:      Transaction{Type: Income, Amount: decimal.NewFromInt(5)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransaction))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCategoryName(t *testing.T) {
	cats := []Category{{ID: "food", Name: "Food", Type: Expense}}

	assert.Equal(t, "Food", CategoryName(cats, "food"))
	assert.Equal(t, UncategorizedName, CategoryName(cats, "deleted-long-ago"))
	assert.Equal(t, UncategorizedName, CategoryName(nil, ""))
}

func TestBalance(t *testing.T) {
	txs := []Transaction{
		{Type: Income, Amount: decimal.NewFromInt(1000)},
		{Type: Expense, Amount: decimal.RequireFromString("150.50")},
		{Type: Expense, Amount: decimal.NewFromInt(49)},
	}

	assert.True(t, decimal.RequireFromString("800.50").Equal(Balance(txs)))
	assert.True(t, decimal.Zero.Equal(Balance(nil)))
}

func TestConverterNormalize(t *testing.T) {
	c := &Converter{
		Base:  "USD",
		Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("1.10")},
	}

	got, err := c.Normalize(decimal.NewFromInt(100), "eur")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(110).Equal(got), got.String())

	got, err = c.Normalize(decimal.NewFromInt(100), "USD")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(got))

	got, err = c.Normalize(decimal.NewFromInt(7), "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(got))

	_, err = c.Normalize(decimal.NewFromInt(100), "GBP")
	assert.True(t, errors.Is(err, ErrUnknownCurrency))
}
