package bot

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobustExecute(t *testing.T) {
	calls := 0
	ok := RobustExecute(context.Background(), 3, time.Millisecond, func() bool {
		calls++
		return calls == 2
	})
	assert.True(t, ok)
	assert.Equal(t, 2, calls)

	calls = 0
	ok = RobustExecute(context.Background(), 3, time.Millisecond, func() bool {
		calls++
		return false
	})
	assert.False(t, ok)
	assert.Equal(t, 3, calls)
}

func TestRobustExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	ok := RobustExecute(ctx, 5, time.Hour, func() bool {
		calls++
		return false
	})
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 30*time.Second, cfg.ClientInterval)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 10*time.Second, cfg.TgTimeout)
	assert.Equal(t, 3, cfg.TgRetryAttempts)
	assert.Empty(t, cfg.Rates)
}

func TestLoad(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(CfgTgToken, "token")
	v.Set(CfgBaseCurrency, "eur")
	v.Set(CfgRates, map[string]any{"usd": "0.92"})
	v.Set(CfgClientChat, "42")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.TgToken)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, int64(42), cfg.ClientChat)
	assert.True(t, decimal.RequireFromString("0.92").Equal(cfg.Rates["USD"]))

	v.Set(CfgRates, map[string]any{"usd": "a lot"})
	_, err = Load(v)
	assert.Error(t, err)

	v.Set(CfgRates, nil)
	v.Set(CfgBatchSize, 0)
	_, err = Load(v)
	assert.Error(t, err)
}

func TestLoadClaimTimeout(t *testing.T) {
	tests := []struct {
		value any
		want  time.Duration
		ok    bool
	}{
		{"90s", 90 * time.Second, true},
		{"1s", time.Second, true},
		{"300", 0, false},
		{0, 0, false},
		{"-5m", 0, false},
	}

	for _, tt := range tests {
		v := viper.New()
		SetDefaults(v)
		v.Set(CfgClaimTimeout, tt.value)

		cfg, err := Load(v)
		if !tt.ok {
			assert.Error(t, err, "claim timeout %v", tt.value)
			continue
		}

		require.NoError(t, err, "claim timeout %v", tt.value)
		assert.Equal(t, tt.want, cfg.ClaimTimeout)
	}
}

func TestRequire(t *testing.T) {
	cfg := &Config{TgToken: "token"}

	require.NoError(t, cfg.Require(CfgTgToken))

	err := cfg.Require(CfgTgToken, CfgDbConnStr, CfgCronSecret)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errMissingFields))
	assert.Contains(t, err.Error(), CfgDbConnStr+", "+CfgCronSecret)
}
