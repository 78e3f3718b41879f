package exchange

import (
	"context"
	"testing"

	"position_trader/internal/config"
	"position_trader/internal/exchange/coinbase"
	"position_trader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVenue_Mock(t *testing.T) {
	cfg := config.DefaultConfig()

	v, err := NewVenue(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", v.Exchange.GetName())
	assert.NotNil(t, v.Ticks)
	assert.Nil(t, v.Codec)

	p, err := v.Exchange.GetProduct(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "USD", p.QuoteCurrency)

	tick, ok := v.Ticks.Tick("BTC-USD")
	require.True(t, ok)
	assert.False(t, v.Ticks.IsStale(tick))
}

func TestNewVenue_Coinbase(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Exchange = "coinbase"

	v, err := NewVenue(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	assert.IsType(t, &coinbase.Exchange{}, v.Exchange)
	assert.Nil(t, v.Ticks)
	require.NotNil(t, v.Codec)
	assert.Equal(t, "wss://ws-feed-public.sandbox.exchange.coinbase.com", v.WebsocketURL)
}

func TestNewVenue_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Exchange = "kraken"
	_, err := NewVenue(cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, "configuration not found")

	cfg.Exchanges["kraken"] = config.ExchangeConfig{}
	_, err = NewVenue(cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, "unsupported exchange")
}

func TestNewMockVenue_Seeded(t *testing.T) {
	ex := NewMockVenue([]string{"BTC-USD", "ETH-EUR"})
	ctx := context.Background()

	p, err := ex.GetProduct(ctx, "ETH-EUR")
	require.NoError(t, err)
	assert.Equal(t, "ETH", p.BaseCurrency)
	assert.Equal(t, "EUR", p.QuoteCurrency)

	accounts, err := ex.GetAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}
