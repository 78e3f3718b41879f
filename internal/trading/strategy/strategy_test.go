package strategy

import (
	"context"
	"testing"
	"time"

	"position_trader/internal/core"
	"position_trader/internal/mock"
	"position_trader/internal/trading/product"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicks struct {
	ticks map[string]core.PriceTick
	stale bool
}

func (f *fakeTicks) Tick(id string) (core.PriceTick, bool) {
	t, ok := f.ticks[id]
	return t, ok
}

func (f *fakeTicks) IsStale(core.PriceTick) bool { return f.stale }

func tickAt(price int64) core.PriceTick {
	return core.PriceTick{
		ProductID: "BTC-USD",
		Price:     decimal.NewFromInt(price),
		High24h:   decimal.NewFromInt(50000),
		Low24h:    decimal.NewFromInt(40000),
		Time:      time.Now().UTC(),
	}
}

func newDayRange(t *testing.T, ex *mock.MockExchange, ticks *fakeTicks) *DayRange {
	t.Helper()
	ex.AddProduct(core.Product{
		ID:             "BTC-USD",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		PriceIncrement: decimal.RequireFromString("0.01"),
		SizeIncrement:  decimal.RequireFromString("0.00000001"),
	})
	repo := product.NewRepository(logging.NewNopLogger())
	require.NoError(t, repo.Load(context.Background(), ex, []string{"BTC-USD"}))

	funds := map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(10)}
	return NewDayRange(ex, repo, ticks, funds, DefaultBandDivisor, logging.NewNopLogger())
}

func TestDayRange_Band(t *testing.T) {
	tests := []struct {
		price int64
		open  bool
	}{
		{45000, true},
		{42501, true},
		{41000, false},
		{49000, false},
		{42500, false},
		{47500, false},
		{51000, false},
	}

	for _, tt := range tests {
		ex := mock.NewMockExchange("mock")
		ex.SetAccount("USD", decimal.NewFromInt(100))
		ticks := &fakeTicks{ticks: map[string]core.PriceTick{"BTC-USD": tickAt(tt.price)}}
		d := newDayRange(t, ex, ticks)

		open, err := d.OpenPosition(context.Background(), "BTC-USD")
		require.NoError(t, err)
		assert.Equal(t, tt.open, open, "price %d", tt.price)
	}
}

func TestDayRange_StaleTickRefuses(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetAccount("USD", decimal.NewFromInt(100))
	ticks := &fakeTicks{ticks: map[string]core.PriceTick{"BTC-USD": tickAt(45000)}, stale: true}
	d := newDayRange(t, ex, ticks)

	open, err := d.OpenPosition(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestDayRange_MissingTickRefuses(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetAccount("USD", decimal.NewFromInt(100))
	d := newDayRange(t, ex, &fakeTicks{ticks: map[string]core.PriceTick{}})

	open, err := d.OpenPosition(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestDayRange_BalanceGate(t *testing.T) {
	ticks := &fakeTicks{ticks: map[string]core.PriceTick{"BTC-USD": tickAt(45000)}}

	// equal is not enough
	ex := mock.NewMockExchange("mock")
	ex.SetAccount("USD", decimal.NewFromInt(10))
	open, err := newDayRange(t, ex, ticks).OpenPosition(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.False(t, open)

	ex = mock.NewMockExchange("mock")
	ex.SetAccount("EUR", decimal.NewFromInt(1000))
	open, err = newDayRange(t, ex, ticks).OpenPosition(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.False(t, open)

	ex = mock.NewMockExchange("mock")
	ex.SetAccountsError(apperrors.ErrTransientAPI)
	open, err = newDayRange(t, ex, ticks).OpenPosition(context.Background(), "BTC-USD")
	assert.ErrorIs(t, err, apperrors.ErrTransientAPI)
	assert.False(t, open)
}

func TestDayRange_UnknownInstrument(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetAccount("USD", decimal.NewFromInt(100))
	d := newDayRange(t, ex, &fakeTicks{})

	open, err := d.OpenPosition(context.Background(), "ETH-USD")
	assert.Error(t, err)
	assert.False(t, open)
}

func TestDayRange_Divisor(t *testing.T) {
	d := NewDayRange(nil, nil, nil, nil, 10, logging.NewNopLogger())
	assert.True(t, d.InBand(tickAt(41500)))
	assert.False(t, d.InBand(tickAt(41000)))

	d = NewDayRange(nil, nil, nil, nil, 1, logging.NewNopLogger())
	assert.False(t, d.InBand(tickAt(41000)))

	flat := tickAt(40000)
	flat.High24h = flat.Low24h
	assert.False(t, d.InBand(flat))
}

func TestSimpleStrategies(t *testing.T) {
	open, err := AlwaysOpen{}.OpenPosition(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = NeverOpen{}.OpenPosition(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(AlwaysOpen{}, NeverOpen{})
	assert.Equal(t, []string{NameAlwaysOpen, NameNeverOpen}, r.Names())

	resolved, err := r.Resolve([]core.PositionConfig{
		{ProductID: "BTC-USD", Strategy: NameAlwaysOpen},
		{ProductID: "ETH-USD", Strategy: NameNeverOpen},
	})
	require.NoError(t, err)
	assert.Equal(t, NameAlwaysOpen, resolved["BTC-USD"].Name())
	assert.Equal(t, NameNeverOpen, resolved["ETH-USD"].Name())

	_, err = r.Resolve([]core.PositionConfig{{ProductID: "BTC-USD", Strategy: NameDayRange}})
	assert.Error(t, err)
}
