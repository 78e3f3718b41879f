package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"position_trader/internal/core"
	"position_trader/internal/mock"
	"position_trader/internal/trading/order"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcUSD() core.Product {
	return core.Product{
		ID:             "BTC-USD",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		PriceIncrement: decimal.RequireFromString("0.01"),
		SizeIncrement:  decimal.RequireFromString("0.00000001"),
	}
}

func btcConfig() core.PositionConfig {
	return core.PositionConfig{
		ProductID: "BTC-USD",
		Max:       1,
		Funds:     decimal.NewFromInt(10),
		FeeRate:   decimal.RequireFromString("0.005"),
		Sell:      decimal.RequireFromString("0.99"),
		Strategy:  "alwaysOpen",
	}
}

func fastExecutor(ex core.IExchange) *order.Executor {
	return order.NewExecutor(ex, order.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, logging.NewNopLogger())
}

type recorder struct {
	mu  sync.Mutex
	trs []Transition
}

func (r *recorder) listen(_, _ string, tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trs = append(r.trs, tr)
}

func states(log []Transition) []State {
	out := []State{StateStarted}
	for _, tr := range log {
		out = append(out, tr.To)
	}
	return out
}

func TestComputeSellOrder_CoversFee(t *testing.T) {
	price, size := ComputeSellOrder(btcUSD(), btcConfig(), decimal.RequireFromString("0.0002"))

	assert.Equal(t, "0.000198", size.String())
	assert.Equal(t, "50757.58", price.String())
	assert.LessOrEqual(t, -price.Exponent(), int32(2))
	assert.LessOrEqual(t, -size.Exponent(), int32(8))

	cost := decimal.NewFromInt(10).Mul(decimal.RequireFromString("1.005"))
	assert.True(t, price.Mul(size).GreaterThanOrEqual(cost), "proceeds %s < cost %s", price.Mul(size), cost)
}

func TestComputeSellOrder_RoundsSizeDown(t *testing.T) {
	p := btcUSD()
	p.SizeIncrement = decimal.RequireFromString("0.0001")
	price, size := ComputeSellOrder(p, btcConfig(), decimal.RequireFromString("0.00789"))

	assert.Equal(t, "0.0078", size.String())
	assert.True(t, price.Mul(size).GreaterThanOrEqual(decimal.RequireFromString("10.05")))
}

func TestComputeSellOrder_DustSize(t *testing.T) {
	price, size := ComputeSellOrder(btcUSD(), btcConfig(), decimal.RequireFromString("0.000000001"))
	assert.True(t, size.IsZero())
	assert.True(t, price.IsZero())
}

func TestPosition_HappyPath(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("Bp1", mock.PollStep{Status: core.OrderStatusDone, DoneReason: core.DoneReasonFilled, FilledSize: decimal.RequireFromString("0.0002")})
	ex.ScriptOrder("Sp1", mock.PollStep{Status: core.OrderStatusPending}, mock.PollStep{Status: core.OrderStatusOpen})

	rec := &recorder{}
	p := NewPosition("p1", btcUSD(), btcConfig(), fastExecutor(ex), rec.listen, logging.NewNopLogger())
	assert.Equal(t, StateStarted, p.State())

	p.Run(context.Background())

	snap := p.Snapshot()
	assert.Equal(t, StateSellOrderOpen, snap.State)
	assert.Equal(t, []State{
		StateStarted, StateBuyOrderPending, StateBuyOrderFilled, StateSellOrderPending, StateSellOrderOpen,
	}, states(snap.Transitions))
	assert.Len(t, rec.trs, 4)

	require.NotNil(t, snap.Buy)
	require.NotNil(t, snap.Sell)
	assert.True(t, snap.Buy.FilledSize.Equal(decimal.RequireFromString("0.0002")))

	sell, ok := ex.OrderByClientOID("Sp1")
	require.True(t, ok)
	assert.Equal(t, core.OrderTypeLimit, sell.Type)
	assert.Equal(t, "50757.58", sell.Price.String())
	assert.Equal(t, "0.000198", sell.Size.String())

	buy, ok := ex.OrderByClientOID("Bp1")
	require.True(t, ok)
	assert.True(t, buy.Funds.Equal(decimal.NewFromInt(10)))

	replayed, err := Replay(snap.Transitions)
	require.NoError(t, err)
	assert.Equal(t, snap.State, replayed)
}

func TestPosition_Outcomes(t *testing.T) {
	filled := mock.PollStep{Status: core.OrderStatusDone, DoneReason: core.DoneReasonFilled, FilledSize: decimal.RequireFromString("0.0002")}

	tests := []struct {
		name  string
		buy   []mock.PollStep
		sell  []mock.PollStep
		final State
	}{
		{"buy canceled", []mock.PollStep{{Status: core.OrderStatusDone, DoneReason: core.DoneReasonCanceled}}, nil, StateBuyOrderCanceled},
		{"buy done without reason", []mock.PollStep{{Status: core.OrderStatusDone}}, nil, StateBuyOrderFailed},
		{"buy never done", []mock.PollStep{{Status: core.OrderStatusPending}}, nil, StateBuyOrderFailed},
		{"buy not found", []mock.PollStep{{Err: apperrors.ErrOrderNotFound}}, nil, StateBuyOrderFailed},
		{"sell filled", []mock.PollStep{filled}, []mock.PollStep{{Status: core.OrderStatusDone, DoneReason: core.DoneReasonFilled}}, StateSellOrderFilled},
		{"sell canceled", []mock.PollStep{filled}, []mock.PollStep{{Status: core.OrderStatusDone, DoneReason: core.DoneReasonCanceled}}, StateSellOrderCanceled},
		{"sell rejected", []mock.PollStep{filled}, []mock.PollStep{{Status: "rejected"}}, StateSellOrderFailed},
		{"sell never leaves pending", []mock.PollStep{filled}, []mock.PollStep{{Status: core.OrderStatusPending}}, StateSellOrderFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := mock.NewMockExchange("mock")
			ex.ScriptOrder("Bp1", tt.buy...)
			if tt.sell != nil {
				ex.ScriptOrder("Sp1", tt.sell...)
			}

			p := NewPosition("p1", btcUSD(), btcConfig(), fastExecutor(ex), nil, logging.NewNopLogger())
			p.Run(context.Background())

			snap := p.Snapshot()
			assert.Equal(t, tt.final, snap.State)
			assert.True(t, snap.State.IsTerminal())

			replayed, err := Replay(snap.Transitions)
			require.NoError(t, err)
			assert.Equal(t, tt.final, replayed)
		})
	}
}

func TestPosition_BuySubmissionFailure(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetPostError(apperrors.ErrInsufficientFunds)

	p := NewPosition("p1", btcUSD(), btcConfig(), fastExecutor(ex), nil, logging.NewNopLogger())
	p.Run(context.Background())

	snap := p.Snapshot()
	assert.Equal(t, StateBuyOrderFailed, snap.State)
	assert.Nil(t, snap.Buy)
	assert.Len(t, snap.Transitions, 2)
}

func TestPosition_RunOnlyOnce(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("Bp1", mock.PollStep{Status: core.OrderStatusDone, DoneReason: core.DoneReasonCanceled})

	p := NewPosition("p1", btcUSD(), btcConfig(), fastExecutor(ex), nil, logging.NewNopLogger())
	p.Run(context.Background())
	p.Run(context.Background())

	assert.Equal(t, 1, ex.PostCalls())
	assert.Len(t, p.Snapshot().Transitions, 2)
}

func TestPosition_SnapshotIsACopy(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("Bp1", mock.PollStep{Status: core.OrderStatusDone, DoneReason: core.DoneReasonCanceled})

	p := NewPosition("p1", btcUSD(), btcConfig(), fastExecutor(ex), nil, logging.NewNopLogger())
	p.Run(context.Background())

	snap := p.Snapshot()
	snap.Transitions[0].To = StateSellOrderOpen
	snap.Buy.Status = core.OrderStatusOpen

	fresh := p.Snapshot()
	assert.Equal(t, StateBuyOrderPending, fresh.Transitions[0].To)
	assert.Equal(t, core.OrderStatusDone, fresh.Buy.Status)
}

func TestReplay_RejectsIllegalLog(t *testing.T) {
	now := time.Now().UTC()

	_, err := Replay([]Transition{{From: StateStarted, To: StateSellOrderOpen, At: now}})
	assert.Error(t, err)

	_, err = Replay([]Transition{
		{From: StateStarted, To: StateBuyOrderPending, At: now},
		{From: StateStarted, To: StateBuyOrderPending, At: now},
	})
	assert.Error(t, err)

	_, err = Replay([]Transition{
		{From: StateStarted, To: StateBuyOrderPending, At: now},
		{From: StateBuyOrderPending, To: StateBuyOrderFailed, At: now.Add(-time.Second)},
	})
	assert.Error(t, err)

	final, err := Replay(nil)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, final)
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateBuyOrderCanceled, StateBuyOrderFailed, StateSellOrderOpen, StateSellOrderFilled, StateSellOrderCanceled, StateSellOrderFailed} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []State{StateStarted, StateBuyOrderPending, StateBuyOrderFilled, StateSellOrderPending} {
		assert.False(t, s.IsTerminal(), s)
	}
}
