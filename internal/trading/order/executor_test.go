package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"position_trader/internal/core"
	"position_trader/internal/mock"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(retries int) Config {
	return Config{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func buyRequest(clientOID string) core.OrderRequest {
	return core.NewMarketOrder(clientOID, "BTC-USD", core.OrderSideBuy, decimal.NewFromInt(10))
}

func pending() mock.PollStep {
	return mock.PollStep{Status: core.OrderStatusPending}
}

func TestExecutor_ResolvesWithinBudget(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	filled := mock.PollStep{
		Status:     core.OrderStatusDone,
		DoneReason: core.DoneReasonFilled,
		FilledSize: decimal.RequireFromString("0.0002"),
	}
	ex.ScriptOrder("B1", pending(), mock.PollStep{Err: apperrors.ErrOrderNotFound}, filled)

	executor := NewExecutor(ex, testConfig(5), logging.NewNopLogger())
	order, err := executor.Execute(context.Background(), buyRequest("B1"), OrderDone)
	require.NoError(t, err)

	assert.True(t, order.IsFilled())
	assert.True(t, order.FilledSize.Equal(decimal.RequireFromString("0.0002")))
	assert.Equal(t, 3, ex.GetOrderCalls(order.ID))
	assert.Equal(t, 1, ex.PostCalls())
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	for _, budget := range []int{0, 1, 5} {
		ex := mock.NewMockExchange("mock")
		ex.ScriptOrder("B1", pending())

		executor := NewExecutor(ex, testConfig(budget), logging.NewNopLogger())
		_, err := executor.Execute(context.Background(), buyRequest("B1"), OrderDone)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrRetriesExhausted)

		var exhausted *RetriesExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, budget, exhausted.Budget)
		assert.Equal(t, budget+1, exhausted.Attempts)

		posted, ok := ex.OrderByClientOID("B1")
		require.True(t, ok)
		assert.Equal(t, budget+1, ex.GetOrderCalls(posted.ID))
	}
}

func TestExecutor_TransientPollErrorsAreRetried(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("S1",
		mock.PollStep{Err: apperrors.ErrTransientAPI},
		mock.PollStep{Err: apperrors.ErrNetwork},
		mock.PollStep{Status: core.OrderStatusOpen},
	)

	executor := NewExecutor(ex, testConfig(5), logging.NewNopLogger())
	req := core.NewLimitOrder("S1", "BTC-USD", core.OrderSideSell,
		decimal.RequireFromString("50251.26"), decimal.RequireFromString("0.000198"))
	order, err := executor.Execute(context.Background(), req, OrderNotPending)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
}

func TestExecutor_ExhaustedKeepsLastTransientError(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("B1", mock.PollStep{Err: apperrors.ErrTransientAPI})

	executor := NewExecutor(ex, testConfig(2), logging.NewNopLogger())
	_, err := executor.Execute(context.Background(), buyRequest("B1"), OrderDone)
	assert.ErrorIs(t, err, apperrors.ErrRetriesExhausted)
	assert.ErrorIs(t, err, apperrors.ErrTransientAPI)
}

func TestExecutor_SubmissionFailureIsNotRetried(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.SetPostError(apperrors.ErrTransientAPI)

	executor := NewExecutor(ex, testConfig(5), logging.NewNopLogger())
	_, err := executor.Execute(context.Background(), buyRequest("B1"), OrderDone)
	assert.ErrorIs(t, err, apperrors.ErrTransientAPI)
	assert.NotErrorIs(t, err, apperrors.ErrRetriesExhausted)
	assert.Equal(t, 1, ex.PostCalls())
}

func TestExecutor_FatalPollErrorStopsImmediately(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("B1", mock.PollStep{Err: apperrors.ErrAuthenticationFailed})

	executor := NewExecutor(ex, testConfig(5), logging.NewNopLogger())
	_, err := executor.Execute(context.Background(), buyRequest("B1"), OrderDone)
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	assert.NotErrorIs(t, err, apperrors.ErrRetriesExhausted)

	posted, _ := ex.OrderByClientOID("B1")
	assert.Equal(t, 1, ex.GetOrderCalls(posted.ID))
}

func TestExecutor_ContextCanceled(t *testing.T) {
	ex := mock.NewMockExchange("mock")
	ex.ScriptOrder("B1", pending())

	executor := NewExecutor(ex, Config{MaxRetries: 100, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}, logging.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := executor.Execute(ctx, buyRequest("B1"), OrderDone)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPredicates(t *testing.T) {
	assert.True(t, OrderDone(core.Order{Status: core.OrderStatusDone}))
	assert.False(t, OrderDone(core.Order{Status: core.OrderStatusOpen}))
	assert.True(t, OrderNotPending(core.Order{Status: core.OrderStatusOpen}))
	assert.True(t, OrderNotPending(core.Order{Status: "rejected"}))
	assert.False(t, OrderNotPending(core.Order{Status: core.OrderStatusPending}))
}
