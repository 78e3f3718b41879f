// Package order turns a single order submission into a terminal order snapshot
package order

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"position_trader/internal/core"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DonePredicate reports whether a polled order is terminal for the caller
type DonePredicate func(core.Order) bool

// OrderDone is terminal for market buys: the order has left the book
func OrderDone(o core.Order) bool {
	return o.Status == core.OrderStatusDone
}

// OrderNotPending is terminal for limit sells: resting on the book is enough
func OrderNotPending(o core.Order) bool {
	return o.Status != core.OrderStatusPending
}

// RetriesExhaustedError is returned when polling never satisfied the predicate
type RetriesExhaustedError struct {
	OrderID  string
	Budget   int
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	msg := fmt.Sprintf("order %s: retries exhausted after %d attempts (budget %d)", e.OrderID, e.Attempts, e.Budget)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == apperrors.ErrRetriesExhausted
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

var errNotDone = errors.New("order not yet terminal")

// Config holds the poll budget and backoff bounds
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig polls up to six times starting at 100ms
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// Executor posts an order once and polls it until a DonePredicate holds
type Executor struct {
	exchange core.IExchange
	logger   core.ILogger
	cfg      Config

	tracer       trace.Tracer
	orderCounter metric.Int64Counter
	pollCounter  metric.Int64Counter
	failCounter  metric.Int64Counter
}

func NewExecutor(exchange core.IExchange, cfg Config, logger core.ILogger) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	meter := telemetry.GetMeter("order-executor")
	orderCounter, _ := meter.Int64Counter("order_placements_total",
		metric.WithDescription("Total number of orders placed"))
	pollCounter, _ := meter.Int64Counter("order_polls_total",
		metric.WithDescription("Total number of order status polls"))
	failCounter, _ := meter.Int64Counter("order_failures_total",
		metric.WithDescription("Total number of failed order executions"))

	return &Executor{
		exchange:     exchange,
		logger:       logger.WithField("component", "order_executor"),
		cfg:          cfg,
		tracer:       telemetry.GetTracer("order-executor"),
		orderCounter: orderCounter,
		pollCounter:  pollCounter,
		failCounter:  failCounter,
	}
}

// Execute submits req and polls until done holds. Submission is never retried.
// Polls that return an unsatisfied order, ErrOrderNotFound or a transient
// failure consume the retry budget.
func (e *Executor) Execute(ctx context.Context, req core.OrderRequest, done DonePredicate) (core.Order, error) {
	ctx, span := e.tracer.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("product_id", req.ProductID),
			attribute.String("side", string(req.Side)),
			attribute.String("client_oid", req.ClientOID),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("product_id", req.ProductID),
		attribute.String("side", string(req.Side)),
	)

	posted, err := e.exchange.PostOrder(ctx, req)
	e.orderCounter.Add(ctx, 1, attrs)
	if err != nil {
		span.RecordError(err)
		e.failCounter.Add(ctx, 1, attrs)
		e.logger.Error("Order submission failed",
			"product_id", req.ProductID,
			"side", req.Side,
			"client_oid", req.ClientOID,
			"error", err)
		return core.Order{}, fmt.Errorf("post order %s: %w", req.ClientOID, err)
	}

	e.logger.Debug("Order submitted",
		"order_id", posted.ID,
		"product_id", req.ProductID,
		"side", req.Side)

	order, err := e.poll(ctx, posted.ID, done, attrs)
	if err != nil {
		span.RecordError(err)
		e.failCounter.Add(ctx, 1, attrs)
		return core.Order{}, err
	}
	return order, nil
}

func (e *Executor) poll(ctx context.Context, orderID string, done DonePredicate, attrs metric.MeasurementOption) (core.Order, error) {
	var attempts atomic.Int64

	policy := retrypolicy.NewBuilder[core.Order]().
		HandleIf(func(_ core.Order, err error) bool {
			return retryable(err)
		}).
		WithBackoff(e.cfg.BaseDelay, e.cfg.MaxDelay).
		WithMaxRetries(e.cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(ev failsafe.ExecutionEvent[core.Order]) {
			e.logger.Debug("Retrying order poll",
				"order_id", orderID,
				"attempt", ev.Attempts(),
				"error", ev.LastError())
		}).
		Build()

	order, err := failsafe.With[core.Order](policy).
		WithContext(ctx).
		Get(func() (core.Order, error) {
			attempts.Add(1)
			e.pollCounter.Add(ctx, 1, attrs)

			o, err := e.exchange.GetOrder(ctx, orderID)
			if err != nil {
				return core.Order{}, err
			}
			if !done(o) {
				return o, errNotDone
			}
			return o, nil
		})

	if err == nil {
		return order, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return core.Order{}, fmt.Errorf("poll order %s: %w", orderID, ctxErr)
	}
	if retryable(err) {
		exhausted := &RetriesExhaustedError{
			OrderID:  orderID,
			Budget:   e.cfg.MaxRetries,
			Attempts: int(attempts.Load()),
		}
		if !errors.Is(err, errNotDone) {
			exhausted.Last = err
		}
		e.logger.Warn("Order poll budget exhausted",
			"order_id", orderID,
			"attempts", exhausted.Attempts,
			"last_status", order.Status)
		return core.Order{}, exhausted
	}
	return core.Order{}, fmt.Errorf("poll order %s: %w", orderID, err)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, errNotDone) ||
		errors.Is(err, apperrors.ErrOrderNotFound) ||
		apperrors.IsTransient(err)
}
