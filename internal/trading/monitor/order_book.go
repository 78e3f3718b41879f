package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"position_trader/internal/core"
	"position_trader/pkg/telemetry"
)

// OrderBook keeps a periodic snapshot of the account's outstanding orders
type OrderBook struct {
	exchange core.IExchange
	interval time.Duration
	metrics  *telemetry.MetricsHolder
	logger   core.ILogger

	mu        sync.RWMutex
	orders    []core.Order
	updatedAt time.Time
	lastErr   error
	// products that ever had outstanding orders; their gauges drop to zero when emptied
	seen map[string]struct{}
}

func NewOrderBook(exchange core.IExchange, interval time.Duration, logger core.ILogger) *OrderBook {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OrderBook{
		exchange: exchange,
		interval: interval,
		metrics:  telemetry.GetGlobalMetrics(),
		logger:   logger.WithField("component", "order_book"),
		seen:     make(map[string]struct{}),
	}
}

// Run refreshes immediately and then on every interval until ctx is done
func (b *OrderBook) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warn("Order book refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh replaces the snapshot. On failure the previous snapshot is kept.
func (b *OrderBook) Refresh(ctx context.Context) error {
	orders, err := b.exchange.GetOrders(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	if err != nil {
		return err
	}
	b.orders = orders
	b.updatedAt = time.Now().UTC()

	counts := make(map[string]int64)
	for _, o := range orders {
		counts[o.ProductID]++
		b.seen[o.ProductID] = struct{}{}
	}
	for product := range b.seen {
		b.metrics.SetOpenOrders(product, counts[product])
	}
	b.logger.Debug("Order book refreshed", "orders", len(orders))
	return nil
}

// Orders returns the snapshot, optionally filtered by productID
func (b *OrderBook) Orders(productID string) []core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if productID == "" || o.ProductID == productID {
			out = append(out, o)
		}
	}
	return out
}

// UpdatedAt is the time of the last successful refresh
func (b *OrderBook) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// CheckHealth fails when the last refresh failed or the snapshot is two intervals old
func (b *OrderBook) CheckHealth() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastErr != nil {
		return fmt.Errorf("order book refresh failed: %w", b.lastErr)
	}
	if b.updatedAt.IsZero() {
		return fmt.Errorf("order book not loaded yet")
	}
	if age := time.Since(b.updatedAt); age > 2*b.interval {
		return fmt.Errorf("order book is %s old", age.Round(time.Second))
	}
	return nil
}
