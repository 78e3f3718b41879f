package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"position_trader/internal/core"
	"position_trader/internal/journal"
	"position_trader/internal/trading/product"
	"position_trader/pkg/concurrency"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/telemetry"

	"github.com/google/uuid"
)

// Manager owns every position created during the process lifetime and
// periodically admits new ones per configured instrument.
type Manager struct {
	exchange   core.IExchange
	products   *product.Repository
	executor   OrderExecutor
	configs    map[string]core.PositionConfig
	productIDs []string
	strategies map[string]core.IStrategy
	pool       *concurrency.WorkerPool
	journal    journal.Journal
	listeners  []TransitionListener
	metrics    *telemetry.MetricsHolder
	logger     core.ILogger
	interval   time.Duration

	positions sync.Map // id -> *Position

	// lifecycles outlive the request that created them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithInterval sets the admission interval
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithJournal records every transition to j
func WithJournal(j journal.Journal) ManagerOption {
	return func(m *Manager) {
		if j != nil {
			m.journal = j
		}
	}
}

// WithListener registers l to observe every transition after it is journaled
func WithListener(l TransitionListener) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

// WithMetrics overrides the global metrics holder
func WithMetrics(h *telemetry.MetricsHolder) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.metrics = h
		}
	}
}

// NewManager builds a manager. strategies is keyed by instrument id and must
// hold an entry for every config.
func NewManager(
	exchange core.IExchange,
	products *product.Repository,
	executor OrderExecutor,
	configs []core.PositionConfig,
	strategies map[string]core.IStrategy,
	pool *concurrency.WorkerPool,
	logger core.ILogger,
	opts ...ManagerOption,
) (*Manager, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		exchange:   exchange,
		products:   products,
		executor:   executor,
		configs:    make(map[string]core.PositionConfig, len(configs)),
		strategies: strategies,
		pool:       pool,
		journal:    journal.NewNopJournal(),
		metrics:    telemetry.GetGlobalMetrics(),
		logger:     logger.WithField("component", "position_manager"),
		interval:   time.Minute,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, cfg := range configs {
		if _, ok := strategies[cfg.ProductID]; !ok {
			cancel()
			return nil, fmt.Errorf("no strategy for %s", cfg.ProductID)
		}
		m.configs[cfg.ProductID] = cfg
		m.productIDs = append(m.productIDs, cfg.ProductID)
	}
	return m, nil
}

// Run evaluates admission on every interval tick until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Position manager started", "interval", m.interval.String(), "products", m.productIDs)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Evaluate(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Evaluate runs one admission pass over every configured instrument
func (m *Manager) Evaluate(ctx context.Context) {
	orders, err := m.exchange.GetOrders(ctx)
	if err != nil {
		m.logger.Warn("Skipping admission, open orders unavailable", "error", err)
		return
	}

	outstanding := make(map[string]int, len(m.productIDs))
	for _, o := range orders {
		outstanding[o.ProductID]++
	}

	for _, id := range m.productIDs {
		if ctx.Err() != nil {
			return
		}
		cfg := m.configs[id]
		count := outstanding[id]
		m.metrics.SetOpenOrders(id, int64(count))

		if count >= cfg.Max {
			m.logger.Debug("Position cap reached", "product_id", id, "open_orders", count, "max", cfg.Max)
			continue
		}

		strat := m.strategies[id]
		open, err := strat.OpenPosition(ctx, id)
		if err != nil {
			m.logger.Warn("Strategy error, not opening", "product_id", id, "strategy", strat.Name(), "error", err)
			continue
		}
		if !open {
			m.logger.Debug("Strategy declined", "product_id", id, "strategy", strat.Name())
			continue
		}

		if _, err := m.NewPosition(ctx, id); err != nil {
			m.logger.Error("Failed to open position", "product_id", id, "error", err)
		}
	}
}

// NewPosition creates and starts a position for productID and returns its id
// without waiting for the lifecycle.
func (m *Manager) NewPosition(ctx context.Context, productID string) (string, error) {
	prod, err := m.products.Product(productID)
	if err != nil {
		return "", err
	}
	cfg, ok := m.configs[productID]
	if !ok {
		return "", fmt.Errorf("%s is not configured: %w", productID, apperrors.ErrUnknownInstrument)
	}

	id := uuid.NewString()
	p := NewPosition(id, prod, cfg, m.executor, m.onTransition, m.logger)
	m.positions.Store(id, p)
	m.metrics.RecordTransition(ctx, productID, "", string(StateStarted))

	m.wg.Add(1)
	err = m.pool.Submit(func() {
		defer m.wg.Done()
		p.Run(m.ctx)
	})
	if err != nil {
		m.wg.Done()
		m.positions.Delete(id)
		m.metrics.DropPosition(string(StateStarted))
		return "", fmt.Errorf("start position %s: %w", id, err)
	}

	m.metrics.RecordPositionOpened(ctx, productID)
	m.logger.Info("Position opened", "position_id", id, "product_id", productID, "funds", cfg.Funds.String())
	return id, nil
}

func (m *Manager) onTransition(positionID, productID string, tr Transition) {
	m.metrics.RecordTransition(m.ctx, productID, string(tr.From), string(tr.To))

	entry := journal.Entry{
		PositionID: positionID,
		ProductID:  productID,
		From:       string(tr.From),
		To:         string(tr.To),
		At:         tr.At,
	}
	if err := m.journal.Append(context.Background(), entry); err != nil {
		m.logger.Warn("Journal append failed", "position_id", positionID, "error", err)
	}

	for _, l := range m.listeners {
		l(positionID, productID, tr)
	}
}

// GetPosition returns the snapshot of id
func (m *Manager) GetPosition(id string) (Snapshot, bool) {
	v, ok := m.positions.Load(id)
	if !ok {
		return Snapshot{}, false
	}
	return v.(*Position).Snapshot(), true
}

// GetPositions returns every snapshot ordered by creation time
func (m *Manager) GetPositions() []Snapshot {
	var out []Snapshot
	m.positions.Range(func(_, v any) bool {
		out = append(out, v.(*Position).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait blocks until every started lifecycle has reached a terminal state
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stop cancels in-flight lifecycles and waits for them to settle
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}
