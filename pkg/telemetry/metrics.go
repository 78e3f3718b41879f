package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPositionsOpenedTotal     = "position_trader_positions_opened_total"
	MetricPositionTransitionsTotal = "position_trader_position_transitions_total"
	MetricPositionsByState         = "position_trader_positions"
	MetricOpenOrders               = "position_trader_open_orders"
	MetricTickAge                  = "position_trader_tick_age_seconds"
	MetricStreamReconnectsTotal    = "position_trader_stream_reconnects_total"
)

// MetricsHolder holds initialized instruments and the state behind observable gauges
type MetricsHolder struct {
	PositionsOpenedTotal     metric.Int64Counter
	PositionTransitionsTotal metric.Int64Counter
	StreamReconnectsTotal    metric.Int64Counter
	PositionsByState         metric.Int64ObservableGauge
	OpenOrders               metric.Int64ObservableGauge
	TickAge                  metric.Float64ObservableGauge

	mu             sync.RWMutex
	positionStates map[string]int64
	openOrdersMap  map[string]int64
	lastTickMap    map[string]time.Time
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = NewMetricsHolder()
	})
	return globalMetrics
}

// NewMetricsHolder returns a holder with no instruments. Gauge state is
// tracked, counters are skipped until InitMetrics runs.
func NewMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		positionStates: make(map[string]int64),
		openOrdersMap:  make(map[string]int64),
		lastTickMap:    make(map[string]time.Time),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PositionsOpenedTotal, err = meter.Int64Counter(MetricPositionsOpenedTotal,
		metric.WithDescription("Positions opened, by instrument"))
	if err != nil {
		return err
	}

	m.PositionTransitionsTotal, err = meter.Int64Counter(MetricPositionTransitionsTotal,
		metric.WithDescription("Position state transitions, by instrument and target state"))
	if err != nil {
		return err
	}

	m.StreamReconnectsTotal, err = meter.Int64Counter(MetricStreamReconnectsTotal,
		metric.WithDescription("Forced reconnects of the tick stream"))
	if err != nil {
		return err
	}

	m.PositionsByState, err = meter.Int64ObservableGauge(MetricPositionsByState,
		metric.WithDescription("Tracked positions by current state"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for state, val := range m.positionStates {
				obs.Observe(val, metric.WithAttributes(attribute.String("state", state)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OpenOrders, err = meter.Int64ObservableGauge(MetricOpenOrders,
		metric.WithDescription("Outstanding exchange orders seen in the last order book refresh"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for product, val := range m.openOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("product", product)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.TickAge, err = meter.Float64ObservableGauge(MetricTickAge,
		metric.WithDescription("Seconds since the last ticker message per instrument"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			now := time.Now()
			for product, at := range m.lastTickMap {
				obs.Observe(now.Sub(at).Seconds(), metric.WithAttributes(attribute.String("product", product)))
			}
			return nil
		}))
	return err
}

// RecordPositionOpened increments the opened counter when instruments exist
func (m *MetricsHolder) RecordPositionOpened(ctx context.Context, product string) {
	if m.PositionsOpenedTotal == nil {
		return
	}
	m.PositionsOpenedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("product", product)))
}

// RecordTransition moves one position from oldState to newState in the gauge
// and counts the transition. An empty oldState means a new position.
func (m *MetricsHolder) RecordTransition(ctx context.Context, product, oldState, newState string) {
	m.mu.Lock()
	if oldState != "" && m.positionStates[oldState] > 0 {
		m.positionStates[oldState]--
	}
	m.positionStates[newState]++
	m.mu.Unlock()

	if m.PositionTransitionsTotal == nil {
		return
	}
	m.PositionTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("product", product),
		attribute.String("state", newState),
	))
}

// DropPosition removes a position that never started from the state gauge
func (m *MetricsHolder) DropPosition(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positionStates[state] > 0 {
		m.positionStates[state]--
	}
}

// RecordReconnect counts a forced stream reconnect
func (m *MetricsHolder) RecordReconnect(ctx context.Context, reason string) {
	if m.StreamReconnectsTotal == nil {
		return
	}
	m.StreamReconnectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *MetricsHolder) SetOpenOrders(product string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[product] = count
}

func (m *MetricsHolder) SetLastTick(product string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTickMap[product] = at
}

func (m *MetricsHolder) GetPositionStates() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.positionStates))
	for k, v := range m.positionStates {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetOpenOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.openOrdersMap))
	for k, v := range m.openOrdersMap {
		res[k] = v
	}
	return res
}
