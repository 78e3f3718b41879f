// Package monitor keeps live market and order state for the trader
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"position_trader/internal/core"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/telemetry"
	"position_trader/pkg/websocket"
)

// TickConfig tunes the stream health check
type TickConfig struct {
	CheckInterval    time.Duration
	Staleness        time.Duration
	ReconnectWait    time.Duration
	SubscriberBuffer int
}

// DefaultTickConfig checks every 10s and treats 60s of silence as stale
func DefaultTickConfig() TickConfig {
	return TickConfig{
		CheckInterval:    10 * time.Second,
		Staleness:        60 * time.Second,
		ReconnectWait:    time.Second,
		SubscriberBuffer: 10,
	}
}

// TickClient maintains one stream connection for all tracked instruments and
// caches the latest tick per instrument. It implements core.ITickSource.
type TickClient struct {
	codec      core.IStreamCodec
	productIDs []string
	cfg        TickConfig
	ws         *websocket.Client
	metrics    *telemetry.MetricsHolder
	logger     core.ILogger
	now        func() time.Time

	ticks sync.Map // product id -> core.PriceTick

	mu          sync.RWMutex
	subscribers []chan core.PriceTick

	connectedAt   atomic.Int64 // unix nanos of the last successful subscription
	subscriptions atomic.Int64
	running       atomic.Bool
}

func NewTickClient(url string, codec core.IStreamCodec, productIDs []string, cfg TickConfig, logger core.ILogger) *TickClient {
	def := DefaultTickConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = def.Staleness
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}

	tc := &TickClient{
		codec:      codec,
		productIDs: append([]string(nil), productIDs...),
		cfg:        cfg,
		metrics:    telemetry.GetGlobalMetrics(),
		logger:     logger.WithField("component", "tick_client"),
		now:        time.Now,
	}
	tc.ws = websocket.NewClient(url, tc.handleMessage, logger)
	tc.ws.SetReconnectWait(cfg.ReconnectWait)
	tc.ws.SetOnConnected(tc.subscribe)
	return tc
}

// Run connects and supervises the stream until ctx is done
func (tc *TickClient) Run(ctx context.Context) error {
	if !tc.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tick client is already running")
	}
	defer tc.running.Store(false)

	tc.logger.Info("Starting tick client", "products", tc.productIDs, "staleness", tc.cfg.Staleness.String())
	tc.ws.Start()
	defer tc.ws.Stop()

	ticker := time.NewTicker(tc.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tc.logger.Info("Tick client stopped")
			return nil
		case <-ticker.C:
			tc.checkConnection(ctx)
		}
	}
}

// checkConnection forces a reconnect when the stream is down or silent
func (tc *TickClient) checkConnection(ctx context.Context) {
	err := tc.streamError()
	if err == nil {
		return
	}
	tc.logger.Warn("Forcing stream reconnect", "error", err)
	tc.metrics.RecordReconnect(ctx, err.Error())
	tc.ws.Reconnect()
}

func (tc *TickClient) streamError() error {
	if !tc.ws.IsConnected() {
		return fmt.Errorf("%w: not connected", apperrors.ErrStreamDisconnected)
	}
	last := tc.lastActivity()
	if idle := tc.now().Sub(last); idle > tc.cfg.Staleness {
		return fmt.Errorf("%w: no message for %s", apperrors.ErrStreamDisconnected, idle.Round(time.Millisecond))
	}
	return nil
}

func (tc *TickClient) lastActivity() time.Time {
	last := tc.ws.LastMessageAt()
	if n := tc.connectedAt.Load(); n > 0 {
		if at := time.Unix(0, n); at.After(last) {
			last = at
		}
	}
	return last
}

// subscribe runs on every (re)connect and lists every tracked instrument
func (tc *TickClient) subscribe() error {
	msg, err := tc.codec.SubscribeMessage(tc.productIDs)
	if err != nil {
		return fmt.Errorf("build subscription: %w", err)
	}
	if err := tc.ws.Send(msg); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	tc.connectedAt.Store(tc.now().UnixNano())
	n := tc.subscriptions.Add(1)
	tc.logger.Info("Subscribed to tick stream", "products", tc.productIDs, "subscription", n)
	return nil
}

func (tc *TickClient) handleMessage(message []byte) {
	tick, ok, err := tc.codec.DecodeTick(message)
	if err != nil {
		tc.logger.Warn("Failed to decode stream message", "error", err)
		return
	}
	if !ok {
		return
	}
	tc.Ingest(tick)
}

// Ingest stores tick as the latest for its instrument and fans it out.
// Subscribers with a full buffer miss the tick.
func (tc *TickClient) Ingest(tick core.PriceTick) {
	tc.ticks.Store(tick.ProductID, tick)
	tc.metrics.SetLastTick(tick.ProductID, tick.Time)

	tc.mu.RLock()
	defer tc.mu.RUnlock()
	for _, ch := range tc.subscribers {
		select {
		case ch <- tick:
		default:
			tc.logger.Debug("Subscriber channel full, dropping tick", "product_id", tick.ProductID)
		}
	}
}

// Tick returns the latest tick for productID
func (tc *TickClient) Tick(productID string) (core.PriceTick, bool) {
	v, ok := tc.ticks.Load(productID)
	if !ok {
		return core.PriceTick{}, false
	}
	return v.(core.PriceTick), true
}

// IsStale reports a tick older than the staleness window
func (tc *TickClient) IsStale(tick core.PriceTick) bool {
	return tick.Time.IsZero() || tc.now().Sub(tick.Time) > tc.cfg.Staleness
}

// Subscribe returns a buffered channel receiving every ingested tick
func (tc *TickClient) Subscribe() <-chan core.PriceTick {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	ch := make(chan core.PriceTick, tc.cfg.SubscriberBuffer)
	tc.subscribers = append(tc.subscribers, ch)
	return ch
}

// Subscriptions is the number of subscription messages sent so far
func (tc *TickClient) Subscriptions() int64 {
	return tc.subscriptions.Load()
}

// CheckHealth returns an error while the stream is down or silent
func (tc *TickClient) CheckHealth() error {
	if !tc.running.Load() {
		return fmt.Errorf("tick client is not running")
	}
	return tc.streamError()
}
