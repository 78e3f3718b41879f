// Package position implements the buy-then-sell position lifecycle and its manager
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"position_trader/internal/core"
	"position_trader/internal/trading/order"

	"github.com/shopspring/decimal"
)

// State is a position lifecycle state
type State string

const (
	StateStarted           State = "Started"
	StateBuyOrderPending   State = "BuyOrderPending"
	StateBuyOrderFilled    State = "BuyOrderFilled"
	StateBuyOrderCanceled  State = "BuyOrderCanceled"
	StateBuyOrderFailed    State = "BuyOrderFailed"
	StateSellOrderPending  State = "SellOrderPending"
	StateSellOrderOpen     State = "SellOrderOpen"
	StateSellOrderFilled   State = "SellOrderFilled"
	StateSellOrderCanceled State = "SellOrderCanceled"
	StateSellOrderFailed   State = "SellOrderFailed"
)

var transitions = map[State][]State{
	StateStarted:          {StateBuyOrderPending},
	StateBuyOrderPending:  {StateBuyOrderFilled, StateBuyOrderCanceled, StateBuyOrderFailed},
	StateBuyOrderFilled:   {StateSellOrderPending},
	StateSellOrderPending: {StateSellOrderOpen, StateSellOrderFilled, StateSellOrderCanceled, StateSellOrderFailed},
}

// IsTerminal reports states with no outgoing transition
func (s State) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether s -> next is an edge of the lifecycle
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition is one entry of the append-only transition log
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Replay walks log from Started and returns the state it reproduces
func Replay(log []Transition) (State, error) {
	state := StateStarted
	var last time.Time
	for i, tr := range log {
		if tr.From != state {
			return state, fmt.Errorf("transition %d: expected from %s, got %s", i, state, tr.From)
		}
		if !state.CanTransition(tr.To) {
			return state, fmt.Errorf("transition %d: %s -> %s is not allowed", i, tr.From, tr.To)
		}
		if tr.At.Before(last) {
			return state, fmt.Errorf("transition %d: timestamp %s precedes %s", i, tr.At, last)
		}
		state, last = tr.To, tr.At
	}
	return state, nil
}

// Snapshot is a read-only copy of a position
type Snapshot struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"product_id"`
	State       State        `json:"state"`
	Buy         *core.Order  `json:"buy,omitempty"`
	Sell        *core.Order  `json:"sell,omitempty"`
	Transitions []Transition `json:"transitions"`
	CreatedAt   time.Time    `json:"created_at"`
}

// OrderExecutor runs one order to a terminal snapshot
type OrderExecutor interface {
	Execute(ctx context.Context, req core.OrderRequest, done order.DonePredicate) (core.Order, error)
}

// TransitionListener observes every transition after it has been logged
type TransitionListener func(positionID, productID string, tr Transition)

// Position is one buy-then-sell lifecycle. Its state only changes inside Run.
type Position struct {
	id        string
	product   core.Product
	cfg       core.PositionConfig
	executor  OrderExecutor
	logger    core.ILogger
	listener  TransitionListener
	createdAt time.Time
	now       func() time.Time

	mu    sync.RWMutex
	state State
	log   []Transition
	buy   *core.Order
	sell  *core.Order
}

// NewPosition returns a position in the Started state. listener may be nil.
func NewPosition(id string, product core.Product, cfg core.PositionConfig, executor OrderExecutor, listener TransitionListener, logger core.ILogger) *Position {
	now := func() time.Time { return time.Now().UTC() }
	return &Position{
		id:        id,
		product:   product,
		cfg:       cfg,
		executor:  executor,
		listener:  listener,
		logger:    logger.WithFields(map[string]interface{}{"position_id": id, "product_id": product.ID}),
		createdAt: now(),
		now:       now,
		state:     StateStarted,
	}
}

func (p *Position) ID() string {
	return p.id
}

func (p *Position) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot copies the current state, orders and log
func (p *Position) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		ID:          p.id,
		ProductID:   p.product.ID,
		State:       p.state,
		Transitions: append([]Transition(nil), p.log...),
		CreatedAt:   p.createdAt,
	}
	if p.buy != nil {
		buy := *p.buy
		snap.Buy = &buy
	}
	if p.sell != nil {
		sell := *p.sell
		snap.Sell = &sell
	}
	return snap
}

// BuyClientOID and SellClientOID derive the exchange client ids from the position id
func (p *Position) BuyClientOID() string  { return "B" + p.id }
func (p *Position) SellClientOID() string { return "S" + p.id }

// Run drives the lifecycle to a terminal state. Execution failures end in a
// Failed state and are never returned.
func (p *Position) Run(ctx context.Context) {
	if p.State() != StateStarted {
		return
	}

	p.transition(StateBuyOrderPending)
	buyReq := core.NewMarketOrder(p.BuyClientOID(), p.product.ID, core.OrderSideBuy, p.cfg.Funds)
	buy, err := p.executor.Execute(ctx, buyReq, order.OrderDone)
	if err != nil {
		p.logger.Warn("Buy order failed", "error", err)
		p.transition(StateBuyOrderFailed)
		return
	}
	p.setBuy(buy)

	switch {
	case buy.IsFilled():
		p.transition(StateBuyOrderFilled)
	case buy.IsCanceled():
		p.transition(StateBuyOrderCanceled)
		return
	default:
		p.logger.Warn("Buy order ended unexpectedly", "status", buy.Status, "done_reason", buy.DoneReason)
		p.transition(StateBuyOrderFailed)
		return
	}

	price, size := ComputeSellOrder(p.product, p.cfg, buy.FilledSize)
	p.transition(StateSellOrderPending)
	if !price.IsPositive() || !size.IsPositive() {
		p.logger.Warn("Sell order rounds to nothing", "filled_size", buy.FilledSize, "size", size, "price", price)
		p.transition(StateSellOrderFailed)
		return
	}

	sellReq := core.NewLimitOrder(p.SellClientOID(), p.product.ID, core.OrderSideSell, price, size)
	sell, err := p.executor.Execute(ctx, sellReq, order.OrderNotPending)
	if err != nil {
		p.logger.Warn("Sell order failed", "error", err)
		p.transition(StateSellOrderFailed)
		return
	}
	p.setSell(sell)

	switch {
	case sell.Status == core.OrderStatusOpen:
		p.transition(StateSellOrderOpen)
	case sell.IsFilled():
		p.transition(StateSellOrderFilled)
	case sell.IsCanceled():
		p.transition(StateSellOrderCanceled)
	default:
		p.logger.Warn("Sell order ended unexpectedly", "status", sell.Status, "done_reason", sell.DoneReason)
		p.transition(StateSellOrderFailed)
	}
}

func (p *Position) setBuy(o core.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buy = &o
}

func (p *Position) setSell(o core.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sell = &o
}

func (p *Position) transition(next State) {
	p.mu.Lock()
	if !p.state.CanTransition(next) {
		p.mu.Unlock()
		p.logger.Error("Illegal transition ignored", "from", p.state, "to", next)
		return
	}
	tr := Transition{From: p.state, To: next, At: p.now()}
	if n := len(p.log); n > 0 && tr.At.Before(p.log[n-1].At) {
		tr.At = p.log[n-1].At
	}
	p.log = append(p.log, tr)
	p.state = next
	p.mu.Unlock()

	p.logger.Info("Position transition", "from", tr.From, "to", tr.To)
	if p.listener != nil {
		p.listener(p.id, p.product.ID, tr)
	}
}

// ComputeSellOrder prices the limit sell so that its proceeds cover the buy
// funds plus fee. Funds and price round up, size rounds down.
func ComputeSellOrder(product core.Product, cfg core.PositionConfig, filledSize decimal.Decimal) (price, size decimal.Decimal) {
	priceScale := product.PriceScale()
	fee := decimal.NewFromInt(1).Add(cfg.FeeRate)
	funds := cfg.Funds.Mul(fee).RoundCeil(priceScale)
	size = filledSize.Mul(cfg.Sell).RoundFloor(product.SizeScale())
	if !size.IsPositive() {
		return decimal.Zero, size
	}
	price = funds.DivRound(size, priceScale+16).RoundCeil(priceScale)
	return price, size
}
