// Package mock provides an in-memory exchange for tests and credential-free runs
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"position_trader/internal/core"
	apperrors "position_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// PollStep is one scripted answer to GetOrder. A non-nil Err is returned
// instead of the order; otherwise the order takes Status, DoneReason and
// FilledSize.
type PollStep struct {
	Status     core.OrderStatus
	DoneReason core.DoneReason
	FilledSize decimal.Decimal
	Err        error
}

// MockExchange implements core.IExchange. Without a script, market orders
// settle done/filled on the first poll and limit orders rest open.
type MockExchange struct {
	name           string
	mu             sync.RWMutex
	products       map[string]core.Product
	accounts       []core.Account
	prices         map[string]decimal.Decimal
	orders         map[string]*core.Order
	clientOrderMap map[string]string
	orderIDCounter int64

	scripts     map[string][]PollStep // by client id
	scriptPos   map[string]int
	postErr     error
	accountsErr error
	ordersErr   error
	extraOpen   map[string]int

	postCalls     int
	getOrderCalls map[string]int
	getOrdersCall int
}

func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:           name,
		products:       make(map[string]core.Product),
		prices:         make(map[string]decimal.Decimal),
		orders:         make(map[string]*core.Order),
		clientOrderMap: make(map[string]string),
		scripts:        make(map[string][]PollStep),
		scriptPos:      make(map[string]int),
		extraOpen:      make(map[string]int),
		getOrderCalls:  make(map[string]int),
		orderIDCounter: 1000,
	}
}

// AddProduct registers reference data
func (m *MockExchange) AddProduct(p core.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// SetAccount sets the available balance for a currency
func (m *MockExchange) SetAccount(currency string, available decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.accounts {
		if m.accounts[i].Currency == currency {
			m.accounts[i].Balance = available
			m.accounts[i].Available = available
			return
		}
	}
	m.accounts = append(m.accounts, core.Account{
		ID:        fmt.Sprintf("acct-%s", currency),
		Currency:  currency,
		Balance:   available,
		Available: available,
	})
}

// SetPrice sets the execution price used to size market fills
func (m *MockExchange) SetPrice(productID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[productID] = price
}

// ScriptOrder queues GetOrder answers for the order posted with clientOID.
// The last step repeats once the script is exhausted.
func (m *MockExchange) ScriptOrder(clientOID string, steps ...PollStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[clientOID] = steps
	m.scriptPos[clientOID] = 0
}

// SetPostError makes every PostOrder fail with err
func (m *MockExchange) SetPostError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postErr = err
}

// SetAccountsError makes GetAccounts fail with err
func (m *MockExchange) SetAccountsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountsErr = err
}

// SetOrdersError makes GetOrders fail with err
func (m *MockExchange) SetOrdersError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersErr = err
}

// SetOutstanding adds n synthetic open orders for productID to GetOrders
func (m *MockExchange) SetOutstanding(productID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extraOpen[productID] = n
}

func (m *MockExchange) GetName() string {
	return m.name
}

func (m *MockExchange) GetProduct(ctx context.Context, id string) (core.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return core.Product{}, fmt.Errorf("getProduct %s: %w", id, apperrors.ErrProductNotFound)
	}
	return p, nil
}

func (m *MockExchange) GetAccounts(ctx context.Context) ([]core.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.accountsErr != nil {
		return nil, m.accountsErr
	}
	return append([]core.Account(nil), m.accounts...), nil
}

// GetOrders returns outstanding (pending or open) orders
func (m *MockExchange) GetOrders(ctx context.Context) ([]core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrdersCall++
	if m.ordersErr != nil {
		return nil, m.ordersErr
	}

	var out []core.Order
	for _, o := range m.orders {
		if o.Status == core.OrderStatusPending || o.Status == core.OrderStatusOpen {
			out = append(out, *o)
		}
	}
	for product, n := range m.extraOpen {
		for i := 0; i < n; i++ {
			out = append(out, core.Order{
				ID:        fmt.Sprintf("external-%s-%d", product, i),
				ProductID: product,
				Side:      core.OrderSideSell,
				Type:      core.OrderTypeLimit,
				Status:    core.OrderStatusOpen,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockExchange) GetOrder(ctx context.Context, id string) (core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrderCalls[id]++

	order, ok := m.orders[id]
	if !ok {
		return core.Order{}, fmt.Errorf("getOrder %s: %w", id, apperrors.ErrOrderNotFound)
	}

	if steps, scripted := m.scripts[order.ClientOID]; scripted && len(steps) > 0 {
		pos := m.scriptPos[order.ClientOID]
		if pos >= len(steps) {
			pos = len(steps) - 1
		}
		m.scriptPos[order.ClientOID] = pos + 1
		step := steps[pos]
		if step.Err != nil {
			return core.Order{}, step.Err
		}
		order.Status = step.Status
		order.DoneReason = step.DoneReason
		order.FilledSize = step.FilledSize
		return *order, nil
	}

	m.settle(order)
	return *order, nil
}

// settle applies the default lifecycle to an unscripted order
func (m *MockExchange) settle(order *core.Order) {
	if order.Status != core.OrderStatusPending {
		return
	}
	switch order.Type {
	case core.OrderTypeMarket:
		price, ok := m.prices[order.ProductID]
		if !ok || !price.IsPositive() {
			price = decimal.NewFromInt(1)
		}
		order.Status = core.OrderStatusDone
		order.DoneReason = core.DoneReasonFilled
		order.FilledSize = order.Funds.Div(price).Truncate(8)
	case core.OrderTypeLimit:
		order.Status = core.OrderStatusOpen
	}
}

// PostOrder stores the order as pending. A repeated client id returns the
// existing order.
func (m *MockExchange) PostOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postCalls++

	if m.postErr != nil {
		return core.Order{}, m.postErr
	}
	if err := req.Validate(); err != nil {
		return core.Order{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrderParameter, err)
	}

	if req.ClientOID != "" {
		if existingID, exists := m.clientOrderMap[req.ClientOID]; exists {
			return *m.orders[existingID], nil
		}
	}

	m.orderIDCounter++
	order := &core.Order{
		ID:        fmt.Sprintf("mock-%d", m.orderIDCounter),
		ClientOID: req.ClientOID,
		ProductID: req.ProductID,
		Side:      req.Side,
		Type:      req.Type,
		Status:    core.OrderStatusPending,
		Price:     req.Price,
		Size:      req.Size,
		Funds:     req.Funds,
		CreatedAt: time.Now().UTC(),
	}
	m.orders[order.ID] = order
	if order.ClientOID != "" {
		m.clientOrderMap[order.ClientOID] = order.ID
	}
	return *order, nil
}

// OrderByClientOID returns the latest state of the order posted with clientOID
func (m *MockExchange) OrderByClientOID(clientOID string) (core.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.clientOrderMap[clientOID]
	if !ok {
		return core.Order{}, false
	}
	return *m.orders[id], true
}

// PostCalls is the number of PostOrder invocations
func (m *MockExchange) PostCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postCalls
}

// GetOrderCalls is the number of GetOrder invocations for id
func (m *MockExchange) GetOrderCalls(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrderCalls[id]
}

// GetOrdersCalls is the number of GetOrders invocations
func (m *MockExchange) GetOrdersCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrdersCall
}

// Tick synthesizes a fresh tick from the configured price with a 24h band
// of five percent either side, so price-based strategies can run offline.
func (m *MockExchange) Tick(productID string) (core.PriceTick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.prices[productID]
	if !ok {
		return core.PriceTick{}, false
	}
	band := price.Mul(decimal.RequireFromString("0.05"))
	return core.PriceTick{
		ProductID: productID,
		Price:     price,
		Open24h:   price,
		High24h:   price.Add(band),
		Low24h:    price.Sub(band),
		Time:      time.Now().UTC(),
	}, true
}

// IsStale is always false for synthesized ticks
func (m *MockExchange) IsStale(core.PriceTick) bool {
	return false
}
