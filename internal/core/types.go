package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the exchange-reported lifecycle status of an order.
// Values other than the constants below are passed through unchanged.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusOpen    OrderStatus = "open"
	OrderStatusDone    OrderStatus = "done"
)

// DoneReason explains why a done order left the book
type DoneReason string

const (
	DoneReasonNone     DoneReason = ""
	DoneReasonFilled   DoneReason = "filled"
	DoneReasonCanceled DoneReason = "canceled"
)

// OrderSide is buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes the two supported request variants
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Product is the static reference data of a tradable instrument.
type Product struct {
	ID             string          `json:"id"`
	BaseCurrency   string          `json:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency"`
	PriceIncrement decimal.Decimal `json:"price_increment"`
	SizeIncrement  decimal.Decimal `json:"size_increment"`
}

// PriceScale is the number of decimal places implied by the price increment
func (p Product) PriceScale() int32 {
	return incrementScale(p.PriceIncrement)
}

// SizeScale is the number of decimal places implied by the size increment
func (p Product) SizeScale() int32 {
	return incrementScale(p.SizeIncrement)
}

func incrementScale(inc decimal.Decimal) int32 {
	// "0.01000000" carries exponent -8 but the increment is two places
	normalized, err := decimal.NewFromString(inc.String())
	if err != nil || normalized.Exponent() >= 0 {
		return 0
	}
	return -normalized.Exponent()
}

// Order is an immutable snapshot of an exchange order
type Order struct {
	ID         string          `json:"id"`
	ClientOID  string          `json:"client_oid,omitempty"`
	ProductID  string          `json:"product_id"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Status     OrderStatus     `json:"status"`
	DoneReason DoneReason      `json:"done_reason,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Funds      decimal.Decimal `json:"funds"`
	FilledSize decimal.Decimal `json:"filled_size"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsFilled reports a done order whose reason is filled
func (o Order) IsFilled() bool {
	return o.Status == OrderStatusDone && o.DoneReason == DoneReasonFilled
}

// IsCanceled reports a done order whose reason is canceled
func (o Order) IsCanceled() bool {
	return o.Status == OrderStatusDone && o.DoneReason == DoneReasonCanceled
}

// OrderRequest is the write view of an order. Market requests carry Funds,
// limit requests carry Price and Size.
type OrderRequest struct {
	ClientOID string          `json:"client_oid"`
	ProductID string          `json:"product_id"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"type"`
	Funds     decimal.Decimal `json:"funds"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

// NewMarketOrder builds a market request spending funds of the quote currency
func NewMarketOrder(clientOID, productID string, side OrderSide, funds decimal.Decimal) OrderRequest {
	return OrderRequest{
		ClientOID: clientOID,
		ProductID: productID,
		Side:      side,
		Type:      OrderTypeMarket,
		Funds:     funds,
	}
}

// NewLimitOrder builds a limit request for size at price
func NewLimitOrder(clientOID, productID string, side OrderSide, price, size decimal.Decimal) OrderRequest {
	return OrderRequest{
		ClientOID: clientOID,
		ProductID: productID,
		Side:      side,
		Type:      OrderTypeLimit,
		Price:     price,
		Size:      size,
	}
}

// Validate checks that the fields required by the request variant are set
func (r OrderRequest) Validate() error {
	if r.ProductID == "" {
		return fmt.Errorf("order request: product id is required")
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return fmt.Errorf("order request: invalid side %q", r.Side)
	}
	switch r.Type {
	case OrderTypeMarket:
		if !r.Funds.IsPositive() {
			return fmt.Errorf("order request: market order needs positive funds, got %s", r.Funds)
		}
	case OrderTypeLimit:
		if !r.Price.IsPositive() || !r.Size.IsPositive() {
			return fmt.Errorf("order request: limit order needs positive price and size, got %s @ %s", r.Size, r.Price)
		}
	default:
		return fmt.Errorf("order request: unsupported type %q", r.Type)
	}
	return nil
}

// Account is a balance held in a single currency
type Account struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Hold      decimal.Decimal `json:"hold"`
}

// PriceTick is the latest ticker message for one instrument
type PriceTick struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Open24h   decimal.Decimal `json:"open_24h"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Time      time.Time       `json:"time"`
}

// PositionConfig is the per-instrument trading configuration
type PositionConfig struct {
	ProductID string
	Max       int
	Funds     decimal.Decimal
	FeeRate   decimal.Decimal
	Sell      decimal.Decimal
	Strategy  string
}
