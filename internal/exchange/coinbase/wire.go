package coinbase

import (
	"time"

	"position_trader/internal/core"

	"github.com/shopspring/decimal"
)

type productResponse struct {
	ID             string `json:"id"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	QuoteIncrement string `json:"quote_increment"`
	BaseIncrement  string `json:"base_increment"`
}

func (p productResponse) toCore() core.Product {
	return core.Product{
		ID:             p.ID,
		BaseCurrency:   p.BaseCurrency,
		QuoteCurrency:  p.QuoteCurrency,
		PriceIncrement: parseDecimal(p.QuoteIncrement),
		SizeIncrement:  parseDecimal(p.BaseIncrement),
	}
}

type orderResponse struct {
	ID         string `json:"id"`
	ClientOID  string `json:"client_oid"`
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	DoneReason string `json:"done_reason"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Funds      string `json:"funds"`
	FilledSize string `json:"filled_size"`
	CreatedAt  string `json:"created_at"`
}

func (o orderResponse) toCore() core.Order {
	created, _ := time.Parse(time.RFC3339Nano, o.CreatedAt)
	return core.Order{
		ID:         o.ID,
		ClientOID:  o.ClientOID,
		ProductID:  o.ProductID,
		Side:       core.OrderSide(o.Side),
		Type:       core.OrderType(o.Type),
		Status:     core.OrderStatus(o.Status),
		DoneReason: core.DoneReason(o.DoneReason),
		Price:      parseDecimal(o.Price),
		Size:       parseDecimal(o.Size),
		Funds:      parseDecimal(o.Funds),
		FilledSize: parseDecimal(o.FilledSize),
		CreatedAt:  created,
	}
}

type orderRequest struct {
	ClientOID string `json:"client_oid,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Funds     string `json:"funds,omitempty"`
	Price     string `json:"price,omitempty"`
	Size      string `json:"size,omitempty"`
}

func newOrderRequest(req core.OrderRequest, profileID string) orderRequest {
	out := orderRequest{
		ClientOID: req.ClientOID,
		ProfileID: profileID,
		ProductID: req.ProductID,
		Side:      string(req.Side),
		Type:      string(req.Type),
	}
	switch req.Type {
	case core.OrderTypeMarket:
		out.Funds = req.Funds.String()
	case core.OrderTypeLimit:
		out.Price = req.Price.String()
		out.Size = req.Size.String()
	}
	return out
}

type accountResponse struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

func (a accountResponse) toCore() core.Account {
	return core.Account{
		ID:        a.ID,
		Currency:  a.Currency,
		Balance:   parseDecimal(a.Balance),
		Available: parseDecimal(a.Available),
		Hold:      parseDecimal(a.Hold),
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

// subscribeMessage is sent once per connection
type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
	Signature  string   `json:"signature"`
	Key        string   `json:"key"`
	Passphrase string   `json:"passphrase"`
	Timestamp  string   `json:"timestamp"`
}

type feedMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	High24h   string `json:"high_24h"`
	Low24h    string `json:"low_24h"`
	Volume24h string `json:"volume_24h"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
