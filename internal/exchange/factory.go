// Package exchange builds the venue a trader process runs against
package exchange

import (
	"fmt"
	"strings"

	"position_trader/internal/config"
	"position_trader/internal/core"
	"position_trader/internal/exchange/coinbase"
	"position_trader/internal/mock"
	pkghttp "position_trader/pkg/http"

	"github.com/shopspring/decimal"
)

// Venue is an exchange plus its source of market data. Streaming venues set
// Codec and WebsocketURL; the mock serves Ticks directly.
type Venue struct {
	Exchange     core.IExchange
	Ticks        core.ITickSource
	Codec        core.IStreamCodec
	WebsocketURL string
}

// NewVenue creates the venue named by cfg.App.Exchange
func NewVenue(cfg *config.Config, logger core.ILogger) (Venue, error) {
	name := strings.ToLower(cfg.App.Exchange)
	if name == "mock" {
		ex := NewMockVenue(cfg.ProductIDs())
		logger.Warn("Using mock exchange, no orders reach a real venue")
		return Venue{Exchange: ex, Ticks: ex}, nil
	}

	exchangeConfig, exists := cfg.Exchanges[name]
	if !exists {
		return Venue{}, fmt.Errorf("configuration not found for exchange: %s", name)
	}

	switch name {
	case "coinbase":
		ex, err := coinbase.NewExchange(&exchangeConfig, pkghttp.DefaultOptions(), logger)
		if err != nil {
			return Venue{}, fmt.Errorf("coinbase: %w", err)
		}
		return Venue{Exchange: ex, Codec: ex.FeedCodec(), WebsocketURL: exchangeConfig.WebsocketURL}, nil
	default:
		return Venue{}, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// NewMockVenue seeds a mock exchange with every product, a quote balance
// per quote currency and a fixed price
func NewMockVenue(productIDs []string) *mock.MockExchange {
	ex := mock.NewMockExchange("mock")
	quotes := make(map[string]bool)
	for _, id := range productIDs {
		base, quote, _ := strings.Cut(id, "-")
		ex.AddProduct(core.Product{
			ID:             id,
			BaseCurrency:   base,
			QuoteCurrency:  quote,
			PriceIncrement: decimal.RequireFromString("0.01"),
			SizeIncrement:  decimal.RequireFromString("0.00000001"),
		})
		ex.SetPrice(id, decimal.NewFromInt(50000))
		quotes[quote] = true
	}
	for quote := range quotes {
		ex.SetAccount(quote, decimal.NewFromInt(10000))
	}
	return ex
}
