package strategy

import (
	"context"
	"fmt"

	"position_trader/internal/core"

	"github.com/shopspring/decimal"
)

// DefaultBandDivisor splits the 24h range into quarters
const DefaultBandDivisor = 4

// ProductLookup resolves instrument reference data
type ProductLookup interface {
	Product(id string) (core.Product, error)
}

// DayRange opens only when the quote balance covers the position funds and
// the last price sits strictly inside the middle of the 24h range.
type DayRange struct {
	exchange core.IExchange
	products ProductLookup
	ticks    core.ITickSource
	funds    map[string]decimal.Decimal
	divisor  decimal.Decimal
	logger   core.ILogger
}

// NewDayRange builds the policy. funds is the configured buy amount per
// instrument; divisor values below 3 fall back to DefaultBandDivisor.
func NewDayRange(exchange core.IExchange, products ProductLookup, ticks core.ITickSource, funds map[string]decimal.Decimal, divisor int, logger core.ILogger) *DayRange {
	if divisor < 3 {
		divisor = DefaultBandDivisor
	}
	return &DayRange{
		exchange: exchange,
		products: products,
		ticks:    ticks,
		funds:    funds,
		divisor:  decimal.NewFromInt(int64(divisor)),
		logger:   logger.WithField("component", "day_range_strategy"),
	}
}

func (d *DayRange) Name() string { return NameDayRange }

// OpenPosition checks the balance first; price is not evaluated when funds
// are short. Lookup errors are returned with false.
func (d *DayRange) OpenPosition(ctx context.Context, productID string) (bool, error) {
	ok, err := d.hasFunds(ctx, productID)
	if err != nil || !ok {
		return false, err
	}

	tick, found := d.ticks.Tick(productID)
	if !found {
		d.logger.Debug("No tick yet", "product_id", productID)
		return false, nil
	}
	if d.ticks.IsStale(tick) {
		d.logger.Info("Tick is stale, not opening", "product_id", productID, "tick_time", tick.Time)
		return false, nil
	}

	return d.InBand(tick), nil
}

// InBand reports low+q < price < high-q with q = (high-low)/divisor
func (d *DayRange) InBand(tick core.PriceTick) bool {
	if tick.High24h.LessThanOrEqual(tick.Low24h) {
		return false
	}
	quarter := tick.High24h.Sub(tick.Low24h).Div(d.divisor)
	lower := tick.Low24h.Add(quarter)
	upper := tick.High24h.Sub(quarter)
	return tick.Price.GreaterThan(lower) && tick.Price.LessThan(upper)
}

func (d *DayRange) hasFunds(ctx context.Context, productID string) (bool, error) {
	funds, ok := d.funds[productID]
	if !ok {
		return false, fmt.Errorf("no funds configured for %s", productID)
	}
	product, err := d.products.Product(productID)
	if err != nil {
		return false, err
	}

	accounts, err := d.exchange.GetAccounts(ctx)
	if err != nil {
		return false, fmt.Errorf("get accounts: %w", err)
	}
	for _, acct := range accounts {
		if acct.Currency != product.QuoteCurrency {
			continue
		}
		if acct.Available.GreaterThan(funds) {
			return true, nil
		}
		d.logger.Info("Insufficient quote balance",
			"product_id", productID,
			"currency", acct.Currency,
			"available", acct.Available.String(),
			"funds", funds.String())
		return false, nil
	}
	d.logger.Info("No account for quote currency", "product_id", productID, "currency", product.QuoteCurrency)
	return false, nil
}
