// Package product caches instrument reference data loaded at startup
package product

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"position_trader/internal/core"
	apperrors "position_trader/pkg/errors"

	"golang.org/x/sync/errgroup"
)

// Repository is write-once at Load and read-only afterwards
type Repository struct {
	mu       sync.RWMutex
	products map[string]core.Product
	logger   core.ILogger
}

func NewRepository(logger core.ILogger) *Repository {
	return &Repository{
		products: make(map[string]core.Product),
		logger:   logger.WithField("component", "product_repository"),
	}
}

// Load fetches every product concurrently. An id the exchange does not know
// is skipped with a warning; any other failure aborts the load.
func (r *Repository) Load(ctx context.Context, exchange core.IExchange, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*core.Product, len(ids))

	for i, id := range ids {
		g.Go(func() error {
			p, err := exchange.GetProduct(gctx, id)
			if err != nil {
				if errors.Is(err, apperrors.ErrProductNotFound) {
					r.logger.Warn("Product not listed on exchange", "product_id", id)
					return nil
				}
				return fmt.Errorf("load product %s: %w", id, err)
			}
			results[i] = &p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range results {
		if p == nil {
			continue
		}
		r.products[p.ID] = *p
		r.logger.Info("Loaded product",
			"product_id", p.ID,
			"price_increment", p.PriceIncrement.String(),
			"size_increment", p.SizeIncrement.String())
	}
	return nil
}

// Product returns the reference data for id or apperrors.ErrUnknownInstrument
func (r *Repository) Product(id string) (core.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return core.Product{}, fmt.Errorf("%s: %w", id, apperrors.ErrUnknownInstrument)
	}
	return p, nil
}

// Products returns all cached products ordered by id
func (r *Repository) Products() []core.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
