// Package coinbase implements the exchange capability surface against the Coinbase Exchange REST and feed APIs
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"position_trader/internal/config"
	"position_trader/internal/core"
	apperrors "position_trader/pkg/errors"
	pkghttp "position_trader/pkg/http"

	"golang.org/x/time/rate"
)

const exchangeName = "coinbase"

// Exchange implements core.IExchange for Coinbase
type Exchange struct {
	public    *pkghttp.Client
	private   *pkghttp.Client
	limiter   *rate.Limiter
	signer    *Signer
	profileID string
	logger    core.ILogger
}

// NewExchange builds REST clients for cfg. Public product lookups are unsigned.
func NewExchange(cfg *config.ExchangeConfig, opts pkghttp.Options, logger core.ILogger) (*Exchange, error) {
	signer, err := NewSigner(string(cfg.APIKey), string(cfg.SecretKey), string(cfg.Passphrase))
	if err != nil {
		return nil, err
	}

	return &Exchange{
		public:    pkghttp.NewClient(cfg.BaseURL, opts, nil),
		private:   pkghttp.NewClient(cfg.BaseURL, opts, signer),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		signer:    signer,
		profileID: cfg.ProfileID,
		logger:    logger.WithField("exchange", exchangeName),
	}, nil
}

func (e *Exchange) GetName() string {
	return exchangeName
}

// FeedCodec returns a websocket codec sharing this exchange's credentials
func (e *Exchange) FeedCodec() *FeedCodec {
	return NewFeedCodec(e.signer)
}

// GetProduct returns apperrors.ErrProductNotFound for unknown ids
func (e *Exchange) GetProduct(ctx context.Context, id string) (core.Product, error) {
	body, err := e.public.Get(ctx, "/products/"+url.PathEscape(id), nil)
	if err != nil {
		return core.Product{}, e.mapError("getProduct", err, apperrors.ErrProductNotFound)
	}

	var resp productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Product{}, fmt.Errorf("getProduct: decode: %w", err)
	}
	return resp.toCore(), nil
}

func (e *Exchange) GetAccounts(ctx context.Context) ([]core.Account, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := e.private.Get(ctx, "/accounts", nil)
	if err != nil {
		return nil, e.mapError("getAccounts", err, nil)
	}

	var resp []accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("getAccounts: decode: %w", err)
	}
	accounts := make([]core.Account, 0, len(resp))
	for _, a := range resp {
		accounts = append(accounts, a.toCore())
	}
	return accounts, nil
}

// GetOrders lists the outstanding (open, pending and active) orders
func (e *Exchange) GetOrders(ctx context.Context) ([]core.Order, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := e.private.Get(ctx, "/orders", nil)
	if err != nil {
		return nil, e.mapError("getOrders", err, nil)
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("getOrders: decode: %w", err)
	}
	orders := make([]core.Order, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, o.toCore())
	}
	return orders, nil
}

// GetOrder returns apperrors.ErrOrderNotFound for unknown ids. It issues exactly
// one request; polling callers own the retry budget.
func (e *Exchange) GetOrder(ctx context.Context, id string) (core.Order, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return core.Order{}, err
	}
	body, err := e.private.GetOnce(ctx, "/orders/"+url.PathEscape(id), nil)
	if err != nil {
		return core.Order{}, e.mapError("getOrder", err, apperrors.ErrOrderNotFound)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("getOrder: decode: %w", err)
	}
	return resp.toCore(), nil
}

// PostOrder submits req once; the HTTP layer does not retry writes
func (e *Exchange) PostOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	if err := req.Validate(); err != nil {
		return core.Order{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrderParameter, err)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return core.Order{}, err
	}

	e.logger.Info("Posting order",
		"client_oid", req.ClientOID,
		"product_id", req.ProductID,
		"side", req.Side,
		"type", req.Type)

	body, err := e.private.Post(ctx, "/orders", newOrderRequest(req, e.profileID))
	if err != nil {
		return core.Order{}, e.mapError("postOrder", err, nil)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("postOrder: decode: %w", err)
	}
	return resp.toCore(), nil
}

// mapError translates transport and status errors into apperrors sentinels.
// notFound is used for 404 when the call has a not-found meaning.
func (e *Exchange) mapError(op string, err error, notFound error) error {
	var apiErr *pkghttp.APIError
	if !errors.As(err, &apiErr) {
		if apperrors.IsTransient(err) {
			return fmt.Errorf("%s: %w: %v", op, apperrors.ErrTransientAPI, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var msg errorResponse
	_ = json.Unmarshal(apiErr.Body, &msg)
	e.logger.Debug("Exchange call failed", "op", op, "status", apiErr.StatusCode, "message", msg.Message)

	switch {
	case apiErr.StatusCode == http.StatusNotFound && notFound != nil:
		return fmt.Errorf("%s: %w", op, notFound)
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, apperrors.ErrAuthenticationFailed, msg.Message)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrTransientAPI, apperrors.ErrRateLimitExceeded)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%s: %w: status %d", op, apperrors.ErrTransientAPI, apiErr.StatusCode)
	case apiErr.StatusCode == http.StatusBadRequest && msg.Message == "Insufficient funds":
		return fmt.Errorf("%s: %w", op, apperrors.ErrInsufficientFunds)
	case apiErr.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %s", op, apperrors.ErrOrderRejected, msg.Message)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
