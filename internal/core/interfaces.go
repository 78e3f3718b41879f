// Package core defines the domain types and interfaces shared by the position trader
package core

import (
	"context"
)

// IExchange is the REST capability surface consumed from the exchange.
// GetProduct and GetOrder return apperrors.ErrProductNotFound and
// apperrors.ErrOrderNotFound respectively when the id is unknown.
type IExchange interface {
	GetName() string

	GetProduct(ctx context.Context, id string) (Product, error)
	GetAccounts(ctx context.Context) ([]Account, error)

	GetOrders(ctx context.Context) ([]Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	PostOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// IStreamCodec translates between the exchange stream protocol and domain types
type IStreamCodec interface {
	// SubscribeMessage returns the authenticated subscription for the given instruments
	SubscribeMessage(productIDs []string) (interface{}, error)
	// DecodeTick returns ok=false for messages that are not ticker updates
	DecodeTick(message []byte) (tick PriceTick, ok bool, err error)
}

// ITickSource provides the latest cached tick per instrument
type ITickSource interface {
	Tick(productID string) (PriceTick, bool)
	IsStale(tick PriceTick) bool
}

// IStrategy decides whether a new position should be opened for an instrument
type IStrategy interface {
	Name() string
	OpenPosition(ctx context.Context, productID string) (bool, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
