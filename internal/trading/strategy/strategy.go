// Package strategy decides whether a new position should be opened for an instrument
package strategy

import (
	"context"
)

const (
	NameAlwaysOpen = "alwaysOpen"
	NameNeverOpen  = "neverOpen"
	NameDayRange   = "dayRange"
)

// AlwaysOpen approves every request
type AlwaysOpen struct{}

func (AlwaysOpen) Name() string { return NameAlwaysOpen }

func (AlwaysOpen) OpenPosition(ctx context.Context, productID string) (bool, error) {
	return true, nil
}

// NeverOpen refuses every request, which parks an instrument through config
type NeverOpen struct{}

func (NeverOpen) Name() string { return NameNeverOpen }

func (NeverOpen) OpenPosition(ctx context.Context, productID string) (bool, error) {
	return false, nil
}
