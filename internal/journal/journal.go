// Package journal appends position transitions to an audit log
package journal

import (
	"context"
	"time"
)

// Entry is one recorded position transition
type Entry struct {
	PositionID string
	ProductID  string
	From       string
	To         string
	At         time.Time
}

// Journal is write-only from the trader's point of view
type Journal interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// NopJournal discards every entry
type NopJournal struct{}

func NewNopJournal() *NopJournal {
	return &NopJournal{}
}

func (NopJournal) Append(context.Context, Entry) error { return nil }
func (NopJournal) Close() error                        { return nil }
