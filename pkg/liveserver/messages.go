package liveserver

import (
	"time"

	"position_trader/internal/core"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypeTick       = "tick"
	TypeTransition = "transition"
)

// TransitionEvent is a position state change as pushed to clients
type TransitionEvent struct {
	PositionID string    `json:"position_id"`
	ProductID  string    `json:"product_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type: msgType,
		Data: data,
	}
}

func NewTickMessage(tick core.PriceTick) Message {
	return NewMessage(TypeTick, tick)
}

func NewTransitionMessage(ev TransitionEvent) Message {
	return NewMessage(TypeTransition, ev)
}
