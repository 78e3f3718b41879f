package alert

import (
	"context"
	"sync"
	"time"

	"position_trader/internal/core"
	"position_trader/internal/trading/position"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager fans alerts out to every channel without blocking the caller
type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
	inflight sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Channels returns the number of configured channels
func (am *AlertManager) Channels() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until every dispatched alert has been sent or has failed
func (am *AlertManager) Wait() {
	am.inflight.Wait()
}

// OnTransition alerts on positions that end without a resting sell and on
// positions that close. It matches position.TransitionListener.
func (am *AlertManager) OnTransition(positionID, productID string, tr position.Transition) {
	var (
		level AlertLevel
		title string
	)
	switch tr.To {
	case position.StateBuyOrderFailed, position.StateSellOrderFailed:
		level, title = Error, "Position failed"
	case position.StateBuyOrderCanceled, position.StateSellOrderCanceled:
		level, title = Warning, "Position canceled"
	case position.StateSellOrderFilled:
		level, title = Info, "Position closed"
	default:
		return
	}

	am.Alert(context.Background(), title, productID+" position "+positionID+" reached "+string(tr.To), level, map[string]string{
		"position_id": positionID,
		"product_id":  productID,
		"from":        string(tr.From),
		"to":          string(tr.To),
	})
}
