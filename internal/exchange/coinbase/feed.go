package coinbase

import (
	"encoding/json"
	"fmt"
	"time"

	"position_trader/internal/core"
)

const (
	feedVerifyPath = "/users/self/verify"
	tickerType     = "ticker"
)

// FeedChannels are subscribed on every connection
var FeedChannels = []string{"heartbeat", "user", tickerType}

// FeedCodec implements core.IStreamCodec for the Coinbase websocket feed
type FeedCodec struct {
	signer *Signer
}

// NewFeedCodec signs subscriptions with signer
func NewFeedCodec(signer *Signer) *FeedCodec {
	return &FeedCodec{signer: signer}
}

// SubscribeMessage is authenticated like a REST GET of /users/self/verify
func (f *FeedCodec) SubscribeMessage(productIDs []string) (interface{}, error) {
	if len(productIDs) == 0 {
		return nil, fmt.Errorf("subscribe: no products")
	}
	timestamp := f.signer.Timestamp()
	return subscribeMessage{
		Type:       "subscribe",
		ProductIDs: append([]string(nil), productIDs...),
		Channels:   append([]string(nil), FeedChannels...),
		Signature:  f.signer.Sign(timestamp, "GET", feedVerifyPath, ""),
		Key:        f.signer.key,
		Passphrase: f.signer.passphrase,
		Timestamp:  timestamp,
	}, nil
}

// DecodeTick parses ticker messages. Other message types return ok=false;
// feed "error" messages are returned as errors.
func (f *FeedCodec) DecodeTick(message []byte) (core.PriceTick, bool, error) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return core.PriceTick{}, false, fmt.Errorf("decode feed message: %w", err)
	}

	switch msg.Type {
	case tickerType:
	case "error":
		return core.PriceTick{}, false, fmt.Errorf("feed error: %s %s", msg.Message, msg.Reason)
	default:
		return core.PriceTick{}, false, nil
	}

	if msg.ProductID == "" {
		return core.PriceTick{}, false, fmt.Errorf("ticker without product_id")
	}
	tickTime, err := time.Parse(time.RFC3339Nano, msg.Time)
	if err != nil {
		return core.PriceTick{}, false, fmt.Errorf("ticker %s: bad time %q: %w", msg.ProductID, msg.Time, err)
	}

	return core.PriceTick{
		ProductID: msg.ProductID,
		Price:     parseDecimal(msg.Price),
		Open24h:   parseDecimal(msg.Open24h),
		High24h:   parseDecimal(msg.High24h),
		Low24h:    parseDecimal(msg.Low24h),
		Volume24h: parseDecimal(msg.Volume24h),
		Time:      tickTime.UTC(),
	}, true, nil
}
