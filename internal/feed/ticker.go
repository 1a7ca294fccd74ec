package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"dca-ladder-bot-go/internal/models"

	"go.uber.org/zap"
)

// TickerURL is the single-symbol 24h ticker stream.
func TickerURL(wsBase, pair string) string {
	return fmt.Sprintf("%s/ws/%s@ticker", strings.TrimRight(wsBase, "/"), strings.ToLower(pair))
}

type tickerEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// ParseTicker extracts the last price from a 24h ticker event.
func ParseTicker(message []byte) (string, float64, error) {
	var ev tickerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return "", 0, fmt.Errorf("decode ticker: %w", err)
	}
	if ev.Event != "24hrTicker" {
		return "", 0, fmt.Errorf("unexpected event %q", ev.Event)
	}
	price, err := strconv.ParseFloat(ev.Close, 64)
	if err != nil || price <= 0 {
		return "", 0, fmt.Errorf("invalid last price %q", ev.Close)
	}
	return ev.Symbol, price, nil
}

// TickerFeed streams last prices for one pair.
type TickerFeed struct {
	stream *Stream
}

func NewTickerFeed(cfg *models.Config, pair string, logger *zap.Logger) *TickerFeed {
	sc := StreamConfigFrom(cfg, "ticker:"+strings.ToUpper(pair), TickerURL(cfg.WSBaseURL, pair))
	return &TickerFeed{stream: NewStream(sc, logger)}
}

// NewTickerFeedWithStream wraps an already configured stream.
func NewTickerFeedWithStream(s *Stream) *TickerFeed {
	return &TickerFeed{stream: s}
}

// Run calls onPrice for every price update until ctx is cancelled or the
// stream gives up. onPrice runs on the read loop, so ticks never overlap.
func (f *TickerFeed) Run(ctx context.Context, onPrice func(ctx context.Context, price float64)) error {
	return f.stream.Run(ctx, func(message []byte) error {
		_, price, err := ParseTicker(message)
		if err != nil {
			return err
		}
		onPrice(ctx, price)
		return nil
	})
}
