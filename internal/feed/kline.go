package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"dca-ladder-bot-go/internal/indicator"
	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// KlineURL is the combined kline stream for all pairs.
func KlineURL(wsBase, interval string, pairs []string) string {
	streams := make([]string, len(pairs))
	for i, p := range pairs {
		streams[i] = strings.ToLower(p) + "@kline_" + interval
	}
	return fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(wsBase, "/"), strings.Join(streams, "/"))
}

type combinedEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

// ParseKline decodes a kline event, bare or wrapped in a combined stream
// envelope. closed is false while the bar is still forming.
func ParseKline(message []byte) (t models.Ticker, closed bool, err error) {
	var env combinedEvent
	if err := json.Unmarshal(message, &env); err == nil && len(env.Data) > 0 {
		message = env.Data
	}

	var ev klineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return t, false, fmt.Errorf("decode kline: %w", err)
	}
	if ev.Event != "kline" {
		return t, false, fmt.Errorf("unexpected event %q", ev.Event)
	}

	fields := []string{ev.Kline.Open, ev.Kline.High, ev.Kline.Low, ev.Kline.Close, ev.Kline.Volume}
	values := make([]float64, len(fields))
	for i, f := range fields {
		if values[i], err = strconv.ParseFloat(f, 64); err != nil {
			return t, false, fmt.Errorf("kline %s: %w", ev.Symbol, err)
		}
	}
	return models.Ticker{
		Pair:     strings.ToUpper(ev.Symbol),
		OpenTime: ev.Kline.OpenTime,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, ev.Kline.Final, nil
}

// KlineSource supplies recent closed klines to warm the MFI window.
type KlineSource interface {
	RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Ticker, error)
}

// KlineCollector turns closed klines into stored tickers carrying the MFI.
type KlineCollector struct {
	stream   *Stream
	repo     persistence.TickerRepository
	source   KlineSource
	pairs    []string
	interval string
	period   int
	logger   *zap.Logger

	mu  sync.Mutex
	mfi map[string]*indicator.MFI
}

func NewKlineCollector(stream *Stream, repo persistence.TickerRepository, source KlineSource,
	pairs []string, interval string, period int, logger *zap.Logger) *KlineCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	upper := make([]string, len(pairs))
	for i, p := range pairs {
		upper[i] = strings.ToUpper(p)
	}
	return &KlineCollector{
		stream:   stream,
		repo:     repo,
		source:   source,
		pairs:    upper,
		interval: interval,
		period:   period,
		logger:   logger,
		mfi:      make(map[string]*indicator.MFI, len(pairs)),
	}
}

// Warm seeds each pair's MFI. With a source the latest REST klines are
// replayed and stored; otherwise the stored tickers are replayed.
func (c *KlineCollector) Warm(ctx context.Context) error {
	for _, pair := range c.pairs {
		m := indicator.NewMFI(c.period)
		history, fromSource, err := c.history(ctx, pair)
		if err != nil {
			return err
		}
		for _, t := range history {
			t.MFI = m.Next(indicator.Bar{High: t.High, Low: t.Low, Close: t.Close, Volume: t.Volume})
			if fromSource {
				if err := c.repo.SaveTicker(t); err != nil {
					return models.StorageError("save ticker "+pair, err)
				}
			}
		}
		c.mu.Lock()
		c.mfi[pair] = m
		c.mu.Unlock()
		c.logger.Info("MFI window warmed", zap.String("pair", pair), zap.Int("bars", len(history)), zap.Float64("mfi", m.Value()))
	}
	return nil
}

// history returns the warmup bars oldest first.
func (c *KlineCollector) history(ctx context.Context, pair string) ([]models.Ticker, bool, error) {
	limit := c.period * 3
	if c.source != nil {
		tickers, err := c.source.RecentKlines(ctx, pair, c.interval, limit)
		if err == nil {
			return tickers, true, nil
		}
		c.logger.Warn("REST warmup failed, replaying stored tickers", zap.String("pair", pair), zap.Error(err))
	}

	stored, err := c.repo.LatestTickers(pair, limit)
	if err != nil {
		return nil, false, models.StorageError("load tickers "+pair, err)
	}
	for i, j := 0, len(stored)-1; i < j; i, j = i+1, j-1 {
		stored[i], stored[j] = stored[j], stored[i]
	}
	return stored, false, nil
}

// Handle processes one stream message. Forming bars are ignored.
func (c *KlineCollector) Handle(message []byte) error {
	t, closed, err := ParseKline(message)
	if err != nil || !closed {
		return err
	}

	c.mu.Lock()
	m, ok := c.mfi[t.Pair]
	if !ok {
		m = indicator.NewMFI(c.period)
		c.mfi[t.Pair] = m
	}
	t.MFI = m.Next(indicator.Bar{High: t.High, Low: t.Low, Close: t.Close, Volume: t.Volume})
	c.mu.Unlock()

	if err := c.repo.SaveTicker(t); err != nil {
		c.logger.Error("failed to store ticker", zap.String("pair", t.Pair), zap.Error(err))
		return models.StorageError("save ticker "+t.Pair, err)
	}
	c.logger.Debug("kline closed",
		zap.String("pair", t.Pair), zap.Float64("close", t.Close), zap.Float64("volume", t.Volume), zap.Float64("mfi", t.MFI))
	return nil
}

// Run warms the window and then collects until ctx is cancelled.
func (c *KlineCollector) Run(ctx context.Context) error {
	if err := c.Warm(ctx); err != nil {
		return err
	}
	return c.stream.Run(ctx, c.Handle)
}

// Backfill stores historical bars, oldest first, with their MFI computed over
// a fresh window of the given period.
func Backfill(repo persistence.TickerRepository, history []models.Ticker, period int) (int, error) {
	m := indicator.NewMFI(period)
	for i, t := range history {
		t.MFI = m.Next(indicator.Bar{High: t.High, Low: t.Low, Close: t.Close, Volume: t.Volume})
		if err := repo.SaveTicker(t); err != nil {
			return i, models.StorageError("save ticker "+t.Pair, err)
		}
	}
	return len(history), nil
}
