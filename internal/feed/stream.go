// Package feed delivers market data from Binance WebSocket streams: last
// prices for the tick driver and closed klines for the momentum collector.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dca-ladder-bot-go/internal/metrics"
	"dca-ladder-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// StreamConfig controls one WebSocket subscription.
type StreamConfig struct {
	Name         string // label used in logs and metrics
	URL          string
	MaxAttempts  int // consecutive failed connections before giving up
	MinDelay     time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// StreamConfigFrom fills the reconnect and heartbeat policy from the app config.
func StreamConfigFrom(cfg *models.Config, name, url string) StreamConfig {
	return StreamConfig{
		Name:         name,
		URL:          url,
		MaxAttempts:  cfg.ReconnectAttempts,
		MinDelay:     time.Duration(cfg.ReconnectMinDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.ReconnectMaxDelayMs) * time.Millisecond,
		PingInterval: time.Duration(cfg.WebSocketPingIntervalSec) * time.Second,
		PongTimeout:  time.Duration(cfg.WebSocketPongTimeoutSec) * time.Second,
	}
}

// Stream is a self-healing WebSocket reader. Reconnects are bounded by
// MaxAttempts consecutive failures and spaced by jittered exponential backoff.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewStream(cfg StreamConfig, logger *zap.Logger) *Stream {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.With(zap.String("stream", cfg.Name)),
	}
}

// Run reads messages and hands each one to handle until ctx is cancelled
// (returns nil) or the reconnect budget is exhausted (returns an ErrFeed).
// A handler error is logged and the message dropped.
func (s *Stream) Run(ctx context.Context, handle func([]byte) error) error {
	b := &backoff.Backoff{Min: s.cfg.MinDelay, Max: s.cfg.MaxDelay, Factor: 2, Jitter: true}
	failures := 0

	for {
		received := false
		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err == nil {
			s.logger.Info("WebSocket connected", zap.String("url", s.cfg.URL))
			received, err = s.serve(ctx, conn, handle)
		}
		if ctx.Err() != nil {
			return nil
		}

		// Only connections that never delivered data count against the budget.
		if received {
			failures = 0
			b.Reset()
		} else {
			failures++
			if failures >= s.cfg.MaxAttempts {
				return models.FeedError("stream "+s.cfg.Name, fmt.Errorf("gave up after %d attempts: %w", failures, err))
			}
		}
		wait := b.Duration()
		metrics.ObserveReconnect(s.cfg.Name)
		s.logger.Warn("WebSocket disconnected, reconnecting",
			zap.Error(err), zap.Int("attempt", failures), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// serve pumps one connection. received reports whether any data message
// arrived, which marks the connection as healthy for the retry budget.
func (s *Stream) serve(ctx context.Context, conn *websocket.Conn, handle func([]byte) error) (received bool, err error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					s.logger.Debug("ping failed", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// Unblocks ReadMessage with a close frame.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return received, errors.New("connection closed")
			}
			return received, err
		}
		received = true
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if err := handle(message); err != nil {
			s.logger.Warn("dropping message", zap.Error(err))
		}
	}
}
