// Package runner drives ladder bots with market data: a single bot fed by a
// live price stream, or many bots on a fixed polling cadence.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"dca-ladder-bot-go/internal/bot"
	"dca-ladder-bot-go/internal/metrics"
	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// Bot is the state machine a runner drives.
type Bot interface {
	Info() models.Bot
	Update(ctx context.Context, tick models.Tick) (strategy.Command, error)
	Quote(ctx context.Context, tick models.Tick) (bot.Quote, error)
}

// MomentumSource provides the two latest MFI samples of a pair.
type MomentumSource interface {
	LatestMFI(pair string) ([2]float64, error)
}

// Runner evaluates one bot on price events. Events are processed serially by
// a single loop, so evaluations never overlap. The quote sink sees every
// price; the bot is evaluated at most once per interval.
type Runner struct {
	bot      Bot
	momentum MomentumSource
	interval time.Duration
	logger   *zap.Logger
	events   chan float64
	now      func() time.Time

	mu       sync.Mutex
	onQuote  func(bot.Quote)
	lastEval time.Time
}

func New(b Bot, momentum MomentumSource, interval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		bot:      b,
		momentum: momentum,
		interval: interval,
		logger:   logger.With(zap.String("bot", b.Info().Title)),
		events:   make(chan float64, 64),
		now:      time.Now,
	}
}

// SetQuoteSink registers a callback receiving a quote for every price.
func (r *Runner) SetQuoteSink(fn func(bot.Quote)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onQuote = fn
}

// Dispatch queues a price for the event loop. When the loop is behind the
// price is dropped; the next one supersedes it anyway.
func (r *Runner) Dispatch(price float64) {
	select {
	case r.events <- price:
	default:
		r.logger.Debug("event loop busy, dropping price", zap.Float64("price", price))
	}
}

// Run is the event loop. It returns when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("runner started", zap.Duration("interval", r.interval))
	for {
		select {
		case price := <-r.events:
			r.HandlePrice(ctx, price)
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return
		}
	}
}

// HandlePrice processes one price synchronously and returns the command
// executed, Pause when the interval gate held the evaluation back.
func (r *Runner) HandlePrice(ctx context.Context, price float64) (strategy.Command, error) {
	pause := strategy.Command{Action: strategy.Pause}
	info := r.bot.Info()

	tick, err := buildTick(r.momentum, info.Pair, price)
	if err != nil {
		metrics.ObserveError(info.Pair, models.Kind(err))
		r.logger.Warn("skipping tick", zap.Error(err))
		return pause, err
	}

	r.mu.Lock()
	sink := r.onQuote
	due := r.lastEval.IsZero() || r.now().Sub(r.lastEval) >= r.interval
	if due {
		r.lastEval = r.now()
	}
	r.mu.Unlock()

	if sink != nil {
		if q, err := r.bot.Quote(ctx, tick); err == nil {
			sink(q)
		} else {
			r.logger.Debug("quote unavailable", zap.Error(err))
		}
	}
	if !due {
		return pause, nil
	}
	return evaluate(ctx, r.bot, tick, r.logger)
}

func buildTick(momentum MomentumSource, pair string, price float64) (models.Tick, error) {
	mfi, err := momentum.LatestMFI(pair)
	if err != nil {
		return models.Tick{}, models.FeedError("momentum "+pair, err)
	}
	return models.Tick{Price: price, MFI: mfi}, nil
}

// evaluate runs one bot update and reports the outcome.
func evaluate(ctx context.Context, b Bot, tick models.Tick, logger *zap.Logger) (strategy.Command, error) {
	cmd, err := b.Update(ctx, tick)
	if err != nil {
		fields := []zap.Field{zap.String("kind", models.Kind(err)), zap.Float64("price", tick.Price), zap.Error(err)}
		if errors.Is(err, models.ErrStorage) {
			logger.Error("evaluation failed", fields...)
		} else {
			logger.Warn("evaluation failed, retrying on next tick", fields...)
		}
		return cmd, err
	}
	if cmd.Action != strategy.Pause {
		logger.Info("command executed",
			zap.String("command", cmd.Action.String()),
			zap.Float64("amount", cmd.Amount),
			zap.Float64("price", tick.Price))
	}
	return cmd, nil
}
