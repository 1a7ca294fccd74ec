package runner

import (
	"context"
	"time"

	"dca-ladder-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// PriceSource provides the latest stored price and momentum of a pair.
type PriceSource interface {
	MomentumSource
	LatestPrice(pair string) (float64, error)
}

// Poller evaluates many bots one after another on a fixed cadence. A slow
// exchange call for one bot delays the bots after it in the same pass.
type Poller struct {
	bots     []Bot
	source   PriceSource
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(bots []Bot, source PriceSource, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{bots: bots, source: source, interval: interval, logger: logger}
}

// Poll runs one pass over every bot and returns the commands by bot title.
// Failures are logged per bot and do not stop the pass.
func (p *Poller) Poll(ctx context.Context) map[string]strategy.Command {
	results := make(map[string]strategy.Command, len(p.bots))
	for _, b := range p.bots {
		if ctx.Err() != nil {
			break
		}
		info := b.Info()
		logger := p.logger.With(zap.String("bot", info.Title), zap.String("pair", info.Pair))

		price, err := p.source.LatestPrice(info.Pair)
		if err != nil {
			logger.Warn("no price yet", zap.Error(err))
			continue
		}
		tick, err := buildTick(p.source, info.Pair, price)
		if err != nil {
			logger.Warn("skipping tick", zap.Error(err))
			continue
		}
		cmd, err := evaluate(ctx, b, tick, logger)
		if err != nil {
			continue
		}
		results[info.Title] = cmd
	}
	return results
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("polling bots", zap.Int("bots", len(p.bots)), zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ticker.C:
			p.Poll(ctx)
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		}
	}
}

// Titles lists the bots driven by the poller.
func (p *Poller) Titles() []string {
	titles := make([]string, len(p.bots))
	for i, b := range p.bots {
		titles[i] = b.Info().Title
	}
	return titles
}
