package strategy

import (
	"fmt"

	"dca-ladder-bot-go/internal/models"
)

// Ladder is the dollar-cost-averaging strategy: one entry, then a fixed
// sequence of averaging-down rungs, closed by a take-profit with pullback.
type Ladder struct {
	cfg models.StrategyConfig
}

// NewLadder validates cfg and returns the strategy.
func NewLadder(cfg models.StrategyConfig) (*Ladder, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Ladder{cfg: cfg}, nil
}

// Rungs returns the number of averaging-down rungs.
func (l *Ladder) Rungs() int {
	return len(l.cfg.MarginLadder)
}

// Decide implements Strategy. Rules are checked in order: entry while
// waiting, then take-profit, then the next rung.
func (l *Ladder) Decide(price float64, s Session) Command {
	if s.Status != models.StatusOpen {
		if l.shouldOpen(l.cfg.Entry, PercentChange(s.TopPrice, price), price, s) {
			return Command{Action: Entry, Amount: l.cfg.FirstBuyIn}
		}
		return Command{Action: Pause}
	}

	tp := l.cfg.TakeProfit
	if PercentChange(s.AvgPrice, price) > tp.PriceChangeAbove &&
		PercentChange(s.TopPrice, price) < tp.PriceCallback {
		return Command{Action: Sell}
	}

	if s.MarginPosition >= 0 && s.MarginPosition < len(l.cfg.MarginLadder) {
		rung := l.cfg.MarginLadder[s.MarginPosition]
		if l.shouldOpen(rung, PercentChange(s.AvgPrice, price), price, s) {
			return Command{Action: Buy, Amount: rung.AmountRatio * l.cfg.FirstBuyIn}
		}
	}
	return Command{Action: Pause}
}

// shouldOpen is the gate shared by entry and rungs. drop is the price change
// against the reference level (top when waiting, average cost when open).
func (l *Ladder) shouldOpen(c models.OpenCriteria, drop, price float64, s Session) bool {
	return drop < c.PriceChangeBelow &&
		PercentChange(s.BottomPrice, price) > c.PriceCallback &&
		s.MFI < c.MFIBelow &&
		MFIBottomChange(s.MFI, s.BottomMFI) > c.MFICallback &&
		s.MFIDir == Up
}

// ValidateConfig rejects configurations the ladder cannot run with.
func ValidateConfig(cfg models.StrategyConfig) error {
	if cfg.FirstBuyIn <= 0 {
		return models.ConfigurationError("first_buy_in must be positive, got %v", cfg.FirstBuyIn)
	}
	if err := validateOpen("entry", cfg.Entry, false); err != nil {
		return err
	}
	for i, rung := range cfg.MarginLadder {
		if err := validateOpen(fmt.Sprintf("margin rung %d", i), rung, true); err != nil {
			return err
		}
	}
	return nil
}

func validateOpen(name string, c models.OpenCriteria, needRatio bool) error {
	if c.MFIBelow < 0 || c.MFIBelow > 100 {
		return models.ConfigurationError("%s: mfi_below must be within [0,100], got %v", name, c.MFIBelow)
	}
	if c.MFICallback < 0 || c.MFICallback > 100 {
		return models.ConfigurationError("%s: mfi_callback must be within [0,100], got %v", name, c.MFICallback)
	}
	if needRatio && c.AmountRatio <= 0 {
		return models.ConfigurationError("%s: amount_ratio must be positive, got %v", name, c.AmountRatio)
	}
	return nil
}
