// Package strategy holds the pure decision logic of the ladder bot: percent
// change, the trailing extremum tracker, the momentum gate and the margin
// ladder evaluator. Nothing here performs I/O.
package strategy

import (
	"fmt"

	"dca-ladder-bot-go/internal/models"
)

// Action is the kind of command produced by a strategy.
type Action int

const (
	Pause Action = iota
	Entry
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Pause:
		return "PAUSE"
	case Entry:
		return "ENTRY"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Command is the outcome of one decision. Amount is the quote quantity to
// spend for Entry and Buy and is zero otherwise.
type Command struct {
	Action Action
	Amount float64
}

// Session bundles everything a strategy needs besides the current price.
type Session struct {
	Status         models.PositionStatus
	AvgPrice       float64
	TopPrice       float64
	BottomPrice    float64
	MarginPosition int
	MFI            float64
	MFIDir         Direction
	BottomMFI      float64
}

// Strategy turns a price and a session into a command.
type Strategy interface {
	Decide(price float64, s Session) Command
}

// New builds the strategy registered under name.
func New(name string, cfg models.StrategyConfig) (Strategy, error) {
	switch name {
	case models.StrategyLadder:
		return NewLadder(cfg)
	default:
		return nil, models.ConfigurationError("unknown strategy %q", name)
	}
}
