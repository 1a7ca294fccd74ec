package strategy

import (
	"errors"
	"math"
	"testing"

	"dca-ladder-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() models.StrategyConfig {
	return models.StrategyConfig{
		FirstBuyIn: 20,
		Entry: models.OpenCriteria{
			MFIBelow:         40,
			MFICallback:      5,
			PriceChangeBelow: -1.0,
			PriceCallback:    0.3,
		},
		TakeProfit: models.CloseCriteria{
			PriceChangeAbove: 2.0,
			PriceCallback:    0.5,
		},
		MarginLadder: []models.OpenCriteria{
			{MFIBelow: 40, MFICallback: 5, PriceChangeBelow: -2.0, PriceCallback: 0.3, AmountRatio: 1},
			{MFIBelow: 35, MFICallback: 5, PriceChangeBelow: -4.0, PriceCallback: 0.3, AmountRatio: 2},
			{MFIBelow: 30, MFICallback: 5, PriceChangeBelow: -8.0, PriceCallback: 0.3, AmountRatio: 4},
		},
	}
}

func TestPercentChange(t *testing.T) {
	for _, old := range []float64{0.0001, 1, 98.5, 30000, 1e9} {
		assert.Equal(t, 0.0, PercentChange(old, old), "old=%v", old)
	}
	assert.InDelta(t, -1.5, PercentChange(100, 98.5), 1e-9)
	assert.InDelta(t, 4.0, PercentChange(100, 104), 1e-9)
	assert.InDelta(t, -0.952380, PercentChange(105, 104), 1e-6)
}

func TestPercentChangeZeroBaseline(t *testing.T) {
	assert.Equal(t, 0.0, PercentChange(0, 0))
	assert.Equal(t, 0.0, PercentChange(0, 123.45))
	assert.Equal(t, 0.0, PercentChange(0, -5))
}

func TestExtremesCollapseToAverage(t *testing.T) {
	e := Extremes{Top: 110, Bottom: 90}.Track(95, 100)
	assert.Equal(t, 100.0, e.Top)
	assert.Equal(t, 90.0, e.Bottom)
}

func TestExtremesTrack(t *testing.T) {
	tests := []struct {
		name   string
		in     Extremes
		price  float64
		avg    float64
		expect Extremes
	}{
		{"new top", Extremes{Top: 105, Bottom: 95}, 107, 100, Extremes{Top: 107, Bottom: 100}},
		{"new bottom", Extremes{Top: 105, Bottom: 95}, 93, 100, Extremes{Top: 100, Bottom: 93}},
		{"above avg snaps bottom", Extremes{Top: 105, Bottom: 95}, 102, 100, Extremes{Top: 105, Bottom: 100}},
		{"at avg holds both", Extremes{Top: 105, Bottom: 95}, 100, 100, Extremes{Top: 105, Bottom: 95}},
		{"already at avg", Extremes{Top: 100, Bottom: 100}, 99, 100, Extremes{Top: 100, Bottom: 99}},
		{"no avg keeps running extremes", Extremes{Top: 105, Bottom: 95}, 98, math.NaN(), Extremes{Top: 105, Bottom: 95}},
		{"no avg new top", Extremes{Top: 105, Bottom: 95}, 106, math.NaN(), Extremes{Top: 106, Bottom: 95}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.in.Track(tt.price, tt.avg))
		})
	}
}

func TestTrackBottomMFI(t *testing.T) {
	assert.Equal(t, 55.0, TrackBottomMFI(30, 55), "overbought reset")
	assert.Equal(t, 25.0, TrackBottomMFI(30, 25), "new floor")
	assert.Equal(t, 30.0, TrackBottomMFI(30, 40), "floor held")
	assert.Equal(t, 30.0, TrackBottomMFI(30, 50), "50 is not overbought")
	assert.Equal(t, 50.5, TrackBottomMFI(10, 50.5))
}

func TestTrackBottomMFINonIncreasingBelowOverbought(t *testing.T) {
	bottom := 45.0
	for _, mfi := range []float64{44, 48, 30, 41, 29, 50, 35} {
		next := TrackBottomMFI(bottom, mfi)
		assert.LessOrEqual(t, next, bottom)
		bottom = next
	}
	assert.Equal(t, 29.0, bottom)
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, Up, DirectionOf(35, 30))
	assert.Equal(t, Down, DirectionOf(30, 35))
	assert.Equal(t, Down, DirectionOf(30, 30))
	assert.Equal(t, "UP", Up.String())
	assert.Equal(t, "DOWN", Down.String())
}

func TestDecideEntry(t *testing.T) {
	l, err := NewLadder(testConfig())
	require.NoError(t, err)

	s := Session{
		Status:      models.StatusWait,
		TopPrice:    100,
		BottomPrice: 98,
		MFI:         35,
		BottomMFI:   25,
		MFIDir:      Up,
	}
	assert.Equal(t, Command{Action: Entry, Amount: 20}, l.Decide(98.5, s))

	down := s
	down.MFIDir = Down
	assert.Equal(t, Command{Action: Pause}, l.Decide(98.5, down), "falling momentum")

	shallow := s
	shallow.TopPrice = 99
	assert.Equal(t, Command{Action: Pause}, l.Decide(98.5, shallow), "drop too small")

	noBounce := s
	noBounce.BottomPrice = 98.4
	assert.Equal(t, Command{Action: Pause}, l.Decide(98.5, noBounce), "no callback off the bottom")

	hot := s
	hot.MFI = 41
	assert.Equal(t, Command{Action: Pause}, l.Decide(98.5, hot), "mfi above threshold")

	flat := s
	flat.BottomMFI = 31
	assert.Equal(t, Command{Action: Pause}, l.Decide(98.5, flat), "mfi not recovered")
}

func TestDecideEntryWithZeroBaselinePauses(t *testing.T) {
	l, err := NewLadder(testConfig())
	require.NoError(t, err)

	s := Session{Status: models.StatusWait, MFI: 35, BottomMFI: 25, MFIDir: Up}
	assert.Equal(t, Command{Action: Pause}, l.Decide(98.5, s))
}

func TestDecideSell(t *testing.T) {
	l, err := NewLadder(testConfig())
	require.NoError(t, err)

	s := Session{
		Status:      models.StatusOpen,
		AvgPrice:    100,
		TopPrice:    105,
		BottomPrice: 100,
		MFI:         60,
		BottomMFI:   60,
		MFIDir:      Down,
	}
	assert.Equal(t, Command{Action: Sell}, l.Decide(104, s))

	below := s
	assert.Equal(t, Command{Action: Pause}, l.Decide(101.5, below), "profit threshold not reached")
}

func TestDecideSellBeforeBuy(t *testing.T) {
	cfg := testConfig()
	cfg.MarginLadder[0].PriceChangeBelow = 50
	cfg.MarginLadder[0].PriceCallback = -50
	l, err := NewLadder(cfg)
	require.NoError(t, err)

	s := Session{
		Status:      models.StatusOpen,
		AvgPrice:    100,
		TopPrice:    105,
		BottomPrice: 100,
		MFI:         35,
		BottomMFI:   25,
		MFIDir:      Up,
	}
	assert.Equal(t, Sell, l.Decide(104, s).Action)
}

func TestDecideBuyUsesCurrentRung(t *testing.T) {
	l, err := NewLadder(testConfig())
	require.NoError(t, err)

	s := Session{
		Status:         models.StatusOpen,
		AvgPrice:       100,
		TopPrice:       100,
		BottomPrice:    97,
		MarginPosition: 0,
		MFI:            34,
		BottomMFI:      25,
		MFIDir:         Up,
	}
	assert.Equal(t, Command{Action: Buy, Amount: 20}, l.Decide(97.5, s))

	// Rung 1 needs a deeper drop, so the same price pauses.
	s.MarginPosition = 1
	assert.Equal(t, Command{Action: Pause}, l.Decide(97.5, s))

	s.BottomPrice = 95
	assert.Equal(t, Command{Action: Buy, Amount: 40}, l.Decide(95.5, s))
}

func TestDecideLadderExhausted(t *testing.T) {
	l, err := NewLadder(testConfig())
	require.NoError(t, err)

	s := Session{
		Status:         models.StatusOpen,
		AvgPrice:       100,
		TopPrice:       100,
		BottomPrice:    50,
		MarginPosition: l.Rungs(),
		MFI:            10,
		BottomMFI:      0,
		MFIDir:         Up,
	}
	assert.Equal(t, Command{Action: Pause}, l.Decide(51, s))
}

func TestMarginPositionNeverExceedsLadder(t *testing.T) {
	l, err := NewLadder(testConfig())
	require.NoError(t, err)

	s := Session{
		Status:      models.StatusOpen,
		AvgPrice:    100,
		TopPrice:    100,
		BottomPrice: 50,
		MFI:         10,
		BottomMFI:   0,
		MFIDir:      Up,
	}
	buys := 0
	for i := 0; i < 10; i++ {
		cmd := l.Decide(51, s)
		if cmd.Action == Buy {
			buys++
			s.MarginPosition++
		}
		assert.LessOrEqual(t, s.MarginPosition, l.Rungs())
	}
	assert.Equal(t, l.Rungs(), buys)
	assert.Equal(t, buys, s.MarginPosition)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FirstBuyIn = 0
	_, err := New(models.StrategyLadder, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	cfg = testConfig()
	cfg.MarginLadder[1].AmountRatio = 0
	_, err = NewLadder(cfg)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	cfg = testConfig()
	cfg.Entry.MFIBelow = 120
	_, err = NewLadder(cfg)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = New("grid", testConfig())
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "ENTRY", Entry.String())
	assert.Equal(t, "SELL", Sell.String())
	assert.Equal(t, "Action(9)", Action(9).String())
}
