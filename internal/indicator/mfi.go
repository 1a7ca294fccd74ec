// Package indicator feeds closed bars to the momentum oscillator used by the
// ladder. The Money Flow Index itself comes from go-talib; MFI keeps the
// rolling window of bars talib needs and smooths over its warm-up.
package indicator

import (
	talib "github.com/markcheno/go-talib"
)

// DefaultMFIPeriod is the conventional MFI window.
const DefaultMFIPeriod = 14

// minFlow is the money flow below which talib reports 0 instead of a ratio.
const minFlow = 1.0

// Bar is the subset of a kline the oscillator needs.
type Bar struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MFI is a rolling Money Flow Index. The zero value is not usable; use NewMFI.
type MFI struct {
	period int
	high   []float64
	low    []float64
	close  []float64
	volume []float64
	value  float64
}

// NewMFI returns an oscillator over period flows. period < 1 falls back to
// DefaultMFIPeriod.
func NewMFI(period int) *MFI {
	if period < 1 {
		period = DefaultMFIPeriod
	}
	return &MFI{period: period, value: 50}
}

// Period returns the window length.
func (m *MFI) Period() int { return m.period }

// Ready reports whether a full window of flows has been seen.
func (m *MFI) Ready() bool { return len(m.close) > m.period }

// Next feeds one closed bar and returns the current MFI. Until the window is
// full the value covers the flows seen so far. With no flow at all it is 50.
func (m *MFI) Next(b Bar) float64 {
	m.high = push(m.high, b.High, m.period+1)
	m.low = push(m.low, b.Low, m.period+1)
	m.close = push(m.close, b.Close, m.period+1)
	m.volume = push(m.volume, b.Volume, m.period+1)

	n := len(m.close)
	if n < 2 || m.flow() < minFlow {
		m.value = 50
		return m.value
	}
	out := talib.Mfi(m.high, m.low, m.close, m.volume, n-1)
	m.value = clamp(out[len(out)-1])
	return m.value
}

// Value returns the MFI of the current window.
func (m *MFI) Value() float64 {
	return m.value
}

// flow sums the money flow of every bar whose typical price moved.
func (m *MFI) flow() float64 {
	var total float64
	prev := typical(m.high[0], m.low[0], m.close[0])
	for i := 1; i < len(m.close); i++ {
		tp := typical(m.high[i], m.low[i], m.close[i])
		if tp != prev {
			total += tp * m.volume[i]
		}
		prev = tp
	}
	return total
}

func typical(high, low, close float64) float64 {
	return (high + low + close) / 3
}

func push(s []float64, v float64, max int) []float64 {
	s = append(s, v)
	if len(s) > max {
		s = append(s[:0], s[len(s)-max:]...)
	}
	return s
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
