package strategy

import "math"

// Extremes is the trailing top/bottom price pair of a position.
type Extremes struct {
	Top    float64
	Bottom float64
}

// Track applies one tick to the extremes. A stale extreme snaps back to avg
// once price crosses back over it. avg may be NaN when the cycle holds no
// open fills yet; the snap-back rules are then skipped.
func (e Extremes) Track(price, avg float64) Extremes {
	hasAvg := !math.IsNaN(avg)

	if price > e.Top {
		e.Top = price
	} else if hasAvg && price < avg && e.Top != avg {
		e.Top = avg
	}

	if price < e.Bottom {
		e.Bottom = price
	} else if hasAvg && price > avg && e.Bottom != avg {
		e.Bottom = avg
	}
	return e
}

// Direction of the momentum oscillator between its two latest samples.
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "UP"
	}
	return "DOWN"
}

// OverboughtMFI is the level above which the MFI floor is re-armed.
const OverboughtMFI = 50.0

// DirectionOf compares the latest oscillator sample with the previous one.
func DirectionOf(latest, previous float64) Direction {
	if latest > previous {
		return Up
	}
	return Down
}

// TrackBottomMFI returns the new MFI floor: the running minimum, reset to the
// current reading whenever it is above OverboughtMFI.
func TrackBottomMFI(bottom, mfi float64) float64 {
	if bottom > mfi || mfi > OverboughtMFI {
		return mfi
	}
	return bottom
}

// MFIBottomChange is how far momentum has recovered off its floor.
func MFIBottomChange(mfi, bottom float64) float64 {
	return mfi - bottom
}
