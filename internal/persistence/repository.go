package persistence

import (
	"errors"

	"dca-ladder-bot-go/internal/models"
)

// ErrNotEnoughSamples is returned when fewer than two momentum samples exist.
var ErrNotEnoughSamples = errors.New("not enough momentum samples")

// TickerRepository stores closed klines with their MFI value.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the feed and the tick driver.
type TickerRepository interface {
	// SaveTicker upserts a ticker keyed by (pair, open time).
	SaveTicker(t models.Ticker) error

	// LatestTickers returns up to n tickers for pair, newest first.
	LatestTickers(pair string, n int) ([]models.Ticker, error)

	// LatestMFI returns the two most recent MFI values as [latest, previous].
	LatestMFI(pair string) ([2]float64, error)

	// LatestPrice returns the close of the most recent ticker for pair.
	LatestPrice(pair string) (float64, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
