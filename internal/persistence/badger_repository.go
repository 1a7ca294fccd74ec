package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dca-ladder-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the TickerRepository.
// Keys are "ticker/<PAIR>/<zero padded open time>" so that a reverse
// iteration over a pair prefix yields the newest ticker first.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (TickerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the application's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil
	return open(opts)
}

// NewInMemoryRepository creates a repository that never touches disk.
func NewInMemoryRepository() (TickerRepository, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (TickerRepository, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

func pairPrefix(pair string) []byte {
	return []byte("ticker/" + strings.ToUpper(pair) + "/")
}

func tickerKey(pair string, openTime int64) []byte {
	return append(pairPrefix(pair), []byte(fmt.Sprintf("%020d", openTime))...)
}

// SaveTicker marshals the ticker into JSON and saves it under its (pair, open time) key.
func (r *badgerRepository) SaveTicker(t models.Ticker) error {
	if t.Pair == "" {
		return errors.New("ticker pair is empty")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tickerKey(t.Pair, t.OpenTime), data)
	})
}

// LatestTickers walks the pair's keys backwards and decodes up to n tickers.
func (r *badgerRepository) LatestTickers(pair string, n int) ([]models.Ticker, error) {
	if n <= 0 {
		return nil, nil
	}
	prefix := pairPrefix(pair)
	tickers := make([]models.Ticker, 0, n)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// '~' sorts after every digit, so the seek lands on the newest key.
		seek := append(append([]byte{}, prefix...), '~')
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(tickers) < n; it.Next() {
			var t models.Ticker
			err := it.Item().Value(func(val []byte) error {
				if len(val) == 0 {
					return errors.New("ticker value is empty in database")
				}
				return json.Unmarshal(val, &t)
			})
			if err != nil {
				return err
			}
			tickers = append(tickers, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickers, nil
}

// LatestMFI returns the MFI of the two newest tickers.
func (r *badgerRepository) LatestMFI(pair string) ([2]float64, error) {
	tickers, err := r.LatestTickers(pair, 2)
	if err != nil {
		return [2]float64{}, err
	}
	if len(tickers) < 2 {
		return [2]float64{}, fmt.Errorf("%w for %s: have %d", ErrNotEnoughSamples, pair, len(tickers))
	}
	return [2]float64{tickers[0].MFI, tickers[1].MFI}, nil
}

// LatestPrice returns the newest close price.
func (r *badgerRepository) LatestPrice(pair string) (float64, error) {
	tickers, err := r.LatestTickers(pair, 1)
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("no ticker stored for %s", pair)
	}
	return tickers[0].Close, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
