package persistence

import (
	"testing"

	"dca-ladder-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) TickerRepository {
	t.Helper()
	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLatestTickersNewestFirst(t *testing.T) {
	repo := newTestRepository(t)

	for i, mfi := range []float64{40, 35, 30, 33} {
		require.NoError(t, repo.SaveTicker(models.Ticker{
			Pair:     "BTCUSDT",
			OpenTime: int64(1_700_000_000_000 + i*60_000),
			Close:    float64(100 + i),
			MFI:      mfi,
		}))
	}
	// Other pairs sharing a prefix must not leak in.
	require.NoError(t, repo.SaveTicker(models.Ticker{Pair: "BTCUSDTX", OpenTime: 1_800_000_000_000, MFI: 99}))

	tickers, err := repo.LatestTickers("BTCUSDT", 3)
	require.NoError(t, err)
	require.Len(t, tickers, 3)
	assert.Equal(t, 33.0, tickers[0].MFI)
	assert.Equal(t, 30.0, tickers[1].MFI)
	assert.Equal(t, 35.0, tickers[2].MFI)

	mfi, err := repo.LatestMFI("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, [2]float64{33, 30}, mfi)

	price, err := repo.LatestPrice("btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 103.0, price)
}

func TestSaveTickerUpsertsSameBar(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveTicker(models.Ticker{Pair: "ETHUSDT", OpenTime: 1, MFI: 10}))
	require.NoError(t, repo.SaveTicker(models.Ticker{Pair: "ETHUSDT", OpenTime: 1, MFI: 12}))

	tickers, err := repo.LatestTickers("ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.Equal(t, 12.0, tickers[0].MFI)
}

func TestLatestMFINeedsTwoSamples(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.LatestMFI("BTCUSDT")
	assert.ErrorIs(t, err, ErrNotEnoughSamples)

	require.NoError(t, repo.SaveTicker(models.Ticker{Pair: "BTCUSDT", OpenTime: 1, MFI: 10}))
	_, err = repo.LatestMFI("BTCUSDT")
	assert.ErrorIs(t, err, ErrNotEnoughSamples)

	_, err = repo.LatestPrice("ETHUSDT")
	assert.Error(t, err)

	assert.Error(t, repo.SaveTicker(models.Ticker{}))
}
