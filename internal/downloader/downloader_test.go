package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"dca-ladder-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type klineServer struct {
	mu       sync.Mutex
	requests []string
	start    int64
	count    int
}

// ServeHTTP answers /api/v3/klines with count one-minute bars beginning at start.
func (s *klineServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.RawQuery)
	s.mu.Unlock()

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	from := s.start
	if st := q.Get("startTime"); st != "" {
		from, _ = strconv.ParseInt(st, 10, 64)
	}

	first := 0
	if q.Get("startTime") == "" && s.count > limit {
		// Without a start time the newest bars are returned.
		first = s.count - limit
	}

	var rows []string
	for i := first; i < s.count && len(rows) < limit; i++ {
		open := s.start + int64(i)*60_000
		if open < from {
			continue
		}
		price := 100 + float64(i)
		rows = append(rows, fmt.Sprintf(`[%d,"%g","%g","%g","%g","10",%d,"1000",5,"5","500","0"]`,
			open, price, price+1, price-1, price, open+59_999))
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
}

func TestRecentKlinesDropsOpenBar(t *testing.T) {
	// The last bar opens one minute ago, so it is still open.
	start := time.Now().Add(-5 * time.Minute).Truncate(time.Minute).UnixMilli()
	srv := httptest.NewServer(&klineServer{start: start, count: 6})
	defer srv.Close()

	d := NewKlineDownloader(srv.URL)
	tickers, err := d.RecentKlines(context.Background(), "btcusdt", "1m", 3)
	require.NoError(t, err)
	require.Len(t, tickers, 3)
	for i := 1; i < len(tickers); i++ {
		assert.Greater(t, tickers[i].OpenTime, tickers[i-1].OpenTime)
	}
	last := tickers[len(tickers)-1]
	assert.Less(t, last.OpenTime+59_999, time.Now().UnixMilli())
	assert.Equal(t, "BTCUSDT", last.Pair)
	assert.Equal(t, last.Close+1, last.High)
	assert.Equal(t, 10.0, last.Volume)
}

func TestRecentKlinesRejectsLimit(t *testing.T) {
	d := NewKlineDownloader("http://127.0.0.1:0")
	_, err := d.RecentKlines(context.Background(), "BTCUSDT", "1m", 0)
	assert.Error(t, err)
}

func TestDownloadKlinesPages(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := &klineServer{start: start.UnixMilli(), count: 1500}
	srv := httptest.NewServer(ks)
	defer srv.Close()

	d := NewKlineDownloader(srv.URL)
	d.pause = time.Millisecond
	tickers, err := d.DownloadKlines(context.Background(), "BTCUSDT", "1m", start, start.Add(1500*time.Minute))
	require.NoError(t, err)
	assert.Len(t, tickers, 1500)
	assert.Equal(t, start.UnixMilli(), tickers[0].OpenTime)

	ks.mu.Lock()
	defer ks.mu.Unlock()
	assert.Len(t, ks.requests, 2)
}

func TestDownloadFailureIsExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	_, err := NewKlineDownloader(srv.URL).RecentKlines(context.Background(), "NOPE", "1m", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrExchange))
}
