package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dca-ladder-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// binanceServer answers the spot endpoints the exchange uses. exchangeInfo is
// written verbatim for /api/v3/exchangeInfo.
type binanceServer struct {
	mu           sync.Mutex
	exchangeInfo string
	infoHits     int
	orders       []map[string]string
}

func (s *binanceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/api/v3/exchangeInfo":
		s.infoHits++
		fmt.Fprint(w, s.exchangeInfo)
	case "/api/v3/account":
		fmt.Fprint(w, `{"balances":[
			{"asset":"BTC","free":"0.00123456","locked":"0"},
			{"asset":"USDT","free":"250.5","locked":"1"}]}`)
	case "/api/v3/order":
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		order := map[string]string{
			"side":          r.Form.Get("side"),
			"quantity":      r.Form.Get("quantity"),
			"quoteOrderQty": r.Form.Get("quoteOrderQty"),
		}
		s.orders = append(s.orders, order)
		fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":%d,"clientOrderId":%q,"status":"FILLED",
			"executedQty":"0.003","cummulativeQuoteQty":"30.01",
			"fills":[{"price":"10000","qty":"0.001"},{"price":"10005","qty":"0.002"}]}`,
			len(s.orders), r.Form.Get("newClientOrderId"))
	default:
		http.NotFound(w, r)
	}
}

func (s *binanceServer) hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoHits
}

const lotSizeInfo = `{"symbols":[{"symbol":"BTCUSDT","filters":[
	{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
	{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001000"}]}]}`

func newTestBinance(t *testing.T, info string) (*BinanceExchange, *binanceServer) {
	t.Helper()
	bs := &binanceServer{exchangeInfo: info}
	srv := httptest.NewServer(bs)
	t.Cleanup(srv.Close)
	return NewBinanceExchange("key", "secret", srv.URL, zap.NewNop()), bs
}

func TestBinanceStepSizeCachedAndFloored(t *testing.T) {
	ex, bs := newTestBinance(t, lotSizeInfo)
	ctx := context.Background()

	qty, err := ex.AdjustQuantity(ctx, "BTCUSDT", 0.123456789)
	require.NoError(t, err)
	assert.Equal(t, 0.12345, qty)

	step, err := ex.StepSize(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.00001000", step)
	assert.Equal(t, 1, bs.hits(), "exchange info is fetched once per pair")
}

func TestBinanceStepSizeErrors(t *testing.T) {
	tests := []struct {
		name string
		info string
		msg  string
	}{
		{"unknown symbol", `{"symbols":[{"symbol":"ETHUSDT","filters":[]}]}`, "symbol not found"},
		{"no lot size", `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"}]}]}`, "LOT_SIZE filter not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, bs := newTestBinance(t, tt.info)
			_, err := ex.AdjustQuantity(context.Background(), "BTCUSDT", 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrExchange))
			assert.Contains(t, err.Error(), tt.msg)

			// Failures are not cached.
			_, err = ex.StepSize(context.Background(), "BTCUSDT")
			require.Error(t, err)
			assert.Equal(t, 2, bs.hits())
		})
	}
}

func TestBinanceMarketOrders(t *testing.T) {
	ex, bs := newTestBinance(t, lotSizeInfo)
	ctx := context.Background()

	buy, err := ex.MarketBuyUsingQuoteQuantity(ctx, "BTCUSDT", 30)
	require.NoError(t, err)
	assert.InDelta(t, 30.01/0.003, buy.Price, 1e-6)
	assert.InDelta(t, 0.003, buy.Qty, 1e-12)
	assert.Equal(t, int64(1), buy.OrderID)
	assert.NotEmpty(t, buy.ClientOrderID)

	_, err = ex.MarketSell(ctx, "BTCUSDT", 0.0030000001)
	require.NoError(t, err)

	bs.mu.Lock()
	defer bs.mu.Unlock()
	require.Len(t, bs.orders, 2)
	assert.Equal(t, "BUY", bs.orders[0]["side"])
	assert.Equal(t, "30", bs.orders[0]["quoteOrderQty"])
	assert.Equal(t, "SELL", bs.orders[1]["side"])
	assert.Equal(t, "0.00300", bs.orders[1]["quantity"])
}

func TestBinanceBalance(t *testing.T) {
	ex, _ := newTestBinance(t, lotSizeInfo)

	btc, err := ex.GetBalance(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, 0.00123456, btc.Free)

	missing, err := ex.GetBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, "ETH", missing.Asset)
	assert.Zero(t, missing.Free)
}
