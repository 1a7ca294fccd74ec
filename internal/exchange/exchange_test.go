package exchange

import (
	"context"
	"strings"
	"testing"

	"dca-ladder-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepPrecision(t *testing.T) {
	assert.Equal(t, int32(5), StepPrecision(0.00001))
	assert.Equal(t, int32(2), StepPrecision(0.01))
	assert.Equal(t, int32(0), StepPrecision(1))
	assert.Equal(t, int32(0), StepPrecision(10))
}

func TestAdjustToStep(t *testing.T) {
	tests := []struct {
		qty    float64
		step   string
		expect float64
	}{
		{0.123456789, "0.00001000", 0.12345},
		{1.999999, "0.01000000", 1.99},
		{0.3, "0.10000000", 0.3},
		{12.9, "1.00000000", 12},
		{127, "10", 120},
		{0.00000999, "0.00001000", 0},
	}
	for _, tt := range tests {
		got, err := AdjustToStep(tt.qty, tt.step)
		require.NoError(t, err)
		assert.Equal(t, tt.expect, got, "qty=%v step=%s", tt.qty, tt.step)
		assert.LessOrEqual(t, got, tt.qty)
	}
}

func TestAdjustToStepIdempotent(t *testing.T) {
	for _, step := range []string{"0.00000100", "0.00010000", "0.01000000", "1.00000000"} {
		for _, q := range []float64{0.1, 0.3, 1.0000001, 2.675, 33.3333333, 0.00123456, 98765.4321} {
			once, err := AdjustToStep(q, step)
			require.NoError(t, err)
			twice, err := AdjustToStep(once, step)
			require.NoError(t, err)
			assert.Equal(t, once, twice, "q=%v step=%s", q, step)
		}
	}
}

func TestAdjustToStepInvalidStep(t *testing.T) {
	_, err := AdjustToStep(1, "")
	assert.Error(t, err)
	_, err = AdjustToStep(1, "0")
	assert.Error(t, err)
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0.12345", FormatQuantity(0.12345, "0.00001000"))
	assert.Equal(t, "3", FormatQuantity(3, "1.00000000"))
	assert.Equal(t, "20", FormatQuote(20))
}

func TestNewClientOrderID(t *testing.T) {
	a := NewClientOrderID("dca")
	b := NewClientOrderID("dca")
	assert.True(t, strings.HasPrefix(a, "dca"))
	assert.LessOrEqual(t, len(a), 36)
	assert.NotEqual(t, a, b)
}

func TestTransactionFromWeightsFills(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		OrderID:       7,
		ClientOrderID: "dcaX",
		Fills: []*binance.Fill{
			{Price: "100", Quantity: "1"},
			{Price: "103", Quantity: "2"},
		},
	}
	tx, err := transactionFrom(resp)
	require.NoError(t, err)
	assert.InDelta(t, 102.0, tx.Price, 1e-9)
	assert.InDelta(t, 3.0, tx.Qty, 1e-9)
	assert.Equal(t, int64(7), tx.OrderID)
}

func TestTransactionFromCumulativeFallback(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		ExecutedQuantity:         "0.5",
		CummulativeQuoteQuantity: "50",
	}
	tx, err := transactionFrom(resp)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, tx.Price, 1e-9)

	_, err = transactionFrom(&binance.CreateOrderResponse{})
	assert.Error(t, err)
}

func TestPaperExchangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange("USDT", 100, 0.001)
	ex.RegisterPair("BTCUSDT", "BTC", "USDT", "0.00001000")

	_, err := ex.MarketBuyUsingQuoteQuantity(ctx, "BTCUSDT", 20)
	require.ErrorIs(t, err, models.ErrExchange)
	require.ErrorIs(t, err, ErrNoPrice)

	ex.SetPrice("BTCUSDT", 30000)
	buy, err := ex.MarketBuyUsingQuoteQuantity(ctx, "BTCUSDT", 20)
	require.NoError(t, err)
	assert.Equal(t, 30000.0, buy.Price)
	assert.Equal(t, 0.00066, buy.Qty)

	btc, err := ex.GetBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.00066*(1-0.001), btc.Free, 1e-12)

	qty, err := ex.AdjustQuantity(ctx, "BTCUSDT", btc.Free)
	require.NoError(t, err)
	assert.LessOrEqual(t, qty, btc.Free)

	ex.SetPrice("BTCUSDT", 31000)
	sell, err := ex.MarketSell(ctx, "BTCUSDT", qty)
	require.NoError(t, err)
	assert.Equal(t, 31000.0, sell.Price)
	assert.Len(t, ex.TradeLog, 2)

	usdt, err := ex.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Greater(t, usdt.Free, 100-20.0)

	balances, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, balances)
	assert.Equal(t, "BTC", balances[0].Asset)
}

func TestPaperExchangeRejects(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange("USDT", 10, 0)
	ex.RegisterPair("ETHUSDT", "ETH", "USDT", "0.0001")
	ex.SetPrice("ETHUSDT", 2000)

	_, err := ex.MarketBuyUsingQuoteQuantity(ctx, "ETHUSDT", 50)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = ex.MarketSell(ctx, "ETHUSDT", 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = ex.AdjustQuantity(ctx, "XRPUSDT", 1)
	assert.ErrorIs(t, err, ErrUnknownPair)
	assert.ErrorIs(t, err, models.ErrExchange)
}
