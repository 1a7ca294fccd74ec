package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dca-ladder-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"
)

const clientOrderPrefix = "dca"

// BinanceExchange 实现了 Exchange 接口, 通过 go-binance 与币安现货交互。
type BinanceExchange struct {
	client *binance.Client
	logger *zap.Logger

	mu    sync.Mutex
	steps map[string]string // pair -> LOT_SIZE stepSize
}

// NewBinanceExchange 创建币安现货客户端。baseURL 为空时使用库的默认地址。
func NewBinanceExchange(apiKey, secretKey, baseURL string, logger *zap.Logger) *BinanceExchange {
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceExchange{
		client: client,
		logger: logger,
		steps:  make(map[string]string),
	}
}

// ServerTimeOffset 返回服务器时间与本地时间之差
func (e *BinanceExchange) ServerTimeOffset(ctx context.Context) (time.Duration, error) {
	serverTime, err := e.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return 0, models.ExchangeError("server time", describe(err))
	}
	offset := time.Duration(serverTime-time.Now().UnixMilli()) * time.Millisecond
	e.logger.Info("与币安服务器时间同步完成", zap.Duration("offset", offset))
	return offset, nil
}

// GetBalance 返回单个资产的可用余额
func (e *BinanceExchange) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	balances, err := e.GetBalances(ctx)
	if err != nil {
		return models.Balance{}, err
	}
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			return b, nil
		}
	}
	return models.Balance{Asset: asset}, nil
}

// GetBalances 返回账户中所有非零余额
func (e *BinanceExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, models.ExchangeError("get account", describe(err))
	}

	var balances []models.Balance
	for _, b := range account.Balances {
		free, errF := strconv.ParseFloat(b.Free, 64)
		locked, errL := strconv.ParseFloat(b.Locked, 64)
		if errF != nil || errL != nil {
			return nil, models.ExchangeError("get account", fmt.Errorf("无法解析 %s 余额: free=%q locked=%q", b.Asset, b.Free, b.Locked))
		}
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// MarketBuyUsingQuoteQuantity 使用 quoteOrderQty 市价买入
func (e *BinanceExchange) MarketBuyUsingQuoteQuantity(ctx context.Context, pair string, quoteQty float64) (models.Transaction, error) {
	clientOrderID := NewClientOrderID(clientOrderPrefix)
	resp, err := e.client.NewCreateOrderService().
		Symbol(pair).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(FormatQuote(quoteQty)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market buy "+pair, describe(err))
	}

	tx, err := transactionFrom(resp)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market buy "+pair, err)
	}
	e.logger.Info("市价买入成交",
		zap.String("pair", pair),
		zap.Float64("quote", quoteQty),
		zap.Float64("price", tx.Price),
		zap.Float64("qty", tx.Qty),
		zap.String("clientOrderId", tx.ClientOrderID))
	return tx, nil
}

// MarketSell 市价卖出指定数量
func (e *BinanceExchange) MarketSell(ctx context.Context, pair string, qty float64) (models.Transaction, error) {
	step, err := e.stepSize(ctx, pair)
	if err != nil {
		return models.Transaction{}, err
	}

	clientOrderID := NewClientOrderID(clientOrderPrefix)
	resp, err := e.client.NewCreateOrderService().
		Symbol(pair).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(FormatQuantity(qty, step)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market sell "+pair, describe(err))
	}

	tx, err := transactionFrom(resp)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market sell "+pair, err)
	}
	e.logger.Info("市价卖出成交",
		zap.String("pair", pair),
		zap.Float64("price", tx.Price),
		zap.Float64("qty", tx.Qty),
		zap.String("clientOrderId", tx.ClientOrderID))
	return tx, nil
}

// AdjustQuantity 按交易对 LOT_SIZE 步长向下取整
func (e *BinanceExchange) AdjustQuantity(ctx context.Context, pair string, qty float64) (float64, error) {
	step, err := e.stepSize(ctx, pair)
	if err != nil {
		return 0, err
	}
	adjusted, err := AdjustToStep(qty, step)
	if err != nil {
		return 0, models.ExchangeError("adjust quantity "+pair, err)
	}
	return adjusted, nil
}

// StepSize 返回交易对的 LOT_SIZE 步长, 模拟盘借此与真实规则保持一致
func (e *BinanceExchange) StepSize(ctx context.Context, pair string) (string, error) {
	return e.stepSize(ctx, pair)
}

// stepSize 读取并缓存交易对的 LOT_SIZE 步长, 找不到交易对或过滤器时返回错误
func (e *BinanceExchange) stepSize(ctx context.Context, pair string) (string, error) {
	e.mu.Lock()
	step, ok := e.steps[pair]
	e.mu.Unlock()
	if ok {
		return step, nil
	}

	info, err := e.client.NewExchangeInfoService().Symbol(pair).Do(ctx)
	if err != nil {
		return "", models.ExchangeError("exchange info "+pair, describe(err))
	}
	for i := range info.Symbols {
		symbol := &info.Symbols[i]
		if symbol.Symbol != pair {
			continue
		}
		filter := symbol.LotSizeFilter()
		if filter == nil || filter.StepSize == "" {
			return "", models.ExchangeError("exchange info "+pair, errors.New("LOT_SIZE filter not found"))
		}
		e.mu.Lock()
		e.steps[pair] = filter.StepSize
		e.mu.Unlock()
		return filter.StepSize, nil
	}
	return "", models.ExchangeError("exchange info "+pair, errors.New("symbol not found"))
}

// transactionFrom 计算按成交量加权的平均成交价
func transactionFrom(resp *binance.CreateOrderResponse) (models.Transaction, error) {
	tx := models.Transaction{OrderID: resp.OrderID, ClientOrderID: resp.ClientOrderID}

	var notional, qty float64
	for _, fill := range resp.Fills {
		p, errP := strconv.ParseFloat(fill.Price, 64)
		q, errQ := strconv.ParseFloat(fill.Quantity, 64)
		if errP != nil || errQ != nil {
			return tx, fmt.Errorf("无法解析成交明细: price=%q qty=%q", fill.Price, fill.Quantity)
		}
		notional += p * q
		qty += q
	}

	if qty == 0 {
		// 部分网关不返回 fills, 退回到累计成交额 / 成交量
		executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
		quote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
		if executed == 0 {
			return tx, fmt.Errorf("order %d has no executed quantity (status %s)", resp.OrderID, resp.Status)
		}
		notional, qty = quote, executed
	}

	tx.Price = notional / qty
	tx.Qty = qty
	return tx, nil
}

// describe 将币安API错误转换为统一的 models.Error
func describe(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &models.Error{Code: int(apiErr.Code), Msg: apiErr.Message}
	}
	return err
}
