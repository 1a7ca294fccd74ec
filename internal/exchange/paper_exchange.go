package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dca-ladder-bot-go/internal/models"
)

var (
	ErrNoPrice             = errors.New("no price observed yet")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownPair         = errors.New("unknown pair")
)

type paperPair struct {
	base  string
	quote string
	step  string
}

// PaperExchange 实现了 Exchange 接口, 在本地以最新价模拟市价单成交 (模拟盘)。
// 手续费按吃单费率从买入所得的基础货币与卖出所得的计价货币中扣除。
type PaperExchange struct {
	mu           sync.Mutex
	pairs        map[string]paperPair
	prices       map[string]float64
	balances     map[string]float64
	nextOrderID  int64
	TakerFeeRate float64
	TotalFees    float64 // 以计价货币计的累计手续费
	TradeLog     []models.Transaction
}

// NewPaperExchange 创建一个模拟交易所, 初始只持有 quoteBalance 的计价货币
func NewPaperExchange(quoteAsset string, quoteBalance, takerFeeRate float64) *PaperExchange {
	return &PaperExchange{
		pairs:        make(map[string]paperPair),
		prices:       make(map[string]float64),
		balances:     map[string]float64{quoteAsset: quoteBalance},
		nextOrderID:  1,
		TakerFeeRate: takerFeeRate,
	}
}

// RegisterPair 登记交易对的币种与 LOT_SIZE 步长
func (e *PaperExchange) RegisterPair(pair, base, quote, step string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairs[pair] = paperPair{base: base, quote: quote, step: step}
}

// SetPrice 更新交易对的最新价, 之后的市价单按此价格成交
func (e *PaperExchange) SetPrice(pair string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[pair] = price
}

func (e *PaperExchange) GetBalance(_ context.Context, asset string) (models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.Balance{Asset: asset, Free: e.balances[asset]}, nil
}

func (e *PaperExchange) GetBalances(_ context.Context) ([]models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := make([]models.Balance, 0, len(e.balances))
	for asset, free := range e.balances {
		if free == 0 {
			continue
		}
		balances = append(balances, models.Balance{Asset: asset, Free: free})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })
	return balances, nil
}

func (e *PaperExchange) MarketBuyUsingQuoteQuantity(_ context.Context, pair string, quoteQty float64) (models.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, price, err := e.market(pair)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market buy "+pair, err)
	}
	if e.balances[p.quote] < quoteQty {
		return models.Transaction{}, models.ExchangeError("market buy "+pair,
			fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientBalance, quoteQty, p.quote, e.balances[p.quote]))
	}

	qty, err := AdjustToStep(quoteQty/price, p.step)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market buy "+pair, err)
	}
	if qty <= 0 {
		return models.Transaction{}, models.ExchangeError("market buy "+pair, fmt.Errorf("quote %.8f is below one lot", quoteQty))
	}

	fee := qty * e.TakerFeeRate
	e.balances[p.quote] -= qty * price
	e.balances[p.base] += qty - fee
	e.TotalFees += fee * price
	return e.record(price, qty), nil
}

func (e *PaperExchange) MarketSell(_ context.Context, pair string, qty float64) (models.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, price, err := e.market(pair)
	if err != nil {
		return models.Transaction{}, models.ExchangeError("market sell "+pair, err)
	}
	if qty <= 0 {
		return models.Transaction{}, models.ExchangeError("market sell "+pair, fmt.Errorf("invalid quantity %v", qty))
	}
	if e.balances[p.base] < qty {
		return models.Transaction{}, models.ExchangeError("market sell "+pair,
			fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientBalance, qty, p.base, e.balances[p.base]))
	}

	proceeds := qty * price
	fee := proceeds * e.TakerFeeRate
	e.balances[p.base] -= qty
	e.balances[p.quote] += proceeds - fee
	e.TotalFees += fee
	return e.record(price, qty), nil
}

func (e *PaperExchange) AdjustQuantity(_ context.Context, pair string, qty float64) (float64, error) {
	e.mu.Lock()
	p, ok := e.pairs[pair]
	e.mu.Unlock()
	if !ok {
		return 0, models.ExchangeError("adjust quantity "+pair, ErrUnknownPair)
	}
	adjusted, err := AdjustToStep(qty, p.step)
	if err != nil {
		return 0, models.ExchangeError("adjust quantity "+pair, err)
	}
	return adjusted, nil
}

// market 必须在持有锁的情况下调用
func (e *PaperExchange) market(pair string) (paperPair, float64, error) {
	p, ok := e.pairs[pair]
	if !ok {
		return paperPair{}, 0, ErrUnknownPair
	}
	price, ok := e.prices[pair]
	if !ok || price <= 0 {
		return paperPair{}, 0, ErrNoPrice
	}
	return p, price, nil
}

// record 必须在持有锁的情况下调用
func (e *PaperExchange) record(price, qty float64) models.Transaction {
	tx := models.Transaction{
		OrderID:       e.nextOrderID,
		ClientOrderID: NewClientOrderID("paper"),
		Price:         price,
		Qty:           qty,
	}
	e.nextOrderID++
	e.TradeLog = append(e.TradeLog, tx)
	return tx
}
