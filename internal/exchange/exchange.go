package exchange

import (
	"context"

	"dca-ladder-bot-go/internal/models"
)

// Exchange 定义了状态机所需的现货交易所能力。
// 真实交易与模拟盘 (PaperExchange) 都实现该接口。
type Exchange interface {
	// GetBalance 返回单个资产的可用余额, 资产不存在时余额为0
	GetBalance(ctx context.Context, asset string) (models.Balance, error)
	// GetBalances 返回所有非零余额
	GetBalances(ctx context.Context) ([]models.Balance, error)
	// MarketBuyUsingQuoteQuantity 以计价货币金额市价买入, 返回加权平均成交价与成交量
	MarketBuyUsingQuoteQuantity(ctx context.Context, pair string, quoteQty float64) (models.Transaction, error)
	// MarketSell 市价卖出指定数量的基础货币
	MarketSell(ctx context.Context, pair string, qty float64) (models.Transaction, error)
	// AdjustQuantity 按交易对的 LOT_SIZE 步长向下取整
	AdjustQuantity(ctx context.Context, pair string, qty float64) (float64, error)
}

// PriceObserver 由需要外部喂价的交易所实现 (模拟盘)
type PriceObserver interface {
	SetPrice(pair string, price float64)
}
