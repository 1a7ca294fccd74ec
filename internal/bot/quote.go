package bot

import (
	"context"
	"math"

	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/strategy"
)

// Quote 行情表中的一行, 每个价格 tick 刷新一次
type Quote struct {
	Pair           string
	Price          float64
	MFI            float64
	MFIDir         strategy.Direction
	Status         models.PositionStatus
	AvgPrice       float64 // 空仓时为0
	AvgChange      float64 // 相对均价的涨跌幅(%)
	TopPrice       float64
	BottomPrice    float64
	BottomMFI      float64
	Wallet         float64 // 计价货币的缓存余额
	Cycle          int64
	MarginPosition int
	Rungs          int
}

// Quote 读取账本生成当前行情快照, 不做任何写入
func (b *LadderBot) Quote(ctx context.Context, tick models.Tick) (Quote, error) {
	snap, err := b.load(ctx)
	if err != nil {
		return Quote{}, err
	}
	wallet, err := b.store.Wallet(ctx, b.info.Quote)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		Pair:           b.info.Pair,
		Price:          tick.Price,
		MFI:            tick.MFI[0],
		MFIDir:         strategy.DirectionOf(tick.MFI[0], tick.MFI[1]),
		Status:         snap.status,
		TopPrice:       snap.state.TopPrice,
		BottomPrice:    snap.state.BottomPrice,
		BottomMFI:      snap.state.BottomMFI,
		Wallet:         wallet,
		Cycle:          snap.trade.Cycle,
		MarginPosition: snap.state.MarginPosition,
		Rungs:          len(b.info.Config.MarginLadder),
	}
	if snap.state.Exists() {
		q.Cycle = snap.state.Cycle
	}
	if !math.IsNaN(snap.avg) {
		q.AvgPrice = snap.avg
		q.AvgChange = strategy.PercentChange(snap.avg, tick.Price)
	}
	return q, nil
}
