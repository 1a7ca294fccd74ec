package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dca-ladder-bot-go/internal/exchange"
	"dca-ladder-bot-go/internal/metrics"
	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/storage"
	"dca-ladder-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// CycleObserver 在一个周期平仓后收到通知。实现方不得阻塞调用方。
type CycleObserver interface {
	CycleClosed(ctx context.Context, bot models.Bot, cycle int64)
}

// LadderBot 是单个 (platform, pair) 的持仓状态机。
// 每个 tick 从账本读取最新状态, 更新极值与MFI底部, 执行策略给出的指令。
type LadderBot struct {
	info     models.Bot
	exchange exchange.Exchange
	store    storage.Storage
	strategy strategy.Strategy
	observer CycleObserver
	logger   *zap.Logger
	now      func() time.Time
}

// New 创建一个状态机实例, 依赖全部在构造时注入
func New(info models.Bot, ex exchange.Exchange, st storage.Storage, strat strategy.Strategy, logger *zap.Logger) *LadderBot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LadderBot{
		info:     info,
		exchange: ex,
		store:    st,
		strategy: strat,
		logger:   logger.With(zap.String("pair", info.Pair), zap.String("platform", info.Platform)),
		now:      time.Now,
	}
}

// SetObserver 设置周期平仓通知的接收方
func (b *LadderBot) SetObserver(o CycleObserver) {
	b.observer = o
}

// Info 返回机器人定义
func (b *LadderBot) Info() models.Bot {
	return b.info
}

// snapshot 是一个 tick 开始时从账本读出的全部状态
type snapshot struct {
	trade  models.Trade
	state  models.BotState
	status models.PositionStatus
	avg    float64 // 无持仓时为 NaN
}

func (b *LadderBot) load(ctx context.Context) (snapshot, error) {
	var s snapshot
	var err error

	s.trade, err = b.store.LatestTrade(ctx, b.info.Platform, b.info.Pair)
	if err != nil {
		return s, err
	}
	s.status = models.StatusOf(s.trade)

	s.state, err = b.store.LatestState(ctx, b.info.Platform, b.info.Pair)
	if err != nil {
		return s, err
	}

	s.avg = math.NaN()
	if s.status == models.StatusOpen {
		avg, ok, err := b.store.AvgPrice(ctx, b.info.Platform, b.info.Pair, s.trade.Cycle)
		if err != nil {
			return s, err
		}
		if ok {
			s.avg = avg
		}
	}
	return s, nil
}

// Update 处理一个 tick。返回本次执行的指令; 出错时账本保持不变 (订单成交后的钱包刷新除外),
// 极值跟踪也不会写入。
func (b *LadderBot) Update(ctx context.Context, tick models.Tick) (strategy.Command, error) {
	cmd, err := b.update(ctx, tick)
	if err != nil {
		metrics.ObserveError(b.info.Pair, models.Kind(err))
		return strategy.Command{Action: strategy.Pause}, err
	}
	metrics.ObserveDecision(b.info.Pair, cmd.Action.String())
	return cmd, nil
}

func (b *LadderBot) update(ctx context.Context, tick models.Tick) (strategy.Command, error) {
	pause := strategy.Command{Action: strategy.Pause}
	if tick.Price <= 0 {
		return pause, models.FeedError("tick "+b.info.Pair, fmt.Errorf("invalid price %v", tick.Price))
	}
	if po, ok := b.exchange.(exchange.PriceObserver); ok {
		po.SetPrice(b.info.Pair, tick.Price)
	}

	snap, err := b.load(ctx)
	if err != nil {
		return pause, err
	}
	mfi := tick.MFI[0]

	// 空仓且尚无下一周期的跟踪状态: 以当前价建立观察基线
	if snap.status == models.StatusWait && (!snap.state.Exists() || snap.state.Cycle <= snap.trade.Cycle) {
		watch := &models.BotState{
			Pair:        b.info.Pair,
			Platform:    b.info.Platform,
			Cycle:       snap.trade.Cycle + 1,
			TopPrice:    tick.Price,
			BottomPrice: tick.Price,
			BottomMFI:   mfi,
			Timestamp:   b.now(),
		}
		if err := b.store.CreateState(ctx, watch); err != nil {
			return pause, err
		}
		b.logger.Info("开始观察新周期", zap.Int64("cycle", watch.Cycle), zap.Float64("price", tick.Price))
		return pause, nil
	}
	if !snap.state.Exists() {
		return pause, models.StorageError("load state "+b.info.Pair, errors.New("open position has no tracking state"))
	}

	session := strategy.Session{
		Status:         snap.status,
		AvgPrice:       snap.avg,
		TopPrice:       snap.state.TopPrice,
		BottomPrice:    snap.state.BottomPrice,
		MarginPosition: snap.state.MarginPosition,
		MFI:            mfi,
		MFIDir:         strategy.DirectionOf(tick.MFI[0], tick.MFI[1]),
		BottomMFI:      snap.state.BottomMFI,
	}
	if math.IsNaN(session.AvgPrice) {
		session.AvgPrice = 0
	}

	// 极值变化与订单记录在同一事务中写入, 下单失败时一并丢弃
	track := b.track(snap, tick.Price, mfi)

	cmd := b.strategy.Decide(tick.Price, session)
	switch cmd.Action {
	case strategy.Entry:
		err = b.entry(ctx, snap, cmd.Amount, mfi, track)
	case strategy.Buy:
		err = b.buy(ctx, snap, cmd.Amount, mfi, track)
	case strategy.Sell:
		err = b.sell(ctx, snap, track)
	default:
		err = b.store.Atomic(ctx, func(l storage.Ledger) error { return track(ctx, l) })
	}
	if err != nil {
		return pause, err
	}
	return cmd, nil
}

type trackFunc func(ctx context.Context, l storage.Ledger) error

// track 返回跟踪极值与MFI底部变化的账本写入, 由调用方放进事务执行
func (b *LadderBot) track(snap snapshot, price, mfi float64) trackFunc {
	state := snap.state
	ext := strategy.Extremes{Top: state.TopPrice, Bottom: state.BottomPrice}.Track(price, snap.avg)
	bottomMFI := strategy.TrackBottomMFI(state.BottomMFI, mfi)
	if ext.Top == state.TopPrice && ext.Bottom == state.BottomPrice && bottomMFI == state.BottomMFI {
		return func(context.Context, storage.Ledger) error { return nil }
	}

	return func(ctx context.Context, l storage.Ledger) error {
		if ext.Top != state.TopPrice {
			if err := l.UpdateTopPrice(ctx, state.ID, ext.Top); err != nil {
				return err
			}
		}
		if ext.Bottom != state.BottomPrice {
			if err := l.UpdateBottomPrice(ctx, state.ID, ext.Bottom); err != nil {
				return err
			}
		}
		if bottomMFI != state.BottomMFI {
			if err := l.UpdateBottomMFI(ctx, state.ID, bottomMFI); err != nil {
				return err
			}
		}
		return nil
	}
}

// entry 开仓: 市价买入, 记录新周期的首笔成交与全新的跟踪状态
func (b *LadderBot) entry(ctx context.Context, snap snapshot, amount, mfi float64, track trackFunc) error {
	tx, err := b.exchange.MarketBuyUsingQuoteQuantity(ctx, b.info.Pair, amount)
	if err != nil {
		return err
	}
	cycle := snap.trade.Cycle + 1
	now := b.now()

	err = b.store.Atomic(ctx, func(l storage.Ledger) error {
		if err := track(ctx, l); err != nil {
			return err
		}
		if err := l.CreateTrade(ctx, b.newTrade(cycle, tx, models.TradeOpen, now)); err != nil {
			return err
		}
		return l.CreateState(ctx, &models.BotState{
			Pair:        b.info.Pair,
			Platform:    b.info.Platform,
			Cycle:       cycle,
			TopPrice:    tx.Price,
			BottomPrice: tx.Price,
			BottomMFI:   mfi,
			Timestamp:   now,
		})
	})
	if err != nil {
		b.logger.Error("开仓已成交但账本写入失败", zap.Int64("cycle", cycle), zap.Float64("price", tx.Price), zap.Float64("qty", tx.Qty), zap.Error(err))
		return err
	}

	b.logger.Info("开仓成交", zap.Int64("cycle", cycle), zap.Float64("amount", amount), zap.Float64("price", tx.Price), zap.Float64("qty", tx.Qty))
	metrics.ObserveOrder(b.info.Pair, "BUY")
	metrics.SetPosition(b.info.Pair, cycle, 0)
	b.refreshWallet(ctx)
	return nil
}

// buy 补仓: 市价买入并推进一个档位
func (b *LadderBot) buy(ctx context.Context, snap snapshot, amount, mfi float64, track trackFunc) error {
	tx, err := b.exchange.MarketBuyUsingQuoteQuantity(ctx, b.info.Pair, amount)
	if err != nil {
		return err
	}
	position := snap.state.MarginPosition + 1

	err = b.store.Atomic(ctx, func(l storage.Ledger) error {
		if err := track(ctx, l); err != nil {
			return err
		}
		if err := l.CreateTrade(ctx, b.newTrade(snap.trade.Cycle, tx, models.TradeOpen, b.now())); err != nil {
			return err
		}
		if err := l.UpdateMarginPosition(ctx, snap.state.ID, position); err != nil {
			return err
		}
		return l.UpdateBottomMFI(ctx, snap.state.ID, mfi)
	})
	if err != nil {
		b.logger.Error("补仓已成交但账本写入失败", zap.Int64("cycle", snap.trade.Cycle), zap.Float64("price", tx.Price), zap.Float64("qty", tx.Qty), zap.Error(err))
		return err
	}

	b.logger.Info("补仓成交",
		zap.Int64("cycle", snap.trade.Cycle),
		zap.Int("margin_position", position),
		zap.Float64("amount", amount),
		zap.Float64("price", tx.Price),
		zap.Float64("qty", tx.Qty))
	metrics.ObserveOrder(b.info.Pair, "BUY")
	metrics.SetPosition(b.info.Pair, snap.trade.Cycle, position)
	b.refreshWallet(ctx)
	return nil
}

// sell 止盈: 卖出全部可用基础货币 (按步长向下取整) 并关闭周期
func (b *LadderBot) sell(ctx context.Context, snap snapshot, track trackFunc) error {
	balance, err := b.exchange.GetBalance(ctx, b.info.Base)
	if err != nil {
		return err
	}
	qty, err := b.exchange.AdjustQuantity(ctx, b.info.Pair, balance.Free)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return models.ExchangeError("market sell "+b.info.Pair, fmt.Errorf("free %s balance %v is below one lot", b.info.Base, balance.Free))
	}

	tx, err := b.exchange.MarketSell(ctx, b.info.Pair, qty)
	if err != nil {
		return err
	}
	cycle := snap.trade.Cycle
	err = b.store.Atomic(ctx, func(l storage.Ledger) error {
		if err := track(ctx, l); err != nil {
			return err
		}
		return l.CreateTrade(ctx, b.newTrade(cycle, tx, models.TradeClose, b.now()))
	})
	if err != nil {
		b.logger.Error("平仓已成交但账本写入失败", zap.Int64("cycle", cycle), zap.Float64("price", tx.Price), zap.Float64("qty", tx.Qty), zap.Error(err))
		return err
	}

	b.logger.Info("平仓成交", zap.Int64("cycle", cycle), zap.Float64("price", tx.Price), zap.Float64("qty", tx.Qty))
	metrics.ObserveOrder(b.info.Pair, "SELL")
	metrics.SetPosition(b.info.Pair, cycle, 0)
	b.refreshWallet(ctx)
	if b.observer != nil {
		b.observer.CycleClosed(ctx, b.info, cycle)
	}
	return nil
}

func (b *LadderBot) newTrade(cycle int64, tx models.Transaction, status models.TradeStatus, at time.Time) *models.Trade {
	return &models.Trade{
		Pair:      b.info.Pair,
		Cycle:     cycle,
		Price:     tx.Price,
		Qty:       tx.Qty,
		Platform:  b.info.Platform,
		Status:    status,
		Timestamp: at,
	}
}

// refreshWallet 订单成交后从交易所重新读取余额; 失败只记录日志, 订单已经发生
func (b *LadderBot) refreshWallet(ctx context.Context) {
	for _, asset := range []string{b.info.Base, b.info.Quote} {
		balance, err := b.exchange.GetBalance(ctx, asset)
		if err != nil {
			b.logger.Warn("刷新钱包余额失败", zap.String("asset", asset), zap.Error(err))
			continue
		}
		if err := b.store.UpdateWallet(ctx, b.info.Platform, asset, balance.Free); err != nil {
			b.logger.Warn("写入钱包余额失败", zap.String("asset", asset), zap.Error(err))
		}
	}
}
