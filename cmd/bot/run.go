package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"dca-ladder-bot-go/internal/bot"
	"dca-ladder-bot-go/internal/config"
	"dca-ladder-bot-go/internal/downloader"
	"dca-ladder-bot-go/internal/exchange"
	"dca-ladder-bot-go/internal/feed"
	"dca-ladder-bot-go/internal/logger"
	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/notification"
	"dca-ladder-bot-go/internal/reporter"
	"dca-ladder-bot-go/internal/runner"
	"dca-ladder-bot-go/internal/storage"
	"dca-ladder-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// newLadderBot 组装单个机器人: 策略 + 交易所 + 账本, 可选挂上周期通知
func newLadderBot(info models.Bot, ex exchange.Exchange, store *storage.Store, observer bot.CycleObserver) (*bot.LadderBot, error) {
	strat, err := strategy.New(info.Strategy, info.Config)
	if err != nil {
		return nil, err
	}
	b := bot.New(info, ex, store, strat, logger.L())
	if observer != nil {
		b.SetObserver(observer)
	}
	return b, nil
}

// cycleObserver 配置了 Telegram 时返回平仓通知器, 否则返回 nil
func (a *app) cycleObserver(store *storage.Store) (*notification.CycleObserver, error) {
	if a.env.TelegramToken == "" {
		return nil, nil
	}
	n, err := notification.NewTelegramNotifier(a.env.TelegramToken, a.env.TelegramChatID, logger.L())
	if err != nil {
		return nil, err
	}
	return notification.NewCycleObserver(n, store, logger.L()), nil
}

// runSingle 单个机器人: 实时成交价推送驱动状态机, 进程内收集K线计算MFI
func runSingle(ctx context.Context, a *app, args []string) error {
	var name string
	var seconds int
	var paper bool
	if err := parseFlags("run", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "bot title")
		fs.IntVar(&seconds, "duration", 30, "seconds between evaluations")
		fs.BoolVar(&paper, "paper", false, "fill orders locally instead of on the exchange")
	}); err != nil {
		return err
	}
	if err := requireName(name); err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	repo, err := a.openTickers()
	if err != nil {
		return err
	}
	defer repo.Close()

	info, err := store.GetBot(ctx, name)
	if err != nil {
		return err
	}
	log := logger.L().With(zap.String("bot", info.Title), zap.String("pair", info.Pair))

	// --- 交易所: 实盘或模拟盘 ---
	// 模拟盘的成交写入独立账本, 不污染实盘记录
	ledger := store
	var ex exchange.Exchange
	var paperEx *exchange.PaperExchange
	if paper {
		if ledger, err = storage.Open(a.cfg.DBPath + ".paper"); err != nil {
			return err
		}
		defer ledger.Close()
		if _, err := ledger.SaveBot(ctx, info); err != nil {
			return err
		}
		step, err := exchange.NewBinanceExchange("", "", a.cfg.BaseURL, log).StepSize(ctx, info.Pair)
		if err != nil {
			return err
		}
		paperEx = exchange.NewPaperExchange(info.Quote, a.cfg.PaperQuoteBalance, a.cfg.TakerFeeRate)
		paperEx.RegisterPair(info.Pair, info.Base, info.Quote, step)
		ex = paperEx
		log.Info("模拟盘模式", zap.Float64("balance", a.cfg.PaperQuoteBalance), zap.String("step", step))
	} else {
		if ex, err = a.binance(ctx, store, info.Platform); err != nil {
			return err
		}
	}

	observer, err := a.cycleObserver(ledger)
	if err != nil {
		return err
	}
	var obs bot.CycleObserver
	if observer != nil {
		obs = observer
		defer observer.Wait()
	}
	ladder, err := newLadderBot(info, ex, ledger, obs)
	if err != nil {
		return err
	}

	// --- K线收集: 预热MFI窗口后持续写入行情库 ---
	klineStream := feed.NewStream(feed.StreamConfigFrom(a.cfg, "kline:"+info.Pair,
		feed.KlineURL(a.cfg.WSBaseURL, info.Cycle, []string{info.Pair})), log)
	collector := feed.NewKlineCollector(klineStream, repo, downloader.NewKlineDownloader(a.cfg.BaseURL),
		[]string{info.Pair}, info.Cycle, a.cfg.MFIPeriod, log)
	if err := collector.Warm(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := runner.New(ladder, repo, time.Duration(seconds)*time.Second, log)
	r.SetQuoteSink(func(q bot.Quote) {
		fmt.Fprint(os.Stdout, "\033[H\033[2J")
		reporter.RenderQuotes(os.Stdout, q)
	})

	var wg sync.WaitGroup
	var lastPrice float64
	var priceMu sync.Mutex
	errs := make(chan error, 2)

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := klineStream.Run(ctx, collector.Handle); err != nil {
			errs <- err
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		r.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		tickers := feed.NewTickerFeed(a.cfg, info.Pair, log)
		err := tickers.Run(ctx, func(_ context.Context, price float64) {
			if paperEx != nil {
				paperEx.SetPrice(info.Pair, price)
			}
			priceMu.Lock()
			lastPrice = price
			priceMu.Unlock()
			r.Dispatch(price)
		})
		if err != nil {
			errs <- err
			cancel()
		}
	}()

	log.Info("机器人已启动", zap.Int("duration", seconds), zap.Bool("paper", paper))
	wg.Wait()
	close(errs)

	if paperEx != nil {
		priceMu.Lock()
		reporter.RenderPaperSummary(os.Stdout, reporter.SummarizePaper(paperEx, info, lastPrice))
		priceMu.Unlock()
	}
	if err, ok := <-errs; ok {
		return err
	}
	log.Info("机器人已停止")
	return nil
}

// runAll 按固定节奏依次评估所有 ACTIVE 机器人, 价格与MFI取自行情库 (由 tick 命令写入)
func runAll(ctx context.Context, a *app, args []string) error {
	var seconds int
	if err := parseFlags("run-all", args, func(fs *flag.FlagSet) {
		fs.IntVar(&seconds, "duration", 30, "seconds between polling passes")
	}); err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	repo, err := a.openTickers()
	if err != nil {
		return err
	}
	defer repo.Close()

	infos, err := store.ActiveBots(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return errNoActiveBots
	}

	observer, err := a.cycleObserver(store)
	if err != nil {
		return err
	}
	var obs bot.CycleObserver
	if observer != nil {
		obs = observer
		defer observer.Wait()
	}

	exchanges := make(map[string]exchange.Exchange)
	bots := make([]runner.Bot, 0, len(infos))
	for _, info := range infos {
		ex, ok := exchanges[info.Platform]
		if !ok {
			if ex, err = a.binance(ctx, store, info.Platform); err != nil {
				return err
			}
			exchanges[info.Platform] = ex
		}
		b, err := newLadderBot(info, ex, store, obs)
		if err != nil {
			return err
		}
		bots = append(bots, b)
	}

	poller := runner.NewPoller(bots, repo, time.Duration(seconds)*time.Second, logger.L())
	logger.S().Infof("开始轮询: %s", strings.Join(poller.Titles(), ", "))
	poller.Run(ctx)
	return nil
}

// runTick 为所有 ACTIVE 机器人收集K线并计算MFI, 同周期的交易对共用一个组合流
func runTick(ctx context.Context, a *app, args []string) error {
	if err := parseFlags("tick", args, nil); err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	infos, err := store.ActiveBots(ctx)
	store.Close()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return errNoActiveBots
	}

	repo, err := a.openTickers()
	if err != nil {
		return err
	}
	defer repo.Close()

	byInterval := make(map[string][]string)
	for _, info := range infos {
		byInterval[info.Cycle] = append(byInterval[info.Cycle], info.Pair)
	}

	source := downloader.NewKlineDownloader(a.cfg.BaseURL)
	var wg sync.WaitGroup
	errs := make(chan error, len(byInterval))
	for interval, pairs := range byInterval {
		log := logger.L().With(zap.String("interval", interval), zap.Strings("pairs", pairs))
		stream := feed.NewStream(feed.StreamConfigFrom(a.cfg, "kline:"+interval, feed.KlineURL(a.cfg.WSBaseURL, interval, pairs)), log)
		collector := feed.NewKlineCollector(stream, repo, source, pairs, interval, a.cfg.MFIPeriod, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := collector.Run(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	if err, ok := <-errs; ok {
		return err
	}
	return nil
}

// runNotification 轮询账本, 把新平仓的周期盈亏推送到 Telegram
func runNotification(ctx context.Context, a *app, args []string) error {
	var seconds int
	if err := parseFlags("notification", args, func(fs *flag.FlagSet) {
		fs.IntVar(&seconds, "duration", 60, "seconds between checks")
	}); err != nil {
		return err
	}
	if a.env.TelegramToken == "" {
		return models.ConfigurationError("TELEGRAM_TOKEN is required")
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := notification.NewTelegramNotifier(a.env.TelegramToken, a.env.TelegramChatID, logger.L())
	if err != nil {
		return err
	}
	w := notification.NewWatcher(n, store, store.ActiveBots, time.Duration(seconds)*time.Second, logger.L())
	logger.S().Infof("开始监听平仓周期, 间隔 %ds", seconds)
	return w.Run(ctx)
}

// runDownload 下载历史K线, 计算MFI后写入行情库
func runDownload(ctx context.Context, a *app, args []string) error {
	var pair, interval, start, end string
	if err := parseFlags("download", args, func(fs *flag.FlagSet) {
		fs.StringVar(&pair, "pair", "", "symbol, e.g. BTCUSDT")
		fs.StringVar(&interval, "interval", a.cfg.KlineInterval, "kline interval")
		fs.StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
		fs.StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	}); err != nil {
		return err
	}
	if pair == "" {
		return models.ConfigurationError("-pair is required")
	}
	if _, ok := config.KlineIntervals[interval]; !ok {
		return models.ConfigurationError("unsupported interval %q", interval)
	}
	startTime, err1 := time.Parse("2006-01-02", start)
	endTime, err2 := time.Parse("2006-01-02", end)
	if err1 != nil || err2 != nil {
		return models.ConfigurationError("日期格式错误, 请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}

	repo, err := a.openTickers()
	if err != nil {
		return err
	}
	defer repo.Close()

	pair = strings.ToUpper(pair)
	logger.S().Infof("开始下载 %s 从 %s 到 %s 的K线数据...", pair, start, end)
	history, err := downloader.NewKlineDownloader(a.cfg.BaseURL).DownloadKlines(ctx, pair, interval, startTime, endTime)
	if err != nil {
		return err
	}
	n, err := feed.Backfill(repo, history, a.cfg.MFIPeriod)
	if err != nil {
		return err
	}
	logger.S().Infof("已写入 %d 根K线", n)
	return nil
}
