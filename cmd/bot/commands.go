package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"dca-ladder-bot-go/internal/bot"
	"dca-ladder-bot-go/internal/config"
	"dca-ladder-bot-go/internal/exchange"
	"dca-ladder-bot-go/internal/logger"
	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/persistence"
	"dca-ladder-bot-go/internal/reporter"
	"dca-ladder-bot-go/internal/storage"
	"dca-ladder-bot-go/internal/strategy"
)

// parseFlags 解析子命令参数, -h 时返回 flag.ErrHelp
func parseFlags(name string, args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if define != nil {
		define(fs)
	}
	return fs.Parse(args)
}

func requireName(name string) error {
	if name == "" {
		return models.ConfigurationError("-name is required")
	}
	return nil
}

func (a *app) openStore() (*storage.Store, error) {
	store, err := storage.Open(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) openTickers() (persistence.TickerRepository, error) {
	repo, err := persistence.NewBadgerRepository(a.cfg.TickerDBPath)
	if err != nil {
		return nil, models.StorageError("open ticker db "+a.cfg.TickerDBPath, err)
	}
	return repo, nil
}

// binance 使用已绑定的密钥 (或环境变量) 创建币安客户端
func (a *app) binance(ctx context.Context, store *storage.Store, platform string) (*exchange.BinanceExchange, error) {
	if platform != models.PlatformBinance {
		return nil, models.ConfigurationError("unsupported platform %q", platform)
	}
	bound, ok, err := store.GetBinding(ctx, platform)
	if err != nil {
		return nil, err
	}
	cred, err := config.Credential(platform, bound, ok, a.env)
	if err != nil {
		return nil, err
	}
	return exchange.NewBinanceExchange(cred.APIKey, cred.SecretKey, a.cfg.BaseURL, logger.L()), nil
}

// runSetup 创建账本表结构
func runSetup(_ context.Context, a *app, args []string) error {
	if err := parseFlags("setup", args, nil); err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	logger.S().Infof("账本已就绪: %s", a.cfg.DBPath)
	return nil
}

// runApply 注册机器人或API绑定
func runApply(ctx context.Context, a *app, args []string) error {
	var path string
	if err := parseFlags("apply", args, func(fs *flag.FlagSet) {
		fs.StringVar(&path, "f", "", "manifest file (.toml, .yaml)")
	}); err != nil {
		return err
	}
	if path == "" {
		return models.ConfigurationError("-f is required")
	}
	manifest, err := config.LoadManifest(path)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	switch manifest.Kind {
	case config.KindBot:
		saved, err := store.SaveBot(ctx, *manifest.Bot)
		if err != nil {
			return err
		}
		logger.S().Infof("机器人 %s 已保存, 当前状态 %s", saved.Title, saved.Status)
		reporter.RenderBot(os.Stdout, saved)
	case config.KindBind:
		if err := store.SaveBinding(ctx, *manifest.Binding); err != nil {
			return err
		}
		logger.S().Infof("%s API 绑定已保存", manifest.Binding.Platform)
		reporter.RenderBinding(os.Stdout, *manifest.Binding)
	}
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	if err := parseFlags("list", args, nil); err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	bots, err := store.ListBots(ctx)
	if err != nil {
		return err
	}
	reporter.RenderBots(os.Stdout, bots)
	return nil
}

func runShowBot(ctx context.Context, a *app, args []string) error {
	var name string
	if err := parseFlags("bot", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "bot title")
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

	b, err := store.GetBot(ctx, name)
	if err != nil {
		return err
	}
	reporter.RenderBot(os.Stdout, b)
	return nil
}

func runStart(ctx context.Context, a *app, args []string) error {
	return setStatus(ctx, a, "start", args, models.BotActive)
}

func runStop(ctx context.Context, a *app, args []string) error {
	return setStatus(ctx, a, "stop", args, models.BotPaused)
}

func setStatus(ctx context.Context, a *app, cmd string, args []string, status models.BotStatus) error {
	var name string
	if err := parseFlags(cmd, args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "bot title")
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

	if err := store.SetBotStatus(ctx, name, status); err != nil {
		return err
	}
	logger.S().Infof("机器人 %s 状态已更新为 %s", name, status)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	var name string
	var yes bool
	if err := parseFlags("delete", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "bot title")
		fs.BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	}); err != nil {
		return err
	}
	if err := requireName(name); err != nil {
		return err
	}
	if !yes && !confirm(fmt.Sprintf("delete bot %q? [y/N] ", name)) {
		logger.S().Info("已取消")
		return nil
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteBot(ctx, name); err != nil {
		return err
	}
	logger.S().Infof("机器人 %s 已删除, 历史成交保留在账本中", name)
	return nil
}

func confirm(prompt string) bool {
	fmt.Fprint(os.Stdout, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// runStatus 打印持仓阶段, 以最新存储的价格与MFI计算
func runStatus(ctx context.Context, a *app, args []string) error {
	var name string
	if err := parseFlags("status", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "bot title")
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

	info, err := store.GetBot(ctx, name)
	if err != nil {
		return err
	}
	strat, err := strategy.New(info.Strategy, info.Config)
	if err != nil {
		return err
	}

	var tick models.Tick
	if repo, err := a.openTickers(); err == nil {
		if price, err := repo.LatestPrice(info.Pair); err == nil {
			tick.Price = price
		}
		if mfi, err := repo.LatestMFI(info.Pair); err == nil {
			tick.MFI = mfi
		}
		repo.Close()
	} else {
		logger.S().Warnf("无法读取行情库, 以空行情显示: %v", err)
	}

	// 只读操作, 不需要交易所
	q, err := bot.New(info, nil, store, strat, logger.L()).Quote(ctx, tick)
	if err != nil {
		return err
	}
	pnl, ok, err := store.LatestPnL(ctx, info.Platform, info.Pair)
	if err != nil {
		return err
	}
	reporter.RenderStatus(os.Stdout, info, q, pnl, ok)
	return nil
}

func runAccount(ctx context.Context, a *app, args []string) error {
	var platform string
	if err := parseFlags("account", args, func(fs *flag.FlagSet) {
		fs.StringVar(&platform, "platform", models.PlatformBinance, "exchange platform")
	}); err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ex, err := a.binance(ctx, store, platform)
	if err != nil {
		return err
	}
	balances, err := ex.GetBalances(ctx)
	if err != nil {
		return err
	}
	reporter.RenderBalances(os.Stdout, balances)
	return nil
}

// runTest 检查与交易所的连通性与时间偏差
func runTest(ctx context.Context, a *app, args []string) error {
	var platform string
	if err := parseFlags("test", args, func(fs *flag.FlagSet) {
		fs.StringVar(&platform, "platform", models.PlatformBinance, "exchange platform")
	}); err != nil {
		return err
	}
	if platform != models.PlatformBinance {
		return models.ConfigurationError("unsupported platform %q", platform)
	}
	// 服务器时间是公共接口, 无需密钥
	ex := exchange.NewBinanceExchange("", "", a.cfg.BaseURL, logger.L())
	offset, err := ex.ServerTimeOffset(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s reachable at %s, clock offset %s\n", platform, a.cfg.BaseURL, offset)
	return nil
}

var errNoActiveBots = errors.New("no ACTIVE bots, use `start -name` first")
