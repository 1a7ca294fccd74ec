package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dca-ladder-bot-go/internal/config"
	"dca-ladder-bot-go/internal/logger"
	"dca-ladder-bot-go/internal/metrics"
	"dca-ladder-bot-go/internal/models"
)

const usage = `usage: bot [-config config.json] <command> [flags]

commands:
  setup                          create the ledger schema
  apply -f <manifest>            register a bot or an API binding (TOML or YAML)
  list                           list registered bots
  bot -name <title>              show a bot's parameters and ladder
  start -name <title>            mark a bot ACTIVE
  stop -name <title>             mark a bot PAUSED
  delete -name <title> [-yes]    remove a bot
  status -name <title>           show position state and last closed cycle
  account -platform binance      show exchange balances
  run -name <title> [-duration 30] [-paper]
                                 run one bot on the live ticker stream
  run-all [-duration 30]         poll every ACTIVE bot from stored prices
  tick                           collect klines and MFI for every ACTIVE bot
  notification [-duration 60]    report closed cycles to Telegram
  test -platform binance         check exchange connectivity
  download -pair <symbol> -start YYYY-MM-DD -end YYYY-MM-DD [-interval 1m]
                                 backfill klines and MFI into the ticker db
`

// app 汇总各子命令共享的配置
type app struct {
	cfg *models.Config
	env models.Env
}

// command 子命令入口, args 为子命令自身的参数
type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"setup":        runSetup,
	"apply":        runApply,
	"list":         runList,
	"bot":          runShowBot,
	"start":        runStart,
	"stop":         runStop,
	"delete":       runDelete,
	"status":       runStatus,
	"account":      runAccount,
	"run":          runSingle,
	"run-all":      runAll,
	"tick":         runTick,
	"notification": runNotification,
	"test":         runTest,
	"download":     runDownload,
}

func main() {
	// --- 全局参数 ---
	global := flag.NewFlagSet("bot", flag.ExitOnError)
	configPath := global.String("config", "config.json", "path to the config file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	global.Parse(os.Args[1:])

	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}
	name, args := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "未知的命令: %s\n\n", name)
		global.Usage()
		os.Exit(2)
	}

	// 先用默认配置初始化日志, 以便记录配置加载过程
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 与环境变量 ---
	env, err := config.LoadEnv(".env")
	if err != nil {
		logger.S().Fatalf("无法读取环境变量: %v", err)
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	config.ApplyEnv(cfg, env)

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.Sync()

	// 收到 SIGINT/SIGTERM 时取消根 context, 所有推送与循环随之退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.S().Errorf("指标服务退出: %v", err)
			}
		}()
	}

	a := &app{cfg: cfg, env: env}
	if err := cmd(ctx, a, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.S().Errorf("%s 执行失败: %v", name, err)
		logger.Sync()
		os.Exit(1)
	}
}
