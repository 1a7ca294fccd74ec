// Package notification delivers closed-cycle summaries to Telegram.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dca-ladder-bot-go/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender delivers one message. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts MarkdownV2 messages to a single chat. A notifier
// without a sender is disabled and drops every message.
type TelegramNotifier struct {
	sender Sender
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier connects to the Bot API. An empty token yields a
// disabled notifier.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if token == "" {
		logger.Info("telegram disabled, no token configured")
		return &TelegramNotifier{logger: logger}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, models.ConfigurationError("telegram bot: %v", err)
	}
	logger.Info("telegram bot connected", zap.String("username", api.Self.UserName))
	return NewWithSender(api, chatID, logger), nil
}

func NewWithSender(sender Sender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{sender: sender, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) Enabled() bool {
	return n.sender != nil
}

// Send posts text as-is; callers escape dynamic parts with EscapeMarkdown.
func (n *TelegramNotifier) Send(text string) error {
	if !n.Enabled() {
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// NotifyPnL posts the summary of a closed cycle.
func (n *TelegramNotifier) NotifyPnL(bot models.Bot, pnl models.PnL) error {
	return n.Send(FormatPnL(bot, pnl))
}

// CycleSummary fetches the realized PnL of a closed cycle.
type CycleSummary interface {
	LatestPnL(ctx context.Context, platform, pair string) (models.PnL, bool, error)
}

// CycleObserver pushes the summary of each cycle a bot closes. Delivery runs
// in the background; failures are logged and never reach the bot.
type CycleObserver struct {
	notifier *TelegramNotifier
	summary  CycleSummary
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewCycleObserver(n *TelegramNotifier, summary CycleSummary, logger *zap.Logger) *CycleObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleObserver{notifier: n, summary: summary, logger: logger}
}

func (o *CycleObserver) CycleClosed(ctx context.Context, bot models.Bot, cycle int64) {
	if !o.notifier.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		logger := o.logger.With(zap.String("bot", bot.Title), zap.Int64("cycle", cycle))
		pnl, ok, err := o.summary.LatestPnL(ctx, bot.Platform, bot.Pair)
		if err != nil {
			logger.Warn("load pnl failed", zap.Error(err))
			return
		}
		if !ok || pnl.Cycle != cycle {
			logger.Warn("closed cycle not found in ledger", zap.Int64("latest", pnl.Cycle))
			return
		}
		if err := o.notifier.NotifyPnL(bot, pnl); err != nil {
			logger.Warn("notify pnl failed", zap.Error(err))
		}
	}()
}

// Wait blocks until pending deliveries finish.
func (o *CycleObserver) Wait() {
	o.wg.Wait()
}

// FormatPnL renders a MarkdownV2 cycle summary.
func FormatPnL(bot models.Bot, pnl models.PnL) string {
	icon := "🔴"
	if pnl.Value >= 0 {
		icon = "💰"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* closed cycle %d\n", icon, EscapeMarkdown(bot.Title), pnl.Cycle)
	fmt.Fprintf(&b, "Pair: `%s`\n", EscapeMarkdown(pnl.Pair))
	fmt.Fprintf(&b, "PnL: %s %s", EscapeMarkdown(fmt.Sprintf("%+.4f", pnl.Value)), EscapeMarkdown(bot.Quote))
	return b.String()
}

var markdownReplacer = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
	"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// EscapeMarkdown escapes the characters MarkdownV2 reserves.
func EscapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}

// Watcher polls the ledger and notifies when a bot's latest closed cycle
// advances past the last one it reported.
type Watcher struct {
	notifier *TelegramNotifier
	summary  CycleSummary
	bots     func(ctx context.Context) ([]models.Bot, error)
	interval time.Duration
	logger   *zap.Logger

	notified map[string]int64
}

// NewWatcher creates a watcher. bots lists the bots to follow on each pass.
func NewWatcher(n *TelegramNotifier, summary CycleSummary, bots func(ctx context.Context) ([]models.Bot, error), interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		notifier: n,
		summary:  summary,
		bots:     bots,
		interval: interval,
		logger:   logger,
		notified: make(map[string]int64),
	}
}

// Prime records the current latest cycles without notifying, so only cycles
// closed after startup are reported.
func (w *Watcher) Prime(ctx context.Context) error {
	return w.pass(ctx, false)
}

// Check runs one pass and notifies new closed cycles.
func (w *Watcher) Check(ctx context.Context) error {
	return w.pass(ctx, true)
}

func (w *Watcher) pass(ctx context.Context, notify bool) error {
	bots, err := w.bots(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		pnl, ok, err := w.summary.LatestPnL(ctx, b.Platform, b.Pair)
		if err != nil {
			w.logger.Warn("load pnl failed", zap.String("bot", b.Title), zap.Error(err))
			continue
		}
		if !ok || pnl.Cycle <= w.notified[b.Title] {
			continue
		}
		if notify {
			if err := w.notifier.NotifyPnL(b, pnl); err != nil {
				w.logger.Warn("notify pnl failed", zap.String("bot", b.Title), zap.Error(err))
				continue
			}
			w.logger.Info("cycle reported", zap.String("bot", b.Title), zap.Int64("cycle", pnl.Cycle), zap.Float64("pnl", pnl.Value))
		}
		w.notified[b.Title] = pnl.Cycle
	}
	return nil
}

// Run primes the watcher and checks every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Prime(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Check(ctx); err != nil {
				w.logger.Warn("notification pass failed", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
