package reporter

import (
	"context"
	"fmt"
	"io"
	"strings"

	"dca-ladder-bot-go/internal/bot"
	"dca-ladder-bot-go/internal/exchange"
	"dca-ladder-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

// RenderQuotes 打印实时行情表, 每个价格tick刷新一次
func RenderQuotes(w io.Writer, quotes ...bot.Quote) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"MFI", "Pair", "Price", "Avg", "Avg %", "Top", "Bottom", "Bottom MFI", "MFI Dir", "Wallet", "Cycle", "Margin"})
	for _, q := range quotes {
		avg, change := "-", "-"
		if q.Status == models.StatusOpen {
			avg = fmt.Sprintf("%.4f", q.AvgPrice)
			change = colorPercent(q.AvgChange)
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%.2f", q.MFI),
			q.Pair,
			fmt.Sprintf("%.4f", q.Price),
			avg,
			change,
			fmt.Sprintf("%.4f", q.TopPrice),
			fmt.Sprintf("%.4f", q.BottomPrice),
			fmt.Sprintf("%.2f", q.BottomMFI),
			q.MFIDir.String(),
			fmt.Sprintf("%.2f", q.Wallet),
			q.Cycle,
			fmt.Sprintf("%d/%d", q.MarginPosition, q.Rungs),
		})
	}
	t.Render()
}

func colorPercent(v float64) string {
	s := fmt.Sprintf("%+.2f%%", v)
	if v >= 0 {
		return text.FgGreen.Sprint(s)
	}
	return text.FgRed.Sprint(s)
}

// RenderBots 打印机器人列表
func RenderBots(w io.Writer, bots []models.Bot) {
	t := newTable(w, "Bots")
	t.AppendHeader(table.Row{"Title", "Pair", "Platform", "Strategy", "Cycle", "First Buy-In", "Rungs", "Status"})
	for _, b := range bots {
		t.AppendRow(table.Row{b.Title, b.Pair, b.Platform, b.Strategy, b.Cycle, b.Config.FirstBuyIn, len(b.Config.MarginLadder), b.Status})
	}
	t.Render()
}

// RenderBot 打印单个机器人的完整参数与补仓阶梯
func RenderBot(w io.Writer, b models.Bot) {
	t := newTable(w, b.Title)
	t.AppendRows([]table.Row{
		{"Pair", fmt.Sprintf("%s (%s/%s)", b.Pair, b.Base, b.Quote)},
		{"Platform", b.Platform},
		{"Strategy", b.Strategy},
		{"Cycle", b.Cycle},
		{"Status", b.Status},
		{"First Buy-In", fmt.Sprintf("%.2f %s", b.Config.FirstBuyIn, b.Quote)},
		{"Take Profit", fmt.Sprintf("above %+.2f%%, callback %+.2f%%", b.Config.TakeProfit.PriceChangeAbove, b.Config.TakeProfit.PriceCallback)},
	})
	t.Render()

	ladder := newTable(w, "Entry & Margin Ladder")
	ladder.AppendHeader(table.Row{"Rung", "MFI Below", "MFI Callback", "Price Change Below", "Price Callback", "Amount"})
	ladder.AppendRow(criteriaRow("entry", b.Config.Entry, b.Config.FirstBuyIn))
	for i, rung := range b.Config.MarginLadder {
		ladder.AppendRow(criteriaRow(fmt.Sprint(i), rung, rung.AmountRatio*b.Config.FirstBuyIn))
	}
	ladder.Render()
}

func criteriaRow(name string, c models.OpenCriteria, amount float64) table.Row {
	return table.Row{name, c.MFIBelow, c.MFICallback, fmt.Sprintf("%+.2f%%", c.PriceChangeBelow), fmt.Sprintf("%+.2f%%", c.PriceCallback), fmt.Sprintf("%.2f", amount)}
}

// RenderBinding 打印API绑定, 密钥只显示首尾
func RenderBinding(w io.Writer, c models.ApiCredential) {
	t := newTable(w, "Binding")
	t.AppendRows([]table.Row{
		{"Platform", c.Platform},
		{"API Key", mask(c.APIKey)},
		{"Secret Key", mask(c.SecretKey)},
	})
	t.Render()
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// RenderBalances 打印账户余额
func RenderBalances(w io.Writer, balances []models.Balance) {
	t := newTable(w, "Balances")
	t.AppendHeader(table.Row{"Asset", "Free", "Locked"})
	for _, b := range balances {
		t.AppendRow(table.Row{b.Asset, fmt.Sprintf("%.8f", b.Free), fmt.Sprintf("%.8f", b.Locked)})
	}
	t.Render()
}

// RenderStatus 打印机器人状态与最近一个已平仓周期的盈亏
func RenderStatus(w io.Writer, b models.Bot, q bot.Quote, pnl models.PnL, hasPnL bool) {
	t := newTable(w, b.Title+" status")
	last := "-"
	if hasPnL {
		last = fmt.Sprintf("cycle %d: %+.4f %s", pnl.Cycle, pnl.Value, b.Quote)
	}
	t.AppendRows([]table.Row{
		{"Status", b.Status},
		{"Position", q.Status},
		{"Cycle", q.Cycle},
		{"Margin", fmt.Sprintf("%d/%d", q.MarginPosition, q.Rungs)},
		{"Avg Price", fmt.Sprintf("%.4f", q.AvgPrice)},
		{"Top / Bottom", fmt.Sprintf("%.4f / %.4f", q.TopPrice, q.BottomPrice)},
		{"Bottom MFI", fmt.Sprintf("%.2f", q.BottomMFI)},
		{"Wallet", fmt.Sprintf("%.2f %s", q.Wallet, b.Quote)},
		{"Last Closed", last},
	})
	t.Render()
}

// PaperSummary 模拟盘运行结束后的统计
type PaperSummary struct {
	Orders      int
	TotalFees   float64
	QuoteAsset  string
	QuoteFree   float64
	BaseAsset   string
	BaseFree    float64
	LastPrice   float64
	EquityValue float64 // 计价货币 + 持仓按最新价折算
}

// SummarizePaper 根据模拟交易所的状态计算统计
func SummarizePaper(ex *exchange.PaperExchange, b models.Bot, lastPrice float64) PaperSummary {
	s := PaperSummary{
		Orders:     len(ex.TradeLog),
		TotalFees:  ex.TotalFees,
		QuoteAsset: b.Quote,
		BaseAsset:  b.Base,
		LastPrice:  lastPrice,
	}
	balances, _ := ex.GetBalances(context.Background())
	for _, bal := range balances {
		switch bal.Asset {
		case b.Quote:
			s.QuoteFree = bal.Free
		case b.Base:
			s.BaseFree = bal.Free
		}
	}
	s.EquityValue = s.QuoteFree + s.BaseFree*lastPrice
	return s
}

// RenderPaperSummary 打印模拟盘统计
func RenderPaperSummary(w io.Writer, s PaperSummary) {
	t := newTable(w, "Paper trading summary")
	t.AppendRows([]table.Row{
		{"Orders", s.Orders},
		{"Fees", fmt.Sprintf("%.4f %s", s.TotalFees, s.QuoteAsset)},
		{s.QuoteAsset, fmt.Sprintf("%.4f", s.QuoteFree)},
		{s.BaseAsset, fmt.Sprintf("%.8f", s.BaseFree)},
		{"Last Price", fmt.Sprintf("%.4f", s.LastPrice)},
		{"Equity", fmt.Sprintf("%.4f %s", s.EquityValue, s.QuoteAsset)},
	})
	t.Render()
}
