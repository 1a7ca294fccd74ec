package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dca-ladder-bot-go/internal/models"
)

// ErrBotNotFound is returned when no bot has the requested title.
var ErrBotNotFound = errors.New("bot not found")

const botColumns = `id, title, pair, base, quote, platform, strategy, cycle, first_buy_in, entry, take_profit, margin, status`

// SaveBot inserts a bot or updates the one registered for the same
// (platform, pair). New bots start PAUSED; an update keeps the current status.
func (s *Store) SaveBot(ctx context.Context, bot models.Bot) (models.Bot, error) {
	entry, err := json.Marshal(bot.Config.Entry)
	if err != nil {
		return bot, fmt.Errorf("failed to encode entry criteria: %w", err)
	}
	takeProfit, err := json.Marshal(bot.Config.TakeProfit)
	if err != nil {
		return bot, fmt.Errorf("failed to encode take profit criteria: %w", err)
	}
	ladder := bot.Config.MarginLadder
	if ladder == nil {
		ladder = []models.OpenCriteria{}
	}
	margin, err := json.Marshal(ladder)
	if err != nil {
		return bot, fmt.Errorf("failed to encode margin ladder: %w", err)
	}

	query := `
	INSERT INTO bots (title, pair, base, quote, platform, strategy, cycle, first_buy_in, entry, take_profit, margin, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(platform, pair) DO UPDATE SET
		title = excluded.title,
		base = excluded.base,
		quote = excluded.quote,
		strategy = excluded.strategy,
		cycle = excluded.cycle,
		first_buy_in = excluded.first_buy_in,
		entry = excluded.entry,
		take_profit = excluded.take_profit,
		margin = excluded.margin;`

	_, err = s.db.ExecContext(ctx, query,
		bot.Title, bot.Pair, bot.Base, bot.Quote, bot.Platform, bot.Strategy, bot.Cycle,
		bot.Config.FirstBuyIn, string(entry), string(takeProfit), string(margin), models.BotPaused,
	)
	if err != nil {
		return bot, models.StorageError("save bot "+bot.Title, err)
	}
	return s.GetBot(ctx, bot.Title)
}

// GetBot returns the bot registered under title.
func (s *Store) GetBot(ctx context.Context, title string) (models.Bot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+botColumns+" FROM bots WHERE title = ?", title)
	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bot{}, fmt.Errorf("%w: %s", ErrBotNotFound, title)
	}
	if err != nil {
		return models.Bot{}, models.StorageError("get bot "+title, err)
	}
	return bot, nil
}

// ListBots returns every registered bot ordered by id.
func (s *Store) ListBots(ctx context.Context) ([]models.Bot, error) {
	return s.queryBots(ctx, "SELECT "+botColumns+" FROM bots ORDER BY id")
}

// ActiveBots returns bots with status ACTIVE.
func (s *Store) ActiveBots(ctx context.Context) ([]models.Bot, error) {
	return s.queryBots(ctx, "SELECT "+botColumns+" FROM bots WHERE status = ? ORDER BY id", models.BotActive)
}

// SetBotStatus changes the status of the bot named title.
func (s *Store) SetBotStatus(ctx context.Context, title string, status models.BotStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE bots SET status = ? WHERE title = ?", status, title)
	if err != nil {
		return models.StorageError("set bot status "+title, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrBotNotFound, title)
	}
	return nil
}

// DeleteBot removes the bot named title. Its trades and states are kept.
func (s *Store) DeleteBot(ctx context.Context, title string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bots WHERE title = ?", title)
	if err != nil {
		return models.StorageError("delete bot "+title, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrBotNotFound, title)
	}
	return nil
}

func (s *Store) queryBots(ctx context.Context, query string, args ...any) ([]models.Bot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.StorageError("query bots", err)
	}
	defer rows.Close()

	var bots []models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, models.StorageError("scan bot", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, models.StorageError("query bots", err)
	}
	return bots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (models.Bot, error) {
	var bot models.Bot
	var entry, takeProfit, margin string
	if err := row.Scan(
		&bot.ID, &bot.Title, &bot.Pair, &bot.Base, &bot.Quote, &bot.Platform, &bot.Strategy, &bot.Cycle,
		&bot.Config.FirstBuyIn, &entry, &takeProfit, &margin, &bot.Status,
	); err != nil {
		return bot, err
	}
	if err := json.Unmarshal([]byte(entry), &bot.Config.Entry); err != nil {
		return bot, fmt.Errorf("failed to decode entry criteria of %s: %w", bot.Title, err)
	}
	if err := json.Unmarshal([]byte(takeProfit), &bot.Config.TakeProfit); err != nil {
		return bot, fmt.Errorf("failed to decode take profit criteria of %s: %w", bot.Title, err)
	}
	if err := json.Unmarshal([]byte(margin), &bot.Config.MarginLadder); err != nil {
		return bot, fmt.Errorf("failed to decode margin ladder of %s: %w", bot.Title, err)
	}
	return bot, nil
}

// SaveBinding upserts the API credentials of a platform.
func (s *Store) SaveBinding(ctx context.Context, cred models.ApiCredential) error {
	query := `
	INSERT INTO bindings (platform, api_key, secret_key) VALUES (?, ?, ?)
	ON CONFLICT(platform) DO UPDATE SET api_key = excluded.api_key, secret_key = excluded.secret_key`

	if _, err := s.db.ExecContext(ctx, query, cred.Platform, cred.APIKey, cred.SecretKey); err != nil {
		return models.StorageError("save binding "+cred.Platform, err)
	}
	return nil
}

// GetBinding returns the credentials of a platform; ok is false if none are stored.
func (s *Store) GetBinding(ctx context.Context, platform string) (models.ApiCredential, bool, error) {
	cred := models.ApiCredential{Platform: platform}
	err := s.db.QueryRowContext(ctx, "SELECT api_key, secret_key FROM bindings WHERE platform = ?", platform).
		Scan(&cred.APIKey, &cred.SecretKey)
	if errors.Is(err, sql.ErrNoRows) {
		return cred, false, nil
	}
	if err != nil {
		return cred, false, models.StorageError("get binding "+platform, err)
	}
	return cred, true, nil
}

// Trades returns the trades of one cycle in insertion order.
func (s *Store) Trades(ctx context.Context, platform, pair string, cycle int64) ([]models.Trade, error) {
	query := `
	SELECT id, pair, cycle, price, qty, platform, status, timestamp
	FROM trades
	WHERE platform = ? AND pair = ? AND cycle = ?
	ORDER BY timestamp, id`

	rows, err := s.db.QueryContext(ctx, query, platform, pair, cycle)
	if err != nil {
		return nil, models.StorageError("query trades", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var trade models.Trade
		var ts int64
		if err := rows.Scan(&trade.ID, &trade.Pair, &trade.Cycle, &trade.Price, &trade.Qty, &trade.Platform, &trade.Status, &ts); err != nil {
			return nil, models.StorageError("scan trade", err)
		}
		trade.Timestamp = time.UnixMilli(ts)
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, models.StorageError("query trades", err)
	}
	return trades, nil
}

// LatestPnL returns the realized PnL of the most recently closed cycle:
// sum(CLOSE price*qty) - sum(OPEN price*qty). ok is false if no cycle has closed.
func (s *Store) LatestPnL(ctx context.Context, platform, pair string) (models.PnL, bool, error) {
	pnl := models.PnL{Platform: platform, Pair: pair}

	err := s.db.QueryRowContext(ctx, `
	SELECT cycle FROM trades
	WHERE platform = ? AND pair = ? AND status = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT 1`, platform, pair, models.TradeClose).Scan(&pnl.Cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return pnl, false, nil
	}
	if err != nil {
		return pnl, false, models.StorageError("latest closed cycle", err)
	}

	err = s.db.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(CASE WHEN status = ? THEN price * qty ELSE -price * qty END), 0)
	FROM trades
	WHERE platform = ? AND pair = ? AND cycle = ?`, models.TradeClose, platform, pair, pnl.Cycle).Scan(&pnl.Value)
	if err != nil {
		return pnl, false, models.StorageError("cycle pnl", err)
	}
	return pnl, true, nil
}
