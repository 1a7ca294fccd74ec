package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dca-ladder-bot-go/internal/models"
)

// ledger implements Ledger over either the database or an open transaction.
type ledger struct {
	q querier
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

// LatestTrade returns the most recent trade for (platform, pair).
func (l *ledger) LatestTrade(ctx context.Context, platform, pair string) (models.Trade, error) {
	query := `
	SELECT id, pair, cycle, price, qty, platform, status, timestamp
	FROM trades
	WHERE platform = ? AND pair = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT 1`

	var trade models.Trade
	var ts int64
	err := l.q.QueryRowContext(ctx, query, platform, pair).Scan(
		&trade.ID, &trade.Pair, &trade.Cycle, &trade.Price, &trade.Qty, &trade.Platform, &trade.Status, &ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trade{}, nil
	}
	if err != nil {
		return models.Trade{}, models.StorageError("latest trade", err)
	}
	trade.Timestamp = time.UnixMilli(ts)
	return trade, nil
}

// CreateTrade inserts a trade and sets its ID.
func (l *ledger) CreateTrade(ctx context.Context, trade *models.Trade) error {
	query := `
	INSERT INTO trades (pair, cycle, price, qty, platform, status, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now()
	}
	res, err := l.q.ExecContext(ctx, query,
		trade.Pair, trade.Cycle, trade.Price, trade.Qty, trade.Platform, trade.Status, toMillis(trade.Timestamp),
	)
	if err != nil {
		return models.StorageError("insert trade", err)
	}
	if trade.ID, err = res.LastInsertId(); err != nil {
		return models.StorageError("insert trade", err)
	}
	return nil
}

// LatestState returns the current position state, i.e. the row with the
// greatest timestamp.
func (l *ledger) LatestState(ctx context.Context, platform, pair string) (models.BotState, error) {
	query := `
	SELECT id, pair, platform, cycle, margin_position, top_price, bottom_price, bottom_mfi, timestamp
	FROM bot_states
	WHERE platform = ? AND pair = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT 1`

	var state models.BotState
	var ts int64
	err := l.q.QueryRowContext(ctx, query, platform, pair).Scan(
		&state.ID, &state.Pair, &state.Platform, &state.Cycle, &state.MarginPosition,
		&state.TopPrice, &state.BottomPrice, &state.BottomMFI, &ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BotState{}, nil
	}
	if err != nil {
		return models.BotState{}, models.StorageError("latest state", err)
	}
	state.Timestamp = time.UnixMilli(ts)
	return state, nil
}

// CreateState inserts a new position state and sets its ID.
func (l *ledger) CreateState(ctx context.Context, state *models.BotState) error {
	query := `
	INSERT INTO bot_states (pair, platform, cycle, margin_position, top_price, bottom_price, bottom_mfi, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}
	res, err := l.q.ExecContext(ctx, query,
		state.Pair, state.Platform, state.Cycle, state.MarginPosition,
		state.TopPrice, state.BottomPrice, state.BottomMFI, toMillis(state.Timestamp),
	)
	if err != nil {
		return models.StorageError("insert state", err)
	}
	if state.ID, err = res.LastInsertId(); err != nil {
		return models.StorageError("insert state", err)
	}
	return nil
}

func (l *ledger) UpdateTopPrice(ctx context.Context, id int64, price float64) error {
	return l.updateState(ctx, "update top price", "UPDATE bot_states SET top_price = ? WHERE id = ?", price, id)
}

func (l *ledger) UpdateBottomPrice(ctx context.Context, id int64, price float64) error {
	return l.updateState(ctx, "update bottom price", "UPDATE bot_states SET bottom_price = ? WHERE id = ?", price, id)
}

func (l *ledger) UpdateMarginPosition(ctx context.Context, id int64, position int) error {
	return l.updateState(ctx, "update margin position", "UPDATE bot_states SET margin_position = ? WHERE id = ?", position, id)
}

func (l *ledger) UpdateBottomMFI(ctx context.Context, id int64, mfi float64) error {
	return l.updateState(ctx, "update bottom mfi", "UPDATE bot_states SET bottom_mfi = ? WHERE id = ?", mfi, id)
}

func (l *ledger) updateState(ctx context.Context, op, query string, value any, id int64) error {
	res, err := l.q.ExecContext(ctx, query, value, id)
	if err != nil {
		return models.StorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.StorageError(op, err)
	}
	if n == 0 {
		return models.StorageError(op, sql.ErrNoRows)
	}
	return nil
}

// AvgPrice returns sum(price*qty)/sum(qty) over the cycle's OPEN trades.
func (l *ledger) AvgPrice(ctx context.Context, platform, pair string, cycle int64) (float64, bool, error) {
	query := `
	SELECT COALESCE(SUM(price * qty), 0), COALESCE(SUM(qty), 0)
	FROM trades
	WHERE platform = ? AND pair = ? AND cycle = ? AND status = ?`

	var notional, qty float64
	if err := l.q.QueryRowContext(ctx, query, platform, pair, cycle, models.TradeOpen).Scan(&notional, &qty); err != nil {
		return 0, false, models.StorageError("avg price", err)
	}
	if qty <= 0 {
		return 0, false, nil
	}
	return notional / qty, true, nil
}

// UpdateWallet upserts the cached free balance of an asset.
func (l *ledger) UpdateWallet(ctx context.Context, platform, asset string, amount float64) error {
	query := `
	INSERT INTO tokens (asset, amount, platform) VALUES (?, ?, ?)
	ON CONFLICT(asset) DO UPDATE SET amount = excluded.amount, platform = excluded.platform`

	if _, err := l.q.ExecContext(ctx, query, asset, amount, platform); err != nil {
		return models.StorageError("update wallet", err)
	}
	return nil
}

// Wallet returns the cached balance of an asset, 0 when unknown.
func (l *ledger) Wallet(ctx context.Context, asset string) (float64, error) {
	var amount float64
	err := l.q.QueryRowContext(ctx, "SELECT amount FROM tokens WHERE asset = ?", asset).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, models.StorageError("wallet", err)
	}
	return amount, nil
}
