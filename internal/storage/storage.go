package storage

import (
	"context"
	"database/sql"
	"fmt"

	"dca-ladder-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Ledger is the per-tick read/write surface used by the position state machine.
// Lookups that find no rows return zero values and a nil error.
type Ledger interface {
	LatestTrade(ctx context.Context, platform, pair string) (models.Trade, error)
	CreateTrade(ctx context.Context, trade *models.Trade) error
	LatestState(ctx context.Context, platform, pair string) (models.BotState, error)
	CreateState(ctx context.Context, state *models.BotState) error
	UpdateTopPrice(ctx context.Context, id int64, price float64) error
	UpdateBottomPrice(ctx context.Context, id int64, price float64) error
	UpdateMarginPosition(ctx context.Context, id int64, position int) error
	UpdateBottomMFI(ctx context.Context, id int64, mfi float64) error
	// AvgPrice returns the quantity-weighted mean price of the cycle's OPEN
	// trades; ok is false when the cycle has none.
	AvgPrice(ctx context.Context, platform, pair string, cycle int64) (avg float64, ok bool, err error)
	UpdateWallet(ctx context.Context, platform, asset string, amount float64) error
	Wallet(ctx context.Context, asset string) (float64, error)
}

// Storage is a Ledger that can also run a group of writes atomically.
type Storage interface {
	Ledger
	Atomic(ctx context.Context, fn func(Ledger) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite implementation of Storage plus the bot registry.
type Store struct {
	ledger
	db *sql.DB
}

// Open opens (and if needed creates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, models.StorageError("open "+path, err)
	}
	return &Store{ledger: ledger{q: db}, db: db}, nil
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps transactions and plain statements serialized.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	statements := []string{
		// Registered bots. One bot per (platform, pair).
		`CREATE TABLE IF NOT EXISTS bots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL UNIQUE,
			pair TEXT NOT NULL,
			base TEXT NOT NULL,
			quote TEXT NOT NULL,
			platform TEXT NOT NULL,
			strategy TEXT NOT NULL,
			cycle TEXT NOT NULL,
			first_buy_in REAL NOT NULL,
			entry TEXT NOT NULL,
			take_profit TEXT NOT NULL,
			margin TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PAUSED',
			UNIQUE (platform, pair)
		);`,
		// API credentials per platform.
		`CREATE TABLE IF NOT EXISTS bindings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			platform TEXT NOT NULL UNIQUE,
			api_key TEXT NOT NULL,
			secret_key TEXT NOT NULL
		);`,
		// Append-only ledger of executed orders.
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			price REAL NOT NULL,
			qty REAL NOT NULL,
			platform TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_pair_cycle ON trades (platform, pair, cycle);`,
		// Position tracking state, one row per cycle.
		`CREATE TABLE IF NOT EXISTS bot_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			platform TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			margin_position INTEGER NOT NULL,
			top_price REAL NOT NULL,
			bottom_price REAL NOT NULL,
			bottom_mfi REAL NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_states_pair ON bot_states (platform, pair, timestamp);`,
		// Cached wallet balances, refreshed after each order.
		`CREATE TABLE IF NOT EXISTS tokens (
			asset TEXT PRIMARY KEY,
			amount REAL NOT NULL,
			platform TEXT NOT NULL
		);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Atomic runs fn inside a transaction; any error rolls back every write fn made.
func (s *Store) Atomic(ctx context.Context, fn func(Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StorageError("begin transaction", err)
	}
	defer tx.Rollback() // Rollback on any error

	if err := fn(&ledger{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return models.StorageError("commit transaction", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
