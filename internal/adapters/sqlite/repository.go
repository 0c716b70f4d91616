package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autotrader/internal/domain"
	"autotrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository, ports.EventRepository and
// ports.SettingsRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/autotrader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between intake, reconciliation and the scheduler.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		mode TEXT NOT NULL,
		signal TEXT NOT NULL,
		source TEXT NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL DEFAULT NULL,
		target_price REAL DEFAULT NULL,
		quantity REAL NOT NULL,
		position_size REAL NOT NULL,
		fill_price REAL DEFAULT 0,
		close_price REAL DEFAULT 0,
		pnl REAL DEFAULT 0,
		pnl_percent REAL DEFAULT 0,
		status TEXT NOT NULL,
		close_reason TEXT DEFAULT NULL,
		opened_at TIMESTAMP DEFAULT NULL,
		filled_at TIMESTAMP DEFAULT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		created_at TIMESTAMP NOT NULL,
		scanner_confidence REAL DEFAULT 0,
		fa_confidence REAL DEFAULT 0,
		rationale TEXT DEFAULT '',
		broker_order_id TEXT DEFAULT '',
		notes TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS auto_trade_events (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		severity TEXT NOT NULL,
		action TEXT DEFAULT NULL,
		source TEXT DEFAULT '',
		mode TEXT DEFAULT '',
		message TEXT NOT NULL,
		scanner_confidence REAL DEFAULT 0,
		fa_confidence REAL DEFAULT 0,
		skip_reason TEXT DEFAULT '',
		metadata TEXT DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auto_trade_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_ticker_status ON trades (ticker, status);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON auto_trade_events (created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

func activePlaceholders() string {
	ph := make([]string, len(domain.ActiveStatuses))
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}

func activeArgs() []interface{} {
	args := make([]interface{}, len(domain.ActiveStatuses))
	for i, s := range domain.ActiveStatuses {
		args[i] = s
	}
	return args
}

// --- TradeRepository Implementation ---

const tradeColumns = `id, ticker, mode, signal, source, entry_price, stop_loss, target_price,
	quantity, position_size, fill_price, close_price, pnl, pnl_percent, status, close_reason,
	opened_at, filled_at, closed_at, created_at, scanner_confidence, fa_confidence,
	rationale, broker_order_id, notes`

// Create persists a new trade row.
func (r *Repository) Create(ctx context.Context, t *domain.Trade) error {
	const query = `
	INSERT INTO trades (` + tradeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Ticker, t.Mode, t.Signal, t.Source, t.EntryPrice,
		nullFloat(t.StopLoss), nullFloat(t.TargetPrice),
		t.Quantity, t.PositionSize, t.FillPrice, t.ClosePrice, t.PNL, t.PNLPercent,
		t.Status, nullString(string(t.CloseReason)),
		nullTime(t.OpenedAt), nullTime(t.FilledAt), nullTime(t.ClosedAt), t.CreatedAt,
		t.ScannerConfidence, t.FAConfidence, t.Rationale, t.BrokerOrderID, t.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert trade for ticker %s: %w", t.Ticker, err)
	}
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": t.ID, "ticker": t.Ticker, "status": t.Status})
	return nil
}

// Update overwrites an existing trade by id (last-write-wins).
func (r *Repository) Update(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET ticker = ?, mode = ?, signal = ?, source = ?, entry_price = ?, stop_loss = ?,
	    target_price = ?, quantity = ?, position_size = ?, fill_price = ?, close_price = ?,
	    pnl = ?, pnl_percent = ?, status = ?, close_reason = ?, opened_at = ?, filled_at = ?,
	    closed_at = ?, scanner_confidence = ?, fa_confidence = ?, rationale = ?,
	    broker_order_id = ?, notes = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		t.Ticker, t.Mode, t.Signal, t.Source, t.EntryPrice,
		nullFloat(t.StopLoss), nullFloat(t.TargetPrice),
		t.Quantity, t.PositionSize, t.FillPrice, t.ClosePrice, t.PNL, t.PNLPercent,
		t.Status, nullString(string(t.CloseReason)),
		nullTime(t.OpenedAt), nullTime(t.FilledAt), nullTime(t.ClosedAt),
		t.ScannerConfidence, t.FAConfidence, t.Rationale, t.BrokerOrderID, t.Notes,
		t.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", t.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s not found for update: %w", t.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": t.ID, "ticker": t.Ticker, "status": t.Status})
	return nil
}

// FindByID retrieves a trade by id.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	const query = `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", id, err)
	}
	return t, nil
}

// FindActiveByTicker retrieves the active trade for a ticker, if any.
func (r *Repository) FindActiveByTicker(ctx context.Context, ticker string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE ticker = ? AND status IN (` + activePlaceholders() + `) LIMIT 1`
	args := append([]interface{}{ticker}, activeArgs()...)
	row := r.db.QueryRowContext(ctx, query, args...)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active trade for ticker %s: %w", ticker, err)
	}
	return t, nil
}

// FindActive retrieves all trades in an active status.
func (r *Repository) FindActive(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status IN (` + activePlaceholders() + `) ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, activeArgs()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// CountActive counts trades in an active status.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE status IN (` + activePlaceholders() + `)`
	var count int
	if err := r.db.QueryRowContext(ctx, query, activeArgs()...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active trades: %w", err)
	}
	return count, nil
}

// FindRecent retrieves the most recent trades, newest first.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// --- EventRepository Implementation ---

// Append persists an audit event. Callers treat failures as non-fatal.
func (r *Repository) Append(ctx context.Context, e *domain.AutoTradeEvent) error {
	const query = `
	INSERT INTO auto_trade_events (id, ticker, severity, action, source, mode, message,
		scanner_confidence, fa_confidence, skip_reason, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata for %s: %w", e.Ticker, err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Ticker, e.Severity, nullString(string(e.Action)), e.Source, e.Mode, e.Message,
		e.ScannerConfidence, e.FAConfidence, e.SkipReason, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event for ticker %s: %w", e.Ticker, err)
	}
	return nil
}

// FindRecentEvents retrieves the most recent audit events, newest first.
func (r *Repository) FindRecentEvents(ctx context.Context, limit int) ([]*domain.AutoTradeEvent, error) {
	const query = `
	SELECT id, ticker, severity, action, source, mode, message,
	       scanner_confidence, fa_confidence, skip_reason, metadata, created_at
	FROM auto_trade_events ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.AutoTradeEvent, 0)
	for rows.Next() {
		e := &domain.AutoTradeEvent{}
		var action, metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Ticker, &e.Severity, &action, &e.Source, &e.Mode, &e.Message,
			&e.ScannerConfidence, &e.FAConfidence, &e.SkipReason, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if action.Valid {
			e.Action = domain.EventAction(action.String)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				r.logger.Warn(ctx, "Dropping unreadable event metadata", map[string]interface{}{"eventID": e.ID})
			}
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}
	return events, nil
}

// --- SettingsRepository Implementation ---

// LoadSettings retrieves the persisted settings record, nil when absent.
func (r *Repository) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	const query = `SELECT payload, version FROM auto_trade_settings WHERE id = 1`
	var payload string
	var version int64
	err := r.db.QueryRowContext(ctx, query).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	var s domain.Settings
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings payload: %w", err)
	}
	s.Version = version
	return &s, nil
}

// SaveSettings persists the settings record and bumps its version.
func (r *Repository) SaveSettings(ctx context.Context, s *domain.Settings) error {
	s.Version++
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings payload: %w", err)
	}
	const query = `
	INSERT INTO auto_trade_settings (id, payload, version, updated_at) VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, version = excluded.version, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, string(payload), s.Version, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	r.logger.Debug(ctx, "Settings saved", map[string]interface{}{"version": s.Version})
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var stopLoss, targetPrice sql.NullFloat64
	var closeReason sql.NullString
	var openedAt, filledAt, closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.Ticker, &t.Mode, &t.Signal, &t.Source, &t.EntryPrice, &stopLoss, &targetPrice,
		&t.Quantity, &t.PositionSize, &t.FillPrice, &t.ClosePrice, &t.PNL, &t.PNLPercent,
		&t.Status, &closeReason, &openedAt, &filledAt, &closedAt, &t.CreatedAt,
		&t.ScannerConfidence, &t.FAConfidence, &t.Rationale, &t.BrokerOrderID, &t.Notes)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if stopLoss.Valid {
		t.StopLoss = &stopLoss.Float64
	}
	if targetPrice.Valid {
		t.TargetPrice = &targetPrice.Float64
	}
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	if openedAt.Valid {
		t.OpenedAt = openedAt.Time
	}
	if filledAt.Valid {
		t.FilledAt = filledAt.Time
	}
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
