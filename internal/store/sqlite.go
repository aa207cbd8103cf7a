package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "equity-engine/internal/errors"
	"equity-engine/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", apperrors.ErrDatabaseError, dbPath, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", apperrors.ErrDatabaseError, err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trade plans table
	CREATE TABLE IF NOT EXISTS trade_plans (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		broker_ticker TEXT,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		shares INTEGER NOT NULL,
		value REAL NOT NULL,
		size_percent REAL NOT NULL,
		stop_price REAL NOT NULL,
		stop_percent REAL NOT NULL,
		target_price REAL NOT NULL,
		target_percent REAL NOT NULL,
		max_loss REAL NOT NULL,
		risk_reward REAL NOT NULL,
		max_hold_days INTEGER DEFAULT 0,
		conviction REAL,
		sub_scores TEXT,
		reasoning TEXT,
		account_type TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT,
		created_at DATETIME NOT NULL,
		approved_at DATETIME,
		expires_at DATETIME NOT NULL
	);

	-- Positions table; one live holding per symbol
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		shares INTEGER NOT NULL,
		avg_entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		trailing_stop REAL,
		take_profit REAL NOT NULL,
		dca_count INTEGER DEFAULT 0,
		total_invested REAL NOT NULL,
		partial_exit_count INTEGER DEFAULT 0,
		stop_order_id TEXT,
		target_order_id TEXT,
		plan_id TEXT,
		current_price REAL,
		pnl REAL,
		pnl_percent REAL,
		opened_at DATETIME NOT NULL,
		last_buy_at DATETIME NOT NULL
	);

	-- Orders table
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		broker_order_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		shares INTEGER NOT NULL,
		price REAL NOT NULL,
		filled_price REAL,
		filled_shares INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		tag TEXT NOT NULL,
		replaced_by_id TEXT,
		plan_id TEXT,
		placed_at DATETIME NOT NULL,
		filled_at DATETIME
	);

	-- Completed trades table
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		shares INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL,
		pnl REAL,
		pnl_percent REAL,
		reason TEXT,
		tag TEXT,
		slippage REAL,
		is_paper INTEGER DEFAULT 0,
		plan_id TEXT,
		order_ids TEXT,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		hold_duration INTEGER
	);

	-- Conditional orders table
	CREATE TABLE IF NOT EXISTS conditional_orders (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_price REAL,
		trigger_at DATETIME,
		indicator TEXT,
		action_side TEXT NOT NULL,
		action_shares INTEGER NOT NULL,
		action_limit_price REAL DEFAULT 0,
		action_tag TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		oco_group_id TEXT,
		sibling_id TEXT,
		created_at DATETIME NOT NULL,
		triggered_at DATETIME,
		expires_at DATETIME
	);

	-- Pair locks table
	CREATE TABLE IF NOT EXISTS pair_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT,
		reason TEXT NOT NULL,
		locked_until DATETIME NOT NULL,
		active INTEGER DEFAULT 1,
		note TEXT,
		created_at DATETIME NOT NULL,
		unlocked_by TEXT
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_plans_symbol ON trade_plans(symbol);
	CREATE INDEX IF NOT EXISTS idx_plans_status ON trade_plans(status);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_plan ON orders(plan_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);
	CREATE INDEX IF NOT EXISTS idx_conditional_symbol ON conditional_orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_conditional_status ON conditional_orders(status);
	CREATE INDEX IF NOT EXISTS idx_locks_symbol ON pair_locks(symbol);
	CREATE INDEX IF NOT EXISTS idx_locks_active ON pair_locks(active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Trade Plans Methods
// ============================================================================

// SavePlan saves a trade plan to the database.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *models.TradePlan) error {
	subScores, _ := json.Marshal(plan.SubScores)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trade_plans (id, symbol, broker_ticker, side, entry_price, shares, value, size_percent, stop_price, stop_percent, target_price, target_percent, max_loss, risk_reward, max_hold_days, conviction, sub_scores, reasoning, account_type, status, approved_by, created_at, approved_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.ID, plan.Symbol, plan.BrokerTicker, plan.Side, plan.EntryPrice, plan.Shares, plan.Value, plan.SizePercent, plan.StopPrice, plan.StopPercent, plan.TargetPrice, plan.TargetPercent, plan.MaxLoss, plan.RiskReward, plan.MaxHoldDays, plan.Conviction, string(subScores), plan.Reasoning, plan.AccountType, plan.Status, plan.ApprovedBy, plan.CreatedAt, plan.ApprovedAt, plan.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save trade plan: %w", err)
	}
	return nil
}

const planColumns = "id, symbol, broker_ticker, side, entry_price, shares, value, size_percent, stop_price, stop_percent, target_price, target_percent, max_loss, risk_reward, max_hold_days, conviction, sub_scores, reasoning, account_type, status, approved_by, created_at, approved_at, expires_at"

func scanPlan(scan func(dest ...interface{}) error) (*models.TradePlan, error) {
	var p models.TradePlan
	var subScoresJSON string
	var approvedAt sql.NullTime

	err := scan(&p.ID, &p.Symbol, &p.BrokerTicker, &p.Side, &p.EntryPrice, &p.Shares, &p.Value, &p.SizePercent, &p.StopPrice, &p.StopPercent, &p.TargetPrice, &p.TargetPercent, &p.MaxLoss, &p.RiskReward, &p.MaxHoldDays, &p.Conviction, &subScoresJSON, &p.Reasoning, &p.AccountType, &p.Status, &p.ApprovedBy, &p.CreatedAt, &approvedAt, &p.ExpiresAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(subScoresJSON), &p.SubScores)
	if approvedAt.Valid {
		t := approvedAt.Time
		p.ApprovedAt = &t
	}
	return &p, nil
}

// GetPlans retrieves trade plans from the database.
func (s *SQLiteStore) GetPlans(ctx context.Context, filter PlanFilter) ([]models.TradePlan, error) {
	query := "SELECT " + planColumns + " FROM trade_plans WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.StartDate.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade plans: %w", err)
	}
	defer rows.Close()

	var plans []models.TradePlan
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade plan: %w", err)
		}
		plans = append(plans, *p)
	}

	return plans, rows.Err()
}

// GetPlanByID retrieves a single trade plan by ID.
func (s *SQLiteStore) GetPlanByID(ctx context.Context, id string) (*models.TradePlan, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM trade_plans WHERE id = ?", id)
	p, err := scanPlan(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade plan: %w", err)
	}
	return p, nil
}

// UpdatePlanStatusIf performs a compare-and-swap on a plan's status.
func (s *SQLiteStore) UpdatePlanStatusIf(ctx context.Context, id string, expected, next models.PlanStatus, by string) (bool, error) {
	var approvedAt interface{}
	if next == models.PlanApproved {
		approvedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE trade_plans
		SET status = ?, approved_by = COALESCE(NULLIF(?, ''), approved_by), approved_at = COALESCE(?, approved_at)
		WHERE id = ? AND status = ?
	`, next, by, approvedAt, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update plan status: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ============================================================================
// Positions Methods
// ============================================================================

// SavePosition inserts or replaces the position for a symbol.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *models.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (symbol, shares, avg_entry_price, stop_loss, trailing_stop, take_profit, dca_count, total_invested, partial_exit_count, stop_order_id, target_order_id, plan_id, current_price, pnl, pnl_percent, opened_at, last_buy_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.Symbol, pos.Shares, pos.AvgEntryPrice, pos.StopLoss, pos.TrailingStop, pos.TakeProfit, pos.DCACount, pos.TotalInvested, pos.PartialExitCount, pos.StopOrderID, pos.TargetOrderID, pos.PlanID, pos.CurrentPrice, pos.PnL, pos.PnLPercent, pos.OpenedAt, pos.LastBuyAt)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

const positionColumns = "symbol, shares, avg_entry_price, stop_loss, trailing_stop, take_profit, dca_count, total_invested, partial_exit_count, stop_order_id, target_order_id, plan_id, current_price, pnl, pnl_percent, opened_at, last_buy_at"

func scanPosition(scan func(dest ...interface{}) error) (*models.Position, error) {
	var p models.Position
	var trailing sql.NullFloat64

	err := scan(&p.Symbol, &p.Shares, &p.AvgEntryPrice, &p.StopLoss, &trailing, &p.TakeProfit, &p.DCACount, &p.TotalInvested, &p.PartialExitCount, &p.StopOrderID, &p.TargetOrderID, &p.PlanID, &p.CurrentPrice, &p.PnL, &p.PnLPercent, &p.OpenedAt, &p.LastBuyAt)
	if err != nil {
		return nil, err
	}

	if trailing.Valid {
		v := trailing.Float64
		p.TrailingStop = &v
	}
	return &p, nil
}

// GetPositions retrieves all open positions.
func (s *SQLiteStore) GetPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+positionColumns+" FROM positions ORDER BY opened_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}

	return positions, rows.Err()
}

// GetPosition retrieves the position for a symbol, or nil if none exists.
func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+positionColumns+" FROM positions WHERE symbol = ?", symbol)
	p, err := scanPosition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// DeletePosition removes the position for a symbol.
func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM positions WHERE symbol = ?", symbol)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// ============================================================================
// Orders Methods
// ============================================================================

// SaveOrder inserts or replaces an order record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (id, broker_order_id, symbol, side, shares, price, filled_price, filled_shares, status, tag, replaced_by_id, plan_id, placed_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.BrokerOrderID, order.Symbol, order.Side, order.Shares, order.Price, order.FilledPrice, order.FilledShares, order.Status, order.Tag, order.ReplacedByID, order.PlanID, order.PlacedAt, order.FilledAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

const orderColumns = "id, broker_order_id, symbol, side, shares, price, filled_price, filled_shares, status, tag, replaced_by_id, plan_id, placed_at, filled_at"

func scanOrder(scan func(dest ...interface{}) error) (*models.Order, error) {
	var o models.Order
	var filledPrice sql.NullFloat64
	var filledAt sql.NullTime

	err := scan(&o.ID, &o.BrokerOrderID, &o.Symbol, &o.Side, &o.Shares, &o.Price, &filledPrice, &o.FilledShares, &o.Status, &o.Tag, &o.ReplacedByID, &o.PlanID, &o.PlacedAt, &filledAt)
	if err != nil {
		return nil, err
	}

	if filledPrice.Valid {
		o.FilledPrice = filledPrice.Float64
	}
	if filledAt.Valid {
		t := filledAt.Time
		o.FilledAt = &t
	}
	return &o, nil
}

// GetOrders retrieves orders from the database.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Tag != "" {
		query += " AND tag = ?"
		args = append(args, filter.Tag)
	}
	if filter.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, filter.PlanID)
	}

	query += " ORDER BY placed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	return orders, rows.Err()
}

// GetOrderByID retrieves a single order by ID.
func (s *SQLiteStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ============================================================================
// Trades Methods
// ============================================================================

// LogTrade saves a completed trade to the database.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade *models.Trade) error {
	orderIDs, _ := json.Marshal(trade.OrderIDs)
	isPaper := 0
	if trade.IsPaper {
		isPaper = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, shares, entry_price, exit_price, pnl, pnl_percent, reason, tag, slippage, is_paper, plan_id, order_ids, opened_at, closed_at, hold_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Symbol, trade.Side, trade.Shares, trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.PnLPercent, trade.Reason, trade.Tag, trade.Slippage, isPaper, trade.PlanID, string(orderIDs), trade.OpenedAt, trade.ClosedAt, trade.HoldDuration.Nanoseconds())
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// GetTrades retrieves trades from the database.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, symbol, side, shares, entry_price, exit_price, pnl, pnl_percent, reason, tag, slippage, is_paper, plan_id, order_ids, opened_at, closed_at, hold_duration FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Reason != "" {
		query += " AND reason = ?"
		args = append(args, filter.Reason)
	}
	if !filter.StartDate.IsZero() {
		query += " AND closed_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND closed_at <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.IsPaper != nil {
		isPaper := 0
		if *filter.IsPaper {
			isPaper = 1
		}
		query += " AND is_paper = ?"
		args = append(args, isPaper)
	}

	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var orderIDsJSON string
		var isPaper int
		var holdDurationNs int64

		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Shares, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.PnLPercent, &t.Reason, &t.Tag, &t.Slippage, &isPaper, &t.PlanID, &orderIDsJSON, &t.OpenedAt, &t.ClosedAt, &holdDurationNs); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		json.Unmarshal([]byte(orderIDsJSON), &t.OrderIDs)
		t.IsPaper = isPaper == 1
		t.HoldDuration = time.Duration(holdDurationNs)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Conditional Orders Methods
// ============================================================================

// SaveConditionalOrder inserts or replaces a conditional order.
func (s *SQLiteStore) SaveConditionalOrder(ctx context.Context, order *models.ConditionalOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conditional_orders (id, symbol, trigger_type, trigger_price, trigger_at, indicator, action_side, action_shares, action_limit_price, action_tag, status, oco_group_id, sibling_id, created_at, triggered_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.Symbol, order.Trigger, order.TriggerPrice, order.TriggerAt, order.Indicator, order.Action.Side, order.Action.Shares, order.Action.LimitPrice, order.Action.Tag, order.Status, order.OCOGroupID, order.SiblingID, order.CreatedAt, order.TriggeredAt, order.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save conditional order: %w", err)
	}
	return nil
}

const conditionalColumns = "id, symbol, trigger_type, trigger_price, trigger_at, indicator, action_side, action_shares, action_limit_price, action_tag, status, oco_group_id, sibling_id, created_at, triggered_at, expires_at"

func scanConditional(scan func(dest ...interface{}) error) (*models.ConditionalOrder, error) {
	var c models.ConditionalOrder
	var triggerAt, triggeredAt, expiresAt sql.NullTime

	err := scan(&c.ID, &c.Symbol, &c.Trigger, &c.TriggerPrice, &triggerAt, &c.Indicator, &c.Action.Side, &c.Action.Shares, &c.Action.LimitPrice, &c.Action.Tag, &c.Status, &c.OCOGroupID, &c.SiblingID, &c.CreatedAt, &triggeredAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	if triggerAt.Valid {
		t := triggerAt.Time
		c.TriggerAt = &t
	}
	if triggeredAt.Valid {
		t := triggeredAt.Time
		c.TriggeredAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

// GetConditionalOrders retrieves conditional orders from the database.
func (s *SQLiteStore) GetConditionalOrders(ctx context.Context, filter ConditionalFilter) ([]models.ConditionalOrder, error) {
	query := "SELECT " + conditionalColumns + " FROM conditional_orders WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.OCOGroupID != "" {
		query += " AND oco_group_id = ?"
		args = append(args, filter.OCOGroupID)
	}

	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditional orders: %w", err)
	}
	defer rows.Close()

	var orders []models.ConditionalOrder
	for rows.Next() {
		c, err := scanConditional(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conditional order: %w", err)
		}
		orders = append(orders, *c)
	}

	return orders, rows.Err()
}

// GetConditionalOrderByID retrieves a single conditional order by ID.
func (s *SQLiteStore) GetConditionalOrderByID(ctx context.Context, id string) (*models.ConditionalOrder, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+conditionalColumns+" FROM conditional_orders WHERE id = ?", id)
	c, err := scanConditional(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conditional order: %w", err)
	}
	return c, nil
}

// UpdateConditionalStatusIf performs a compare-and-swap on a conditional
// order's status.
func (s *SQLiteStore) UpdateConditionalStatusIf(ctx context.Context, id string, expected, next models.ConditionalStatus) (bool, error) {
	var triggeredAt interface{}
	if next == models.ConditionalTriggered {
		triggeredAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conditional_orders
		SET status = ?, triggered_at = COALESCE(?, triggered_at)
		WHERE id = ? AND status = ?
	`, next, triggeredAt, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update conditional order status: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ============================================================================
// Pair Locks Methods
// ============================================================================

// SaveLock saves a pair lock and returns its assigned id.
func (s *SQLiteStore) SaveLock(ctx context.Context, lock *models.PairLock) (int64, error) {
	active := 0
	if lock.Active {
		active = 1
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pair_locks (symbol, side, reason, locked_until, active, note, created_at, unlocked_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, lock.Symbol, lock.Side, lock.Reason, lock.LockedUntil, active, lock.Note, lock.CreatedAt, lock.UnlockedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to save pair lock: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get lock id: %w", err)
	}
	lock.ID = id
	return id, nil
}

// GetActiveLocks retrieves all active pair locks.
func (s *SQLiteStore) GetActiveLocks(ctx context.Context) ([]models.PairLock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, reason, locked_until, active, note, created_at, unlocked_by
		FROM pair_locks WHERE active = 1 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair locks: %w", err)
	}
	defer rows.Close()

	var locks []models.PairLock
	for rows.Next() {
		var l models.PairLock
		var active int
		if err := rows.Scan(&l.ID, &l.Symbol, &l.Side, &l.Reason, &l.LockedUntil, &active, &l.Note, &l.CreatedAt, &l.UnlockedBy); err != nil {
			return nil, fmt.Errorf("failed to scan pair lock: %w", err)
		}
		l.Active = active == 1
		locks = append(locks, l)
	}

	return locks, rows.Err()
}

// DeactivateLock marks a lock inactive, recording who released it.
func (s *SQLiteStore) DeactivateLock(ctx context.Context, id int64, by string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pair_locks SET active = 0, unlocked_by = ? WHERE id = ? AND active = 1
	`, by, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate pair lock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("active pair lock not found: %d", id)
	}

	return nil
}

// DeactivateExpiredLocks sweeps expired locks, returning how many changed.
func (s *SQLiteStore) DeactivateExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pair_locks SET active = 0 WHERE active = 1 AND locked_until <= ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}
