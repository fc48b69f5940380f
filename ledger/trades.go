package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

const tradeColumns = `id, broker, strategy, symbol, side, quantity, price,
	executed_price, order_type, status, profit_loss, timestamp`

func scanTrade(row interface{ Scan(...any) error }) (Trade, error) {
	var t Trade
	var strategy sql.NullString
	var executed, pl sql.NullFloat64
	err := row.Scan(&t.ID, &t.Broker, &strategy, &t.Symbol, &t.Side, &t.Quantity,
		&t.Price, &executed, &t.OrderType, &t.Status, &pl, &t.Timestamp)
	if err != nil {
		return Trade{}, err
	}
	t.Strategy = strategy.String
	if executed.Valid {
		v := executed.Float64
		t.ExecutedPrice = &v
	}
	if pl.Valid {
		v := pl.Float64
		t.ProfitLoss = &v
	}
	return t, nil
}

// InsertTrade records a new trade (the execution layer creates trades as
// open) and returns its id.
func (s *Store) InsertTrade(ctx context.Context, t Trade) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(broker, strategy, symbol, side, quantity, price, executed_price,
		 order_type, status, profit_loss, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Broker, t.Strategy, t.Symbol, t.Side, t.Quantity, t.Price,
		nullFloat(t.ExecutedPrice), t.OrderType, t.Status, nullFloat(t.ProfitLoss), t.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// GetTrade fetches one trade by id; ErrTradeNotFound when absent.
func (s *Store) GetTrade(ctx context.Context, id int64) (Trade, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE id = ?", id)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return Trade{}, ErrTradeNotFound
	}
	if err != nil {
		return Trade{}, fmt.Errorf("get trade %d: %w", id, err)
	}
	return t, nil
}

// OpenTrades returns all trades still in the open state.
func (s *Store) OpenTrades(ctx context.Context) ([]Trade, error) {
	return s.queryTrades(ctx, "status = ?", TradeOpen)
}

// AllTrades returns the full trade history.
func (s *Store) AllTrades(ctx context.Context) ([]Trade, error) {
	return s.queryTrades(ctx, "")
}

func (s *Store) queryTrades(ctx context.Context, where string, args ...any) ([]Trade, error) {
	q := "SELECT " + tradeColumns + " FROM trades"
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTradeFilled transitions the trade to filled, recording executed price
// and the realized P/L computed at fill time. profitLoss may be nil (no
// realized P/L, e.g. buy-to-open).
func (s *Store) SetTradeFilled(ctx context.Context, id int64, executedPrice float64, profitLoss *float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = ?, executed_price = ?, profit_loss = ?
		WHERE id = ? AND status = ?`,
		TradeFilled, executedPrice, nullFloat(profitLoss), id, TradeOpen)
	if err != nil {
		return fmt.Errorf("set trade %d filled: %w", id, err)
	}
	return requireOneRow(res, id)
}

// SetTradeCancelled transitions the trade to cancelled. Only open trades can
// be cancelled; the transition happens at most once.
func (s *Store) SetTradeCancelled(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE trades SET status = ? WHERE id = ? AND status = ?",
		TradeCancelled, id, TradeOpen)
	if err != nil {
		return fmt.Errorf("set trade %d cancelled: %w", id, err)
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %d: %w", id, ErrTradeNotFound)
	}
	return nil
}

// RenameStrategy rewrites a strategy tag across balances, trades and
// positions for one broker, in a single transaction.
func (s *Store) RenameStrategy(ctx context.Context, broker, oldName, newName string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"balances", "trades", "positions"} {
			_, err := tx.ExecContext(ctx,
				"UPDATE "+table+" SET strategy = ? WHERE broker = ? AND strategy = ?",
				newName, broker, oldName)
			if err != nil {
				return fmt.Errorf("rename strategy in %s: %w", table, err)
			}
		}
		return nil
	})
}

// UpsertAccountInfo records the broker's latest reported account value.
func UpsertAccountInfo(ctx context.Context, tx *sql.Tx, info AccountInfo) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_info (broker, value) VALUES (?, ?)
		ON CONFLICT(broker) DO UPDATE SET value = excluded.value`,
		info.Broker, info.Value)
	if err != nil {
		return fmt.Errorf("upsert account info for %s: %w", info.Broker, err)
	}
	return nil
}

// AccountValue returns the last stored account value for the broker; ok is
// false when the broker has never been synced.
func (s *Store) AccountValue(ctx context.Context, broker string) (float64, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT value FROM account_info WHERE broker = ?", broker)
	var v float64
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("account value: %w", err)
	}
	return v, true, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
