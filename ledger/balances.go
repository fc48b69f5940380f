package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// DistinctStrategies returns the broker's tracked strategies, taken from the
// balance history and excluding the uncategorized bucket. A strategy enters
// the ledger by having its first cash balance recorded.
func (s *Store) DistinctStrategies(ctx context.Context, broker string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT strategy FROM balances WHERE broker = ? AND strategy != ?",
		broker, Uncategorized)
	if err != nil {
		return nil, fmt.Errorf("distinct strategies: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Brokers lists every broker that has balance history.
func (s *Store) Brokers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT broker FROM balances ORDER BY broker")
	if err != nil {
		return nil, fmt.Errorf("list brokers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan broker: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestBalance returns the value of the most recent balance row for the
// key; ok is false when no row exists yet.
func (s *Store) LatestBalance(ctx context.Context, broker, strategy, typ string) (float64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT balance FROM balances
		WHERE broker = ? AND strategy = ? AND type = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`,
		broker, strategy, typ)
	var v float64
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest balance: %w", err)
	}
	return v, true, nil
}

// InsertBalance appends one balance observation inside tx. Rows are never
// updated in place; history is the point of the table.
func InsertBalance(ctx context.Context, tx *sql.Tx, b Balance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (broker, strategy, type, balance, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		b.Broker, b.Strategy, b.Type, b.Value, b.Timestamp)
	if err != nil {
		return fmt.Errorf("insert %s balance for %s/%s: %w", b.Type, b.Broker, b.Strategy, err)
	}
	return nil
}

// CurrentBalances materializes the derived snapshot view: the latest
// cash/positions/total per strategy for the broker, including uncategorized.
// Missing rows read as zero; a strategy with no explicit total row reports
// cash+positions.
func (s *Store) CurrentBalances(ctx context.Context, broker string) ([]BalanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.strategy, b.type, b.balance, b.timestamp
		FROM balances b
		JOIN (
			SELECT strategy, type, MAX(id) AS max_id
			FROM balances WHERE broker = ?
			GROUP BY strategy, type
		) latest ON b.id = latest.max_id`,
		broker)
	if err != nil {
		return nil, fmt.Errorf("current balances: %w", err)
	}
	defer rows.Close()

	byStrategy := make(map[string]*BalanceSnapshot)
	order := []string{}
	explicitTotal := make(map[string]bool)
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.Strategy, &b.Type, &b.Value, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		snap, ok := byStrategy[b.Strategy]
		if !ok {
			snap = &BalanceSnapshot{Broker: broker, Strategy: b.Strategy}
			byStrategy[b.Strategy] = snap
			order = append(order, b.Strategy)
		}
		if b.Timestamp.After(snap.AsOf) {
			snap.AsOf = b.Timestamp
		}
		switch b.Type {
		case BalanceCash:
			snap.Cash = b.Value
		case BalancePositions:
			snap.Positions = b.Value
		case BalanceTotal:
			snap.Total = b.Value
			explicitTotal[b.Strategy] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]BalanceSnapshot, 0, len(order))
	for _, st := range order {
		snap := byStrategy[st]
		if !explicitTotal[st] {
			snap.Total = snap.Cash + snap.Positions
		}
		out = append(out, *snap)
	}
	return out, nil
}
