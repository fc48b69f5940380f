package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const positionColumns = `id, broker, strategy, symbol, quantity, latest_price,
	cost_basis, underlying_latest_price, underlying_volatility, last_updated`

func scanPosition(row interface{ Scan(...any) error }) (Position, error) {
	var p Position
	var underPrice, underVol sql.NullFloat64
	err := row.Scan(&p.ID, &p.Broker, &p.Strategy, &p.Symbol, &p.Quantity,
		&p.LatestPrice, &p.CostBasis, &underPrice, &underVol, &p.LastUpdated)
	if err != nil {
		return Position{}, err
	}
	p.UnderlyingLatestPrice = underPrice.Float64
	p.UnderlyingVolatility = underVol.Float64
	return p, nil
}

func queryPositions(ctx context.Context, db *sql.DB, where string, args ...any) ([]Position, error) {
	q := "SELECT " + positionColumns + " FROM positions"
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AllPositions returns every ledger position across all brokers.
func (s *Store) AllPositions(ctx context.Context) ([]Position, error) {
	return queryPositions(ctx, s.db, "")
}

// PositionsByBroker returns the broker's positions across all strategies.
func (s *Store) PositionsByBroker(ctx context.Context, broker string) ([]Position, error) {
	return queryPositions(ctx, s.db, "broker = ?", broker)
}

// PositionsByStrategy returns the positions of one strategy at one broker.
func (s *Store) PositionsByStrategy(ctx context.Context, broker, strategy string) ([]Position, error) {
	return queryPositions(ctx, s.db, "broker = ? AND strategy = ?", broker, strategy)
}

// GetPosition fetches one position by its (broker, symbol, strategy) key.
// Returns ErrPositionNotFound when no row matches.
func (s *Store) GetPosition(ctx context.Context, broker, symbol, strategy string) (Position, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE broker = ? AND symbol = ? AND strategy = ?",
		broker, symbol, strategy)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return Position{}, ErrPositionNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// InsertPosition inserts a new position row inside tx.
func InsertPosition(ctx context.Context, tx *sql.Tx, p Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions
		(broker, strategy, symbol, quantity, latest_price, cost_basis,
		 underlying_latest_price, underlying_volatility, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Broker, p.Strategy, p.Symbol, p.Quantity, p.LatestPrice, p.CostBasis,
		nullable(p.UnderlyingLatestPrice), nullable(p.UnderlyingVolatility), p.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert position %s/%s: %w", p.Broker, p.Symbol, err)
	}
	return nil
}

// UpdatePositionQuantity overwrites quantity and last_updated for one key.
func UpdatePositionQuantity(ctx context.Context, tx *sql.Tx, key PositionKey, quantity float64, asOf time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE positions SET quantity = ?, last_updated = ?
		WHERE broker = ? AND symbol = ? AND strategy = ?`,
		quantity, asOf, key.Broker, key.Symbol, key.Strategy)
	if err != nil {
		return fmt.Errorf("update position %s/%s/%s: %w", key.Broker, key.Symbol, key.Strategy, err)
	}
	return nil
}

// DeletePositionsBySymbols removes all of the broker's rows for the given
// symbols, across every strategy.
func DeletePositionsBySymbols(ctx context.Context, tx *sql.Tx, broker string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]any, 0, len(symbols)+1)
	args = append(args, broker)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	_, err := tx.ExecContext(ctx,
		"DELETE FROM positions WHERE broker = ? AND symbol IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("delete positions for %s: %w", broker, err)
	}
	return nil
}

// ValuationUpdate carries the per-position refresh written by the valuation
// engine. Underlying fields are only written when HasUnderlying is set.
type ValuationUpdate struct {
	ID                    int64
	LatestPrice           float64
	UnderlyingLatestPrice float64
	UnderlyingVolatility  float64
	HasUnderlying         bool
	AsOf                  time.Time
}

// ApplyValuation writes one valuation refresh inside tx.
func ApplyValuation(ctx context.Context, tx *sql.Tx, u ValuationUpdate) error {
	var err error
	if u.HasUnderlying {
		_, err = tx.ExecContext(ctx, `
			UPDATE positions SET latest_price = ?, last_updated = ?,
				underlying_latest_price = ?, underlying_volatility = ?
			WHERE id = ?`,
			u.LatestPrice, u.AsOf, u.UnderlyingLatestPrice, u.UnderlyingVolatility, u.ID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE positions SET latest_price = ?, last_updated = ? WHERE id = ?",
			u.LatestPrice, u.AsOf, u.ID)
	}
	if err != nil {
		return fmt.Errorf("apply valuation for position %d: %w", u.ID, err)
	}
	return nil
}

// UpdateCostBasis overwrites the cost basis for one position row.
func UpdateCostBasis(ctx context.Context, tx *sql.Tx, id int64, costBasis float64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE positions SET cost_basis = ? WHERE id = ?", costBasis, id)
	if err != nil {
		return fmt.Errorf("update cost basis for position %d: %w", id, err)
	}
	return nil
}

func nullable(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
