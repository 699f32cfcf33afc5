package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/optiondesk/paperbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, strategy_id, strategy_name, symbol, tradingsymbol,
	instrument_token, exchange, strike, expiry, option_type, direction,
	lots, lot_size, quantity, entry_price, current_price, exit_price,
	margin_held, status, entry_time, exit_time`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var token int64
	var kind, direction, status string

	err := row.Scan(
		&p.ID, &p.StrategyID, &p.StrategyName, &p.Symbol, &p.Tradingsymbol,
		&token, &p.Exchange, &p.Strike, &p.Expiry, &kind, &direction,
		&p.Lots, &p.LotSize, &p.Quantity, &p.EntryPrice, &p.CurrentPrice, &p.ExitPrice,
		&p.MarginHeld, &status, &p.EntryTime, &p.ExitTime,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.InstrumentToken = uint32(token)
	p.Kind = domain.OptionKind(kind)
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Insert persists a newly opened position.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, strategy_id, strategy_name, symbol, tradingsymbol,
			instrument_token, exchange, strike, expiry, option_type, direction,
			lots, lot_size, quantity, entry_price, current_price, exit_price,
			margin_held, status, entry_time, exit_time, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.StrategyID, p.StrategyName, p.Symbol, p.Tradingsymbol,
		int64(p.InstrumentToken), p.Exchange, p.Strike, p.Expiry,
		string(p.Kind), string(p.Direction),
		p.Lots, p.LotSize, p.Quantity, p.EntryPrice, p.CurrentPrice, p.ExitPrice,
		p.MarginHeld, string(p.Status), p.EntryTime, p.ExitTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %d: %w", p.ID, err)
	}
	return nil
}

// UpdateClose records the settlement of a position: terminal status, exit
// price and exit time, plus the last mark it was valued at.
func (s *PositionStore) UpdateClose(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price = $2,
			exit_price    = $3,
			status        = $4,
			exit_time     = $5,
			updated_at    = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CurrentPrice, p.ExitPrice, string(p.Status), p.ExitTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ledger id.
func (s *PositionStore) GetByID(ctx context.Context, id int64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// ListActive returns all ACTIVE positions in ledger id order, the order the
// working set is rebuilt in at startup.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = $1
		 ORDER BY id ASC`, string(domain.PositionStatusActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// ListClosedBetween returns settled positions whose exit time falls in
// [from, to), oldest first.
func (s *PositionStore) ListClosedBetween(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ($1, $2) AND exit_time >= $3 AND exit_time < $4
		 ORDER BY exit_time ASC, id ASC`,
		string(domain.PositionStatusClosed), string(domain.PositionStatusExpired), from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// MaxID returns the highest position id ever issued, 0 for an empty ledger.
func (s *PositionStore) MaxID(ctx context.Context) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM positions`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: max position id: %w", err)
	}
	return max, nil
}
