package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"perp-trading-agent/internal/tracker"
)

// TradeRepository stores tracker records in trade_outcomes
type TradeRepository struct {
	db *DB
}

// NewTradeRepository creates a trade repository
func NewTradeRepository(db *DB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, bot, symbol, opened_at, closed_at, action, reasoning, confidence,
	predicted_direction, stop_loss, take_profit, entry_price, size, leverage, price_change_24h,
	exit_price, pnl_usd, pnl_percent, actual_direction, was_correct, exit_reason,
	duration_minutes, quality, should_repeat, lessons`

// SaveTrade inserts or updates a record keyed by ID
func (r *TradeRepository) SaveTrade(ctx context.Context, t *tracker.TradeRecord) error {
	lessons, err := json.Marshal(lessonsOrEmpty(t.Lessons))
	if err != nil {
		return fmt.Errorf("failed to encode lessons: %w", err)
	}

	query := `
		INSERT INTO trade_outcomes (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (id) DO UPDATE SET
			closed_at = EXCLUDED.closed_at,
			exit_price = EXCLUDED.exit_price,
			pnl_usd = EXCLUDED.pnl_usd,
			pnl_percent = EXCLUDED.pnl_percent,
			actual_direction = EXCLUDED.actual_direction,
			was_correct = EXCLUDED.was_correct,
			exit_reason = EXCLUDED.exit_reason,
			duration_minutes = EXCLUDED.duration_minutes,
			quality = EXCLUDED.quality,
			should_repeat = EXCLUDED.should_repeat,
			lessons = EXCLUDED.lessons,
			updated_at = NOW()
	`
	_, err = r.db.Pool.Exec(ctx, query,
		t.ID, t.Bot, t.Symbol, t.OpenedAt, t.ClosedAt, t.Action, t.Reasoning, t.Confidence,
		string(t.PredictedDirection), t.StopLoss, t.TakeProfit, t.EntryPrice, t.Size, t.Leverage, t.PriceChange24h,
		t.ExitPrice, t.PnLUSD, t.PnLPercent, string(t.ActualDirection), t.WasCorrect, t.ExitReason,
		t.DurationMinutes, string(t.Quality), t.ShouldRepeat, lessons,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.ID, err)
	}
	return nil
}

// LoadTrades returns every record of bot, oldest first
func (r *TradeRepository) LoadTrades(ctx context.Context, bot string) ([]tracker.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_outcomes WHERE bot = $1 ORDER BY opened_at ASC`
	return r.query(ctx, query, bot)
}

// RecentTrades returns up to limit records across bots, newest first
func (r *TradeRepository) RecentTrades(ctx context.Context, limit int) ([]tracker.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tradeColumns + ` FROM trade_outcomes ORDER BY opened_at DESC LIMIT $1`
	return r.query(ctx, query, limit)
}

// GetTrade retrieves one record by ID
func (r *TradeRepository) GetTrade(ctx context.Context, id string) (*tracker.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_outcomes WHERE id = $1`
	t, err := scanTrade(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TradeRepository) query(ctx context.Context, query string, args ...interface{}) ([]tracker.TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []tracker.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrade(row pgx.Row) (*tracker.TradeRecord, error) {
	var (
		t                 tracker.TradeRecord
		closedAt          *time.Time
		predicted, actual string
		quality           string
		lessons           []byte
	)
	err := row.Scan(
		&t.ID, &t.Bot, &t.Symbol, &t.OpenedAt, &closedAt, &t.Action, &t.Reasoning, &t.Confidence,
		&predicted, &t.StopLoss, &t.TakeProfit, &t.EntryPrice, &t.Size, &t.Leverage, &t.PriceChange24h,
		&t.ExitPrice, &t.PnLUSD, &t.PnLPercent, &actual, &t.WasCorrect, &t.ExitReason,
		&t.DurationMinutes, &quality, &t.ShouldRepeat, &lessons,
	)
	if err != nil {
		return nil, err
	}
	t.ClosedAt = closedAt
	t.PredictedDirection = tracker.Direction(predicted)
	t.ActualDirection = tracker.Direction(actual)
	t.Quality = tracker.Quality(quality)
	if len(lessons) > 0 {
		if err := json.Unmarshal(lessons, &t.Lessons); err != nil {
			return nil, fmt.Errorf("failed to decode lessons for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func lessonsOrEmpty(lessons []string) []string {
	if lessons == nil {
		return []string{}
	}
	return lessons
}
