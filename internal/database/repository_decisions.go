package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/exchange"
)

// DecisionRepository stores the decision log in decision_log
type DecisionRepository struct {
	db *DB
}

// NewDecisionRepository creates a decision log repository
func NewDecisionRepository(db *DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Append inserts one log entry
func (r *DecisionRepository) Append(ctx context.Context, e decision.LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	payload, err := json.Marshal(e.Decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	positions := e.Positions
	if positions == nil {
		positions = []exchange.Position{}
	}
	positionsJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}

	query := `
		INSERT INTO decision_log (id, bot, symbol, created_at, action, confidence, source,
		                          price, change_24h, executed, skip_reason, decision, positions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		e.ID, e.Bot, e.Decision.Symbol, e.Timestamp, string(e.Decision.Action), e.Decision.Confidence,
		e.Decision.Source, e.Price, e.Change24h, e.Executed, e.SkipReason, payload, positionsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for bot, newest first
func (r *DecisionRepository) Recent(ctx context.Context, bot string, limit int) ([]decision.LogEntry, error) {
	if limit <= 0 {
		limit = decision.DefaultLogCapacity
	}
	query := `
		SELECT id, bot, created_at, price, change_24h, executed, skip_reason, decision, positions
		FROM decision_log
		WHERE bot = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, bot, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []decision.LogEntry
	for rows.Next() {
		var (
			e                 decision.LogEntry
			payload, position []byte
		)
		if err := rows.Scan(&e.ID, &e.Bot, &e.Timestamp, &e.Price, &e.Change24h, &e.Executed,
			&e.SkipReason, &payload, &position); err != nil {
			return nil, err
		}
		if err := decodeEntry(&e, payload, position); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than cutoff and returns how many went
func (r *DecisionRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM decision_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func decodeEntry(e *decision.LogEntry, payload, positions []byte) error {
	if err := json.Unmarshal(payload, &e.Decision); err != nil {
		return fmt.Errorf("failed to decode decision %s: %w", e.ID, err)
	}
	if len(positions) > 0 {
		if err := json.Unmarshal(positions, &e.Positions); err != nil {
			return fmt.Errorf("failed to decode positions for %s: %w", e.ID, err)
		}
	}
	return nil
}

// RetentionCutoff is the oldest timestamp kept when retaining days of history
func RetentionCutoff(now time.Time, days int) time.Time {
	if days <= 0 {
		days = 30
	}
	return now.AddDate(0, 0, -days)
}
