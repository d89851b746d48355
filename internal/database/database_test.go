package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/logging"
)

// Repository queries need a live PostgreSQL; these tests cover what runs without one.

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "agent", Password: "pw", Database: "trading"})
	for _, want := range []string{"host=db", "port=5432", "user=agent", "dbname=trading", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("Expected %q in %s", want, dsn)
		}
	}

	dsn = DSN(config.DatabaseConfig{Host: "db", Port: 5432, SSLMode: "require"})
	if !strings.Contains(dsn, "sslmode=require") {
		t.Errorf("Expected configured sslmode, got %s", dsn)
	}
}

func TestMigrationsCreateTables(t *testing.T) {
	joined := strings.Join(migrations, "\n")
	for _, table := range []string{"trade_outcomes", "decision_log"} {
		if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("Expected migration for %s", table)
		}
	}
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	if got := RetentionCutoff(now, 30); !got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected March 1, got %v", got)
	}
	if got := RetentionCutoff(now, 0); !got.Equal(now.AddDate(0, 0, -30)) {
		t.Errorf("Expected default 30 days, got %v", got)
	}
}

func TestDecodeEntry(t *testing.T) {
	var e decision.LogEntry
	e.ID = "x"
	payload := []byte(`{"action":"long","symbol":"BTCUSDT","confidence":72,"reasoning":"r","source":"lunar","timestamp":"2025-03-01T12:00:00Z"}`)
	positions := []byte(`[{"symbol":"BTCUSDT","positionAmt":"0.5","entryPrice":"100"}]`)

	if err := decodeEntry(&e, payload, positions); err != nil {
		t.Fatalf("decodeEntry failed: %v", err)
	}
	if e.Decision.Action != decision.ActionLong || e.Decision.Confidence != 72 {
		t.Errorf("Unexpected decision %+v", e.Decision)
	}
	if len(e.Positions) != 1 || e.Positions[0].PositionAmt != 0.5 {
		t.Errorf("Unexpected positions %+v", e.Positions)
	}

	if err := decodeEntry(&e, []byte("{"), nil); err == nil {
		t.Error("Expected error for broken payload")
	}
}

func TestPositionStateMemoryMode(t *testing.T) {
	repo := NewPositionStateRepository(nil, logging.Nop())
	ctx := context.Background()
	opened := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if repo.IsRedisAvailable() {
		t.Error("Expected memory-only mode")
	}
	if _, ok, _ := repo.LoadEntry(ctx, "BTC-BOT", "BTCUSDT"); ok {
		t.Error("Expected no entry before save")
	}

	if err := repo.SaveEntry(ctx, "BTC-BOT", "BTCUSDT", opened); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}
	got, ok, err := repo.LoadEntry(ctx, "BTC-BOT", "BTCUSDT")
	if err != nil || !ok || !got.Equal(opened) {
		t.Errorf("Expected %v, got %v ok=%v err=%v", opened, got, ok, err)
	}
	if _, ok, _ := repo.LoadEntry(ctx, "ETH-BOT", "BTCUSDT"); ok {
		t.Error("Expected entries scoped per bot")
	}

	if err := repo.DeleteEntry(ctx, "BTC-BOT", "BTCUSDT"); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if _, ok, _ := repo.LoadEntry(ctx, "BTC-BOT", "BTCUSDT"); ok {
		t.Error("Expected entry removed")
	}
	if err := repo.Ping(ctx); err == nil {
		t.Error("Expected ping error without client")
	}
}
