// Package analytics forwards draft telemetry (picks, queue outcomes, turn
// alerts) to ClickHouse. The sink is optional; a nil *Sink is a no-op so
// development runs without a ClickHouse server.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/Billy-Davies-2/draft-copilot/internal/config"
)

// Sink writes draft events to ClickHouse.
type Sink struct {
	conn driver.Conn
}

// NewSink connects to ClickHouse and prepares the events table.
func NewSink(cfg config.Analytics) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS draft_events (
			event_type String,
			payload String,
			recorded_at DateTime64(3)
		)
		ENGINE = MergeTree()
		ORDER BY (event_type, recorded_at)
		TTL toDateTime(recorded_at) + INTERVAL 90 DAY
	`
	return s.conn.Exec(context.Background(), query)
}

// RecordEvent writes one event. Safe to call on a nil sink.
func (s *Sink) RecordEvent(ctx context.Context, eventType string, payload map[string]any) error {
	if s == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	return s.conn.Exec(ctx,
		`INSERT INTO draft_events (event_type, payload, recorded_at) VALUES ($1, $2, $3)`,
		eventType, string(data), time.Now())
}

// Close releases the ClickHouse connection. Safe to call on a nil sink.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}
