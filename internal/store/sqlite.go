package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

// SQLiteStore implements SnapshotStore on a local SQLite file. The snapshot
// lives in a single-row table; the JSON document carries its own schema
// version, so the table layout stays stable across snapshot versions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite file and prepares the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Early deployments stored the snapshot without a timestamp. SQLite has
	// no ALTER TABLE IF NOT EXISTS, so check pragma_table_info first.
	var savedAtExists int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM pragma_table_info('snapshots')
		WHERE name='saved_at'
	`).Scan(&savedAtExists)
	if err != nil {
		return fmt.Errorf("failed to check saved_at column existence: %w", err)
	}

	if savedAtExists == 0 {
		if _, err := s.db.Exec(`ALTER TABLE snapshots ADD COLUMN saved_at INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("failed to add saved_at column: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Load() (*models.Snapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return MigrateSnapshot([]byte(data))
}

func (s *SQLiteStore) Save(snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (id, data, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at
	`, string(data), time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
