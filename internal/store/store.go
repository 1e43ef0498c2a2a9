// Package store persists the draft aggregate as a versioned snapshot
// document. The whole aggregate is written after every mutation and read
// back once at startup, running schema migrations at load time.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

// SnapshotStore is the durable storage collaborator. Load returns (nil, nil)
// when no snapshot has been saved yet.
type SnapshotStore interface {
	Load() (*models.Snapshot, error)
	Save(snap *models.Snapshot) error
	Close() error
}

// MemoryStore implements SnapshotStore in process memory. Used in tests and
// when DB_DRIVER=memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, nil
	}
	return MigrateSnapshot(m.data)
}

func (m *MemoryStore) Save(snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// MigrateSnapshot parses a raw snapshot document and upgrades it to the
// current schema version. Each version step is applied in order, so a v1
// document passes through every migration.
func MigrateSnapshot(raw []byte) (*models.Snapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	version := 1
	if v, ok := doc["schemaVersion"].(float64); ok && v > 0 {
		version = int(v)
	}
	if version > models.SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d is newer than supported %d", version, models.SnapshotSchemaVersion)
	}

	// v1 -> v2: queue entries predate the retry lifecycle; old "queued" and
	// "done" statuses map onto pending/synced and entries gain an attempt
	// counter.
	if version < 2 {
		if q, ok := doc["queue"].([]any); ok {
			for _, e := range q {
				entry, ok := e.(map[string]any)
				if !ok {
					continue
				}
				switch entry["status"] {
				case "queued":
					entry["status"] = string(models.StatusPending)
				case "done":
					entry["status"] = string(models.StatusSynced)
				}
				if _, ok := entry["attempt"]; !ok {
					entry["attempt"] = 0
				}
			}
		}
	}

	// v2 -> v3: starred bookmarks and the turn correlation key were added.
	if version < 3 {
		if _, ok := doc["starred"]; !ok {
			doc["starred"] = []any{}
		}
		delete(doc, "lastTurnKey")
	}

	doc["schemaVersion"] = models.SnapshotSchemaVersion

	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("remarshal snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
