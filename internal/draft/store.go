// Package draft owns the authoritative draft state: configuration, the
// action log, player availability, the offline action queue and the advisor
// conversation log. All reads go through accessors and all writes through
// named operations, so every mutation can enforce invariants, persist a
// snapshot and publish change events.
package draft

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Billy-Davies-2/draft-copilot/internal/engine"
	"github.com/Billy-Davies-2/draft-copilot/internal/logger"
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
	"github.com/Billy-Davies-2/draft-copilot/internal/store"
)

// Notifier receives a change event after a successful mutation. Wired to the
// pubsub bridge in production; nil is fine in tests.
type Notifier func(eventType string, payload map[string]any)

type event struct {
	typ     string
	payload map[string]any
}

// Store is the aggregate root. Collaborators (HTTP handlers, the queue
// reconciler, the streaming handler) never hold state of their own; they
// mutate through these methods only.
type Store struct {
	mu        sync.RWMutex
	snapshots store.SnapshotStore
	notify    Notifier

	config         models.DraftConfig
	actionLog      []models.ActionLogEntry
	drafted        map[string]bool
	taken          map[string]bool
	starred        map[string]bool
	queue          []models.QueuedAction
	conversation   []models.ConversationMessage
	conversationID string
	offline        bool
	lastTurnKey    string

	// Master player catalog; lifecycle-independent of the draft and never
	// cleared by Reset.
	players        []models.Player
	playersLoading bool
	playersError   string

	now   func() time.Time
	newID func() string
}

// NewStore creates the aggregate, restoring any previously persisted
// snapshot through the store's load-time migration.
func NewStore(snapshots store.SnapshotStore, notify Notifier) (*Store, error) {
	s := &Store{
		snapshots: snapshots,
		notify:    notify,
		drafted:   make(map[string]bool),
		taken:     make(map[string]bool),
		starred:   make(map[string]bool),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}

	snap, err := snapshots.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		s.restore(snap)
		logger.Info("Restored draft snapshot",
			"picks", len(s.actionLog), "queued", len(s.queue), "offline", s.offline)
	}

	return s, nil
}

func (s *Store) restore(snap *models.Snapshot) {
	s.config = snap.Config
	s.actionLog = append([]models.ActionLogEntry{}, snap.ActionLog...)
	for _, id := range snap.Drafted {
		s.drafted[id] = true
	}
	for _, id := range snap.Taken {
		s.taken[id] = true
	}
	for _, id := range snap.Starred {
		s.starred[id] = true
	}
	s.queue = append([]models.QueuedAction{}, snap.Queue...)
	s.conversation = append([]models.ConversationMessage{}, snap.Conversation...)
	s.conversationID = snap.ConversationID
	s.offline = snap.Offline
	s.lastTurnKey = snap.LastTurnKey

	// An in-flight reconciliation never survives a restart; anything caught
	// mid-sync goes back to pending.
	for i := range s.queue {
		if s.queue[i].Status == models.StatusSyncing {
			s.queue[i].Status = models.StatusPending
		}
	}
}

// snapshotLocked serializes the aggregate. Caller holds at least a read lock.
func (s *Store) snapshotLocked() *models.Snapshot {
	return &models.Snapshot{
		SchemaVersion:  models.SnapshotSchemaVersion,
		Config:         s.config,
		ActionLog:      append([]models.ActionLogEntry{}, s.actionLog...),
		Drafted:        sortedKeys(s.drafted),
		Taken:          sortedKeys(s.taken),
		Starred:        sortedKeys(s.starred),
		Queue:          append([]models.QueuedAction{}, s.queue...),
		Conversation:   append([]models.ConversationMessage{}, s.conversation...),
		ConversationID: s.conversationID,
		Offline:        s.offline,
		LastTurnKey:    s.lastTurnKey,
	}
}

// persistLocked saves a snapshot as a side effect of the mutation that just
// happened. A storage failure is logged, never propagated: the in-memory
// aggregate stays the source of truth for the session.
func (s *Store) persistLocked() {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(s.snapshotLocked()); err != nil {
		logger.Error("Failed to persist draft snapshot", "error", err)
	}
}

// turnEventLocked detects the false->true edge of "is my turn". The
// round:pick correlation key guards against firing twice for the same turn
// when unrelated mutations land in between.
func (s *Store) turnEventLocked() *event {
	if !s.config.Configured() {
		return nil
	}
	completed := len(s.actionLog)
	if !engine.IsMyTurn(s.config.Teams, s.config.Pick, completed) {
		return nil
	}
	pick := engine.CurrentPickIndex(completed)
	key := fmt.Sprintf("%d:%d", engine.RoundOf(pick, s.config.Teams), pick)
	if key == s.lastTurnKey {
		return nil
	}
	s.lastTurnKey = key
	return &event{typ: "turn:mine", payload: map[string]any{
		"round": engine.RoundOf(pick, s.config.Teams),
		"pick":  pick,
	}}
}

func (s *Store) emit(events []event) {
	if s.notify == nil {
		return
	}
	for _, e := range events {
		s.notify(e.typ, e.payload)
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Read accessors ---

// Config returns the draft configuration.
func (s *Store) Config() models.DraftConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// IsConfigured reports whether both league size and slot are set.
func (s *Store) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Configured()
}

// TotalPicksMade returns the action log length, the authoritative picks-made
// counter.
func (s *Store) TotalPicksMade() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actionLog)
}

// CurrentRound returns the round of the most recent pick (1 before any).
func (s *Store) CurrentRound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return engine.CurrentRound(len(s.actionLog), s.config.Teams)
}

// IsMyTurn reports whether the next pick belongs to the user.
func (s *Store) IsMyTurn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.config.Configured() {
		return false
	}
	return engine.IsMyTurn(s.config.Teams, s.config.Pick, len(s.actionLog))
}

// PicksUntilMyTurn returns the number of picks before the user's next one,
// bounded by engine.MaxLookaheadRounds.
func (s *Store) PicksUntilMyTurn() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.config.Configured() {
		return 0
	}
	return engine.PicksUntilMyTurn(s.config.Teams, s.config.Pick, len(s.actionLog))
}

// IsDrafted reports whether the player is on the user's roster.
func (s *Store) IsDrafted(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drafted[playerID]
}

// IsOnRoster is an alias for IsDrafted kept for the UI's vocabulary.
func (s *Store) IsOnRoster(playerID string) bool {
	return s.IsDrafted(playerID)
}

// IsTaken reports whether the player was claimed by another team.
func (s *Store) IsTaken(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taken[playerID]
}

// IsStarred reports whether the player is bookmarked.
func (s *Store) IsStarred(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.starred[playerID]
}

// CanDraft reports whether a draft action for the player would change state:
// the league is configured and the player is still available.
func (s *Store) CanDraft(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Configured() && playerID != "" && !s.drafted[playerID] && !s.taken[playerID]
}

// CanTake reports whether a taken action for the player would change state.
// Same precondition as CanDraft; the two exist separately because the UI
// gates the buttons independently.
func (s *Store) CanTake(playerID string) bool {
	return s.CanDraft(playerID)
}

// IsUnavailable reports membership in drafted ∪ taken.
func (s *Store) IsUnavailable(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drafted[playerID] || s.taken[playerID]
}

// Offline reports whether the engine is operating in offline mode.
func (s *Store) Offline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offline
}

// ConversationID returns the advisor session identifier, empty until the
// draft has been initialized remotely.
func (s *Store) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// ActionLog returns a copy of the chronological action log.
func (s *Store) ActionLog() []models.ActionLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ActionLogEntry{}, s.actionLog...)
}

// Players returns a copy of the master catalog.
func (s *Store) Players() []models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Player{}, s.players...)
}

// PlayersLoading reports whether a catalog fetch is in flight.
func (s *Store) PlayersLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playersLoading
}

// PlayersError returns the last catalog fetch error, empty when none.
func (s *Store) PlayersError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playersError
}

// Snapshot returns the current aggregate serialized as a snapshot document.
func (s *Store) Snapshot() *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// --- Catalog collaborator entry points ---

// SetPlayersLoading marks the catalog fetch in flight and clears any stale
// error.
func (s *Store) SetPlayersLoading() {
	s.mu.Lock()
	s.playersLoading = true
	s.playersError = ""
	s.mu.Unlock()
}

// SetPlayers installs the fetched master catalog.
func (s *Store) SetPlayers(players []models.Player) {
	s.mu.Lock()
	s.players = append([]models.Player{}, players...)
	s.playersLoading = false
	s.playersError = ""
	s.mu.Unlock()
	s.emit([]event{{typ: "players:loaded", payload: map[string]any{"count": len(players)}}})
}

// SetPlayersError records a failed catalog fetch.
func (s *Store) SetPlayersError(msg string) {
	s.mu.Lock()
	s.playersLoading = false
	s.playersError = msg
	s.mu.Unlock()
	s.emit([]event{{typ: "players:error", payload: map[string]any{"error": msg}}})
}
