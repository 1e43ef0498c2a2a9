package draft

import (
	"errors"

	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

var (
	// ErrNotConfigured is returned when a draft operation runs before the
	// league has been configured.
	ErrNotConfigured = errors.New("draft not configured")
	// ErrAlreadyDrafting is returned when Configure is called after picks
	// were recorded; use Reconfigure to start over.
	ErrAlreadyDrafting = errors.New("draft already in progress")
	// ErrInvalidConfig is returned for non-positive league size or a slot
	// outside the league.
	ErrInvalidConfig = errors.New("invalid draft configuration")
)

// Configure sets the league size and the user's round-1 slot. The
// configuration is immutable once picks exist; callers wanting a fresh start
// go through Reconfigure.
func (s *Store) Configure(teams, pick int) error {
	if teams <= 0 || pick <= 0 || pick > teams {
		return ErrInvalidConfig
	}

	s.mu.Lock()
	if s.config.Configured() && len(s.actionLog) > 0 {
		s.mu.Unlock()
		return ErrAlreadyDrafting
	}
	s.config = models.DraftConfig{Teams: teams, Pick: pick}

	var events []event
	if s.offline {
		qa := s.enqueueLocked(models.QueuedInitialize, "")
		events = append(events, event{typ: "queue:enqueued", payload: map[string]any{"id": qa.ID, "kind": string(qa.Kind)}})
	}
	if e := s.turnEventLocked(); e != nil {
		events = append(events, *e)
	}
	s.persistLocked()
	events = append(events, event{typ: "draft:configured", payload: map[string]any{"teams": teams, "pick": pick}})
	s.mu.Unlock()

	s.emit(events)
	return nil
}

// Reconfigure resets all draft-scoped state and applies a new configuration.
func (s *Store) Reconfigure(teams, pick int) error {
	s.Reset()
	return s.Configure(teams, pick)
}

// RecordDraft appends a drafted-by-me entry for the player. A request for a
// player already drafted or taken is silently absorbed: the UI double-click
// case is a benign idempotent retry, not an error. Returns whether state
// changed.
func (s *Store) RecordDraft(playerID string) bool {
	return s.record(playerID, models.ActionDrafted)
}

// RecordTaken appends a claimed-by-another-team entry for the player, with
// the same idempotent no-op semantics as RecordDraft.
func (s *Store) RecordTaken(playerID string) bool {
	return s.record(playerID, models.ActionTaken)
}

func (s *Store) record(playerID string, kind models.ActionKind) bool {
	s.mu.Lock()
	if !s.config.Configured() || playerID == "" {
		s.mu.Unlock()
		return false
	}
	if s.drafted[playerID] || s.taken[playerID] {
		s.mu.Unlock()
		return false
	}

	s.actionLog = append(s.actionLog, models.ActionLogEntry{
		PlayerID: playerID,
		Kind:     kind,
		TS:       s.now().UnixMilli(),
	})
	if kind == models.ActionDrafted {
		s.drafted[playerID] = true
	} else {
		s.taken[playerID] = true
	}

	eventType := "draft:pick"
	queuedKind := models.QueuedDraft
	if kind == models.ActionTaken {
		eventType = "draft:taken"
		queuedKind = models.QueuedTaken
	}

	events := []event{{typ: eventType, payload: map[string]any{
		"playerId": playerID,
		"picks":    len(s.actionLog),
	}}}

	if s.offline {
		qa := s.enqueueLocked(queuedKind, playerID)
		events = append(events, event{typ: "queue:enqueued", payload: map[string]any{"id": qa.ID, "kind": string(qa.Kind)}})
	}
	if e := s.turnEventLocked(); e != nil {
		events = append(events, *e)
	}
	s.persistLocked()
	s.mu.Unlock()

	s.emit(events)
	return true
}

// UndoLast pops the most recent action log entry and removes the player from
// whichever availability set it landed in. Only the newest action is
// reversible. No-op on an empty log.
func (s *Store) UndoLast() bool {
	s.mu.Lock()
	if len(s.actionLog) == 0 {
		s.mu.Unlock()
		return false
	}

	last := s.actionLog[len(s.actionLog)-1]
	s.actionLog = s.actionLog[:len(s.actionLog)-1]
	if last.Kind == models.ActionDrafted {
		delete(s.drafted, last.PlayerID)
	} else {
		delete(s.taken, last.PlayerID)
	}

	events := []event{{typ: "draft:undo", payload: map[string]any{
		"playerId": last.PlayerID,
		"kind":     string(last.Kind),
		"picks":    len(s.actionLog),
	}}}
	if e := s.turnEventLocked(); e != nil {
		events = append(events, *e)
	}
	s.persistLocked()
	s.mu.Unlock()

	s.emit(events)
	return true
}

// ToggleStar flips the bookmark for a player. Stars are local-only: they are
// independent of draft progress and never queued for reconciliation.
func (s *Store) ToggleStar(playerID string) bool {
	s.mu.Lock()
	var starred bool
	if s.starred[playerID] {
		delete(s.starred, playerID)
	} else {
		s.starred[playerID] = true
		starred = true
	}
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "star:toggled", payload: map[string]any{"playerId": playerID, "starred": starred}}})
	return starred
}

// Reset clears all draft-scoped state: log, availability sets,
// configuration, conversation, queue and the advisor session. The master
// player catalog and its loading state survive.
func (s *Store) Reset() {
	s.mu.Lock()
	s.config = models.DraftConfig{}
	s.actionLog = nil
	s.drafted = make(map[string]bool)
	s.taken = make(map[string]bool)
	s.starred = make(map[string]bool)
	s.queue = nil
	s.conversation = nil
	s.conversationID = ""
	s.lastTurnKey = ""
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "draft:reset", payload: nil}})
}

// EnterOffline switches the engine into offline mode. Subsequent draft and
// taken actions queue for later reconciliation. Idempotent.
func (s *Store) EnterOffline() {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return
	}
	s.offline = true
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "offline:enter", payload: nil}})
}

// ExitOffline switches back to online mode. Idempotent.
func (s *Store) ExitOffline() {
	s.mu.Lock()
	if !s.offline {
		s.mu.Unlock()
		return
	}
	s.offline = false
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "offline:exit", payload: nil}})
}

// SetConversationID stores the advisor session identifier returned by
// initialize-draft.
func (s *Store) SetConversationID(id string) {
	s.mu.Lock()
	s.conversationID = id
	s.persistLocked()
	s.mu.Unlock()
}
