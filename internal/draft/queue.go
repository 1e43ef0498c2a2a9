package draft

import (
	"github.com/Billy-Davies-2/draft-copilot/internal/engine"
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

// enqueueLocked appends a pending action to the offline queue. Caller holds
// the write lock.
func (s *Store) enqueueLocked(kind models.QueuedKind, playerID string) models.QueuedAction {
	qa := models.QueuedAction{
		ID:             s.newID(),
		Kind:           kind,
		EnqueuedAt:     s.now().UnixMilli(),
		Status:         models.StatusPending,
		Attempt:        0,
		PlayerID:       playerID,
		LocalRound:     engine.CurrentRound(len(s.actionLog), s.config.Teams),
		LocalPickCount: len(s.actionLog),
	}
	if kind == models.QueuedInitialize {
		qa.Teams = s.config.Teams
		qa.Pick = s.config.Pick
	}
	s.queue = append(s.queue, qa)
	return qa
}

// Enqueue records an action for later reconciliation, independent of the
// offline flag. Used when an online call fails offline-worthy after the
// local mutation already happened.
func (s *Store) Enqueue(kind models.QueuedKind, playerID string) models.QueuedAction {
	s.mu.Lock()
	qa := s.enqueueLocked(kind, playerID)
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "queue:enqueued", payload: map[string]any{"id": qa.ID, "kind": string(qa.Kind)}}})
	return qa
}

// Queue returns a copy of the queue in enqueue order.
func (s *Store) Queue() []models.QueuedAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.QueuedAction{}, s.queue...)
}

// QueueCounts recomputes the per-status counters from the queue contents.
// The counters are derived bookkeeping only; they can never drift because
// they are never stored.
func (s *Store) QueueCounts() models.QueueCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

func (s *Store) countsLocked() models.QueueCounts {
	var c models.QueueCounts
	for _, qa := range s.queue {
		switch qa.Status {
		case models.StatusPending:
			c.Pending++
		case models.StatusSyncing:
			c.Syncing++
		case models.StatusSynced:
			c.Synced++
		case models.StatusFailed:
			c.Failed++
		case models.StatusConflict:
			c.Conflict++
		}
	}
	return c
}

// PendingIDs returns the ids of pending entries in FIFO enqueue order. The
// reconciler snapshots these at the start of a pass so entries that revert
// to pending mid-pass wait for a later invocation.
func (s *Store) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, qa := range s.queue {
		if qa.Status == models.StatusPending {
			ids = append(ids, qa.ID)
		}
	}
	return ids
}

// ClaimByIDs transitions the given entries to syncing and returns copies for
// the reconciler. Entries that are no longer pending (removed, cleared, or
// resolved meanwhile) are skipped; conflict entries are never claimable.
func (s *Store) ClaimByIDs(ids []string) []models.QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var claimed []models.QueuedAction
	for i := range s.queue {
		if !want[s.queue[i].ID] || s.queue[i].Status != models.StatusPending {
			continue
		}
		s.queue[i].Status = models.StatusSyncing
		claimed = append(claimed, s.queue[i])
	}
	if len(claimed) > 0 {
		s.persistLocked()
	}
	return claimed
}

// ResolveSynced marks a syncing entry successfully reconciled.
func (s *Store) ResolveSynced(id string) bool {
	return s.resolve(id, func(qa *models.QueuedAction) {
		qa.Status = models.StatusSynced
		qa.ConflictDetail = ""
	})
}

// ResolveConflict marks an entry as a remote-detected conflict. Conflicts
// are terminal for the reconciler: only explicit acknowledgment clears them.
func (s *Store) ResolveConflict(id, detail string) bool {
	return s.resolve(id, func(qa *models.QueuedAction) {
		qa.Status = models.StatusConflict
		qa.ConflictDetail = detail
	})
}

// ResolveFailure records a failed attempt. Non-retryable errors and
// exhausted retry budgets land in failed; otherwise the entry goes back to
// pending with the attempt counter bumped, eligible for a later pass.
func (s *Store) ResolveFailure(id string, retryable bool, maxAttempts int) models.QueueStatus {
	var status models.QueueStatus
	s.resolve(id, func(qa *models.QueuedAction) {
		qa.Attempt++
		if !retryable || qa.Attempt >= maxAttempts {
			qa.Status = models.StatusFailed
		} else {
			qa.Status = models.StatusPending
		}
		status = qa.Status
	})
	return status
}

func (s *Store) resolve(id string, apply func(*models.QueuedAction)) bool {
	s.mu.Lock()
	found := false
	for i := range s.queue {
		if s.queue[i].ID == id {
			apply(&s.queue[i])
			found = true
			break
		}
	}
	var counts models.QueueCounts
	if found {
		s.persistLocked()
		counts = s.countsLocked()
	}
	s.mu.Unlock()

	if found {
		s.emit([]event{{typ: "queue:updated", payload: map[string]any{
			"pending": counts.Pending, "failed": counts.Failed, "conflict": counts.Conflict,
		}}})
	}
	return found
}

// RetryFailed bulk-transitions failed entries back to pending with a fresh
// retry budget. Returns how many entries became eligible again.
func (s *Store) RetryFailed() int {
	s.mu.Lock()
	n := 0
	for i := range s.queue {
		if s.queue[i].Status == models.StatusFailed {
			s.queue[i].Status = models.StatusPending
			s.queue[i].Attempt = 0
			n++
		}
	}
	if n > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	if n > 0 {
		s.emit([]event{{typ: "queue:retrying", payload: map[string]any{"count": n}}})
	}
	return n
}

// AcknowledgeConflict resolves a conflict entry by removing it from the
// queue. This is the only path out of the conflict status.
func (s *Store) AcknowledgeConflict(id string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.queue {
		if s.queue[i].ID == id && s.queue[i].Status == models.StatusConflict {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if removed {
		s.emit([]event{{typ: "queue:conflictResolved", payload: map[string]any{"id": id}}})
	}
	return removed
}

// RemoveFromQueue deletes an entry regardless of status.
func (s *Store) RemoveFromQueue(id string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if removed {
		s.emit([]event{{typ: "queue:removed", payload: map[string]any{"id": id}}})
	}
	return removed
}

// PruneSynced drops successfully reconciled entries and returns how many
// were pruned.
func (s *Store) PruneSynced() int {
	s.mu.Lock()
	kept := s.queue[:0]
	pruned := 0
	for _, qa := range s.queue {
		if qa.Status == models.StatusSynced {
			pruned++
			continue
		}
		kept = append(kept, qa)
	}
	s.queue = kept
	if pruned > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()
	return pruned
}

// ClearQueue empties the queue entirely.
func (s *Store) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "queue:cleared", payload: nil}})
}
