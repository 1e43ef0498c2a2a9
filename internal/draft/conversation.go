package draft

import (
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

// Conversation returns a copy of the advisor conversation log in the order
// the initiating requests were issued.
func (s *Store) Conversation() []models.ConversationMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConversationMessage{}, s.conversation...)
}

// CreateStreamingEntry appends a new in-progress message with empty content
// and returns its id. Out-of-order completions later address the entry by
// this id, never by position.
func (s *Store) CreateStreamingEntry(kind models.MessageKind, playerID string, round, pick int) string {
	s.mu.Lock()
	msg := models.ConversationMessage{
		ID:        s.newID(),
		Kind:      kind,
		Content:   "",
		TS:        s.now().UnixMilli(),
		PlayerID:  playerID,
		Round:     round,
		Pick:      pick,
		Streaming: &models.StreamState{InProgress: true},
	}
	s.conversation = append(s.conversation, msg)
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "chat:started", payload: map[string]any{"id": msg.ID, "kind": string(kind)}}})
	return msg.ID
}

// AppendToken accumulates a streamed content delta onto an in-progress
// entry. The upstream chunk events carry deltas, so the entry always holds
// the latest known full content.
func (s *Store) AppendToken(id, delta string) bool {
	updated := s.updateMessage(id, func(msg *models.ConversationMessage) {
		if msg.Streaming == nil || !msg.Streaming.InProgress {
			return
		}
		msg.Content += delta
	})
	if updated {
		s.emit([]event{{typ: "chat:token", payload: map[string]any{"id": id}}})
	}
	return updated
}

// CompleteEntry marks a streaming entry done, clears any error and, when
// finalContent is non-empty, overwrites the accumulated content with the
// authoritative final value.
func (s *Store) CompleteEntry(id, finalContent string) bool {
	updated := s.updateMessage(id, func(msg *models.ConversationMessage) {
		if finalContent != "" {
			msg.Content = finalContent
		}
		msg.Streaming = &models.StreamState{InProgress: false}
	})
	if updated {
		s.emit([]event{{typ: "chat:done", payload: map[string]any{"id": id}}})
	}
	return updated
}

// AbortEntry takes a streaming entry out of in-progress without marking it
// failed. The partial content stays for inspection.
func (s *Store) AbortEntry(id string) bool {
	updated := s.updateMessage(id, func(msg *models.ConversationMessage) {
		if msg.Streaming == nil {
			return
		}
		msg.Streaming = &models.StreamState{InProgress: false}
	})
	if updated {
		s.emit([]event{{typ: "chat:aborted", payload: map[string]any{"id": id}}})
	}
	return updated
}

// FailEntry marks a streaming entry failed, preserving any partial content
// for inspection and retry.
func (s *Store) FailEntry(id, errMsg string) bool {
	updated := s.updateMessage(id, func(msg *models.ConversationMessage) {
		msg.Streaming = &models.StreamState{InProgress: false, Error: errMsg}
	})
	if updated {
		s.emit([]event{{typ: "chat:error", payload: map[string]any{"id": id, "error": errMsg}}})
	}
	return updated
}

// AppendStaticMessage appends an already-terminal message, used for one-shot
// request/response exchanges. Missing id and timestamp are filled in.
func (s *Store) AppendStaticMessage(msg models.ConversationMessage) models.ConversationMessage {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.TS == 0 {
		msg.TS = s.now().UnixMilli()
	}
	s.conversation = append(s.conversation, msg)
	s.persistLocked()
	s.mu.Unlock()

	s.emit([]event{{typ: "chat:added", payload: map[string]any{"id": msg.ID, "kind": string(msg.Kind)}}})
	return msg
}

func (s *Store) updateMessage(id string, apply func(*models.ConversationMessage)) bool {
	s.mu.Lock()
	found := false
	for i := range s.conversation {
		if s.conversation[i].ID == id {
			apply(&s.conversation[i])
			found = true
			break
		}
	}
	if found {
		s.persistLocked()
	}
	s.mu.Unlock()
	return found
}
