// Package handlers exposes the draft engine to the browser UI over
// HTTP/JSON plus an SSE event bridge. Advisor errors never escape a
// handler as a failure of the local mutation; they translate into state
// transitions (offline mode, queue entries, conversation error fields).
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Billy-Davies-2/draft-copilot/internal/advisor"
	"github.com/Billy-Davies-2/draft-copilot/internal/auth"
	"github.com/Billy-Davies-2/draft-copilot/internal/catalog"
	"github.com/Billy-Davies-2/draft-copilot/internal/draft"
	"github.com/Billy-Davies-2/draft-copilot/internal/logger"
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
	"github.com/Billy-Davies-2/draft-copilot/internal/pubsub"
	"github.com/Billy-Davies-2/draft-copilot/internal/reconcile"
)

// APIHandlers contains all API handler methods.
type APIHandlers struct {
	store      *draft.Store
	advisor    *advisor.Client
	reconciler *reconcile.Reconciler
	catalog    *catalog.Client
	pubsub     *pubsub.PubSub

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewAPIHandlers creates the API handler set.
func NewAPIHandlers(store *draft.Store, adv *advisor.Client, rec *reconcile.Reconciler, cat *catalog.Client, ps *pubsub.PubSub) *APIHandlers {
	return &APIHandlers{
		store:      store,
		advisor:    adv,
		reconciler: rec,
		catalog:    cat,
		pubsub:     ps,
		streams:    make(map[string]context.CancelFunc),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// stateView is the full aggregate view the UI renders from.
type stateView struct {
	Config          models.DraftConfig            `json:"config"`
	Configured      bool                          `json:"configured"`
	CurrentRound    int                           `json:"currentRound"`
	TotalPicksMade  int                           `json:"totalPicksMade"`
	IsMyTurn        bool                          `json:"isMyTurn"`
	PicksUntilTurn  int                           `json:"picksUntilMyTurn"`
	Offline         bool                          `json:"offline"`
	QueueCounts     models.QueueCounts            `json:"queueCounts"`
	ActionLog       []models.ActionLogEntry       `json:"actionLog"`
	Conversation    []models.ConversationMessage  `json:"conversation"`
	PlayersLoading  bool                          `json:"playersLoading"`
	PlayersError    string                        `json:"playersError,omitempty"`
}

// GetState returns the full draft state view.
func (h *APIHandlers) GetState(w http.ResponseWriter, r *http.Request) {
	cfg := h.store.Config()
	writeJSON(w, stateView{
		Config:         cfg,
		Configured:     cfg.Configured(),
		CurrentRound:   h.store.CurrentRound(),
		TotalPicksMade: h.store.TotalPicksMade(),
		IsMyTurn:       h.store.IsMyTurn(),
		PicksUntilTurn: h.store.PicksUntilMyTurn(),
		Offline:        h.store.Offline(),
		QueueCounts:    h.store.QueueCounts(),
		ActionLog:      h.store.ActionLog(),
		Conversation:   h.store.Conversation(),
		PlayersLoading: h.store.PlayersLoading(),
		PlayersError:   h.store.PlayersError(),
	})
}

// Configure sets up the league and initializes the advisor session. When the
// advisor is unreachable the configuration still succeeds locally and the
// initialization queues for reconciliation.
func (h *APIHandlers) Configure(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		Teams int `json:"teams"`
		Pick  int `json:"pick"`
		Reset bool `json:"reset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.Reset {
		err = h.store.Reconfigure(req.Teams, req.Pick)
	} else {
		err = h.store.Configure(req.Teams, req.Pick)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	warning := ""
	if !h.store.Offline() {
		reply, err := h.advisor.InitializeDraft(r.Context(), auth.Username(r), req.Teams, req.Pick)
		switch {
		case err == nil:
			if reply.ConversationID != "" {
				h.store.SetConversationID(reply.ConversationID)
			}
			if reply.Text != "" {
				h.store.AppendStaticMessage(models.ConversationMessage{
					Kind:    models.MsgStrategy,
					Content: reply.Text,
				})
			}
		case advisor.IsOfflineWorthy(err):
			logger.Warn("Advisor unreachable during configure, entering offline mode", "error", err)
			h.store.EnterOffline()
			h.store.Enqueue(models.QueuedInitialize, "")
		case advisor.IsRateLimited(err):
			warning = "advisor rate limited, strategy will catch up shortly"
		default:
			logger.Error("Advisor rejected draft initialization", "error", err)
			warning = err.Error()
		}
	}

	writeJSON(w, map[string]any{"ok": true, "warning": warning})
}

// DraftPick records a pick onto the user's roster.
func (h *APIHandlers) DraftPick(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, models.ActionDrafted)
}

// MarkTaken records a pick claimed by another team.
func (h *APIHandlers) MarkTaken(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, models.ActionTaken)
}

func (h *APIHandlers) recordAction(w http.ResponseWriter, r *http.Request, kind models.ActionKind) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var changed bool
	if kind == models.ActionDrafted {
		changed = h.store.RecordDraft(req.PlayerID)
	} else {
		changed = h.store.RecordTaken(req.PlayerID)
	}
	if !changed {
		// Duplicate or pre-configuration request: benign idempotent retry.
		writeJSON(w, map[string]any{"ok": true, "changed": false})
		return
	}

	warning := ""
	if !h.store.Offline() {
		warning = h.relayAction(r, kind, req.PlayerID)
	}

	writeJSON(w, map[string]any{"ok": true, "changed": true, "warning": warning})
}

// relayAction reports an already-applied local action to the advisor and
// translates any failure into a state transition. Returns a user-visible
// warning, empty when everything went through.
func (h *APIHandlers) relayAction(r *http.Request, kind models.ActionKind, playerID string) string {
	user := auth.Username(r)
	conversationID := h.store.ConversationID()
	round := h.store.CurrentRound()
	picks := h.store.TotalPicksMade()

	var reply advisor.Reply
	var err error
	if kind == models.ActionDrafted {
		reply, err = h.advisor.RecordDraft(r.Context(), user, conversationID, playerID, round, picks)
	} else {
		reply, err = h.advisor.RecordTaken(r.Context(), user, conversationID, playerID, round, picks)
	}

	queued := models.QueuedDraft
	msgKind := models.MsgAnalysis
	if kind == models.ActionTaken {
		queued = models.QueuedTaken
		msgKind = models.MsgPlayerTaken
	}

	switch {
	case err == nil:
		if reply.Text != "" {
			h.store.AppendStaticMessage(models.ConversationMessage{
				Kind:     msgKind,
				Content:  reply.Text,
				PlayerID: playerID,
				Round:    round,
			})
		}
		return ""

	case advisor.IsSessionExpired(err):
		logger.Warn("Advisor session expired", "error", err)
		h.store.Reset()
		return "advisor session expired, please reconfigure the draft"

	case advisor.IsConflict(err):
		return "the advisor reports this pick was already claimed elsewhere"

	case advisor.IsRateLimited(err):
		// Explicitly not offline-worthy.
		return "advisor rate limited, analysis will catch up shortly"

	case advisor.IsOfflineWorthy(err):
		logger.Warn("Advisor unreachable, entering offline mode", "error", err)
		h.store.EnterOffline()
		h.store.Enqueue(queued, playerID)
		return "offline: action queued for sync"

	default:
		logger.Error("Advisor rejected action", "error", err)
		return err.Error()
	}
}

// Undo reverses the most recent action.
func (h *APIHandlers) Undo(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	writeJSON(w, map[string]any{"ok": true, "changed": h.store.UndoLast()})
}

// ResetDraft clears all draft-scoped state.
func (h *APIHandlers) ResetDraft(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	logger.Info("Resetting draft")
	h.store.Reset()
	writeJSON(w, map[string]any{"ok": true})
}

// ToggleStar flips a player bookmark.
func (h *APIHandlers) ToggleStar(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{"ok": true, "starred": h.store.ToggleStar(req.PlayerID)})
}

// ListPlayers returns the master catalog with its loading state.
func (h *APIHandlers) ListPlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"players": h.store.Players(),
		"loading": h.store.PlayersLoading(),
		"error":   h.store.PlayersError(),
	})
}

// RefreshPlayers triggers a catalog refetch in the background.
func (h *APIHandlers) RefreshPlayers(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = h.catalog.Refresh(ctx, h.store)
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"ok": true})
}

// SetOffline toggles offline mode manually.
func (h *APIHandlers) SetOffline(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		Offline bool `json:"offline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Offline {
		h.store.EnterOffline()
	} else {
		h.store.ExitOffline()
	}
	writeJSON(w, map[string]any{"ok": true, "offline": h.store.Offline()})
}

// GetQueue returns the offline queue and its derived counters.
func (h *APIHandlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"entries": h.store.Queue(),
		"counts":  h.store.QueueCounts(),
	})
}

// ProcessQueue starts a reconciliation pass in the background.
func (h *APIHandlers) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	go func() {
		if err := h.reconciler.Process(context.Background()); err != nil {
			logger.Error("Reconciliation pass failed", "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"ok": true})
}

// RetryFailed re-arms failed queue entries and starts a pass.
func (h *APIHandlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	go func() {
		if err := h.reconciler.RetryFailed(context.Background()); err != nil {
			logger.Error("Retry pass failed", "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"ok": true})
}

// RemoveFromQueue deletes a queue entry.
func (h *APIHandlers) RemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{"ok": h.store.RemoveFromQueue(req.ID)})
}

// AcknowledgeConflict resolves a conflict entry after the user reviewed it.
func (h *APIHandlers) AcknowledgeConflict(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.store.AcknowledgeConflict(req.ID) {
		http.Error(w, "no such conflict entry", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// ClearQueue empties the offline queue.
func (h *APIHandlers) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	h.store.ClearQueue()
	writeJSON(w, map[string]any{"ok": true})
}

// GetConversation returns the advisor conversation log.
func (h *APIHandlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"messages": h.store.Conversation()})
}

// Ask opens a streaming advisor exchange. The response returns the new
// conversation entry id immediately; tokens arrive via the SSE bridge as the
// entry mutates.
func (h *APIHandlers) Ask(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		Question string `json:"question"`
		PlayerID string `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	id := h.store.CreateStreamingEntry(models.MsgAnalysis, req.PlayerID,
		h.store.CurrentRound(), h.store.TotalPicksMade()+1)

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.streams[id] = cancel
	h.mu.Unlock()

	go h.runStream(ctx, id, auth.Username(r), req.Question)

	writeJSON(w, map[string]any{"ok": true, "id": id})
}

// AbortStream cancels an in-flight streaming exchange. The entry leaves the
// in-progress state with its partial content, not marked as failed.
func (h *APIHandlers) AbortStream(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	cancel, ok := h.streams[req.ID]
	h.mu.Unlock()

	if !ok {
		http.Error(w, "no such stream", http.StatusNotFound)
		return
	}
	cancel()
	writeJSON(w, map[string]any{"ok": true})
}

func (h *APIHandlers) runStream(ctx context.Context, id, user, question string) {
	defer func() {
		h.mu.Lock()
		delete(h.streams, id)
		h.mu.Unlock()
	}()

	events, err := h.advisor.Stream(ctx, user, h.store.ConversationID(), question)
	if err != nil {
		if advisor.IsOfflineWorthy(err) {
			h.store.EnterOffline()
		}
		h.store.FailEntry(id, err.Error())
		return
	}

	for ev := range events {
		switch ev.Type {
		case advisor.EventAck:
			if ev.ConversationID != "" {
				h.store.SetConversationID(ev.ConversationID)
			}
		case advisor.EventChunk:
			h.store.AppendToken(id, ev.Content)
		case advisor.EventDone:
			h.store.CompleteEntry(id, ev.Content)
			return
		case advisor.EventError:
			h.store.FailEntry(id, ev.Err)
			return
		case advisor.EventPhase, advisor.EventHeartbeat:
			// Progress markers only; nothing to record.
		}
	}

	// Channel closed without a terminal event: caller abort keeps the
	// partial content without an error mark, anything else is a failure.
	if ctx.Err() != nil {
		h.store.AbortEntry(id)
	} else {
		h.store.FailEntry(id, "stream ended unexpectedly")
	}
}

// EventsSSE provides Server-Sent Events for realtime updates.
func (h *APIHandlers) EventsSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan := h.pubsub.Subscribe()
	defer h.pubsub.Unsubscribe(eventChan)

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case event := <-eventChan:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			logger.Debug("SSE client disconnected")
			return
		case <-time.After(30 * time.Second):
			fmt.Fprintf(w, ": keepalive\n\n")
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
