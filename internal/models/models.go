package models

// ActionKind classifies an action log entry.
type ActionKind string

const (
	ActionDrafted ActionKind = "drafted" // player landed on the user's roster
	ActionTaken   ActionKind = "taken"   // player claimed by another team
)

// DraftConfig is the league setup. Zero values mean "not configured yet";
// once the draft has begun it only changes through reconfigure-and-reset.
type DraftConfig struct {
	Teams int `json:"teams,omitempty"` // total league size
	Pick  int `json:"pick,omitempty"`  // user's round-1 slot, 1-indexed
}

// Configured reports whether both league size and slot have been set.
func (c DraftConfig) Configured() bool {
	return c.Teams > 0 && c.Pick > 0
}

// Player is one entry of the master player catalog.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position string `json:"position"`
	Team     string `json:"team"`
	Rank     int    `json:"rank,omitempty"`
	ByeWeek  int    `json:"byeWeek,omitempty"`
}

// ActionLogEntry is one recorded draft event. The log is append-only except
// for LIFO undo; its length is the authoritative picks-made counter.
type ActionLogEntry struct {
	PlayerID string     `json:"playerId"`
	Kind     ActionKind `json:"kind"`
	TS       int64      `json:"ts"`
}

// QueueStatus is the lifecycle state of a queued action.
type QueueStatus string

const (
	StatusPending  QueueStatus = "pending"
	StatusSyncing  QueueStatus = "syncing"
	StatusSynced   QueueStatus = "synced"
	StatusFailed   QueueStatus = "failed"
	StatusConflict QueueStatus = "conflict"
)

// QueuedKind is the remote operation a queued action maps to.
type QueuedKind string

const (
	QueuedDraft      QueuedKind = "draft"
	QueuedTaken      QueuedKind = "taken"
	QueuedInitialize QueuedKind = "initialize_draft"
)

// QueuedAction is one locally-performed action awaiting reconciliation with
// the remote advisor.
type QueuedAction struct {
	ID         string      `json:"id"`
	Kind       QueuedKind  `json:"kind"`
	EnqueuedAt int64       `json:"enqueuedAt"`
	Status     QueueStatus `json:"status"`
	Attempt    int         `json:"attempt"`

	// Payload
	PlayerID string `json:"playerId,omitempty"`
	Teams    int    `json:"teams,omitempty"` // initialize_draft only
	Pick     int    `json:"pick,omitempty"`  // initialize_draft only

	// Local state at enqueue time, for conflict resolution context.
	LocalRound     int `json:"localRound"`
	LocalPickCount int `json:"localPickCount"`

	ConflictDetail string `json:"conflictDetail,omitempty"`
}

// QueueCounts is derived bookkeeping over the queue, always recomputed from
// the entries themselves.
type QueueCounts struct {
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Conflict int `json:"conflict"`
}

// MessageKind classifies a conversation message.
type MessageKind string

const (
	MsgStrategy    MessageKind = "strategy"
	MsgPlayerTaken MessageKind = "player_taken"
	MsgUserTurn    MessageKind = "user_turn"
	MsgAnalysis    MessageKind = "analysis"
	MsgLoading     MessageKind = "loading"
)

// StreamState tracks an in-progress streamed message.
type StreamState struct {
	InProgress bool   `json:"inProgress"`
	Error      string `json:"error,omitempty"`
}

// ConversationMessage is one entry of the advisor conversation log. A
// streaming message is created once with empty content and mutated in place
// until a terminal completion or error.
type ConversationMessage struct {
	ID        string       `json:"id"`
	Kind      MessageKind  `json:"kind"`
	Content   string       `json:"content"`
	TS        int64        `json:"ts"`
	PlayerID  string       `json:"playerId,omitempty"`
	Round     int          `json:"round,omitempty"`
	Pick      int          `json:"pick,omitempty"`
	Streaming *StreamState `json:"streaming,omitempty"`
}

// SnapshotSchemaVersion is the current version of the persisted snapshot
// document. Bump it together with a migration step in internal/store.
const SnapshotSchemaVersion = 3

// Snapshot is the durable serialization of the whole draft aggregate. It is
// written after every mutation and read back once at startup.
type Snapshot struct {
	SchemaVersion int                   `json:"schemaVersion"`
	Config        DraftConfig           `json:"config"`
	ActionLog     []ActionLogEntry      `json:"actionLog"`
	Drafted       []string              `json:"drafted"`
	Taken         []string              `json:"taken"`
	Starred       []string              `json:"starred"`
	Queue         []QueuedAction        `json:"queue"`
	Conversation  []ConversationMessage `json:"conversation"`

	ConversationID string `json:"conversationId,omitempty"`
	Offline        bool   `json:"offline"`
	LastTurnKey    string `json:"lastTurnKey,omitempty"`
}
