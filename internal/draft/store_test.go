package draft

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Billy-Davies-2/draft-copilot/internal/models"
	"github.com/Billy-Davies-2/draft-copilot/internal/store"
)

// recorder collects emitted events for assertions.
type recorder struct {
	events []string
}

func (r *recorder) notify(eventType string, payload map[string]any) {
	r.events = append(r.events, eventType)
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T) (*Store, *recorder) {
	t.Helper()
	return newTestStoreOn(t, store.NewMemoryStore())
}

func newTestStoreOn(t *testing.T, snapshots store.SnapshotStore) (*Store, *recorder) {
	t.Helper()

	rec := &recorder{}
	s, err := NewStore(snapshots, rec.notify)
	require.NoError(t, err)

	// Deterministic ids and timestamps.
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
	return s, rec
}

func TestConfigureValidation(t *testing.T) {
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.Configure(0, 1), ErrInvalidConfig)
	assert.ErrorIs(t, s.Configure(10, 0), ErrInvalidConfig)
	assert.ErrorIs(t, s.Configure(10, 11), ErrInvalidConfig)

	require.NoError(t, s.Configure(10, 3))
	assert.True(t, s.IsConfigured())
	assert.Equal(t, models.DraftConfig{Teams: 10, Pick: 3}, s.Config())
}

func TestConfigureRejectedMidDraft(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(10, 3))
	require.True(t, s.RecordDraft("qb1"))

	assert.ErrorIs(t, s.Configure(12, 5), ErrAlreadyDrafting)

	// Reconfigure wipes and starts over.
	require.NoError(t, s.Reconfigure(12, 5))
	assert.Equal(t, 0, s.TotalPicksMade())
	assert.Equal(t, models.DraftConfig{Teams: 12, Pick: 5}, s.Config())
}

func TestRecordIsIdempotentPerPlayer(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 1))

	assert.True(t, s.RecordDraft("qb1"))
	assert.False(t, s.RecordDraft("qb1"), "double-click on the same player must be absorbed")
	assert.False(t, s.RecordTaken("qb1"), "a drafted player cannot also be taken")
	assert.Equal(t, 1, s.TotalPicksMade())

	assert.True(t, s.RecordTaken("rb1"))
	assert.False(t, s.RecordDraft("rb1"))
	assert.Equal(t, 2, s.TotalPicksMade())

	assert.True(t, s.IsDrafted("qb1"))
	assert.True(t, s.IsTaken("rb1"))
	assert.True(t, s.IsUnavailable("qb1"))
	assert.True(t, s.IsUnavailable("rb1"))
	assert.False(t, s.IsUnavailable("wr1"))
}

func TestCanDraftTracksAvailability(t *testing.T) {
	s, _ := newTestStore(t)

	assert.False(t, s.CanDraft("qb1"), "nothing is draftable before configuration")

	require.NoError(t, s.Configure(8, 1))
	assert.True(t, s.CanDraft("qb1"))
	assert.True(t, s.CanTake("qb1"))
	assert.False(t, s.CanDraft(""))

	require.True(t, s.RecordDraft("qb1"))
	assert.False(t, s.CanDraft("qb1"))
	assert.False(t, s.CanTake("qb1"))
}

func TestRecordBeforeConfigureIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)

	assert.False(t, s.RecordDraft("qb1"))
	assert.False(t, s.RecordTaken("qb1"))
	assert.Equal(t, 0, s.TotalPicksMade())
}

func TestUndoIsExactInverse(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 1))

	require.True(t, s.RecordDraft("qb1"))
	require.True(t, s.RecordTaken("rb1"))
	before := s.Snapshot()

	require.True(t, s.RecordTaken("wr1"))
	require.True(t, s.UndoLast())

	after := s.Snapshot()
	assert.Equal(t, before.ActionLog, after.ActionLog)
	assert.Equal(t, before.Drafted, after.Drafted)
	assert.Equal(t, before.Taken, after.Taken)
	assert.False(t, s.IsTaken("wr1"), "undone player is available again")

	// Pops strictly newest-first.
	require.True(t, s.UndoLast())
	assert.False(t, s.IsTaken("rb1"))
	assert.True(t, s.IsDrafted("qb1"))

	require.True(t, s.UndoLast())
	assert.False(t, s.UndoLast(), "empty log undo is a no-op")
}

func TestToggleStarLocalOnly(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 1))
	s.EnterOffline()

	assert.True(t, s.ToggleStar("qb1"))
	assert.True(t, s.IsStarred("qb1"))
	assert.False(t, s.ToggleStar("qb1"))
	assert.False(t, s.IsStarred("qb1"))

	// Stars never enqueue even offline.
	for _, qa := range s.Queue() {
		assert.NotEqual(t, "qb1", qa.PlayerID)
	}
}

func TestResetPreservesCatalogAndOffline(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 1))
	require.True(t, s.RecordDraft("qb1"))
	s.ToggleStar("wr1")
	s.SetConversationID("conv-1")
	s.EnterOffline()
	s.SetPlayers([]models.Player{{ID: "qb1", Name: "QB One"}})

	s.Reset()

	assert.False(t, s.IsConfigured())
	assert.Equal(t, 0, s.TotalPicksMade())
	assert.False(t, s.IsDrafted("qb1"))
	assert.False(t, s.IsStarred("wr1"))
	assert.Empty(t, s.ConversationID())
	assert.Empty(t, s.Queue())
	assert.Empty(t, s.Conversation())

	// Catalog and connection state are not draft-scoped.
	assert.Len(t, s.Players(), 1)
	assert.True(t, s.Offline())
}

func TestOfflineTogglesAreIdempotent(t *testing.T) {
	s, rec := newTestStore(t)

	s.EnterOffline()
	s.EnterOffline()
	assert.True(t, s.Offline())
	assert.Equal(t, 1, rec.count("offline:enter"))

	s.ExitOffline()
	s.ExitOffline()
	assert.False(t, s.Offline())
	assert.Equal(t, 1, rec.count("offline:exit"))
}

func TestTurnEventFiresOncePerTurn(t *testing.T) {
	s, rec := newTestStore(t)

	// Slot 1 of 8: configuring makes it immediately my turn.
	require.NoError(t, s.Configure(8, 1))
	assert.Equal(t, 1, rec.count("turn:mine"))

	// Unrelated mutations while still my turn must not refire.
	s.ToggleStar("qb1")
	s.EnterOffline()
	s.ExitOffline()
	assert.Equal(t, 1, rec.count("turn:mine"))

	// My pick consumes the turn; the next 14 picks belong to others.
	require.True(t, s.RecordDraft("qb1"))
	for i := 0; i < 13; i++ {
		require.True(t, s.RecordTaken(fmt.Sprintf("p%d", i)))
	}
	assert.Equal(t, 1, rec.count("turn:mine"))

	// 15th pick completes; pick 16 (end of round 2 snake) is mine again.
	require.True(t, s.RecordTaken("p13"))
	assert.Equal(t, 2, rec.count("turn:mine"))
}

func TestTurnEventRefiresAfterUndoRedo(t *testing.T) {
	s, rec := newTestStore(t)
	require.NoError(t, s.Configure(2, 1))
	require.Equal(t, 1, rec.count("turn:mine"))

	require.True(t, s.RecordDraft("qb1"))
	require.True(t, s.UndoLast())

	// Back on the same turn key: stays suppressed, not a new turn.
	assert.Equal(t, 1, rec.count("turn:mine"))
}

func TestSnapshotRoundtripThroughRestart(t *testing.T) {
	mem := store.NewMemoryStore()
	s, _ := newTestStoreOn(t, mem)

	require.NoError(t, s.Configure(10, 4))
	require.True(t, s.RecordDraft("qb1"))
	require.True(t, s.RecordTaken("rb1"))
	s.ToggleStar("wr1")
	s.SetConversationID("conv-9")
	s.EnterOffline()
	s.Enqueue(models.QueuedDraft, "qb1")

	// Simulate an entry caught mid-sync at shutdown.
	ids := s.PendingIDs()
	require.Len(t, ids, 1)
	require.Len(t, s.ClaimByIDs(ids), 1)

	restored, _ := newTestStoreOn(t, mem)

	assert.Equal(t, models.DraftConfig{Teams: 10, Pick: 4}, restored.Config())
	assert.Equal(t, 2, restored.TotalPicksMade())
	assert.True(t, restored.IsDrafted("qb1"))
	assert.True(t, restored.IsTaken("rb1"))
	assert.True(t, restored.IsStarred("wr1"))
	assert.Equal(t, "conv-9", restored.ConversationID())
	assert.True(t, restored.Offline())

	// In-flight sync never survives a restart.
	q := restored.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusPending, q[0].Status)
}

func TestCurrentRoundTracksLastPick(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 1))

	assert.Equal(t, 1, s.CurrentRound())

	for i := 0; i < 8; i++ {
		require.True(t, s.RecordTaken(fmt.Sprintf("p%d", i)))
	}
	// Round 1 just finished; the round advances when pick 9 is recorded.
	assert.Equal(t, 1, s.CurrentRound())

	require.True(t, s.RecordTaken("p8"))
	assert.Equal(t, 2, s.CurrentRound())
}
