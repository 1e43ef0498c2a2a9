package draft

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

func TestOfflineActionsEnqueue(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))
	s.EnterOffline()

	require.True(t, s.RecordDraft("qb1"))
	require.True(t, s.RecordTaken("rb1"))

	q := s.Queue()
	require.Len(t, q, 2)
	assert.Equal(t, models.QueuedDraft, q[0].Kind)
	assert.Equal(t, "qb1", q[0].PlayerID)
	assert.Equal(t, models.QueuedTaken, q[1].Kind)
	assert.Equal(t, models.StatusPending, q[0].Status)
	assert.Equal(t, 0, q[0].Attempt)

	// Local state captured at enqueue time.
	assert.Equal(t, 1, q[0].LocalRound)
	assert.Equal(t, 1, q[0].LocalPickCount)
	assert.Equal(t, 2, q[1].LocalPickCount)
}

func TestConfigureWhileOfflineQueuesInitialize(t *testing.T) {
	s, _ := newTestStore(t)
	s.EnterOffline()
	require.NoError(t, s.Configure(12, 7))

	q := s.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, models.QueuedInitialize, q[0].Kind)
	assert.Equal(t, 12, q[0].Teams)
	assert.Equal(t, 7, q[0].Pick)
}

func TestOnlineActionsDoNotEnqueue(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))

	require.True(t, s.RecordDraft("qb1"))
	assert.Empty(t, s.Queue())
}

func TestClaimByIDsSkipsNonPending(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))

	a := s.Enqueue(models.QueuedDraft, "qb1")
	b := s.Enqueue(models.QueuedTaken, "rb1")
	c := s.Enqueue(models.QueuedTaken, "wr1")

	require.True(t, s.ResolveConflict(b.ID, "claimed elsewhere"))

	ids := s.PendingIDs()
	assert.Equal(t, []string{a.ID, c.ID}, ids, "FIFO order, conflict excluded")

	claimed := s.ClaimByIDs([]string{a.ID, b.ID, c.ID})
	require.Len(t, claimed, 2, "conflict entry is never claimable")
	for _, qa := range claimed {
		assert.Equal(t, models.StatusSyncing, qa.Status)
	}

	// Already-claimed entries are not claimable twice.
	assert.Empty(t, s.ClaimByIDs([]string{a.ID, c.ID}))
}

func TestResolveFailureRetryBudget(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))
	qa := s.Enqueue(models.QueuedDraft, "qb1")

	const maxAttempts = 3

	// Two retryable failures leave it pending with the attempt counter bumped.
	s.ClaimByIDs([]string{qa.ID})
	assert.Equal(t, models.StatusPending, s.ResolveFailure(qa.ID, true, maxAttempts))
	s.ClaimByIDs([]string{qa.ID})
	assert.Equal(t, models.StatusPending, s.ResolveFailure(qa.ID, true, maxAttempts))

	// Third retryable failure exhausts the budget.
	s.ClaimByIDs([]string{qa.ID})
	assert.Equal(t, models.StatusFailed, s.ResolveFailure(qa.ID, true, maxAttempts))
	assert.Equal(t, 3, s.Queue()[0].Attempt)

	// RetryFailed re-arms with a fresh budget.
	assert.Equal(t, 1, s.RetryFailed())
	assert.Equal(t, models.StatusPending, s.Queue()[0].Status)
	assert.Equal(t, 0, s.Queue()[0].Attempt)
}

func TestNonRetryableFailureIsImmediatelyTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))
	qa := s.Enqueue(models.QueuedDraft, "qb1")

	s.ClaimByIDs([]string{qa.ID})
	assert.Equal(t, models.StatusFailed, s.ResolveFailure(qa.ID, false, 3))
	assert.Equal(t, 1, s.Queue()[0].Attempt)
}

func TestConflictOnlyClearedByAcknowledgment(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))
	qa := s.Enqueue(models.QueuedDraft, "qb1")

	s.ClaimByIDs([]string{qa.ID})
	require.True(t, s.ResolveConflict(qa.ID, "pick already claimed"))
	assert.Equal(t, "pick already claimed", s.Queue()[0].ConflictDetail)

	// Bulk retry leaves conflicts untouched.
	assert.Equal(t, 0, s.RetryFailed())
	assert.Equal(t, models.StatusConflict, s.Queue()[0].Status)
	assert.Empty(t, s.PendingIDs())

	require.True(t, s.AcknowledgeConflict(qa.ID))
	assert.Empty(t, s.Queue())
	assert.False(t, s.AcknowledgeConflict(qa.ID))
}

func TestAcknowledgeRequiresConflictStatus(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))
	qa := s.Enqueue(models.QueuedDraft, "qb1")

	assert.False(t, s.AcknowledgeConflict(qa.ID), "pending entries are not acknowledgeable")
	require.Len(t, s.Queue(), 1)

	assert.True(t, s.RemoveFromQueue(qa.ID), "but plain removal works for any status")
	assert.Empty(t, s.Queue())
}

func TestPruneSynced(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))

	a := s.Enqueue(models.QueuedDraft, "qb1")
	b := s.Enqueue(models.QueuedTaken, "rb1")
	s.ClaimByIDs([]string{a.ID})
	require.True(t, s.ResolveSynced(a.ID))

	assert.Equal(t, 1, s.PruneSynced())
	q := s.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, b.ID, q[0].ID)
}

func TestQueueCountsAlwaysMatchEntries(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))

	rng := rand.New(rand.NewSource(7))
	var ids []string
	for i := 0; i < 40; i++ {
		qa := s.Enqueue(models.QueuedDraft, fmt.Sprintf("p%d", i))
		ids = append(ids, qa.ID)
	}

	// Random walk over the entry state machine; counters must agree with a
	// direct recount after every transition.
	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(6) {
		case 0:
			s.ClaimByIDs([]string{id})
		case 1:
			s.ResolveSynced(id)
		case 2:
			s.ResolveConflict(id, "conflict")
		case 3:
			s.ResolveFailure(id, rng.Intn(2) == 0, 3)
		case 4:
			s.RetryFailed()
		case 5:
			s.AcknowledgeConflict(id)
		}

		counts := s.QueueCounts()
		var want models.QueueCounts
		for _, qa := range s.Queue() {
			switch qa.Status {
			case models.StatusPending:
				want.Pending++
			case models.StatusSyncing:
				want.Syncing++
			case models.StatusSynced:
				want.Synced++
			case models.StatusFailed:
				want.Failed++
			case models.StatusConflict:
				want.Conflict++
			}
		}
		require.Equal(t, want, counts, "step %d", step)
		require.Equal(t, len(s.Queue()),
			counts.Pending+counts.Syncing+counts.Synced+counts.Failed+counts.Conflict,
			"every entry is in exactly one state")
	}
}

func TestClearQueue(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Configure(8, 2))
	s.Enqueue(models.QueuedDraft, "qb1")
	s.Enqueue(models.QueuedTaken, "rb1")

	s.ClearQueue()
	assert.Empty(t, s.Queue())
	assert.Equal(t, models.QueueCounts{}, s.QueueCounts())
}
