package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Billy-Davies-2/draft-copilot/internal/advisor"
	"github.com/Billy-Davies-2/draft-copilot/internal/draft"
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
	"github.com/Billy-Davies-2/draft-copilot/internal/store"
)

// fakeAdvisor lets each test script the remote behavior per call.
type fakeAdvisor struct {
	mu         sync.Mutex
	calls      []string
	initialize func() (advisor.Reply, error)
	record     func(playerID string) (advisor.Reply, error)
}

func (f *fakeAdvisor) log(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAdvisor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAdvisor) InitializeDraft(ctx context.Context, user string, teams, pick int) (advisor.Reply, error) {
	f.log(fmt.Sprintf("initialize %d/%d", teams, pick))
	if f.initialize != nil {
		return f.initialize()
	}
	return advisor.Reply{ConversationID: "conv-new"}, nil
}

func (f *fakeAdvisor) RecordDraft(ctx context.Context, user, conversationID, playerID string, round, pick int) (advisor.Reply, error) {
	f.log("draft " + playerID)
	if f.record != nil {
		return f.record(playerID)
	}
	return advisor.Reply{}, nil
}

func (f *fakeAdvisor) RecordTaken(ctx context.Context, user, conversationID, playerID string, round, pick int) (advisor.Reply, error) {
	f.log("taken " + playerID)
	if f.record != nil {
		return f.record(playerID)
	}
	return advisor.Reply{}, nil
}

func apiErr(status int, code string) error {
	return &advisor.APIError{Status: status, Code: code}
}

func newReconciler(t *testing.T, fake *fakeAdvisor) (*Reconciler, *draft.Store) {
	t.Helper()

	s, err := draft.NewStore(store.NewMemoryStore(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Configure(8, 2))
	s.EnterOffline()

	r := New(s, fake, func() string { return "tester" })
	r.delay = 0 // no inter-batch pauses in tests
	return r, s
}

func TestProcessDrainsQueueAndExitsOffline(t *testing.T) {
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			return advisor.Reply{Text: "noted " + playerID}, nil
		},
	}
	r, s := newReconciler(t, fake)

	require.True(t, s.RecordDraft("qb1"))
	require.True(t, s.RecordTaken("rb1"))

	require.NoError(t, r.Process(context.Background()))

	counts := s.QueueCounts()
	assert.Equal(t, 2, counts.Synced)
	assert.Equal(t, 0, counts.Pending)
	assert.False(t, s.Offline(), "a clean pass restores online mode")

	// Each synced reply with text lands in the conversation.
	assert.Len(t, s.Conversation(), 2)
}

func TestProcessBatchesInFIFOOrder(t *testing.T) {
	fake := &fakeAdvisor{}
	r, s := newReconciler(t, fake)

	for i := 0; i < 12; i++ {
		require.True(t, s.RecordTaken(fmt.Sprintf("p%02d", i)))
	}

	require.NoError(t, r.Process(context.Background()))

	assert.Equal(t, 12, fake.callCount())
	assert.Equal(t, 12, s.QueueCounts().Synced)

	// Calls within a batch race, but batches themselves run in FIFO order:
	// the first five calls are the first five enqueued entries.
	fake.mu.Lock()
	firstBatch := append([]string{}, fake.calls[:5]...)
	fake.mu.Unlock()
	for _, call := range firstBatch {
		assert.Contains(t, []string{"taken p00", "taken p01", "taken p02", "taken p03", "taken p04"}, call)
	}
}

func TestRetryableFailureWaitsForLaterPass(t *testing.T) {
	var failures atomic.Int32
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			failures.Add(1)
			return advisor.Reply{}, apiErr(http.StatusServiceUnavailable, "")
		},
	}
	r, s := newReconciler(t, fake)
	require.True(t, s.RecordDraft("qb1"))

	// One pass, one attempt: the entry reverts to pending but is not
	// re-claimed within the same invocation.
	require.NoError(t, r.Process(context.Background()))
	assert.Equal(t, int32(1), failures.Load())
	q := s.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusPending, q[0].Status)
	assert.Equal(t, 1, q[0].Attempt)
	assert.True(t, s.Offline(), "offline-worthy failure keeps offline mode")

	// Two more passes exhaust the budget.
	require.NoError(t, r.Process(context.Background()))
	require.NoError(t, r.Process(context.Background()))
	assert.Equal(t, int32(3), failures.Load())
	assert.Equal(t, models.StatusFailed, s.Queue()[0].Status)

	// Further passes leave the failed entry alone.
	require.NoError(t, r.Process(context.Background()))
	assert.Equal(t, int32(3), failures.Load())
}

func TestSemanticFailureIsNotRetried(t *testing.T) {
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			return advisor.Reply{}, apiErr(http.StatusUnprocessableEntity, "bad_player")
		},
	}
	r, s := newReconciler(t, fake)
	require.True(t, s.RecordDraft("qb1"))

	require.NoError(t, r.Process(context.Background()))

	q := s.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusFailed, q[0].Status)
	assert.Equal(t, 1, q[0].Attempt, "one attempt, no retries for semantic errors")
	assert.False(t, s.Offline(), "the advisor answered, so connectivity is back")
}

func TestConflictIsTerminalForTheReconciler(t *testing.T) {
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			return advisor.Reply{}, apiErr(http.StatusConflict, advisor.CodePickConflict)
		},
	}
	r, s := newReconciler(t, fake)
	require.True(t, s.RecordDraft("qb1"))

	require.NoError(t, r.Process(context.Background()))
	require.Equal(t, 1, fake.callCount())
	assert.Equal(t, models.StatusConflict, s.Queue()[0].Status)

	// Neither a plain pass nor a bulk retry touches the conflict.
	require.NoError(t, r.Process(context.Background()))
	require.NoError(t, r.RetryFailed(context.Background()))
	assert.Equal(t, 1, fake.callCount(), "conflicts are never auto-retried")
	assert.Equal(t, models.StatusConflict, s.Queue()[0].Status)
}

func TestSessionExpiredResetsEverything(t *testing.T) {
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			return advisor.Reply{}, apiErr(http.StatusConflict, advisor.CodeSessionExpired)
		},
	}
	r, s := newReconciler(t, fake)
	s.SetConversationID("conv-stale")
	require.True(t, s.RecordDraft("qb1"))

	require.NoError(t, r.Process(context.Background()))

	assert.False(t, s.IsConfigured())
	assert.Empty(t, s.Queue())
	assert.Empty(t, s.ConversationID())
}

func TestRateLimitNeverEntersOffline(t *testing.T) {
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			return advisor.Reply{}, apiErr(http.StatusTooManyRequests, "")
		},
	}
	r, s := newReconciler(t, fake)
	require.True(t, s.RecordDraft("qb1"))
	s.ExitOffline()

	require.NoError(t, r.Process(context.Background()))

	assert.False(t, s.Offline(), "429 must not flip the offline flag")
	q := s.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusPending, q[0].Status, "rate-limited entries stay eligible")
}

func TestInitializeSyncAdoptsConversationID(t *testing.T) {
	fake := &fakeAdvisor{
		initialize: func() (advisor.Reply, error) {
			return advisor.Reply{Text: "go RB heavy", ConversationID: "conv-77"}, nil
		},
	}

	s, err := draft.NewStore(store.NewMemoryStore(), nil)
	require.NoError(t, err)
	s.EnterOffline()
	require.NoError(t, s.Configure(10, 4))

	r := New(s, fake, func() string { return "tester" })
	r.delay = 0

	require.NoError(t, r.Process(context.Background()))

	assert.Equal(t, "conv-77", s.ConversationID())
	require.Len(t, s.Conversation(), 1)
	assert.Equal(t, models.MsgStrategy, s.Conversation()[0].Kind)
	assert.Equal(t, "go RB heavy", s.Conversation()[0].Content)
}

func TestConcurrentProcessIsMutuallyExclusive(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			close(started)
			<-release
			return advisor.Reply{}, nil
		},
	}
	r, s := newReconciler(t, fake)
	require.True(t, s.RecordDraft("qb1"))

	done := make(chan struct{})
	go func() {
		_ = r.Process(context.Background())
		close(done)
	}()
	<-started

	// A second pass while the first is in flight returns without claiming.
	require.NoError(t, r.Process(context.Background()))
	assert.Equal(t, 1, fake.callCount())

	close(release)
	<-done
	assert.Equal(t, 1, s.QueueCounts().Synced)
}

func TestRetryFailedReArmsAndProcesses(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	fake := &fakeAdvisor{
		record: func(playerID string) (advisor.Reply, error) {
			if fail.Load() {
				return advisor.Reply{}, apiErr(http.StatusBadRequest, "")
			}
			return advisor.Reply{}, nil
		},
	}
	r, s := newReconciler(t, fake)
	require.True(t, s.RecordDraft("qb1"))

	require.NoError(t, r.Process(context.Background()))
	require.Equal(t, models.StatusFailed, s.Queue()[0].Status)

	// Nothing failed means RetryFailed is a no-op pass.
	fail.Store(false)
	require.NoError(t, r.RetryFailed(context.Background()))
	assert.Equal(t, models.StatusSynced, s.Queue()[0].Status)
}
