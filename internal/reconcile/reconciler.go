// Package reconcile drains the offline action queue against the remote
// draft advisor: bounded batches, bounded retries, explicit conflicts.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Billy-Davies-2/draft-copilot/internal/advisor"
	"github.com/Billy-Davies-2/draft-copilot/internal/draft"
	"github.com/Billy-Davies-2/draft-copilot/internal/logger"
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

const (
	// BatchSize is how many queued actions sync concurrently before the
	// inter-batch pause, to avoid overwhelming the advisor.
	BatchSize = 5
	// InterBatchDelay separates consecutive batches within one pass.
	InterBatchDelay = 500 * time.Millisecond
	// MaxAttempts bounds retries per entry; after that the entry stays
	// failed until an explicit bulk retry.
	MaxAttempts = 3
)

// Advisor is the subset of the advisor client the reconciler calls.
type Advisor interface {
	InitializeDraft(ctx context.Context, user string, teams, pick int) (advisor.Reply, error)
	RecordDraft(ctx context.Context, user, conversationID, playerID string, round, pick int) (advisor.Reply, error)
	RecordTaken(ctx context.Context, user, conversationID, playerID string, round, pick int) (advisor.Reply, error)
}

// Reconciler drives queue reconciliation for one draft aggregate.
type Reconciler struct {
	store  *draft.Store
	client Advisor
	user   func() string

	running atomic.Bool
	delay   time.Duration
}

// New creates a reconciler. user supplies the identity attached to advisor
// payloads at call time, since login may happen after construction.
func New(store *draft.Store, client Advisor, user func() string) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
		user:   user,
		delay:  InterBatchDelay,
	}
}

// Process runs one reconciliation pass over the entries that were pending
// when the pass started, in FIFO order, in batches of BatchSize. At most one
// pass runs at a time; a concurrent call is a no-op. Entries reverting to
// pending mid-pass (retryable failures) wait for a later invocation.
func (r *Reconciler) Process(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	defer r.running.Store(false)

	ids := r.store.PendingIDs()
	if len(ids) == 0 {
		return nil
	}
	logger.Info("Reconciliation pass starting", "pending", len(ids))

	var sawOfflineError atomic.Bool

	for start := 0; start < len(ids); start += BatchSize {
		end := min(start+BatchSize, len(ids))
		batch := r.store.ClaimByIDs(ids[start:end])

		// Within a batch the calls run concurrently; response order is not
		// guaranteed, so each entry is classified independently.
		var wg sync.WaitGroup
		for _, qa := range batch {
			wg.Add(1)
			go func(qa models.QueuedAction) {
				defer wg.Done()
				if r.processEntry(ctx, qa) {
					sawOfflineError.Store(true)
				}
			}(qa)
		}
		wg.Wait()

		if end < len(ids) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}

	counts := r.store.QueueCounts()
	logger.Info("Reconciliation pass finished",
		"pending", counts.Pending, "failed", counts.Failed, "conflict", counts.Conflict)

	// A pass that cleared every pending entry without hitting the network
	// means connectivity is back.
	if counts.Pending == 0 && !sawOfflineError.Load() {
		r.store.ExitOffline()
	}
	return nil
}

// RetryFailed makes every failed entry eligible again and runs a pass.
func (r *Reconciler) RetryFailed(ctx context.Context) error {
	if n := r.store.RetryFailed(); n == 0 {
		return nil
	}
	return r.Process(ctx)
}

// processEntry syncs a single claimed entry and reports whether it hit an
// offline-worthy error.
func (r *Reconciler) processEntry(ctx context.Context, qa models.QueuedAction) bool {
	user := r.user()
	conversationID := r.store.ConversationID()

	var reply advisor.Reply
	var err error
	switch qa.Kind {
	case models.QueuedInitialize:
		reply, err = r.client.InitializeDraft(ctx, user, qa.Teams, qa.Pick)
	case models.QueuedDraft:
		reply, err = r.client.RecordDraft(ctx, user, conversationID, qa.PlayerID, qa.LocalRound, qa.LocalPickCount)
	case models.QueuedTaken:
		reply, err = r.client.RecordTaken(ctx, user, conversationID, qa.PlayerID, qa.LocalRound, qa.LocalPickCount)
	default:
		r.store.ResolveFailure(qa.ID, false, MaxAttempts)
		logger.Error("Unknown queued action kind", "id", qa.ID, "kind", qa.Kind)
		return false
	}

	if err == nil {
		if reply.ConversationID != "" && reply.ConversationID != conversationID {
			r.store.SetConversationID(reply.ConversationID)
		}
		r.store.ResolveSynced(qa.ID)
		if reply.Text != "" {
			kind := models.MsgAnalysis
			if qa.Kind == models.QueuedInitialize {
				kind = models.MsgStrategy
			}
			r.store.AppendStaticMessage(models.ConversationMessage{
				Kind:     kind,
				Content:  reply.Text,
				PlayerID: qa.PlayerID,
				Round:    qa.LocalRound,
			})
		}
		return false
	}

	switch {
	case advisor.IsSessionExpired(err):
		// The advisor conversation is gone; local draft-AI state can't be
		// reconciled against it and the user has to reconfigure.
		logger.Warn("Advisor session expired, resetting draft state", "id", qa.ID)
		r.store.Reset()
		return false

	case advisor.IsConflict(err):
		logger.Warn("Queued action conflicts with remote state", "id", qa.ID, "error", err)
		r.store.ResolveConflict(qa.ID, err.Error())
		return false

	case advisor.IsRateLimited(err):
		// 429 never triggers offline mode; the entry stays eligible.
		logger.Warn("Advisor rate limited", "id", qa.ID)
		r.store.ResolveFailure(qa.ID, true, MaxAttempts)
		return false

	case advisor.IsOfflineWorthy(err):
		logger.Warn("Advisor unreachable, staying offline", "id", qa.ID, "error", err)
		r.store.EnterOffline()
		r.store.ResolveFailure(qa.ID, true, MaxAttempts)
		return true

	default:
		// Semantic failure: retrying can't help.
		logger.Error("Queued action rejected by advisor", "id", qa.ID, "error", err)
		r.store.ResolveFailure(qa.ID, false, MaxAttempts)
		return false
	}
}
