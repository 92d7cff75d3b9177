// Package engine implements the work dispatch and lifecycle engine of the
// GMP proxy. It composes the fee policy, dispatch limiter, expiry manager and
// signature verifier against the work store, which is the sole
// synchronization point: every state transition is a conditional update keyed
// by the item's version, so racing engine instances cannot exceed the
// dispatch limit or double-process a submission.
package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/messaging"
	"github.com/mineproxy/gmp/internal/metrics"
	"github.com/mineproxy/gmp/internal/notify"
	"github.com/mineproxy/gmp/internal/policy"
	"github.com/mineproxy/gmp/internal/store"
	"github.com/mineproxy/gmp/internal/verify"
	"github.com/mineproxy/gmp/internal/work"
	"github.com/mineproxy/gmp/pkg/errors"
	"github.com/mineproxy/gmp/pkg/log"
)

// submitAttempts bounds how often a submission retries after losing a
// version race to a concurrent dispatch of the same item.
const submitAttempts = 3

// exhaustedAlertInterval rate-limits the store-exhaustion admin alert.
const exhaustedAlertInterval = time.Minute

// EventPublisher emits dispatch and solution events for downstream
// consumers (archive, payout processing).
type EventPublisher interface {
	PublishDispatch(ctx context.Context, ev *messaging.DispatchEvent) error
	PublishSolution(ctx context.Context, ev *messaging.SolutionEvent) error
}

// Recorder writes time-series metrics for dispatches, submissions and the
// candidate backlog.
type Recorder interface {
	RecordDispatch(outcome string, fee float64, latency time.Duration)
	RecordSubmission(outcome, reason string, fee float64)
	RecordStoreDepth(candidates int)
}

// Deps carries the engine's collaborators. Store and Verifier are required;
// the rest degrade to no-ops when nil.
type Deps struct {
	Store    store.Store
	Counters store.CounterStore
	Verifier verify.Verifier
	Events   EventPublisher
	Notifier notify.Notifier
	Recorder Recorder
}

// Engine orchestrates work dispatch and submission reconciliation.
type Engine struct {
	cfg      *config.Config
	logger   *log.Logger
	store    store.Store
	counters store.CounterStore
	verifier verify.Verifier
	events   EventPublisher
	notifier notify.Notifier
	recorder Recorder

	fees    *policy.FeePolicy
	limiter *policy.DispatchLimiter
	expiry  *policy.ExpiryManager

	now func() time.Time

	alertMu            sync.Mutex
	lastExhaustedAlert time.Time
}

// New creates a dispatch engine from the immutable process configuration.
func New(cfg *config.Config, logger *log.Logger, deps Deps) *Engine {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.WithComponent("engine"),
		store:    deps.Store,
		counters: deps.Counters,
		verifier: deps.Verifier,
		events:   deps.Events,
		notifier: notifier,
		recorder: deps.Recorder,
		fees:     policy.NewFeePolicy(cfg.MinFee),
		limiter:  policy.NewDispatchLimiter(cfg.MaxDispatch),
		expiry:   policy.NewExpiryManager(cfg.IncExpire),
		now:      time.Now,
	}
}

// RequestWork selects an eligible work item for the miner and dispatches it.
// Candidates are examined in FIFO order to bound staleness. A nil assignment
// with a decline reason is an ordinary outcome; an error is a transient
// infrastructure failure the caller may retry.
func (e *Engine) RequestWork(ctx context.Context, minerID string) (*work.Assignment, work.DeclineReason, error) {
	start := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	defer func() {
		metrics.EngineOpDuration.WithLabelValues("request_work").Observe(time.Since(start).Seconds())
	}()

	candidates, err := e.store.ListCandidates(ctx, e.cfg.CandidateScanLimit)
	if err != nil {
		metrics.DispatchRequestsTotal.WithLabelValues("error").Inc()
		return nil, "", e.transient("list_candidates", err)
	}

	if e.recorder != nil {
		e.recorder.RecordStoreDepth(len(candidates))
	}

	if len(candidates) == 0 {
		e.alertExhausted(ctx)
	}

	scanned := 0
	for _, cand := range candidates {
		scanned++

		// dispatch_count beyond the limit means the record is corrupt
		if cand.DispatchCount > e.cfg.MaxDispatch {
			e.forceReject(ctx, cand, "dispatch count exceeds limit")
			continue
		}

		if !e.fees.Eligible(cand) {
			continue
		}

		item, err := e.tryDispatch(ctx, cand)
		if err != nil {
			metrics.DispatchRequestsTotal.WithLabelValues("error").Inc()
			return nil, "", err
		}
		if item == nil {
			continue
		}

		rec := &work.DispatchRecord{
			ID:           uuid.NewString(),
			WorkID:       item.ID,
			MinerID:      minerID,
			DispatchedAt: e.now(),
		}

		e.publishDispatch(ctx, item, rec)

		metrics.DispatchRequestsTotal.WithLabelValues("dispatched").Inc()
		metrics.CandidatesScanned.Observe(float64(scanned))
		if e.recorder != nil {
			e.recorder.RecordDispatch("dispatched", item.Fee, time.Since(start))
		}
		e.logger.LogDispatch(item.ID, minerID, item.DispatchCount, item.Fee)

		return &work.Assignment{Work: item, DispatchID: rec.ID}, "", nil
	}

	metrics.DispatchRequestsTotal.WithLabelValues(string(work.DeclineNoEligibleWork)).Inc()
	metrics.CandidatesScanned.Observe(float64(scanned))
	e.logger.LogDecline(minerID, string(work.DeclineNoEligibleWork))

	return nil, work.DeclineNoEligibleWork, nil
}

// tryDispatch attempts the dispatch transition on one candidate. A version
// conflict means a concurrent dispatch of the same item succeeded, so the
// item is re-read and retried while it still has headroom; after MaxDispatch
// conflicts the limiter is necessarily saturated, which bounds the loop.
// A nil item without error means the candidate is not dispatchable and the
// scan moves on.
func (e *Engine) tryDispatch(ctx context.Context, cand *work.Item) (*work.Item, error) {
	for attempt := 0; attempt <= e.cfg.MaxDispatch; attempt++ {
		now := e.now()

		if cand.State.Terminal() || cand.State == work.StateSubmitted {
			return nil, nil
		}

		if e.expiry.IsExpired(cand, now) {
			e.markExpired(ctx, cand)
			return nil, nil
		}

		if !e.limiter.CanDispatch(cand) {
			return nil, nil
		}

		item := cand.Clone()
		if err := e.limiter.RecordDispatch(item); err != nil {
			return nil, nil
		}
		e.expiry.Extend(item, now)

		err := e.store.CompareAndUpdate(ctx, cand.Version, item)
		if err == nil {
			return item, nil
		}
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if !stderrors.Is(err, store.ErrVersionConflict) {
			return nil, e.transient("dispatch_update", err)
		}

		fresh, err := e.store.Get(ctx, cand.ID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, e.transient("load_work", err)
		}
		cand = fresh
	}

	return nil, nil
}

// SubmitSolution reconciles a miner's solution against the work item's
// lifecycle. Stale, rejected and accepted are ordinary outcomes; an error is
// a transient infrastructure failure.
func (e *Engine) SubmitSolution(ctx context.Context, sub *work.Submission) (*work.Outcome, error) {
	start := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	defer func() {
		metrics.EngineOpDuration.WithLabelValues("submit_solution").Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; attempt < submitAttempts; attempt++ {
		item, err := e.store.Get(ctx, sub.WorkID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return e.staleOutcome(sub), nil
			}
			return nil, e.transient("load_work", err)
		}

		now := e.now()

		if item.DispatchCount > e.cfg.MaxDispatch {
			e.forceReject(ctx, item, "dispatch count exceeds limit")
			return e.finishSubmission(ctx, item, sub, work.OutcomeRejected, work.ReasonDataCorruption), nil
		}

		if item.State.Terminal() {
			return e.staleOutcome(sub), nil
		}

		// a solution for an item that was never dispatched is a forged or
		// replayed identifier
		if item.DispatchCount == 0 {
			return e.staleOutcome(sub), nil
		}

		if e.expiry.IsExpired(item, now) {
			e.markExpired(ctx, item)
			return e.staleOutcome(sub), nil
		}

		result, err := e.verifier.Verify(ctx, sub, item)
		if err != nil {
			return nil, e.transient("verify_submission", err)
		}

		updated := item.Clone()
		submittedAt := now
		updated.SubmittedAt = &submittedAt

		if result == verify.ResultInvalid {
			updated.State = work.StateRejected
		} else {
			updated.State = work.StateAccepted
		}

		if err := e.store.CompareAndUpdate(ctx, item.Version, updated); err != nil {
			if stderrors.Is(err, store.ErrVersionConflict) {
				// a concurrent dispatch or submission moved the item; re-read
				continue
			}
			if stderrors.Is(err, store.ErrNotFound) {
				return e.staleOutcome(sub), nil
			}
			return nil, e.transient("submission_update", err)
		}

		if result == verify.ResultInvalid {
			e.recordInvalid(ctx, sub.MinerID)
			return e.finishSubmission(ctx, updated, sub, work.OutcomeRejected, work.ReasonVerificationFailure), nil
		}

		return e.finishSubmission(ctx, updated, sub, work.OutcomeAccepted, ""), nil
	}

	return nil, errors.New(errors.ErrorTypeStore, "submit_solution",
		"too many concurrent updates on work item").
		WithContext("work_id", sub.WorkID)
}

// finishSubmission emits events, metrics and logs for a terminal submission
// outcome. Accepted events double as the downstream payout signal.
func (e *Engine) finishSubmission(ctx context.Context, item *work.Item, sub *work.Submission, status work.OutcomeStatus, reason string) *work.Outcome {
	metrics.SubmissionsTotal.WithLabelValues(string(status), reason).Inc()
	if e.recorder != nil {
		e.recorder.RecordSubmission(string(status), reason, item.Fee)
	}
	e.logger.LogSubmission(item.ID, sub.MinerID, string(status))

	if e.events != nil {
		ev := &messaging.SolutionEvent{
			WorkID:      item.ID,
			MinerID:     sub.MinerID,
			Outcome:     string(status),
			Reason:      reason,
			Fee:         item.Fee,
			Nonce:       sub.Nonce,
			SubmittedAt: e.now(),
		}
		if err := e.events.PublishSolution(ctx, ev); err != nil {
			e.logger.WithError(err).Error("failed to publish solution event",
				"work_id", item.ID, "outcome", status)
		}
	}

	return &work.Outcome{Status: status, Reason: reason}
}

func (e *Engine) staleOutcome(sub *work.Submission) *work.Outcome {
	metrics.SubmissionsTotal.WithLabelValues(string(work.OutcomeStale), "").Inc()
	e.logger.LogSubmission(sub.WorkID, sub.MinerID, string(work.OutcomeStale))
	return &work.Outcome{Status: work.OutcomeStale}
}

// markExpired transitions an item observed past its validity window to the
// terminal Expired state. The transition is idempotent: losing the version
// race or finding the record gone means another actor already settled it.
func (e *Engine) markExpired(ctx context.Context, item *work.Item) {
	if item.State == work.StateExpired {
		return
	}

	expired := item.Clone()
	expired.State = work.StateExpired

	if err := e.store.CompareAndUpdate(ctx, item.Version, expired); err != nil {
		if stderrors.Is(err, store.ErrVersionConflict) || stderrors.Is(err, store.ErrNotFound) {
			return
		}
		e.logger.WithError(err).Error("failed to mark work item expired", "work_id", item.ID)
		return
	}

	e.logger.Info("work item expired", "work_id", item.ID)
}

// forceReject terminates a record whose stored state violates an invariant.
// Corruption is never silently ignored: it is logged, alerted and the item
// is removed from circulation.
func (e *Engine) forceReject(ctx context.Context, item *work.Item, cause string) {
	e.logger.Error("work item corrupt, forcing terminal state",
		"work_id", item.ID,
		"dispatch_count", item.DispatchCount,
		"cause", cause,
	)
	metrics.AlertsTotal.WithLabelValues(notify.EventDataCorruption).Inc()

	rejected := item.Clone()
	rejected.State = work.StateRejected

	if err := e.store.CompareAndUpdate(ctx, item.Version, rejected); err != nil {
		if !stderrors.Is(err, store.ErrVersionConflict) && !stderrors.Is(err, store.ErrNotFound) {
			e.logger.WithError(err).Error("failed to force-reject corrupt work item", "work_id", item.ID)
		}
	}

	e.notifier.Notify(ctx, &notify.Event{
		Type:     notify.EventDataCorruption,
		Severity: notify.SeverityCritical,
		Message:  "work item record violated an invariant and was force-rejected",
		Fields: map[string]any{
			"work_id":        item.ID,
			"dispatch_count": item.DispatchCount,
			"cause":          cause,
		},
		At: e.now(),
	})
}

// recordInvalid bumps the miner's invalid-submission counter and alerts the
// admins when the configured threshold is crossed.
func (e *Engine) recordInvalid(ctx context.Context, minerID string) {
	if e.counters == nil || e.cfg.InvalidAlertThreshold <= 0 {
		return
	}

	count, err := e.counters.IncrInvalid(ctx, minerID, e.cfg.InvalidAlertWindow)
	if err != nil {
		e.logger.WithError(err).Warn("failed to count invalid submission", "miner_id", minerID)
		return
	}

	if count == e.cfg.InvalidAlertThreshold {
		metrics.AlertsTotal.WithLabelValues(notify.EventInvalidSubmissions).Inc()
		e.notifier.Notify(ctx, &notify.Event{
			Type:     notify.EventInvalidSubmissions,
			Severity: notify.SeverityWarning,
			Message:  "miner crossed the invalid submission threshold",
			Fields: map[string]any{
				"miner_id": minerID,
				"count":    count,
			},
			At: e.now(),
		})
	}
}

// alertExhausted notifies admins that the store has no candidates at all,
// at most once per interval.
func (e *Engine) alertExhausted(ctx context.Context) {
	e.alertMu.Lock()
	now := e.now()
	if now.Sub(e.lastExhaustedAlert) < exhaustedAlertInterval {
		e.alertMu.Unlock()
		return
	}
	e.lastExhaustedAlert = now
	e.alertMu.Unlock()

	metrics.AlertsTotal.WithLabelValues(notify.EventWorkExhausted).Inc()
	e.notifier.Notify(ctx, &notify.Event{
		Type:     notify.EventWorkExhausted,
		Severity: notify.SeverityWarning,
		Message:  "work store has no candidates",
		At:       now,
	})
}

func (e *Engine) publishDispatch(ctx context.Context, item *work.Item, rec *work.DispatchRecord) {
	if e.events == nil {
		return
	}

	ev := &messaging.DispatchEvent{
		DispatchID:    rec.ID,
		WorkID:        item.ID,
		MinerID:       rec.MinerID,
		DispatchCount: item.DispatchCount,
		Fee:           item.Fee,
		DispatchedAt:  rec.DispatchedAt,
		ExpiresAt:     item.ExpiresAt,
	}
	if err := e.events.PublishDispatch(ctx, ev); err != nil {
		e.logger.WithError(err).Error("failed to publish dispatch event", "work_id", item.ID)
	}
}

// transient classifies a store failure for the caller. Deadline overruns
// become timeout errors; both are retryable at the caller's discretion, the
// engine itself never retries store operations.
func (e *Engine) transient(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.ErrorTypeTimeout, operation, "store operation timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeStore, operation, "store operation failed")
}
