// Package engine implements the purchase lifecycle engine: the state
// machine that drives every purchase attempt to exactly one terminal
// outcome, the coordinator that serializes attempts per item, and the
// reconciliation pass that resumes unfinished purchases after a crash.
//
// All record mutations happen in the single-writer Run loop goroutine.
// Storefront callbacks, validation completions and caller requests are
// turned into events and enqueued; the loop applies them one at a time,
// which makes per-record transition ordering trivial. Slow external work
// (storefront calls, validation) runs on spawned goroutines that report
// back through the same queue - the loop itself never blocks on I/O
// beyond the local record store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/vend/internal/journal"
	"github.com/roach88/vend/internal/record"
	"github.com/roach88/vend/internal/store"
	"github.com/roach88/vend/internal/storefront"
	"github.com/roach88/vend/internal/validate"
)

// Default retention windows for the record purge policy.
//
// A record in any status is purged after DefaultMaxAge. Records still in
// Initiated are purged after the shorter DefaultInitiatedGrace: they were
// interrupted before the storefront ever replied, hold no receipt, and
// cannot be resumed.
const (
	DefaultMaxAge         = 30 * 24 * time.Hour
	DefaultInitiatedGrace = 7 * 24 * time.Hour
)

// RewardGranter is the host application's entitlement hook, called once
// per finalized record from the engine's bookkeeping - but at-least-once
// across crash recovery, so hosts must treat it as idempotent per
// transaction ID.
type RewardGranter interface {
	GrantReward(ctx context.Context, itemID string, receipt validate.Receipt) error
}

// Engine owns the purchase lifecycle for one process.
type Engine struct {
	store     *store.Store
	adapter   storefront.Adapter
	validator validate.Validator // nil = trust-the-store mode
	journal   *journal.Journal   // nil = no transition journal
	rewards   RewardGranter      // nil = log-only grants
	clock     *Clock
	queue     *eventQueue
	tokens    TokenGenerator
	now       func() time.Time

	maxAge       time.Duration
	initGrace    time.Duration
	autoFinalize bool

	readiness readiness

	// runCtx is the lifetime context for work spawned by the loop
	// (storefront calls, validation). Set once at the top of Run.
	runCtx context.Context

	// Loop-only state below: touched exclusively from the Run goroutine.

	// waiters holds at most one completion channel per item, matching
	// the one-active-purchase-per-item invariant.
	waiters map[string]chan outcome

	// attempts maps item IDs to the attempt token correlating this
	// purchase's log and journal lines.
	attempts map[string]string

	// inFlight marks items with an outstanding validation or
	// acknowledgment call, so duplicate confirmations and overlapping
	// reconciliation passes cannot double-dispatch.
	inFlight map[string]struct{}

	// granted remembers transaction IDs already granted in this process
	// life, so a second pass over a not-yet-deleted record cannot
	// double-grant.
	granted map[string]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator installs a receipt validator. Without one the engine runs
// in trust-the-store mode: store confirmations go straight to
// ReadyToFinalize. That is a documented security trade-off for
// deployments without a validation server, not a bug.
func WithValidator(v validate.Validator) Option {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithJournal installs a transition journal for diagnostics.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithRewards installs the host reward-grant callback.
func WithRewards(r RewardGranter) Option {
	return func(e *Engine) {
		e.rewards = r
	}
}

// WithTokenGenerator substitutes the attempt-token generator (tests).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithNowFunc substitutes the wall-clock source (tests).
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRetention overrides the purge policy windows.
func WithRetention(maxAge, initiatedGrace time.Duration) Option {
	return func(e *Engine) {
		e.maxAge = maxAge
		e.initGrace = initiatedGrace
	}
}

// WithManualFinalize disables automatic finalization after validation.
// Records park in ReadyToFinalize until the caller invokes
// FinishTransaction. Reconciliation still finalizes them: a parked record
// surviving a restart is indistinguishable from an interrupted one.
func WithManualFinalize() Option {
	return func(e *Engine) {
		e.autoFinalize = false
	}
}

// New creates an Engine over the given record store and storefront
// adapter. Call Run to start processing and Reconcile on foreground
// resume; the engine rejects purchases until the first reconciliation
// pass completes.
func New(s *store.Store, adapter storefront.Adapter, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		adapter:      adapter,
		clock:        NewClock(),
		queue:        newEventQueue(),
		tokens:       UUIDv7Generator{},
		now:          time.Now,
		maxAge:       DefaultMaxAge,
		initGrace:    DefaultInitiatedGrace,
		autoFinalize: true,
		waiters:      make(map[string]chan outcome),
		attempts:     make(map[string]string),
		inFlight:     make(map[string]struct{}),
		granted:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	// Resume the logical clock from the journal's high-water mark so
	// seq ordering stays monotonic across restarts.
	if e.journal != nil {
		if last, err := e.journal.LastSeq(context.Background()); err != nil {
			slog.Error("journal seq resume failed, starting clock at zero", "error", err)
		} else if last > 0 {
			e.clock = NewClockAt(last)
		}
	}

	return e
}

// Run starts the single-writer event loop and blocks until ctx is
// cancelled or Stop is called. Must be called from exactly one goroutine.
//
// The first event processed is a reconciliation pass; the engine reports
// Ready only after it completes.
//
// Event processing failures are logged with full context and the loop
// continues: a failed event never takes the engine down, and the affected
// record is picked up by the next reconciliation pass.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx

	if e.validator == nil {
		slog.Warn("no validator configured: running in trust-the-store mode")
	}
	slog.Info("purchase engine starting", "records", e.store.Len())

	e.queue.Enqueue(event{kind: eventReconcile})

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ev); err != nil {
				slog.Error("event processing failed",
					"kind", ev.kind,
					"item_id", ev.itemID,
					"transaction_id", ev.transactionID,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("purchase engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 {
				// Queue closed and drained.
				slog.Info("purchase engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop shuts the engine down by closing the event queue, causing Run to
// return after draining.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Ready reports whether the first reconciliation pass has completed.
// Purchases requested earlier fail fast with a transient NOT_READY error.
func (e *Engine) Ready() bool {
	return e.readiness.ready()
}

// Reconcile schedules a reconciliation pass. Called automatically at
// start; call again whenever the application regains foreground.
func (e *Engine) Reconcile() {
	e.queue.Enqueue(event{kind: eventReconcile})
}

// QueueLen returns the number of pending events (monitoring, tests).
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// OnStoreConfirmed implements storefront.Sink. Safe from any goroutine;
// deliveries are at-least-once and duplicates are tolerated.
func (e *Engine) OnStoreConfirmed(conf storefront.Confirmation) {
	e.queue.Enqueue(event{kind: eventStoreConfirmed, conf: conf})
}

// OnStoreFailed implements storefront.Sink.
func (e *Engine) OnStoreFailed(itemID, reason string) {
	e.queue.Enqueue(event{kind: eventStoreFailed, itemID: itemID, reason: reason})
}

// processEvent routes one event. Called only from the Run goroutine.
func (e *Engine) processEvent(ev event) error {
	switch ev.kind {
	case eventInitiate:
		return e.applyInitiate(ev)
	case eventStoreConfirmed:
		return e.applyStoreConfirmed(ev.conf)
	case eventStoreFailed:
		return e.applyStoreFailed(ev.itemID, ev.reason)
	case eventStartUnreachable:
		return e.applyStartUnreachable(ev.itemID, ev.reason)
	case eventValidationVerdict:
		return e.applyValidationVerdict(ev)
	case eventFinalizeAcked:
		return e.applyFinalizeAcked(ev.itemID, ev.transactionID)
	case eventAckFailed:
		return e.applyAckFailed(ev.itemID, ev.reason)
	case eventFinishRequest:
		return e.applyFinishRequest(ev)
	case eventReconcile:
		return e.applyReconcile()
	default:
		return fmt.Errorf("unknown event kind: %d", ev.kind)
	}
}

// persist writes a record through the store, stamping UpdatedAt.
// UpdatedAt never moves backwards even if the wall clock does.
func (e *Engine) persist(rec *record.PurchaseRecord) error {
	now := e.now()
	if now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now
	}
	if err := e.store.Upsert(*rec); err != nil {
		return fmt.Errorf("persist record %s: %w", rec.ItemID, err)
	}
	return nil
}

// journalTransition records one applied transition. The "finalized"
// to-status is passed explicitly since finalization deletes the record
// rather than giving it a status. Journal failures are logged, never
// propagated: diagnostics must not affect the lifecycle.
func (e *Engine) journalTransition(rec *record.PurchaseRecord, from record.Status, to, eventName, detail string) {
	if e.journal == nil {
		return
	}
	entry := journal.Entry{
		Seq:           e.clock.Next(),
		ItemID:        rec.ItemID,
		TransactionID: rec.TransactionID,
		AttemptToken:  e.attempts[rec.ItemID],
		FromStatus:    string(from),
		ToStatus:      to,
		Event:         eventName,
		Detail:        detail,
		At:            e.now(),
	}
	if err := e.journal.Append(e.runCtx, entry); err != nil {
		slog.Error("journal append failed",
			"item_id", rec.ItemID,
			"event", eventName,
			"error", err,
		)
	}
}
