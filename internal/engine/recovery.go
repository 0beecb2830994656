package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/roach88/vend/internal/record"
)

// readiness gates the public API until the first reconciliation pass has
// run: callers must never race recovery for a record.
type readiness struct {
	flag atomic.Bool
}

func (r *readiness) ready() bool {
	return r.flag.Load()
}

func (r *readiness) mark() {
	r.flag.Store(true)
}

// applyReconcile walks every persisted record and re-drives the
// transition its state implies. Recovery is structural, not a special
// mode: the re-driven work lands on the same event queue and takes the
// same code paths as live traffic, and every step is idempotent, so the
// pass is safe to run any number of times and at any moment.
//
//   - Initiated: left alone. Without a store confirmation there is
//     nothing to resume; the purge policy ages these out.
//   - AwaitingValidation: validation is re-invoked.
//   - ReadyToFinalize: acknowledgment and grant are re-invoked, even in
//     manual-finalize mode - a parked record that survived a restart is
//     indistinguishable from one whose FinishTransaction was interrupted.
//   - Failed: left alone, available for inspection until purged.
func (e *Engine) applyReconcile() error {
	records := e.store.All()
	slog.Info("reconciliation pass starting", "records", len(records))

	for _, rec := range records {
		switch rec.Status {
		case record.StatusInitiated:
			slog.Debug("skipping initiated record, awaiting store confirmation",
				"item_id", rec.ItemID,
			)

		case record.StatusAwaitingValidation:
			if e.validator == nil {
				// Validator was removed from the deployment after this
				// record was written: fall back to trust-the-store.
				from := rec.Status
				rec.Status = record.StatusReadyToFinalize
				if err := e.persist(&rec); err != nil {
					slog.Error("reconciliation persist failed",
						"item_id", rec.ItemID,
						"error", err,
					)
					continue
				}
				e.journalTransition(&rec, from, string(rec.Status), journalValidationSucceeded, "validator not configured")
				e.maybeFinalize(rec)
				continue
			}
			slog.Info("resuming validation", "item_id", rec.ItemID, "transaction_id", rec.TransactionID)
			e.dispatchValidation(rec)

		case record.StatusReadyToFinalize:
			slog.Info("resuming finalization", "item_id", rec.ItemID, "transaction_id", rec.TransactionID)
			e.dispatchAck(rec)

		case record.StatusFailed:
			// Diagnostics only; purge handles aging.

		default:
			slog.Error("record with unknown status, leaving untouched",
				"item_id", rec.ItemID,
				"status", rec.Status,
			)
		}
	}

	removed, err := e.store.PurgeOlderThan(e.now(), e.maxAge, e.initGrace)
	if err != nil {
		slog.Error("record purge failed", "error", err)
	} else if removed > 0 {
		slog.Info("purged stale records", "removed", removed)
	}

	e.readiness.mark()
	slog.Info("reconciliation pass complete")
	return nil
}
