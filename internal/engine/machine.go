package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/vend/internal/record"
	"github.com/roach88/vend/internal/storefront"
	"github.com/roach88/vend/internal/validate"
)

// The transition functions in this file are the only code that mutates
// purchase records. All of them run on the single-writer loop goroutine;
// each persists its mutation before triggering any side effect, so a
// crash at any point leaves a record the next reconciliation pass can
// resume from.

// applyInitiate creates a fresh Initiated record and starts the external
// purchase flow, or fails fast when an active record already exists.
func (e *Engine) applyInitiate(ev event) error {
	itemID := ev.itemID

	if existing, ok := e.store.FindByItem(itemID); ok {
		if existing.Active() {
			ev.reply <- outcome{err: newError(CodeAlreadyInProgress, itemID, "a purchase for this item is already in progress")}
			return nil
		}
		// A leftover Failed record is superseded by the fresh attempt.
		slog.Info("superseding failed record with fresh purchase",
			"item_id", itemID,
			"previous_error", existing.ErrorMessage,
		)
	}

	e.attempts[itemID] = e.tokens.Generate()

	rec := record.PurchaseRecord{ItemID: itemID, Status: record.StatusInitiated}
	if err := e.persist(&rec); err != nil {
		delete(e.attempts, itemID)
		ev.reply <- outcome{err: fmt.Errorf("create purchase record: %w", err)}
		return err
	}
	e.journalTransition(&rec, "", string(rec.Status), journalInitiate, "")

	e.waiters[itemID] = ev.reply

	slog.Info("purchase initiated",
		"item_id", itemID,
		"attempt", e.attempts[itemID],
	)

	go func() {
		if err := e.adapter.StartPurchase(e.runCtx, itemID); err != nil {
			e.queue.Enqueue(event{kind: eventStartUnreachable, itemID: itemID, reason: err.Error()})
		}
	}()

	return nil
}

// applyStoreConfirmed advances a record past store confirmation. Live
// purchases, duplicate deliveries, restores and post-data-loss replays
// all pass through here; a confirmation with no active record becomes a
// fresh purchase rather than a discarded entitlement.
func (e *Engine) applyStoreConfirmed(conf storefront.Confirmation) error {
	itemID, err := record.NormalizeItemID(conf.ItemID)
	if err != nil {
		return fmt.Errorf("confirmation with invalid item id %q: %w", conf.ItemID, err)
	}
	if conf.TransactionID == "" {
		return fmt.Errorf("confirmation for %s carries no transaction id", itemID)
	}

	rec, ok := e.store.FindByItem(itemID)
	if ok && !rec.Active() {
		// Terminal leftover: the confirmation supersedes it.
		e.journalTransition(&rec, rec.Status, string(record.StatusInitiated), journalSuperseded, "confirmation superseded failed record")
		ok = false
	}
	if !ok {
		slog.Warn("confirmation with no matching record, treating as fresh purchase",
			"item_id", itemID,
			"transaction_id", conf.TransactionID,
			"store", conf.StoreName,
		)
		rec = record.PurchaseRecord{ItemID: itemID, Status: record.StatusInitiated}
		if _, has := e.attempts[itemID]; !has {
			e.attempts[itemID] = e.tokens.Generate()
		}
	}

	switch rec.Status {
	case record.StatusInitiated:
		// Receipt fields are written exactly once, here.
		rec.TransactionID = conf.TransactionID
		rec.ReceiptToken = conf.Receipt
		rec.StoreName = conf.StoreName
		rec.Price = conf.Price
		rec.CurrencyCode = record.NormalizeCurrency(conf.Currency)

		from := record.StatusInitiated
		if e.validator == nil {
			rec.Status = record.StatusReadyToFinalize
		} else {
			rec.Status = record.StatusAwaitingValidation
		}
		if err := e.persist(&rec); err != nil {
			return err
		}
		e.journalTransition(&rec, from, string(rec.Status), journalStoreConfirmed, "")

		slog.Info("store confirmed",
			"item_id", itemID,
			"transaction_id", rec.TransactionID,
			"store", rec.StoreName,
			"status", rec.Status,
		)

		if e.validator == nil {
			e.maybeFinalize(rec)
		} else {
			e.dispatchValidation(rec)
		}
		return nil

	case record.StatusAwaitingValidation:
		if rec.TransactionID != conf.TransactionID {
			slog.Warn("confirmation for a different transaction while one is active, ignoring",
				"item_id", itemID,
				"active_transaction", rec.TransactionID,
				"confirmed_transaction", conf.TransactionID,
			)
			return nil
		}
		// Duplicate delivery: re-trigger validation, exactly what the
		// next reconciliation pass would do.
		e.dispatchValidation(rec)
		return nil

	case record.StatusReadyToFinalize:
		if rec.TransactionID != conf.TransactionID {
			slog.Warn("confirmation for a different transaction while one is active, ignoring",
				"item_id", itemID,
				"active_transaction", rec.TransactionID,
				"confirmed_transaction", conf.TransactionID,
			)
			return nil
		}
		e.maybeFinalize(rec)
		return nil

	default:
		return fmt.Errorf("record %s in unexpected status %q", itemID, rec.Status)
	}
}

// applyStoreFailed marks an Initiated record Failed. A failure reported
// after confirmation is ignored: money has changed hands and the engine's
// only job is to drive the record forward, never roll it back.
func (e *Engine) applyStoreFailed(itemID, reason string) error {
	id, err := record.NormalizeItemID(itemID)
	if err != nil {
		return fmt.Errorf("store failure with invalid item id %q: %w", itemID, err)
	}

	rec, ok := e.store.FindByItem(id)
	if !ok {
		slog.Warn("store failure for unknown record, ignoring",
			"item_id", id,
			"reason", reason,
		)
		return nil
	}
	if rec.Status != record.StatusInitiated {
		slog.Warn("store failure for already-confirmed record, ignoring",
			"item_id", id,
			"status", rec.Status,
			"reason", reason,
		)
		return nil
	}

	return e.failRecord(rec, CodeStoreFailed, reason, journalStoreFailed)
}

// applyStartUnreachable unwinds an attempt whose StartPurchase call never
// reached the storefront. Nothing external happened, so the record is
// removed and the caller gets a transient error it may retry.
func (e *Engine) applyStartUnreachable(itemID, reason string) error {
	rec, ok := e.store.FindByItem(itemID)
	if ok && rec.Status == record.StatusInitiated && !rec.Confirmed() {
		if err := e.store.Remove(itemID, ""); err != nil {
			slog.Error("failed to remove unreachable-start record",
				"item_id", itemID,
				"error", err,
			)
		} else {
			e.journalTransition(&rec, rec.Status, "abandoned", journalStartUnreachable, reason)
		}
	}

	e.notifyWaiter(itemID, outcome{err: newError(CodeStoreUnreachable, itemID, reason)})
	delete(e.attempts, itemID)
	return nil
}

// applyValidationVerdict settles a validation completion. An unreachable
// service (verdictErr != nil) leaves the record untouched - only an
// authoritative yes/no advances or fails a purchase.
func (e *Engine) applyValidationVerdict(ev event) error {
	delete(e.inFlight, ev.itemID)

	rec, ok := e.store.FindByItem(ev.itemID)
	if !ok {
		slog.Warn("validation verdict for missing record, ignoring", "item_id", ev.itemID)
		return nil
	}
	if rec.Status != record.StatusAwaitingValidation {
		slog.Debug("stale validation verdict, ignoring",
			"item_id", ev.itemID,
			"status", rec.Status,
		)
		return nil
	}
	if rec.TransactionID != ev.transactionID {
		slog.Warn("validation verdict for a different transaction, ignoring",
			"item_id", ev.itemID,
			"active_transaction", rec.TransactionID,
			"verdict_transaction", ev.transactionID,
		)
		return nil
	}

	if ev.verdictErr != nil {
		slog.Info("validation service unreachable, retrying on next reconciliation",
			"item_id", ev.itemID,
			"transaction_id", ev.transactionID,
			"error", ev.verdictErr,
		)
		return nil
	}

	if !ev.verdict.Valid {
		msg := ev.verdict.ErrorMessage
		if msg == "" {
			msg = "receipt rejected by validation service"
		}
		return e.failRecord(rec, CodeValidationRejected, msg, journalValidationFailed)
	}

	from := rec.Status
	rec.Status = record.StatusReadyToFinalize
	if err := e.persist(&rec); err != nil {
		return err
	}
	e.journalTransition(&rec, from, string(rec.Status), journalValidationSucceeded, "")

	slog.Info("validation succeeded",
		"item_id", rec.ItemID,
		"transaction_id", rec.TransactionID,
	)

	e.maybeFinalize(rec)
	return nil
}

// applyFinalizeAcked grants the reward and deletes the record. The grant
// happens at most once per transaction in this process life; across
// restarts the host's idempotency covers the at-least-once replay.
func (e *Engine) applyFinalizeAcked(itemID, transactionID string) error {
	delete(e.inFlight, itemID)

	rec, ok := e.store.FindByItem(itemID)
	if !ok {
		// Already finalized - acknowledgment replays are expected.
		slog.Debug("finalize ack for missing record, already settled", "item_id", itemID)
		return nil
	}
	if rec.Status != record.StatusReadyToFinalize || rec.TransactionID != transactionID {
		slog.Warn("finalize ack does not match record, ignoring",
			"item_id", itemID,
			"status", rec.Status,
			"record_transaction", rec.TransactionID,
			"acked_transaction", transactionID,
		)
		return nil
	}

	if _, done := e.granted[transactionID]; !done {
		if e.rewards != nil {
			if err := e.rewards.GrantReward(e.runCtx, itemID, e.receiptFor(rec)); err != nil {
				// Record stays ReadyToFinalize; the next reconciliation
				// pass re-acknowledges and retries the grant.
				slog.Error("reward grant failed, record retained for retry",
					"item_id", itemID,
					"transaction_id", transactionID,
					"error", err,
				)
				return nil
			}
		} else {
			slog.Warn("no reward granter configured, finalizing without grant",
				"item_id", itemID,
				"transaction_id", transactionID,
			)
		}
		e.granted[transactionID] = struct{}{}
	}

	if err := e.store.Remove(itemID, transactionID); err != nil {
		// Grant stands (host idempotency + the granted set cover the
		// replay); the deletion retries on the next pass.
		return fmt.Errorf("remove finalized record %s: %w", itemID, err)
	}
	e.journalTransition(&rec, rec.Status, "finalized", journalFinalized, "")

	slog.Info("purchase finalized",
		"item_id", itemID,
		"transaction_id", transactionID,
	)

	e.notifyWaiter(itemID, outcome{res: Result{
		ItemID:        itemID,
		TransactionID: transactionID,
		ReceiptToken:  rec.ReceiptToken,
		StoreName:     rec.StoreName,
	}})
	delete(e.attempts, itemID)
	return nil
}

// applyAckFailed clears the in-flight mark after a failed storefront
// acknowledgment. The record stays ReadyToFinalize.
func (e *Engine) applyAckFailed(itemID, reason string) error {
	delete(e.inFlight, itemID)
	slog.Info("storefront acknowledgment failed, retrying on next reconciliation",
		"item_id", itemID,
		"error", reason,
	)
	return nil
}

// applyFinishRequest handles an explicit FinishTransaction call.
func (e *Engine) applyFinishRequest(ev event) error {
	rec, ok := e.store.FindByItem(ev.itemID)
	if !ok {
		ev.reply <- outcome{err: newError(CodeNoSuchRecord, ev.itemID, "no purchase record for item")}
		return nil
	}
	if rec.Status != record.StatusReadyToFinalize {
		ev.reply <- outcome{err: newError(CodeNotFinalizable, ev.itemID, fmt.Sprintf("record is %s, not ready to finalize", rec.Status))}
		return nil
	}
	if ev.transactionID != "" && rec.TransactionID != ev.transactionID {
		ev.reply <- outcome{err: newError(CodeNotFinalizable, ev.itemID, "transaction id does not match record")}
		return nil
	}

	e.dispatchAck(rec)
	ev.reply <- outcome{}
	return nil
}

// maybeFinalize starts the acknowledgment flow for a ReadyToFinalize
// record, unless the engine is in manual-finalize mode.
func (e *Engine) maybeFinalize(rec record.PurchaseRecord) {
	if !e.autoFinalize {
		slog.Debug("record parked for explicit FinishTransaction",
			"item_id", rec.ItemID,
			"transaction_id", rec.TransactionID,
		)
		return
	}
	e.dispatchAck(rec)
}

// dispatchValidation launches one validation call for the record. At most
// one validation or acknowledgment is in flight per item: duplicate
// confirmations and overlapping reconciliation passes collapse here.
func (e *Engine) dispatchValidation(rec record.PurchaseRecord) {
	if e.validator == nil {
		// Trust-the-store deployments never reach here through live
		// traffic; a stale AwaitingValidation record from an earlier
		// deployment is promoted by reconciliation instead.
		return
	}
	if _, busy := e.inFlight[rec.ItemID]; busy {
		return
	}
	e.inFlight[rec.ItemID] = struct{}{}

	receipt := e.receiptFor(rec)
	go func() {
		res, err := e.validator.Validate(e.runCtx, receipt)
		e.queue.Enqueue(event{
			kind:          eventValidationVerdict,
			itemID:        rec.ItemID,
			transactionID: rec.TransactionID,
			verdict:       res,
			verdictErr:    err,
		})
	}()
}

// dispatchAck launches one storefront acknowledgment for the record.
func (e *Engine) dispatchAck(rec record.PurchaseRecord) {
	if _, busy := e.inFlight[rec.ItemID]; busy {
		return
	}
	e.inFlight[rec.ItemID] = struct{}{}

	go func() {
		if err := e.adapter.Acknowledge(e.runCtx, rec.TransactionID); err != nil {
			e.queue.Enqueue(event{kind: eventAckFailed, itemID: rec.ItemID, reason: err.Error()})
			return
		}
		e.queue.Enqueue(event{
			kind:          eventFinalizeAcked,
			itemID:        rec.ItemID,
			transactionID: rec.TransactionID,
		})
	}()
}

// failRecord moves a record to Failed, persists, journals, and notifies
// any waiter with a terminal error.
func (e *Engine) failRecord(rec record.PurchaseRecord, code ErrorCode, reason, eventName string) error {
	from := rec.Status
	rec.Status = record.StatusFailed
	rec.ErrorMessage = reason
	if err := e.persist(&rec); err != nil {
		return err
	}
	e.journalTransition(&rec, from, string(rec.Status), eventName, reason)

	slog.Info("purchase failed",
		"item_id", rec.ItemID,
		"transaction_id", rec.TransactionID,
		"reason", reason,
	)

	e.notifyWaiter(rec.ItemID, outcome{err: newError(code, rec.ItemID, reason)})
	delete(e.attempts, rec.ItemID)
	return nil
}

// notifyWaiter delivers the terminal outcome to the item's waiter, if one
// is registered. The channel is buffered, so delivery never blocks even
// when the caller stopped listening.
func (e *Engine) notifyWaiter(itemID string, out outcome) {
	ch, ok := e.waiters[itemID]
	if !ok {
		return
	}
	delete(e.waiters, itemID)
	ch <- out
}

func (e *Engine) receiptFor(rec record.PurchaseRecord) validate.Receipt {
	return validate.Receipt{
		ItemID:        rec.ItemID,
		TransactionID: rec.TransactionID,
		Token:         rec.ReceiptToken,
		StoreName:     rec.StoreName,
	}
}
