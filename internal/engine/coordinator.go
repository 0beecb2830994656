package engine

import (
	"context"
	"fmt"

	"github.com/roach88/vend/internal/record"
)

// Result is the successful terminal outcome of a purchase: the record was
// validated, acknowledged with the storefront, and the reward granted.
type Result struct {
	ItemID        string
	TransactionID string
	ReceiptToken  string
	StoreName     string
}

// Purchase starts a purchase for itemID and blocks until it settles.
//
// Fail-fast cases return immediately: NOT_READY before the first
// reconciliation pass, ITEM_INVALID for an unusable identifier,
// ALREADY_IN_PROGRESS when an active record exists. Otherwise the call
// waits for the terminal outcome - success, STORE_FAILED,
// VALIDATION_REJECTED, or STORE_UNREACHABLE.
//
// Cancelling ctx abandons the wait, not the purchase: the record keeps
// advancing in the background and is settled by the engine (or by a later
// reconciliation pass). At most one caller may wait per item at a time,
// mirroring the one-active-purchase-per-item invariant.
func (e *Engine) Purchase(ctx context.Context, itemID string) (Result, error) {
	if !e.readiness.ready() {
		return Result{}, newError(CodeNotReady, itemID, "engine has not completed recovery")
	}

	id, err := record.NormalizeItemID(itemID)
	if err != nil {
		return Result{}, newError(CodeItemInvalid, itemID, err.Error())
	}

	reply := make(chan outcome, 1)
	if !e.queue.Enqueue(event{kind: eventInitiate, itemID: id, reply: reply}) {
		return Result{}, newError(CodeNotReady, id, "engine is stopped")
	}

	select {
	case out := <-reply:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// RestorePurchases replays the storefront's record of completed
// transactions through the engine. Every restored confirmation takes the
// exact same path as a live purchase - confirmed, validated, finalized -
// restore is purchase recovery from the storefront's point of view, not a
// separate code path.
//
// Returns the item IDs submitted; settlement proceeds asynchronously.
func (e *Engine) RestorePurchases(ctx context.Context) ([]string, error) {
	if !e.readiness.ready() {
		return nil, newError(CodeNotReady, "", "engine has not completed recovery")
	}

	confs, err := e.adapter.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("storefront restore: %w", err)
	}

	items := make([]string, 0, len(confs))
	for _, conf := range confs {
		e.OnStoreConfirmed(conf)
		items = append(items, conf.ItemID)
	}
	return items, nil
}

// FinishTransaction explicitly clears a ReadyToFinalize record. Only
// needed in manual-finalize mode; with automatic finalization the engine
// does this itself once validation succeeds.
//
// An empty transactionID matches whatever transaction the record holds.
// Returns NO_SUCH_RECORD or NOT_FINALIZABLE when the request does not
// match a finalizable record; acceptance means the acknowledgment flow
// has started, with completion observable through the record's removal.
func (e *Engine) FinishTransaction(ctx context.Context, itemID, transactionID string) error {
	id, err := record.NormalizeItemID(itemID)
	if err != nil {
		return newError(CodeItemInvalid, itemID, err.Error())
	}

	reply := make(chan outcome, 1)
	if !e.queue.Enqueue(event{kind: eventFinishRequest, itemID: id, transactionID: transactionID, reply: reply}) {
		return newError(CodeNotReady, id, "engine is stopped")
	}

	select {
	case out := <-reply:
		return out.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
