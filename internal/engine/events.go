package engine

import (
	"github.com/roach88/vend/internal/storefront"
	"github.com/roach88/vend/internal/validate"
)

// eventKind discriminates the events the single-writer loop processes.
type eventKind int

const (
	// eventInitiate starts a new purchase attempt for an item.
	eventInitiate eventKind = iota + 1
	// eventStoreConfirmed carries a storefront confirmation (live,
	// duplicate, or restored - all three take the same path).
	eventStoreConfirmed
	// eventStoreFailed carries a definitive storefront refusal.
	eventStoreFailed
	// eventStartUnreachable reports that StartPurchase itself failed;
	// the attempt unwinds with a transient error.
	eventStartUnreachable
	// eventValidationVerdict carries a validation outcome: an
	// authoritative Result, or an error meaning unreachable.
	eventValidationVerdict
	// eventFinalizeAcked reports a successful storefront acknowledgment.
	eventFinalizeAcked
	// eventAckFailed reports a failed acknowledgment attempt; the record
	// stays ReadyToFinalize for the next reconciliation pass.
	eventAckFailed
	// eventFinishRequest is a caller's explicit FinishTransaction.
	eventFinishRequest
	// eventReconcile runs a full reconciliation pass.
	eventReconcile
)

// Journal event names, one per transition actually applied.
const (
	journalInitiate            = "initiate"
	journalStoreConfirmed      = "store_confirmed"
	journalStoreFailed         = "store_failed"
	journalStartUnreachable    = "start_unreachable"
	journalValidationSucceeded = "validation_succeeded"
	journalValidationFailed    = "validation_failed"
	journalFinalized           = "finalized"
	journalSuperseded          = "superseded"
)

// outcome is what a waiter ultimately receives: a terminal result or a
// terminal-shaped error, never both.
type outcome struct {
	res Result
	err error
}

// event is the envelope processed by the Run loop. Only the fields
// relevant to the kind are populated.
type event struct {
	kind eventKind

	itemID        string
	transactionID string
	reason        string

	conf storefront.Confirmation

	verdict    validate.Result
	verdictErr error

	// reply receives fail-fast outcomes (initiate, finish) and then
	// doubles as the item's waiter channel. Buffered size 1.
	reply chan outcome
}
