// Package storefront defines the boundary between the purchase lifecycle
// engine and a marketplace's purchasing SDK.
//
// One Adapter implementation exists per backend; the engine never branches
// on backend identity. Adapters report outcomes through a Sink, which the
// engine implements. Deliveries may arrive at-least-once and out of order -
// the engine's state machine tolerates duplicates.
package storefront

import "context"

// Confirmation is a store-confirmed transaction reported by an adapter,
// either live or via restore. Price and Currency are best-effort fields
// for reporting; adapters may leave them empty.
type Confirmation struct {
	ItemID        string
	TransactionID string
	Receipt       string
	StoreName     string
	Price         string
	Currency      string
}

// Adapter starts purchases, acknowledges settled transactions, and replays
// historical ones. Implementations wrap a specific marketplace SDK.
//
// StartPurchase only begins the external flow; the outcome arrives later
// through the Sink. An error from StartPurchase means the flow could not
// even begin (storefront unreachable) - transient, retried by the caller.
//
// Acknowledge is called only after a record reaches ReadyToFinalize and
// must be safe to repeat: recovery re-acknowledges transactions whose
// record deletion did not persist before a crash.
type Adapter interface {
	StartPurchase(ctx context.Context, itemID string) error
	Acknowledge(ctx context.Context, transactionID string) error
	Restore(ctx context.Context) ([]Confirmation, error)
}

// Sink receives adapter callbacks. The engine implements this; adapters
// call it from whatever thread their SDK delivers events on.
type Sink interface {
	// OnStoreConfirmed reports that the storefront confirmed a
	// transaction and issued a receipt.
	OnStoreConfirmed(conf Confirmation)

	// OnStoreFailed reports a definitive purchase failure (user
	// cancelled, product unavailable, duplicate transaction).
	OnStoreFailed(itemID, reason string)
}
