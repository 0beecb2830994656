// Package validate defines the receipt validation contract the engine
// depends on, plus an HTTP client implementation for developer-owned
// validation servers.
//
// The contract's one non-negotiable rule: a transport-level failure is
// NEVER a verdict. Validate returns an error only when the service could
// not be reached; a reachable service answers with Result. Conflating the
// two discards legitimate purchases, which is exactly the bug the engine's
// crash-safety story exists to prevent.
package validate

import "context"

// Receipt carries the proof-of-purchase fields a validator needs.
// The token is opaque; StoreName routes it to the right verification
// backend server-side.
type Receipt struct {
	ItemID        string `json:"itemId"`
	TransactionID string `json:"transactionId"`
	Token         string `json:"receiptToken"`
	StoreName     string `json:"storeName"`
}

// Result is an authoritative verdict from a reachable validation service.
type Result struct {
	Valid        bool   `json:"isValid"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Validator authenticates a receipt with an external service.
//
// Implementations must be idempotent: the engine may call Validate more
// than once for the same receipt across restarts, and repeated calls must
// yield the same verdict without double-granting anything server-side.
//
// Return values:
//   - (Result{Valid: true}, nil): receipt is genuine
//   - (Result{Valid: false, ...}, nil): receipt is definitively rejected
//   - (_, err): service unreachable; the engine leaves the record
//     untouched and retries on the next reconciliation pass
//
// Implementations should honor ctx for caller-imposed timeouts; a timeout
// surfaces as an error, i.e. unreachable.
type Validator interface {
	Validate(ctx context.Context, receipt Receipt) (Result, error)
}
