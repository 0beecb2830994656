package storefront

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Outcome scripts how the in-memory storefront answers a StartPurchase.
type Outcome int

const (
	// OutcomeConfirm confirms the purchase and issues a receipt.
	OutcomeConfirm Outcome = iota
	// OutcomeFail reports a definitive failure (e.g. user cancelled).
	OutcomeFail
	// OutcomeSilent confirms nothing and fails nothing - the purchase
	// hangs, as a real storefront does when the app dies mid-flow.
	OutcomeSilent
	// OutcomeUnreachable fails StartPurchase itself.
	OutcomeUnreachable
)

// Memory is an in-process scripted storefront for tests and local runs.
//
// Each started purchase resolves per its scripted outcome, delivered
// asynchronously on a separate goroutine to mimic a real SDK's callback
// thread. Transaction IDs are UUIDv7, time-sortable like real store
// transaction identifiers.
type Memory struct {
	mu       sync.Mutex
	sink     Sink
	storeOf  string
	outcomes map[string]Outcome
	reasons  map[string]string
	history  []Confirmation
	started  []string
	acked    []string
	sync     bool
}

// MemoryOption configures the scripted storefront.
type MemoryOption func(*Memory)

// WithOutcome scripts the outcome for an item. Unscripted items confirm.
func WithOutcome(itemID string, outcome Outcome) MemoryOption {
	return func(m *Memory) {
		m.outcomes[itemID] = outcome
	}
}

// WithFailureReason sets the reason reported for OutcomeFail items.
func WithFailureReason(itemID, reason string) MemoryOption {
	return func(m *Memory) {
		m.reasons[itemID] = reason
	}
}

// WithHistory seeds confirmations returned by Restore.
func WithHistory(confs ...Confirmation) MemoryOption {
	return func(m *Memory) {
		m.history = append(m.history, confs...)
	}
}

// WithSynchronousDelivery delivers callbacks on the caller's goroutine
// instead of a spawned one. Tests that need deterministic interleaving
// use this.
func WithSynchronousDelivery() MemoryOption {
	return func(m *Memory) {
		m.sync = true
	}
}

// NewMemory creates a scripted storefront under the given store name.
// Bind must be called with the engine's sink before the first
// StartPurchase - engine and adapter reference each other, so the sink
// arrives after construction, like callback registration on a real SDK.
func NewMemory(storeName string, opts ...MemoryOption) *Memory {
	m := &Memory{
		storeOf:  storeName,
		outcomes: make(map[string]Outcome),
		reasons:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bind wires the callback sink. Safe to call once, before use.
func (m *Memory) Bind(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// StartPurchase implements Adapter.
func (m *Memory) StartPurchase(ctx context.Context, itemID string) error {
	m.mu.Lock()
	if m.sink == nil {
		m.mu.Unlock()
		return fmt.Errorf("storefront adapter has no sink bound")
	}
	outcome := m.outcomes[itemID]
	reason, hasReason := m.reasons[itemID]
	m.started = append(m.started, itemID)
	m.mu.Unlock()

	switch outcome {
	case OutcomeUnreachable:
		return fmt.Errorf("storefront unreachable for %s", itemID)

	case OutcomeSilent:
		return nil

	case OutcomeFail:
		if !hasReason {
			reason = "user cancelled"
		}
		m.deliver(func() { m.sink.OnStoreFailed(itemID, reason) })
		return nil

	default:
		conf := Confirmation{
			ItemID:        itemID,
			TransactionID: uuid.Must(uuid.NewV7()).String(),
			Receipt:       "rcpt-" + uuid.Must(uuid.NewV7()).String(),
			StoreName:     m.storeOf,
		}
		m.deliver(func() { m.sink.OnStoreConfirmed(conf) })
		return nil
	}
}

// Acknowledge implements Adapter. Repeats are recorded but never fail.
func (m *Memory) Acknowledge(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, transactionID)
	return nil
}

// Restore implements Adapter, returning the seeded history.
func (m *Memory) Restore(ctx context.Context) ([]Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Confirmation, len(m.history))
	copy(out, m.history)
	return out, nil
}

// Started returns the item IDs passed to StartPurchase, in order.
func (m *Memory) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.started))
	copy(out, m.started)
	return out
}

// Acked returns the transaction IDs passed to Acknowledge, in order.
func (m *Memory) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.acked))
	copy(out, m.acked)
	return out
}

func (m *Memory) deliver(fn func()) {
	if m.sync {
		fn()
		return
	}
	go fn()
}
