// Package record defines the durable unit of purchase state.
//
// A PurchaseRecord tracks one purchase attempt from initiation through
// settlement. Records are created and mutated exclusively by the engine's
// transition functions and persisted by the store; nothing else touches them.
package record

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

// Status is the lifecycle position of a purchase record.
//
// Finalized has no Status value: finalization deletes the record, so a
// record that exists is by definition not finalized.
type Status string

const (
	// StatusInitiated means the purchase was started locally but the
	// storefront has not yet confirmed or refused it.
	StatusInitiated Status = "initiated"

	// StatusAwaitingValidation means the storefront confirmed the
	// transaction and a receipt is held; the validator has not yet
	// returned an authoritative verdict.
	StatusAwaitingValidation Status = "awaiting_validation"

	// StatusReadyToFinalize means the receipt passed validation (or
	// validation is not configured); the transaction still needs to be
	// acknowledged with the storefront and the reward granted.
	StatusReadyToFinalize Status = "ready_to_finalize"

	// StatusFailed is terminal: the storefront refused the purchase or
	// the validator rejected the receipt. Retained for diagnostics until
	// purged or superseded by a fresh purchase of the same item.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFailed
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusAwaitingValidation, StatusReadyToFinalize, StatusFailed:
		return true
	}
	return false
}

// PurchaseRecord is the durable state of one purchase attempt.
//
// TransactionID, ReceiptToken and StoreName are set exactly once, when
// the storefront confirms; later transitions may only change Status,
// ErrorMessage and UpdatedAt. The engine enforces this; the struct is a
// plain data carrier so the store can round-trip it.
type PurchaseRecord struct {
	ItemID        string    `yaml:"item_id"`
	TransactionID string    `yaml:"transaction_id,omitempty"`
	ReceiptToken  string    `yaml:"receipt_token,omitempty"`
	StoreName     string    `yaml:"store_name,omitempty"`
	Status        Status    `yaml:"status"`
	ErrorMessage  string    `yaml:"error_message,omitempty"`
	Price         string    `yaml:"price,omitempty"`
	CurrencyCode  string    `yaml:"currency_code,omitempty"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// Active reports whether the record is in a non-terminal status.
// At most one active record may exist per item at any time.
func (r *PurchaseRecord) Active() bool {
	return r.Status.Valid() && !r.Status.Terminal()
}

// Confirmed reports whether the storefront has assigned transaction
// identity to this record.
func (r *PurchaseRecord) Confirmed() bool {
	return r.TransactionID != ""
}

// NormalizeItemID canonicalizes an item identifier: NFC unicode
// normalization plus surrounding-whitespace trim. Two spellings of the
// same catalog id must map to the same record key.
//
// Returns an error for an empty (post-trim) identifier.
func NormalizeItemID(itemID string) (string, error) {
	id := strings.TrimSpace(norm.NFC.String(itemID))
	if id == "" {
		return "", fmt.Errorf("item id is empty")
	}
	return id, nil
}

// NormalizeCurrency maps a currency code to its ISO 4217 form when it
// parses as one. Unparseable codes pass through unchanged: the field is
// captured opportunistically for reporting and must never block a
// purchase.
func NormalizeCurrency(code string) string {
	if code == "" {
		return ""
	}
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	return unit.String()
}
