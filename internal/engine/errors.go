package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes purchase failures.
type ErrorCode string

const (
	// CodeNotReady means the engine has not finished its first
	// reconciliation pass. Transient: retry shortly.
	CodeNotReady ErrorCode = "NOT_READY"

	// CodeAlreadyInProgress means a non-terminal record already exists
	// for the item. The earlier attempt must settle first.
	CodeAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS"

	// CodeItemInvalid means the item identifier failed normalization.
	CodeItemInvalid ErrorCode = "ITEM_INVALID"

	// CodeStoreUnreachable means the storefront could not even begin the
	// purchase flow. Transient: the caller may retry.
	CodeStoreUnreachable ErrorCode = "STORE_UNREACHABLE"

	// CodeStoreFailed means the storefront definitively refused the
	// purchase (user cancelled, product unavailable, duplicate).
	CodeStoreFailed ErrorCode = "STORE_FAILED"

	// CodeValidationRejected means the validation service authenticated
	// the receipt and rejected it.
	CodeValidationRejected ErrorCode = "VALIDATION_REJECTED"

	// CodeNoSuchRecord means an operation referenced a record that does
	// not exist.
	CodeNoSuchRecord ErrorCode = "NO_SUCH_RECORD"

	// CodeNotFinalizable means FinishTransaction targeted a record that
	// is not ReadyToFinalize or names the wrong transaction.
	CodeNotFinalizable ErrorCode = "NOT_FINALIZABLE"
)

// PurchaseError is a structured, code-bearing purchase failure.
// Callers branch on the code (or the predicates below), never on the
// message text.
type PurchaseError struct {
	Code    ErrorCode
	ItemID  string
	Message string
}

// Error implements the error interface.
func (e *PurchaseError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s: %s (item=%s)", e.Code, e.Message, e.ItemID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Transient reports whether the failure is safe to retry as-is: nothing
// was decided and no state was consumed.
func (e *PurchaseError) Transient() bool {
	return e.Code == CodeNotReady || e.Code == CodeStoreUnreachable
}

// IsAlreadyInProgress reports whether err is an ALREADY_IN_PROGRESS
// purchase error. Uses errors.As to handle wrapped errors.
func IsAlreadyInProgress(err error) bool {
	return hasCode(err, CodeAlreadyInProgress)
}

// IsTransient reports whether err is a transient purchase error.
func IsTransient(err error) bool {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

func hasCode(err error, code ErrorCode) bool {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

func newError(code ErrorCode, itemID, message string) *PurchaseError {
	return &PurchaseError{Code: code, ItemID: itemID, Message: message}
}
