package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/vend/internal/validate"
)

// Verdict scripts one answer from the ScriptedValidator.
type Verdict struct {
	Result      validate.Result
	Unreachable bool
}

// Valid is a scripted acceptance.
func Valid() Verdict {
	return Verdict{Result: validate.Result{Valid: true}}
}

// Rejected is a scripted definitive rejection.
func Rejected(message string) Verdict {
	return Verdict{Result: validate.Result{Valid: false, ErrorMessage: message}}
}

// Unreachable is a scripted transport failure.
func Unreachable() Verdict {
	return Verdict{Unreachable: true}
}

// ScriptedValidator answers Validate calls from per-item verdict queues.
// When an item's queue is exhausted the last verdict repeats, matching
// the idempotence the Validator contract demands.
//
// Thread-safety: safe for concurrent use.
type ScriptedValidator struct {
	mu       sync.Mutex
	verdicts map[string][]Verdict
	calls    map[string]int
}

// NewScriptedValidator creates an empty validator; unscripted items are
// answered as unreachable (the safest default - nothing advances).
func NewScriptedValidator() *ScriptedValidator {
	return &ScriptedValidator{
		verdicts: make(map[string][]Verdict),
		calls:    make(map[string]int),
	}
}

// Script queues verdicts for an item, answered in order.
func (v *ScriptedValidator) Script(itemID string, verdicts ...Verdict) *ScriptedValidator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verdicts[itemID] = append(v.verdicts[itemID], verdicts...)
	return v
}

// Calls returns how many times the item has been validated.
func (v *ScriptedValidator) Calls(itemID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[itemID]
}

// Validate implements validate.Validator.
func (v *ScriptedValidator) Validate(ctx context.Context, receipt validate.Receipt) (validate.Result, error) {
	v.mu.Lock()
	n := v.calls[receipt.ItemID]
	v.calls[receipt.ItemID] = n + 1

	queue := v.verdicts[receipt.ItemID]
	var verdict Verdict
	switch {
	case len(queue) == 0:
		verdict = Unreachable()
	case n < len(queue):
		verdict = queue[n]
	default:
		verdict = queue[len(queue)-1]
	}
	v.mu.Unlock()

	if verdict.Unreachable {
		return validate.Result{}, fmt.Errorf("validation service unreachable (scripted)")
	}
	return verdict.Result, nil
}
