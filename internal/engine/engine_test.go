package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vend/internal/record"
	"github.com/roach88/vend/internal/store"
	"github.com/roach88/vend/internal/storefront"
	"github.com/roach88/vend/internal/testutil"
	"github.com/roach88/vend/internal/validate"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// grantRecorder counts reward grants per transaction and can script
// failures for retry tests.
type grantRecorder struct {
	mu     sync.Mutex
	counts map[string]int
	errs   []error
}

func newGrantRecorder() *grantRecorder {
	return &grantRecorder{counts: make(map[string]int)}
}

func (g *grantRecorder) failNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, err)
}

func (g *grantRecorder) GrantReward(ctx context.Context, itemID string, receipt validate.Receipt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return err
	}
	g.counts[receipt.TransactionID]++
	return nil
}

func (g *grantRecorder) count(transactionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[transactionID]
}

func (g *grantRecorder) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.counts {
		n += c
	}
	return n
}

// startEngineAt opens the record store in dir, wires the engine to the
// adapter, runs the loop on a background goroutine, and waits for the
// initial reconciliation pass.
func startEngineAt(t *testing.T, dir string, adapter *storefront.Memory, opts ...Option) *Engine {
	t.Helper()

	s, err := store.Open(dir)
	require.NoError(t, err)

	e := New(s, adapter, opts...)
	adapter.Bind(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, e.Ready, waitFor, tick, "engine never became ready")
	return e
}

func startEngine(t *testing.T, adapter *storefront.Memory, opts ...Option) *Engine {
	t.Helper()
	return startEngineAt(t, t.TempDir(), adapter, opts...)
}

func purchaseCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestEngine_PurchaseHappyPath(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().Script("gem_pack", testutil.Valid())
	adapter := storefront.NewMemory("play")

	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	res, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.NoError(t, err)
	assert.Equal(t, "gem_pack", res.ItemID)
	assert.NotEmpty(t, res.TransactionID)
	assert.NotEmpty(t, res.ReceiptToken)
	assert.Equal(t, "play", res.StoreName)

	// Record deleted, transaction acknowledged, reward granted once.
	_, ok := e.store.FindByItem("gem_pack")
	assert.False(t, ok)
	assert.Equal(t, []string{res.TransactionID}, adapter.Acked())
	assert.Equal(t, 1, grants.count(res.TransactionID))
}

func TestEngine_TrustTheStoreMode(t *testing.T) {
	grants := newGrantRecorder()
	adapter := storefront.NewMemory("play")

	// No validator: confirmation goes straight to finalization.
	e := startEngine(t, adapter, WithRewards(grants))

	res, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.NoError(t, err)
	assert.Equal(t, 1, grants.count(res.TransactionID))
	assert.Equal(t, 0, e.store.Len())
}

func TestEngine_AlreadyInProgress(t *testing.T) {
	// Silent storefront: the first purchase parks in Initiated forever.
	adapter := storefront.NewMemory("play", storefront.WithOutcome("gem_pack", storefront.OutcomeSilent))
	e := startEngine(t, adapter)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstDone := make(chan error, 1)
	go func() {
		_, err := e.Purchase(firstCtx, "gem_pack")
		firstDone <- err
	}()

	require.Eventually(t, func() bool {
		rec, ok := e.store.FindByItem("gem_pack")
		return ok && rec.Status == record.StatusInitiated
	}, waitFor, tick)

	_, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.Error(t, err)
	assert.True(t, IsAlreadyInProgress(err))
	assert.Equal(t, 1, e.store.Len(), "no second record may be created")

	cancelFirst()
	assert.ErrorIs(t, <-firstDone, context.Canceled)
}

func TestEngine_StoreFailure(t *testing.T) {
	grants := newGrantRecorder()
	adapter := storefront.NewMemory("play",
		storefront.WithOutcome("no_ads", storefront.OutcomeFail),
		storefront.WithFailureReason("no_ads", "user cancelled"),
	)
	e := startEngine(t, adapter, WithRewards(grants))

	_, err := e.Purchase(purchaseCtx(t), "no_ads")
	require.Error(t, err)

	var pe *PurchaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeStoreFailed, pe.Code)
	assert.False(t, pe.Transient())

	rec, ok := e.store.FindByItem("no_ads")
	require.True(t, ok, "failed record is retained for diagnostics")
	assert.Equal(t, record.StatusFailed, rec.Status)
	assert.Equal(t, "user cancelled", rec.ErrorMessage)
	assert.Equal(t, 0, grants.total())
}

func TestEngine_StartUnreachableIsTransient(t *testing.T) {
	adapter := storefront.NewMemory("play", storefront.WithOutcome("gem_pack", storefront.OutcomeUnreachable))
	e := startEngine(t, adapter)

	_, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	// Nothing external happened; the record is unwound so the caller can
	// simply retry.
	assert.Equal(t, 0, e.store.Len())
}

func TestEngine_ValidationRejected(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().Script("gem_pack", testutil.Rejected("receipt signature mismatch"))
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	_, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.Error(t, err)

	var pe *PurchaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeValidationRejected, pe.Code)

	rec, ok := e.store.FindByItem("gem_pack")
	require.True(t, ok)
	assert.Equal(t, record.StatusFailed, rec.Status)
	assert.Equal(t, "receipt signature mismatch", rec.ErrorMessage)

	assert.Empty(t, adapter.Acked(), "rejected purchases are never acknowledged")
	assert.Equal(t, 0, grants.total())
}

func TestEngine_ValidationUnreachableLeavesRecord(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().
		Script("gem_pack", testutil.Unreachable(), testutil.Unreachable(), testutil.Rejected("receipt expired"))
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	// The caller gives up quickly; the record keeps going in background.
	shortCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := e.Purchase(shortCtx, "gem_pack")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return validator.Calls("gem_pack") >= 1 }, waitFor, tick)
	rec, ok := e.store.FindByItem("gem_pack")
	require.True(t, ok)
	assert.Equal(t, record.StatusAwaitingValidation, rec.Status, "unreachable must never fail a record")

	// Second pass: still unreachable, still AwaitingValidation.
	require.Eventually(t, func() bool {
		e.Reconcile()
		return validator.Calls("gem_pack") >= 2
	}, waitFor, tick)
	rec, ok = e.store.FindByItem("gem_pack")
	require.True(t, ok)
	assert.Equal(t, record.StatusAwaitingValidation, rec.Status)

	// Third pass: the service answers with a rejection.
	require.Eventually(t, func() bool {
		e.Reconcile()
		rec, ok := e.store.FindByItem("gem_pack")
		return ok && rec.Status == record.StatusFailed
	}, waitFor, tick)

	rec, _ = e.store.FindByItem("gem_pack")
	assert.Equal(t, "receipt expired", rec.ErrorMessage)
	assert.Equal(t, 0, grants.total())
}

func TestEngine_DuplicateConfirmationTolerated(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().Script("gem_pack", testutil.Unreachable())
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	shortCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _ = e.Purchase(shortCtx, "gem_pack")

	require.Eventually(t, func() bool {
		rec, ok := e.store.FindByItem("gem_pack")
		return ok && rec.Status == record.StatusAwaitingValidation
	}, waitFor, tick)

	before, _ := e.store.FindByItem("gem_pack")

	// The storefront redelivers the same confirmation.
	e.OnStoreConfirmed(storefront.Confirmation{
		ItemID:        "gem_pack",
		TransactionID: before.TransactionID,
		Receipt:       before.ReceiptToken,
		StoreName:     before.StoreName,
	})

	require.Eventually(t, func() bool { return validator.Calls("gem_pack") >= 2 }, waitFor, tick)

	after, ok := e.store.FindByItem("gem_pack")
	require.True(t, ok)
	assert.Equal(t, 1, e.store.Len())
	assert.Equal(t, before.TransactionID, after.TransactionID, "receipt fields are immutable")
	assert.Equal(t, before.ReceiptToken, after.ReceiptToken)
	assert.Equal(t, record.StatusAwaitingValidation, after.Status)
}

func TestEngine_ConfirmationWithoutRecordCreatesFresh(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().Script("no_ads", testutil.Valid())
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	// A confirmation arrives for a transaction the engine has no record
	// of (store replaying after local data loss). The entitlement must
	// not be dropped.
	e.OnStoreConfirmed(storefront.Confirmation{
		ItemID:        "no_ads",
		TransactionID: "T9",
		Receipt:       "rcpt-9",
		StoreName:     "play",
	})

	require.Eventually(t, func() bool { return grants.count("T9") == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return e.store.Len() == 0 }, waitFor, tick)
	assert.Equal(t, []string{"T9"}, adapter.Acked())
}

func TestEngine_NotReadyBeforeRecovery(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	adapter := storefront.NewMemory("play")
	e := New(s, adapter)
	adapter.Bind(e)
	// Run never started: no reconciliation pass has completed.

	_, err = e.Purchase(context.Background(), "gem_pack")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var pe *PurchaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeNotReady, pe.Code)
}

func TestEngine_InvalidItemID(t *testing.T) {
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter)

	_, err := e.Purchase(purchaseCtx(t), "   ")
	var pe *PurchaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeItemInvalid, pe.Code)
}

func TestEngine_FailedRecordSuperseded(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().
		Script("gem_pack", testutil.Rejected("first attempt rejected"), testutil.Valid())
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	_, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.Error(t, err)

	// A fresh purchase of the same item supersedes the Failed record.
	res, err := e.Purchase(purchaseCtx(t), "gem_pack")
	require.NoError(t, err)
	assert.Equal(t, 1, grants.count(res.TransactionID))
	assert.Equal(t, 0, e.store.Len())
}

func TestEngine_ConcurrentPurchasesForDistinctItems(t *testing.T) {
	grants := newGrantRecorder()
	validator := testutil.NewScriptedValidator().
		Script("gem_pack", testutil.Valid()).
		Script("no_ads", testutil.Valid()).
		Script("season_pass", testutil.Valid())
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	items := []string{"gem_pack", "no_ads", "season_pass"}
	var wg sync.WaitGroup
	errs := make([]error, len(items))
	for i, item := range items {
		wg.Add(1)
		go func(i int, item string) {
			defer wg.Done()
			_, errs[i] = e.Purchase(purchaseCtx(t), item)
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "item %s", items[i])
	}
	assert.Equal(t, 3, grants.total())
	assert.Equal(t, 0, e.store.Len())
}

func TestEngine_GrantFailureRetried(t *testing.T) {
	grants := newGrantRecorder()
	grants.failNext(assert.AnError)
	validator := testutil.NewScriptedValidator().Script("gem_pack", testutil.Valid())
	adapter := storefront.NewMemory("play")
	e := startEngine(t, adapter, WithValidator(validator), WithRewards(grants))

	shortCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, _ = e.Purchase(shortCtx, "gem_pack")

	// First grant failed: the record must still be ReadyToFinalize.
	require.Eventually(t, func() bool {
		rec, ok := e.store.FindByItem("gem_pack")
		return ok && rec.Status == record.StatusReadyToFinalize
	}, waitFor, tick)

	// Reconciliation re-acknowledges and retries the grant.
	require.Eventually(t, func() bool {
		e.Reconcile()
		return e.store.Len() == 0
	}, waitFor, tick)
	assert.Equal(t, 1, grants.total())
}
