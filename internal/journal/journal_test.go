package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir() + "/journal.db")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func entry(seq int64, itemID, from, to, event string) Entry {
	return Entry{
		Seq:        seq,
		ItemID:     itemID,
		FromStatus: from,
		ToStatus:   to,
		Event:      event,
		At:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
	}
}

func TestJournal_AppendAndReadByItem(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, entry(1, "gem_pack", "", "initiated", "initiate")))
	require.NoError(t, j.Append(ctx, entry(2, "gem_pack", "initiated", "awaiting_validation", "store_confirmed")))
	require.NoError(t, j.Append(ctx, entry(3, "no_ads", "", "initiated", "initiate")))

	entries, err := j.ReadByItem(ctx, "gem_pack")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, "initiate", entries[0].Event)
	assert.Equal(t, "store_confirmed", entries[1].Event)
}

func TestJournal_ReadByItem_Empty(t *testing.T) {
	j := setupJournal(t)

	entries, err := j.ReadByItem(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Len(t, entries, 0)
}

func TestJournal_AppendIdempotent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	e := entry(1, "gem_pack", "", "initiated", "initiate")
	require.NoError(t, j.Append(ctx, e))
	// Recovery may replay the same transition; the duplicate is ignored.
	require.NoError(t, j.Append(ctx, e))

	entries, err := j.ReadByItem(ctx, "gem_pack")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_ReadAll_SeqOrder(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	// Inserted out of order; reads must come back in seq order.
	require.NoError(t, j.Append(ctx, entry(3, "no_ads", "initiated", "failed", "store_failed")))
	require.NoError(t, j.Append(ctx, entry(1, "gem_pack", "", "initiated", "initiate")))
	require.NoError(t, j.Append(ctx, entry(2, "no_ads", "", "initiated", "initiate")))

	entries, err := j.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, int64(2), entries[1].Seq)
	assert.Equal(t, int64(3), entries[2].Seq)
}

func TestJournal_LastSeq(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	seq, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, j.Append(ctx, entry(7, "gem_pack", "", "initiated", "initiate")))
	seq, err = j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestJournal_OpenIdempotent(t *testing.T) {
	path := t.TempDir() + "/journal.db"

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Append(context.Background(), entry(1, "gem_pack", "", "initiated", "initiate")))
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	entries, err := j2.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
