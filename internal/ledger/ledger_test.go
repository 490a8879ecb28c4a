package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubl-proto/ubl/internal/canon"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

const testTenant = "t:ex.com"

func newTestCoordinator(t *testing.T, st store.Store, limits Limits) *Coordinator {
	t.Helper()
	c, err := New(context.Background(), st, zerolog.Nop(), testTenant, DefaultShard, limits)
	require.NoError(t, err)
	return c
}

func actionAtom(text string) models.Atom {
	return models.Atom{
		Kind:     models.AtomKindAction,
		TenantID: testTenant,
		When:     time.Now().UTC().Format(time.RFC3339Nano),
		Who:      &models.Who{UserID: "u:alice", Email: "alice@ex.com"},
		Did:      models.DidMessengerSend,
		This:     map[string]any{"text": text},
		Status:   models.StatusExecuted,
		Trace:    &models.Trace{RequestID: "req:test"},
	}
}

func effectAtom(refCID string) models.Atom {
	return models.Atom{
		Kind:         models.AtomKindEffect,
		TenantID:     testTenant,
		When:         "2026-01-01T00:00:00Z",
		RefActionCID: refCID,
		Outcome:      models.OutcomeOK,
		Effects:      []models.EffectOp{{Op: "room.append", RoomID: "r:general", RoomSeq: 1}},
	}
}

func TestAppendAssignsDenseSeqsAndChains(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)

	prev := canon.GenesisHead
	for i, text := range []string{"one", "two", "three"} {
		receipt, err := c.AppendAtom(ctx, actionAtom(text))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), receipt.Seq)
		assert.Equal(t, DefaultShard, receipt.LedgerShard)
		assert.True(t, canon.VerifyLink(prev, receipt.CID, receipt.HeadHash))
		prev = receipt.HeadHash
	}

	seq, head := c.GetState()
	assert.Equal(t, int64(3), seq)
	assert.Equal(t, prev, head)
}

func TestAppendRejectsAtomWithCID(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)
	atom := actionAtom("x")
	atom.CID = "c:already"
	_, err := c.AppendAtom(context.Background(), atom)
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.ValidationError))
}

func TestDuplicateAppendReturnsOriginalReceipt(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)

	action, err := c.AppendAtom(ctx, actionAtom("hello"))
	require.NoError(t, err)

	first, err := c.AppendAtom(ctx, effectAtom(action.CID))
	require.NoError(t, err)
	second, err := c.AppendAtom(ctx, effectAtom(action.CID))
	require.NoError(t, err)

	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.CID, second.CID)
	assert.Equal(t, first.HeadHash, second.HeadHash)

	seq, _ := c.GetState()
	assert.Equal(t, int64(2), seq)
}

func TestGetBySeqPairsActionWithEffect(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)

	action, err := c.AppendAtom(ctx, actionAtom("hello"))
	require.NoError(t, err)
	_, err = c.AppendAtom(ctx, effectAtom(action.CID))
	require.NoError(t, err)

	atoms, err := c.GetBySeq(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	assert.Equal(t, models.AtomKindAction, atoms[0].Kind)
	assert.Equal(t, models.AtomKindEffect, atoms[1].Kind)
	assert.Equal(t, atoms[0].CID, atoms[1].RefActionCID)

	// The effect alone
	atoms, err = c.GetBySeq(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, atoms, 1)
}

func TestGetBySeqNotFound(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)
	_, err := c.GetBySeq(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.NotFound))
}

func TestQueryRecentPaging(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		_, err := c.AppendAtom(ctx, actionAtom(text))
		require.NoError(t, err)
	}

	atoms, next, err := c.QueryRecent(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	assert.Equal(t, "e", atoms[0].This["text"])
	assert.Equal(t, "d", atoms[1].This["text"])
	assert.Equal(t, int64(3), next)

	atoms, next, err = c.QueryRecent(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	assert.Equal(t, "c", atoms[0].This["text"])
	assert.Equal(t, int64(1), next)

	atoms, next, err = c.QueryRecent(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	assert.Equal(t, "a", atoms[0].This["text"])
	assert.Zero(t, next)
}

func TestHotWindowEvictionServesFromMirror(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), Limits{HotLimit: 3, DedupLimit: 10})

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		_, err := c.AppendAtom(ctx, actionAtom(text))
		require.NoError(t, err)
	}

	// seq 1 and 2 fell out of the hot window but remain in the index mirror
	atoms, err := c.GetBySeq(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, atoms)
	assert.Equal(t, "a", atoms[0].This["text"])
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	c := newTestCoordinator(t, st, DefaultLimits)
	receipt, err := c.AppendAtom(ctx, actionAtom("hello"))
	require.NoError(t, err)

	reloaded := newTestCoordinator(t, st, DefaultLimits)
	seq, head := reloaded.GetState()
	assert.Equal(t, receipt.Seq, seq)
	assert.Equal(t, receipt.HeadHash, head)

	// The chain continues from the reloaded head
	next, err := reloaded.AppendAtom(ctx, actionAtom("again"))
	require.NoError(t, err)
	assert.Equal(t, receipt.Seq+1, next.Seq)
	assert.True(t, canon.VerifyLink(receipt.HeadHash, next.CID, next.HeadHash))
}

func TestVerifyChain(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), DefaultLimits)

	for _, text := range []string{"a", "b", "c"} {
		_, err := c.AppendAtom(ctx, actionAtom(text))
		require.NoError(t, err)
	}

	report := c.VerifyChain()
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)

	require.True(t, c.TamperHot(2, func(a *models.Atom) {
		a.This["text"] = "tampered"
	}))

	report = c.VerifyChain()
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func TestVerifyChainOverPartialHotWindow(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), Limits{HotLimit: 2, DedupLimit: 10})

	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := c.AppendAtom(ctx, actionAtom(text))
		require.NoError(t, err)
	}

	report := c.VerifyChain()
	assert.True(t, report.Valid, "errors: %v", report.Errors)
}

func TestDedupWindowEviction(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), Limits{HotLimit: 10, DedupLimit: 2})

	action, err := c.AppendAtom(ctx, actionAtom("hello"))
	require.NoError(t, err)
	_, err = c.AppendAtom(ctx, effectAtom(action.CID))
	require.NoError(t, err)

	// Two more appends push the effect's cid out of the dedup window
	a2, err := c.AppendAtom(ctx, actionAtom("x"))
	require.NoError(t, err)
	_, err = c.AppendAtom(ctx, effectAtom(a2.CID))
	require.NoError(t, err)

	// The replay is no longer recognized and appends a new atom
	replay, err := c.AppendAtom(ctx, effectAtom(action.CID))
	require.NoError(t, err)
	assert.Equal(t, int64(5), replay.Seq)
}
