package workspace

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubl-proto/ubl/internal/canon"
	"github.com/ubl-proto/ubl/internal/ledger"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

const (
	testTenant    = "t:ex.com"
	testWorkspace = "w:research"
)

var alice = models.Identity{UserID: "u:alice", Email: "alice@ex.com", EmailDomain: "ex.com"}

func newTestWorkspace(t *testing.T, st *store.MemoryStore) *Coordinator {
	t.Helper()
	ctx := context.Background()
	ledg, err := ledger.New(ctx, st, zerolog.Nop(), testTenant, ledger.DefaultShard, ledger.DefaultLimits)
	require.NoError(t, err)
	c, err := New(ctx, st, zerolog.Nop(), ledg, testTenant, testWorkspace)
	require.NoError(t, err)
	return c
}

func TestCreateDocument(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestWorkspace(t, st)

	doc, err := c.CreateDocument(ctx, "Design Notes", "line one\nline two", alice, "req:1")
	require.NoError(t, err)
	assert.Regexp(t, `^d:`, doc.DocumentID)
	assert.Equal(t, testWorkspace, doc.WorkspaceID)
	assert.Equal(t, canon.ContentHash("line one\nline two"), doc.ContentHash)
	require.NotNil(t, doc.Receipt)
	assert.Equal(t, int64(1), doc.Receipt.Seq)

	// Action plus effect spans mirrored
	assert.Equal(t, 2, st.SpanCount(testTenant, ledger.DefaultShard))

	// First touch recorded the workspace agreement
	agreement, err := st.GetAgreement(ctx, models.WorkspaceAgreementID(testWorkspace))
	require.NoError(t, err)
	require.NotNil(t, agreement)
	assert.Equal(t, models.AgreementWorkspace, agreement.Type)
}

func TestCreateDocumentValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestWorkspace(t, store.NewMemoryStore())

	_, err := c.CreateDocument(ctx, "  ", "content", alice, "req:1")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.ValidationError))

	_, err = c.CreateDocument(ctx, "T", strings.Repeat("x", MaxContentBytes+1), alice, "req:2")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.ValidationError))
}

func TestGetDocument(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestWorkspace(t, st)

	doc, err := c.CreateDocument(ctx, "Notes", "hello", alice, "req:1")
	require.NoError(t, err)
	spansBefore := st.SpanCount(testTenant, ledger.DefaultShard)

	got, err := c.GetDocument(ctx, doc.DocumentID, alice, "req:2")
	require.NoError(t, err)
	assert.Equal(t, doc.DocumentID, got.DocumentID)
	// The read landed its own action atom
	assert.Equal(t, spansBefore+1, st.SpanCount(testTenant, ledger.DefaultShard))
}

func TestGetDocumentNotFoundBeforeLedgerWrite(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestWorkspace(t, st)
	spansBefore := st.SpanCount(testTenant, ledger.DefaultShard)

	_, err := c.GetDocument(ctx, "d:missing", alice, "req:1")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.NotFound))
	assert.Equal(t, spansBefore, st.SpanCount(testTenant, ledger.DefaultShard))
}

func TestSearchDocuments(t *testing.T) {
	ctx := context.Background()
	c := newTestWorkspace(t, store.NewMemoryStore())

	_, err := c.CreateDocument(ctx, "Roadmap Q3", "ship the ledger", alice, "req:1")
	require.NoError(t, err)
	_, err = c.CreateDocument(ctx, "Meeting notes", "discussed the ROADMAP", alice, "req:2")
	require.NoError(t, err)
	_, err = c.CreateDocument(ctx, "Unrelated", "nothing here", alice, "req:3")
	require.NoError(t, err)

	results, err := c.SearchDocuments(ctx, "roadmap", alice, "req:4")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Roadmap Q3", results[0].Title)
	assert.Equal(t, "Meeting notes", results[1].Title)

	empty, err := c.SearchDocuments(ctx, "zebra", alice, "req:5")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = c.SearchDocuments(ctx, "  ", alice, "req:6")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.ValidationError))
}

func TestCompleteUsageCounts(t *testing.T) {
	ctx := context.Background()
	c := newTestWorkspace(t, store.NewMemoryStore())

	result, err := c.Complete(ctx, "summarize the latest roadmap", alice, "req:1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Completion)
	assert.Equal(t, 4, result.Usage.PromptTokens)
	assert.Equal(t, 20, result.Usage.CompletionTokens)
	assert.Equal(t, 24, result.Usage.TotalTokens)
	require.NotNil(t, result.Receipt)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newTestWorkspace(t, st)

	doc, err := c.CreateDocument(ctx, "Notes", "hello", alice, "req:1")
	require.NoError(t, err)

	reloaded := newTestWorkspace(t, st)
	got, err := reloaded.GetDocument(ctx, doc.DocumentID, alice, "req:2")
	require.NoError(t, err)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
}
