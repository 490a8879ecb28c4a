// Package workspace implements the per-workspace coordinator: immutable
// documents, substring search, and the placeholder completion endpoint. Every
// operation lands an action atom on the tenant's ledger shard.
package workspace

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/canon"
	"github.com/ubl-proto/ubl/internal/ledger"
	"github.com/ubl-proto/ubl/internal/metrics"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/runtime"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// Bounds on document payloads.
const (
	MaxTitleBytes   = 500
	MaxContentBytes = 100_000
)

// completionTokens is the fixed token count reported for the placeholder
// completion.
const completionTokens = 20

// state is the durable blob for a workspace.
type state struct {
	Config    *models.WorkspaceConfig `json:"config,omitempty"`
	Documents []models.Document       `json:"documents"`
}

// CompletionResult is the output of Complete.
type CompletionResult struct {
	Completion string          `json:"completion"`
	Usage      models.LLMUsage `json:"usage"`
	Receipt    *models.Receipt `json:"receipt"`
}

// Coordinator is the single writer for one workspace.
type Coordinator struct {
	mu          sync.Mutex
	tenantID    string
	workspaceID string
	key         string
	store       store.Store
	log         zerolog.Logger
	ledger      *ledger.Coordinator

	config *models.WorkspaceConfig
	docs   []models.Document
}

// New loads or initializes the coordinator for a workspace.
func New(ctx context.Context, st store.Store, log zerolog.Logger, ledg *ledger.Coordinator, tenantID, workspaceID string) (*Coordinator, error) {
	c := &Coordinator{
		tenantID:    tenantID,
		workspaceID: workspaceID,
		key:         runtime.WorkspaceKey(tenantID, workspaceID),
		store:       st,
		log:         log.With().Str("tenant", tenantID).Str("workspace", workspaceID).Logger(),
		ledger:      ledg,
	}
	raw, err := st.LoadState(ctx, c.key)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if raw != nil {
		var s state
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ublerr.Wrap(err)
		}
		c.config = s.Config
		c.docs = s.Documents
	}
	return c, nil
}

// ensureInitLocked lazily creates the workspace on first touch, recording a
// workspace agreement. Mirrors the frictionless tenant bootstrap.
func (c *Coordinator) ensureInitLocked(ctx context.Context, identity models.Identity) error {
	if c.config != nil {
		return nil
	}
	now := time.Now().UTC()
	c.config = &models.WorkspaceConfig{
		TenantID:    c.tenantID,
		WorkspaceID: c.workspaceID,
		Name:        strings.TrimPrefix(c.workspaceID, models.WorkspacePrefix),
		CreatedAt:   now,
		Members: map[string]models.Member{
			identity.UserID: {Role: models.RoleOwner, Email: identity.Email, JoinedAt: now},
		},
	}
	if err := c.persistLocked(ctx); err != nil {
		c.config = nil
		return err
	}
	agreement := &models.Agreement{
		ID:        models.WorkspaceAgreementID(c.workspaceID),
		Type:      models.AgreementWorkspace,
		TenantID:  c.tenantID,
		CreatedAt: now,
		CreatedBy: identity.UserID,
		Metadata:  map[string]any{"workspace_id": c.workspaceID},
	}
	if err := c.store.UpsertAgreement(ctx, agreement); err != nil {
		c.log.Error().Err(err).Msg("workspace agreement persist failed")
	}
	return nil
}

// CreateDocument stores an immutable document and appends an action plus an
// effect atom to the ledger. The document's content hash covers the raw
// content bytes.
func (c *Coordinator) CreateDocument(ctx context.Context, title, content string, identity models.Identity, requestID string) (*models.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ublerr.New(ublerr.ValidationError, "title is required")
	}
	if len(title) > MaxTitleBytes {
		return nil, ublerr.New(ublerr.ValidationError, "title exceeds %d bytes", MaxTitleBytes)
	}
	if len(content) > MaxContentBytes {
		return nil, ublerr.New(ublerr.ValidationError, "content exceeds %d bytes", MaxContentBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureInitLocked(ctx, identity); err != nil {
		return nil, err
	}

	doc := models.Document{
		DocumentID:  models.NewDocumentID(),
		WorkspaceID: c.workspaceID,
		TenantID:    c.tenantID,
		Title:       title,
		Content:     content,
		ContentHash: canon.ContentHash(content),
		CreatedBy:   identity.UserID,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	receipt, err := c.appendAction(ctx, identity, requestID, models.DidDocumentCreate, map[string]any{
		"workspace_id": c.workspaceID,
		"document_id":  doc.DocumentID,
		"title":        doc.Title,
		"content_hash": doc.ContentHash,
	})
	if err != nil {
		return nil, err
	}
	doc.Receipt = receipt

	c.appendEffect(ctx, receipt.CID, []models.EffectOp{{
		Op:          "document.create",
		WorkspaceID: c.workspaceID,
		DocumentID:  doc.DocumentID,
	}}, &models.Pointers{DocumentID: doc.DocumentID})

	c.docs = append(c.docs, doc)
	if err := c.persistLocked(ctx); err != nil {
		c.docs = c.docs[:len(c.docs)-1]
		return nil, err
	}
	if err := c.store.UpsertDocument(ctx, &doc); err != nil {
		c.log.Warn().Err(err).Str("document", doc.DocumentID).Msg("document index mirror failed")
	}
	return &doc, nil
}

// GetDocument returns a document by id. The read lands an action atom; a
// missing document fails before any ledger write.
func (c *Coordinator) GetDocument(ctx context.Context, documentID string, identity models.Identity, requestID string) (*models.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureInitLocked(ctx, identity); err != nil {
		return nil, err
	}

	var found *models.Document
	for i := range c.docs {
		if c.docs[i].DocumentID == documentID {
			found = &c.docs[i]
			break
		}
	}
	if found == nil {
		return nil, ublerr.New(ublerr.NotFound, "document %s not found", documentID)
	}

	if _, err := c.appendAction(ctx, identity, requestID, models.DidDocumentGet, map[string]any{
		"workspace_id": c.workspaceID,
		"document_id":  documentID,
	}); err != nil {
		return nil, err
	}
	doc := *found
	return &doc, nil
}

// SearchDocuments returns documents whose title or content contains the query,
// case-insensitively, in creation order.
func (c *Coordinator) SearchDocuments(ctx context.Context, query string, identity models.Identity, requestID string) ([]models.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ublerr.New(ublerr.ValidationError, "query is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureInitLocked(ctx, identity); err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	results := []models.Document{}
	for _, d := range c.docs {
		if strings.Contains(strings.ToLower(d.Title), needle) || strings.Contains(strings.ToLower(d.Content), needle) {
			results = append(results, d)
		}
	}

	if _, err := c.appendAction(ctx, identity, requestID, models.DidDocumentSearch, map[string]any{
		"workspace_id": c.workspaceID,
		"query":        query,
		"result_count": len(results),
	}); err != nil {
		return nil, err
	}
	return results, nil
}

// Complete returns a canned completion for the prompt. Prompt tokens are
// counted as whitespace-separated words; the completion token count is fixed.
func (c *Coordinator) Complete(ctx context.Context, prompt string, identity models.Identity, requestID string) (*CompletionResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ublerr.New(ublerr.ValidationError, "prompt is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureInitLocked(ctx, identity); err != nil {
		return nil, err
	}

	promptTokens := len(strings.Fields(prompt))
	receipt, err := c.appendAction(ctx, identity, requestID, models.DidLLMComplete, map[string]any{
		"workspace_id":  c.workspaceID,
		"prompt_tokens": promptTokens,
	})
	if err != nil {
		return nil, err
	}
	return &CompletionResult{
		Completion: "This is a placeholder completion. Connect a model provider to enable real output.",
		Usage: models.LLMUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		Receipt: receipt,
	}, nil
}

// ListDocuments returns all documents in creation order.
func (c *Coordinator) ListDocuments() []models.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Document, len(c.docs))
	copy(out, c.docs)
	return out
}

func (c *Coordinator) appendAction(ctx context.Context, identity models.Identity, requestID, did string, this map[string]any) (*models.Receipt, error) {
	atom := models.Atom{
		Kind:     models.AtomKindAction,
		TenantID: c.tenantID,
		When:     time.Now().UTC().Format(time.RFC3339Nano),
		Who: &models.Who{
			UserID:    identity.UserID,
			Email:     identity.Email,
			IsService: identity.IsService,
		},
		Did:         did,
		This:        this,
		AgreementID: models.WorkspaceAgreementID(c.workspaceID),
		Status:      models.StatusExecuted,
		Trace:       &models.Trace{RequestID: requestID},
	}
	return c.ledger.AppendAtom(ctx, atom)
}

// appendEffect records the state change tied to an action. A failure here
// leaves the action standing, so it is logged and swallowed.
func (c *Coordinator) appendEffect(ctx context.Context, actionCID string, effects []models.EffectOp, pointers *models.Pointers) {
	atom := models.Atom{
		Kind:         models.AtomKindEffect,
		TenantID:     c.tenantID,
		When:         time.Now().UTC().Format(time.RFC3339Nano),
		RefActionCID: actionCID,
		Outcome:      models.OutcomeOK,
		Effects:      effects,
		Pointers:     pointers,
	}
	if _, err := c.ledger.AppendAtom(ctx, atom); err != nil {
		metrics.EffectAppendFailures.Inc()
		c.log.Error().Err(err).Str("action_cid", actionCID).Msg("effect append failed")
	}
}

func (c *Coordinator) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(&state{Config: c.config, Documents: c.docs})
	if err != nil {
		return ublerr.Wrap(err)
	}
	if err := c.store.SaveState(ctx, c.key, raw); err != nil {
		return ublerr.New(ublerr.Internal, "workspace persist failed")
	}
	return nil
}
