package handlers

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/ublerr"
	"github.com/ubl-proto/ubl/internal/workspace"
)

var workspaceIDRegex = regexp.MustCompile(`^w:[a-z0-9-]{1,50}$`)

// workspaceFor resolves the workspace coordinator named in the URL,
// bootstrapping the caller's tenant first.
func (h *Handler) workspaceFor(r *http.Request) (*workspace.Coordinator, models.Identity, string, error) {
	identity, requestID := h.caller(r)

	workspaceID := chi.URLParam(r, "id")
	if !workspaceIDRegex.MatchString(workspaceID) {
		return nil, identity, requestID, ublerr.New(ublerr.ValidationError, "%q is not a valid workspace id", workspaceID)
	}

	tc, err := h.app.Tenant(identity.TenantID())
	if err != nil {
		return nil, identity, requestID, err
	}
	if _, _, err := tc.EnsureTenantAndMember(r.Context(), identity, requestID); err != nil {
		return nil, identity, requestID, err
	}

	ws, err := h.app.Workspace(identity.TenantID(), workspaceID)
	if err != nil {
		return nil, identity, requestID, err
	}
	return ws, identity, requestID, nil
}

// CreateDocument stores an immutable document in the workspace.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	ws, identity, requestID, err := h.workspaceFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	doc, err := ws.CreateDocument(r.Context(), req.Title, req.Content, identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, r, http.StatusCreated, map[string]any{
		"document": doc,
	})
}

// GetDocument returns one document by id.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ws, identity, requestID, err := h.workspaceFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	doc, err := ws.GetDocument(r.Context(), chi.URLParam(r, "doc_id"), identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, r, http.StatusOK, map[string]any{
		"document": doc,
	})
}

// SearchDocuments runs a case-insensitive substring search over the
// workspace's documents.
func (h *Handler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	ws, identity, requestID, err := h.workspaceFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	docs, err := ws.SearchDocuments(r.Context(), r.URL.Query().Get("q"), identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, r, http.StatusOK, map[string]any{
		"documents": docs,
	})
}

// Complete runs the placeholder completion against the workspace.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	ws, identity, requestID, err := h.workspaceFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decode(r, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	result, err := ws.Complete(r.Context(), req.Prompt, identity, requestID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, r, http.StatusOK, map[string]any{
		"completion": result.Completion,
		"usage":      result.Usage,
		"receipt":    result.Receipt,
	})
}
