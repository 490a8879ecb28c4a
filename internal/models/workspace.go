package models

import "time"

// WorkspaceConfig is the state owned by a WorkspaceCoordinator.
type WorkspaceConfig struct {
	TenantID    string            `json:"tenant_id"`
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"created_at"`
	Members     map[string]Member `json:"members"`
}

// Document is an immutable workspace document.
type Document struct {
	DocumentID  string   `json:"document_id"`
	WorkspaceID string   `json:"workspace_id"`
	TenantID    string   `json:"tenant_id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	ContentHash string   `json:"content_hash"`
	CreatedBy   string   `json:"created_by"`
	CreatedAt   string   `json:"created_at"`
	Receipt     *Receipt `json:"receipt,omitempty"`
}

// LLMUsage is the token accounting of a completion call.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
