package models

import "time"

// Agreement types.
const (
	AgreementTenantLicense    = "tenant_license"
	AgreementRoomGovernance   = "room_governance"
	AgreementWorkspace        = "workspace_agreement"
	AgreementToolAccess       = "tool_access"
	AgreementWorkflowApproval = "workflow_approval"
)

// Agreement names the authorization behind an action. Created by the
// coordinator that owns the governed entity; immutable once created.
type Agreement struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id"`
	CreatedAt time.Time      `json:"created_at"`
	CreatedBy string         `json:"created_by"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
