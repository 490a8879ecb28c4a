package models

import "strings"

// PlatformDomains map to the platform tenant instead of a per-domain tenant.
var PlatformDomains = map[string]bool{
	"ubl.dev":      true,
	"ubl-core.dev": true,
}

// PlatformTenantID is the tenant for platform-operated identities.
const PlatformTenantID = "t:ubl_core"

// Identity is the verified caller identity injected by the auth layer.
// The core never parses tokens; it trusts these fields.
type Identity struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	EmailDomain string   `json:"email_domain"`
	Groups      []string `json:"groups,omitempty"`
	IsService   bool     `json:"is_service,omitempty"`
}

// TenantID resolves the tenant an identity belongs to.
func (id Identity) TenantID() string {
	if PlatformDomains[strings.ToLower(id.EmailDomain)] {
		return PlatformTenantID
	}
	return TenantPrefix + strings.ToLower(id.EmailDomain)
}
