package models

import "time"

// Tenant types.
const (
	TenantTypePlatform = "platform"
	TenantTypeCustomer = "customer"
)

// Member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Member is one entry in a tenant or room membership map.
type Member struct {
	Role     string    `json:"role"`
	Email    string    `json:"email,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// TenantDefaults are the per-tenant room defaults.
type TenantDefaults struct {
	RoomMode        string `json:"room_mode"`
	RetentionDays   int    `json:"retention_days"`
	MaxMessageBytes int    `json:"max_message_bytes"`
}

// Tenant is the record owned by a TenantCoordinator. Created lazily on first
// touch; the creator becomes owner and members are never removed.
type Tenant struct {
	TenantID  string            `json:"tenant_id"`
	Type      string            `json:"type"`
	CreatedAt time.Time         `json:"created_at"`
	Members   map[string]Member `json:"members"`
	Defaults  TenantDefaults    `json:"defaults"`
}

// Role returns the role of a user in the tenant, or "" when absent.
func (t *Tenant) Role(userID string) string {
	if m, ok := t.Members[userID]; ok {
		return m.Role
	}
	return ""
}
