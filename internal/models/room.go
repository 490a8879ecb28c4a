package models

import "time"

// Room modes.
const (
	RoomModeInternal = "internal"
	RoomModeExternal = "external"
	RoomModeE2EE     = "e2ee"
)

// RoomSummary is the immutable room entry held by the tenant's room index.
type RoomSummary struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomPolicy bounds what a room accepts.
type RoomPolicy struct {
	MaxMessageBytes int `json:"max_message_bytes"`
	RetentionDays   int `json:"retention_days"`
}

// RoomConfig is the state owned by a RoomCoordinator.
type RoomConfig struct {
	TenantID  string            `json:"tenant_id"`
	RoomID    string            `json:"room_id"`
	Name      string            `json:"name"`
	Mode      string            `json:"mode"`
	CreatedAt time.Time         `json:"created_at"`
	Members   map[string]Member `json:"members"`
	Policy    RoomPolicy        `json:"policy"`
	HotLimit  int               `json:"hot_limit"`
}
